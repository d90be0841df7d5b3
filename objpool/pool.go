package objpool

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AccessOrder controls which free entry a check-out removes first.
type AccessOrder int

const (
	// LIFO hands out the most-recently-returned item first, maximising
	// cache warmth (the hottest item is reused).
	LIFO AccessOrder = iota
	// FIFO hands out the longest-idle item first, maximising fairness
	// across entries.
	FIFO
	// Random picks a uniformly random free entry; useful for
	// load-distribution experiments.
	Random
)

// Config supplies the lifecycle callbacks and limits for a Pool,
// following the same function-field shape as dryyun/go-pool's
// channelPool Config.
type Config struct {
	// Create produces a new item. Required.
	Create func() (Reusable, error)
	// Validate reports whether an idle or newly-created item may still
	// be used. A nil Validate means every item is always valid.
	Validate func(Reusable) bool
	// Destroy releases an item's resources. Required.
	Destroy func(Reusable)

	// PoolSize is the soft cap on total (free+used) entries: an item
	// checked in once the pool holds PoolSize entries is destroyed
	// rather than kept idle, so 0 keeps no idle items at all.
	PoolSize int
	// MaxSize is the hard cap on concurrently checked-out entries; 0
	// means unbounded. If non-zero it is raised to at least PoolSize.
	MaxSize int
	// Expiry is the idle expiry applied to entries on check-in; 0
	// disables expiry.
	Expiry time.Duration
	// Access selects the free-list discipline. Zero value is LIFO.
	Access AccessOrder
	// AsyncDestroy runs every Destroy call on a detached goroutine so a
	// slow-closing item cannot stall CheckIn/Release.
	AsyncDestroy bool

	// Logger receives structured diagnostic output. A nil Logger
	// defaults to zap.NewNop().
	Logger *zap.Logger
}

// Pool is a bounded, named pool of Reusable items.
type Pool struct {
	name string
	id   string
	cfg  Config

	logger *zap.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	free      []entry
	used      map[Reusable]struct{}
	poolSize  int
	maxSize   int
	expiry    time.Duration
	released  bool
	requests  uint64
	hits      uint64
	listeners []Listener

	reaper *reaperWorker
	initer *initWorker
}

// New creates a Pool with the given name and configuration. The pool is
// immediately ready to accept CheckOut calls.
func New(name string, cfg Config) (*Pool, error) {
	if cfg.Create == nil {
		return nil, errors.New("objpool: Config.Create is required")
	}
	if cfg.Destroy == nil {
		return nil, errors.New("objpool: Config.Destroy is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		name:   name,
		id:     uuid.NewString(),
		cfg:    cfg,
		logger: logger,
		used:   make(map[Reusable]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.SetParameters(cfg.PoolSize, cfg.MaxSize, cfg.Expiry)
	return p, nil
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// ID returns a log-correlation identifier for the pool, stable for its
// lifetime. It carries no business meaning.
func (p *Pool) ID() string { return p.id }

func (p *Pool) validate(item Reusable) bool {
	if p.cfg.Validate == nil {
		return true
	}
	return p.cfg.Validate(item)
}

func (p *Pool) destroyLocked(item Reusable) {
	if item == nil {
		return
	}
	if p.cfg.AsyncDestroy {
		go p.cfg.Destroy(item)
		return
	}
	p.cfg.Destroy(item)
}

func (p *Pool) pickIndex(n int) int {
	switch p.cfg.Access {
	case FIFO:
		return 0
	case Random:
		return rand.Intn(n)
	default: // LIFO
		return n - 1
	}
}

// CheckOut removes an item from the pool, creating one if none is free
// and the hard cap has not been reached. It returns (nil, nil) if the
// pool is at its hard cap with nothing free ("no item"); callers wanting
// to wait should use CheckOutTimeout.
func (p *Pool) CheckOut() (Reusable, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkOutLocked()
}

// CheckOutTimeout behaves like CheckOut, but waits up to timeout for an
// item to become available (via CheckIn elsewhere) before giving up. A
// timeout expiry returns (nil, nil), not an error.
func (p *Pool) CheckOutTimeout(timeout time.Duration) (Reusable, error) {
	deadline := time.Now().Add(timeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	item, err := p.checkOutLocked()
	for item == nil && err == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		p.waitWithDeadline(deadline)
		item, err = p.checkOutLocked()
	}
	return item, err
}

// waitWithDeadline blocks on the pool condition until woken or the
// deadline passes. p.mu must be held on entry and is held on return.
func (p *Pool) waitWithDeadline(deadline time.Time) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return
	}
	timer := time.AfterFunc(remaining, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()
	p.cond.Wait()
}

// checkOutLocked implements spec.md §4.1's check-out algorithm. p.mu
// must be held.
func (p *Pool) checkOutLocked() (Reusable, error) {
	if p.released {
		return nil, ErrReleased
	}
	oldTotal := len(p.used) + len(p.free)

	var item Reusable
	hit := false
	for len(p.free) > 0 {
		idx := p.pickIndex(len(p.free))
		e := p.free[idx]
		p.free = append(p.free[:idx], p.free[idx+1:]...)
		if p.validate(e.item) {
			item = e.item
			hit = true
			break
		}
		p.destroyLocked(e.item)
		p.emit(ValidationError)
	}

	if item == nil {
		if p.maxSize > 0 && len(p.used) == p.maxSize {
			p.emit(MaxSizeLimitError)
			return nil, nil
		}
		created, err := p.cfg.Create()
		if err != nil {
			return nil, err
		}
		if !p.validate(created) {
			return nil, ErrCreateInvalid
		}
		item = created
	}

	p.used[item] = struct{}{}
	p.requests++
	if hit {
		p.hits++
	}
	p.emit(Checkout)

	total := len(p.used) + len(p.free)
	if total > oldTotal {
		if p.poolSize > 0 && total == p.poolSize {
			p.emit(MaxPoolLimitReached)
		} else if p.poolSize > 0 && total == p.poolSize+1 {
			p.emit(MaxPoolLimitExceeded)
		}
		if p.maxSize > 0 && total == p.maxSize {
			p.emit(MaxSizeLimitReached)
		}
	}
	return item, nil
}

// CheckIn returns an item to the pool. If the pool is already at
// poolSize capacity the item is destroyed instead of recycled; if
// recycling fails the item is destroyed. CheckIn wakes any waiters
// blocked in CheckOutTimeout or the idle reaper.
func (p *Pool) CheckIn(item Reusable) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emit(Checkin)
	if _, ok := p.used[item]; !ok {
		return ErrForeignItem
	}
	delete(p.used, item)
	p.cond.Broadcast()

	kill := (p.maxSize > 0 && len(p.used)+len(p.free) >= p.poolSize) ||
		(p.maxSize == 0 && len(p.free) >= p.poolSize)
	if kill {
		p.destroyLocked(item)
		return nil
	}

	if err := item.Recycle(); err != nil {
		p.logger.Debug("objpool: unable to recycle item - destroyed", zap.String("pool", p.name), zap.Error(err))
		p.destroyLocked(item)
		return nil
	}
	p.free = append(p.free, newEntry(item, p.expiry, time.Now()))
	return nil
}

// SetParameters changes the pool's limits and expiry. Hit-rate counters
// are reset. The idle reaper is restarted to reflect the new expiry.
func (p *Pool) SetParameters(poolSize, maxSize int, expiry time.Duration) {
	if poolSize < 0 {
		poolSize = 0
	}
	if maxSize < 0 {
		maxSize = 0
	}
	if expiry < 0 {
		expiry = 0
	}
	if maxSize > 0 && maxSize < poolSize {
		maxSize = poolSize
	}

	p.mu.Lock()
	oldReaper := p.reaper
	p.poolSize, p.maxSize, p.expiry = poolSize, maxSize, expiry
	p.requests, p.hits = 0, 0
	now := time.Now()
	for i := range p.free {
		if expiry > 0 {
			p.free[i].expiresAt = now.Add(expiry)
		} else {
			p.free[i].expiresAt = time.Time{}
		}
	}
	var newReaper *reaperWorker
	if expiry > 0 {
		newReaper = newReaperWorker(p, reaperInterval(expiry))
	}
	p.reaper = newReaper
	p.mu.Unlock()

	// halt/join must happen after unlocking: reaperWorker.halt locks
	// p.mu itself to broadcast the condition, and p.mu is not reentrant.
	if oldReaper != nil {
		oldReaper.halt()
		oldReaper.join()
	}
	if newReaper != nil {
		go newReaper.run()
	}
	p.emit(ParametersChanged)
}

// Init prepopulates the pool with num items, in the background. num is
// clamped to [0, poolSize]. A prior, still-running Init is halted and
// joined before the new one starts.
func (p *Pool) Init(num int) {
	if num == 0 {
		return
	}
	p.mu.Lock()
	if num < 0 {
		num = 0
	}
	if num > p.poolSize {
		num = p.poolSize
	}
	oldIniter := p.initer
	var w *initWorker
	if num > 0 {
		w = newInitWorker(p, num)
		p.initer = w
	}
	p.mu.Unlock()

	if oldIniter != nil {
		oldIniter.halt()
		oldIniter.join()
	}
	if w != nil {
		go w.run()
	}
}

// Release shuts the pool down: no further CheckOut succeeds. If force
// is false, Release blocks until every checked-out item has been
// returned via CheckIn. If force is true, checked-out items are
// destroyed immediately instead.
func (p *Pool) Release(force bool) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	oldReaper := p.reaper
	p.reaper = nil
	oldIniter := p.initer
	p.initer = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	if oldReaper != nil {
		oldReaper.halt()
		oldReaper.join()
	}
	if oldIniter != nil {
		oldIniter.halt()
		oldIniter.join()
	}

	p.mu.Lock()
	if force {
		for item := range p.used {
			p.destroyLocked(item)
			delete(p.used, item)
		}
	} else {
		for len(p.used) > 0 {
			p.cond.Wait()
		}
	}
	for _, e := range p.free {
		p.destroyLocked(e.item)
	}
	p.free = nil
	p.mu.Unlock()

	p.emit(PoolReleased)

	p.mu.Lock()
	p.listeners = nil
	p.mu.Unlock()
}

// ReleaseAsync is the non-blocking equivalent of Release: it returns
// immediately and performs the release on a detached goroutine.
func (p *Pool) ReleaseAsync(force bool) {
	go p.Release(force)
}

// Flush destroys every currently-free (idle) item, leaving checked-out
// items untouched.
func (p *Pool) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.free {
		p.destroyLocked(e.item)
	}
	p.free = nil
}

// Size returns the total number of items held (free + checked-out).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free) + len(p.used)
}

// FreeCount returns the number of items currently idle and available.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// CheckedOut returns the number of items currently checked out.
func (p *Pool) CheckedOut() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}

// HitRate returns the proportion (0..1) of check-outs satisfied from the
// free list rather than by creating a new item, since the last
// SetParameters call.
func (p *Pool) HitRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.requests == 0 {
		return 0
	}
	return float64(p.hits) / float64(p.requests)
}

// Requests returns the number of check-out attempts since the last
// SetParameters call.
func (p *Pool) Requests() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// Released reports whether Release/ReleaseAsync has completed setting
// the released latch. It does not wait for drain to finish.
func (p *Pool) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}
