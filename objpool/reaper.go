package objpool

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// reaperInterval derives the idle-reaper sweep interval from the expiry
// duration: frequent enough that an expired entry is gone well within
// 2*expiry, capped at 5s so a very long expiry doesn't leave entries
// stale for hours between sweeps.
func reaperInterval(expiry time.Duration) time.Duration {
	iv := expiry / 5
	if iv > 5*time.Second {
		iv = 5 * time.Second
	}
	if iv <= 0 {
		iv = time.Millisecond
	}
	return iv
}

// reaperWorker is the background goroutine that expires idle free
// entries. Exactly one exists per pool at a time; SetParameters and
// Release halt and join the current one before replacing or removing it.
type reaperWorker struct {
	pool     *Pool
	interval time.Duration
	stopped  atomic.Bool
	stopCh   chan struct{}
	done     chan struct{}
}

func newReaperWorker(p *Pool, interval time.Duration) *reaperWorker {
	return &reaperWorker{pool: p, interval: interval, stopCh: make(chan struct{}), done: make(chan struct{})}
}

func (r *reaperWorker) halt() {
	if r.stopped.CompareAndSwap(false, true) {
		close(r.stopCh)
		// Wake the reaper if it is parked in cond.Wait with an empty
		// free list so it observes the stop flag promptly.
		r.pool.mu.Lock()
		r.pool.cond.Broadcast()
		r.pool.mu.Unlock()
	}
}

func (r *reaperWorker) join() { <-r.done }

func (r *reaperWorker) run() {
	defer close(r.done)
	p := r.pool
	for !r.stopped.Load() {
		p.mu.Lock()
		p.purgeExpiredLocked()
		for len(p.free) == 0 && !r.stopped.Load() && !p.released {
			p.cond.Wait()
		}
		p.mu.Unlock()
		if r.stopped.Load() {
			return
		}
		timer := time.NewTimer(r.interval)
		select {
		case <-timer.C:
		case <-r.stopCh:
			timer.Stop()
		}
	}
}

func (p *Pool) purgeExpiredLocked() {
	if len(p.free) == 0 {
		return
	}
	now := time.Now()
	kept := p.free[:0]
	for _, e := range p.free {
		if e.expired(now) {
			p.destroyLocked(e.item)
		} else {
			kept = append(kept, e)
		}
	}
	p.free = kept
}

// initWorker prepopulates the pool with a target number of items in the
// background. Only one runs at a time; a new Init call halts and
// supersedes its predecessor.
type initWorker struct {
	pool    *Pool
	target  int
	stopped atomic.Bool
	done    chan struct{}
}

func newInitWorker(p *Pool, target int) *initWorker {
	return &initWorker{pool: p, target: target, done: make(chan struct{})}
}

func (w *initWorker) halt() { w.stopped.Store(true) }
func (w *initWorker) join() { <-w.done }

func (w *initWorker) run() {
	defer close(w.done)
	p := w.pool
	count := 0
	for {
		p.mu.Lock()
		total := len(p.free) + len(p.used)
		if w.stopped.Load() || total >= w.target {
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()

		item, err := p.cfg.Create()
		if err != nil {
			p.logger.Warn("objpool: unable to initialize item in pool", zap.Error(err))
			w.stopped.Store(true)
			break
		}
		p.mu.Lock()
		if w.stopped.Load() || len(p.free)+len(p.used) >= w.target {
			p.mu.Unlock()
			p.destroyLocked(item)
			break
		}
		p.free = append(p.free, newEntry(item, p.expiry, time.Now()))
		count++
		p.cond.Broadcast()
		p.mu.Unlock()
	}
	if count > 0 {
		p.logger.Debug("objpool: initialized pool", zap.Int("count", count))
	}
}
