package objpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeItem is a Reusable test double that counts its own recycle and
// destroy calls, and can be made to fail either.
type fakeItem struct {
	id          int
	recycleErr  error
	destroyed   atomic.Bool
	recycleHits atomic.Int32
}

func (f *fakeItem) Recycle() error {
	f.recycleHits.Add(1)
	return f.recycleErr
}

func newFakeFactory() (Config, *int32, *int32) {
	var created, destroyed int32
	cfg := Config{
		Create: func() (Reusable, error) {
			id := int(atomic.AddInt32(&created, 1))
			return &fakeItem{id: id}, nil
		},
		Destroy: func(r Reusable) {
			atomic.AddInt32(&destroyed, 1)
			r.(*fakeItem).destroyed.Store(true)
		},
	}
	return cfg, &created, &destroyed
}

func TestCheckOutMaxSizeTimeout(t *testing.T) {
	cfg, _, _ := newFakeFactory()
	cfg.PoolSize = 2
	cfg.MaxSize = 2
	var errEvents int32
	p, err := New("s1", cfg)
	require.NoError(t, err)
	p.AddListener(ListenerFunc(func(e Event) {
		if e.Kind == MaxSizeLimitError {
			atomic.AddInt32(&errEvents, 1)
		}
	}))

	a, err := p.CheckOut()
	require.NoError(t, err)
	require.NotNil(t, a)
	b, err := p.CheckOut()
	require.NoError(t, err)
	require.NotNil(t, b)

	start := time.Now()
	c, err := p.CheckOutTimeout(100 * time.Millisecond)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Greater(t, atomic.LoadInt32(&errEvents), int32(0))
}

func TestCheckOutLIFOHitRate(t *testing.T) {
	cfg, _, _ := newFakeFactory()
	cfg.PoolSize = 1
	cfg.MaxSize = 0
	p, err := New("s2", cfg)
	require.NoError(t, err)

	a, err := p.CheckOut()
	require.NoError(t, err)
	require.NoError(t, p.CheckIn(a))

	b, err := p.CheckOut()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.InDelta(t, 0.5, p.HitRate(), 0.001)
}

func TestIdleExpiry(t *testing.T) {
	cfg, _, destroyed := newFakeFactory()
	cfg.PoolSize = 4
	cfg.Expiry = 200 * time.Millisecond
	p, err := New("s3", cfg)
	require.NoError(t, err)

	p.Init(4)
	require.Eventually(t, func() bool { return p.Size() == 4 }, time.Second, 10*time.Millisecond)

	time.Sleep(time.Second)
	assert.Equal(t, 0, p.FreeCount())
	assert.Equal(t, int32(4), atomic.LoadInt32(destroyed))
}

func TestCachePreparedHitAccounting(t *testing.T) {
	// Exercises the same "vend, close, re-vend with identical mode
	// hits" property the caching session relies on, at the generic
	// pool level: a recycled, checked-in item is handed back out
	// again rather than a fresh one being created.
	cfg, created, _ := newFakeFactory()
	cfg.PoolSize = 4
	cfg.MaxSize = 4
	p, err := New("s4", cfg)
	require.NoError(t, err)

	item, err := p.CheckOut()
	require.NoError(t, err)
	require.NoError(t, p.CheckIn(item))
	item2, err := p.CheckOut()
	require.NoError(t, err)
	assert.Same(t, item, item2)
	assert.Equal(t, int32(1), atomic.LoadInt32(created))
}

func TestLeakedItemForciblyClosedOnRelease(t *testing.T) {
	cfg, _, destroyed := newFakeFactory()
	cfg.PoolSize = 2
	cfg.MaxSize = 2
	p, err := New("s5", cfg)
	require.NoError(t, err)

	_, err = p.CheckOut() // leaked; never checked back in
	require.NoError(t, err)

	p.Release(true)
	assert.Equal(t, int32(1), atomic.LoadInt32(destroyed))
	_, err = p.CheckOut()
	assert.ErrorIs(t, err, ErrReleased)
}

func TestValidationFailureTransition(t *testing.T) {
	cfg, _, destroyed := newFakeFactory()
	cfg.PoolSize = 1
	cfg.MaxSize = 1
	var checkoutNum int32
	cfg.Validate = func(r Reusable) bool {
		n := atomic.AddInt32(&checkoutNum, 1)
		return n != 3
	}
	p, err := New("s6", cfg)
	require.NoError(t, err)

	var validationErrors int32
	p.AddListener(ListenerFunc(func(e Event) {
		if e.Kind == ValidationError {
			atomic.AddInt32(&validationErrors, 1)
		}
	}))

	for i := 0; i < 3; i++ {
		item, err := p.CheckOut()
		require.NoError(t, err)
		require.NoError(t, p.CheckIn(item))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&validationErrors))
	assert.GreaterOrEqual(t, atomic.LoadInt32(destroyed), int32(1))
}

func TestDoubleCheckInIsForeignItem(t *testing.T) {
	cfg, _, _ := newFakeFactory()
	cfg.PoolSize = 2
	p, err := New("double-checkin", cfg)
	require.NoError(t, err)

	item, err := p.CheckOut()
	require.NoError(t, err)
	require.NoError(t, p.CheckIn(item))
	assert.ErrorIs(t, p.CheckIn(item), ErrForeignItem)
}

func TestCapacityBoundUnderConcurrency(t *testing.T) {
	cfg, _, _ := newFakeFactory()
	cfg.PoolSize = 5
	cfg.MaxSize = 5
	p, err := New("concurrency", cfg)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := p.CheckOutTimeout(time.Second)
			if err != nil || item == nil {
				return
			}
			time.Sleep(time.Millisecond)
			_ = p.CheckIn(item)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, p.Size(), 5)
}

func TestReleaseDrainsAndBlocksFurtherCheckouts(t *testing.T) {
	cfg, _, _ := newFakeFactory()
	cfg.PoolSize = 1
	cfg.MaxSize = 1
	p, err := New("release-drain", cfg)
	require.NoError(t, err)

	item, err := p.CheckOut()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		p.Release(false)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("release returned before used item was checked in")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, p.CheckIn(item))
	<-done
	assert.Equal(t, 0, p.Size())
}

func TestSetParametersResetsHitCounters(t *testing.T) {
	cfg, _, _ := newFakeFactory()
	cfg.PoolSize = 2
	cfg.MaxSize = 2
	p, err := New("params", cfg)
	require.NoError(t, err)

	item, err := p.CheckOut()
	require.NoError(t, err)
	require.NoError(t, p.CheckIn(item))
	_, err = p.CheckOut()
	require.NoError(t, err)
	assert.Greater(t, p.Requests(), uint64(0))

	p.SetParameters(2, 2, 0)
	assert.Equal(t, uint64(0), p.Requests())
	assert.Equal(t, float64(0), p.HitRate())
}

func TestSetParametersWithActiveReaperDoesNotDeadlock(t *testing.T) {
	cfg, _, _ := newFakeFactory()
	cfg.PoolSize = 2
	cfg.Expiry = 50 * time.Millisecond
	p, err := New("reaper-reconfigure", cfg)
	require.NoError(t, err)
	defer p.Release(true)

	// New's own call to SetParameters already started a reaper since
	// Expiry > 0; a second call must halt and replace it without
	// re-locking p.mu from inside the halt.
	done := make(chan struct{})
	go func() {
		p.SetParameters(2, 2, 100*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetParameters deadlocked while halting the active reaper")
	}
}

func TestMaxSizeRaisedToPoolSize(t *testing.T) {
	cfg, _, _ := newFakeFactory()
	p, err := New(fmt.Sprintf("clamp-%d", time.Now().UnixNano()), cfg)
	require.NoError(t, err)
	p.SetParameters(4, 2, 0)
	p.mu.Lock()
	maxSize := p.maxSize
	p.mu.Unlock()
	assert.Equal(t, 4, maxSize)
}
