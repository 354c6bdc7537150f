package accelerator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func key(w, h int, role Role) Key {
	return Key{Res: Resolution{Width: w, Height: h}, Role: role}
}

func TestPoolAllocatesExactSize(t *testing.T) {
	dev := NewSoftwareDevice()
	pool := NewPool(dev, 0)

	tests := []struct {
		key  Key
		want uint64
	}{
		{key(10, 20, RoleInput), 800},
		{key(10, 20, RoleOutput), 800},
		{key(10, 20, RoleStaging), 800},
		{key(10, 20, RoleParams), ParamsSize},
		{key(1, 1, RoleInput), 4},
	}
	for _, tt := range tests {
		h, err := pool.Acquire(context.Background(), tt.key)
		if err != nil {
			t.Fatalf("Acquire(%s): %v", tt.key, err)
		}
		if got := h.Buffer.Size(); got != tt.want {
			t.Errorf("%s: size %d, want %d", tt.key, got, tt.want)
		}
		h.Release()
	}
}

func TestPoolReusesExactKey(t *testing.T) {
	dev := NewSoftwareDevice()
	pool := NewPool(dev, 0)
	ctx := context.Background()

	h1, err := pool.Acquire(ctx, key(64, 64, RoleInput))
	if err != nil {
		t.Fatal(err)
	}
	buf := h1.Buffer
	h1.Release()

	h2, err := pool.Acquire(ctx, key(64, 64, RoleInput))
	if err != nil {
		t.Fatal(err)
	}
	if h2.Buffer != buf {
		t.Error("expected the pooled buffer to be reused")
	}
	h2.Release()

	// Same resolution, different role, and same role, different resolution,
	// must both allocate.
	h3, _ := pool.Acquire(ctx, key(64, 64, RoleOutput))
	h4, _ := pool.Acquire(ctx, key(64, 32, RoleInput))
	if h3.Buffer == buf || h4.Buffer == buf {
		t.Error("buffer shared across non-matching keys")
	}
	h3.Release()
	h4.Release()

	stats := pool.Stats()
	if stats.Allocations != 3 || stats.Reuses != 1 {
		t.Errorf("stats = %+v, want 3 allocations and 1 reuse", stats)
	}
	if stats.Borrowed != 0 {
		t.Errorf("borrowed = %d after releasing everything", stats.Borrowed)
	}
}

func TestPoolSingleBorrow(t *testing.T) {
	dev := NewSoftwareDevice()
	pool := NewPool(dev, 0)
	keys := []Key{key(8, 8, RoleInput), key(8, 8, RoleOutput)}
	var holders [2]atomic.Int32
	var violations atomic.Int32

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				idx := (g + i) % 2
				h, err := pool.Acquire(context.Background(), keys[idx])
				if err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				if holders[idx].Add(1) > 1 {
					violations.Add(1)
				}
				time.Sleep(10 * time.Microsecond)
				holders[idx].Add(-1)
				h.Release()
			}
		}()
	}
	wg.Wait()

	if v := violations.Load(); v != 0 {
		t.Fatalf("%d concurrent borrows of one key", v)
	}
	if stats := pool.Stats(); stats.Allocations != 2 {
		t.Errorf("allocations = %d, want 2", stats.Allocations)
	}
}

func TestPoolAcquireWaitsForRelease(t *testing.T) {
	pool := NewPool(NewSoftwareDevice(), 0)
	k := key(4, 4, RoleStaging)

	h, err := pool.Acquire(context.Background(), k)
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan *Handle, 1)
	go func() {
		h2, err := pool.Acquire(context.Background(), k)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			close(got)
			return
		}
		got <- h2
	}()

	select {
	case <-got:
		t.Fatal("second Acquire returned while the key was borrowed")
	case <-time.After(50 * time.Millisecond):
	}

	h.Release()

	select {
	case h2 := <-got:
		if h2 == nil {
			t.Fatal("second Acquire failed")
		}
		if h2.Buffer != h.Buffer {
			t.Error("waiter did not receive the released buffer")
		}
		h2.Release()
	case <-time.After(time.Second):
		t.Fatal("second Acquire never woke up")
	}
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	pool := NewPool(NewSoftwareDevice(), 0)
	k := key(4, 4, RoleInput)
	h, err := pool.Acquire(context.Background(), k)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx, k); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire error = %v, want deadline exceeded", err)
	}
}

func TestPoolEvictsLeastRecentlyReleasedOfRole(t *testing.T) {
	dev := NewSoftwareDevice()
	pool := NewPool(dev, 3)
	ctx := context.Background()

	acquireRelease := func(k Key) Buffer {
		h, err := pool.Acquire(ctx, k)
		if err != nil {
			t.Fatalf("Acquire(%s): %v", k, err)
		}
		h.Release()
		return h.Buffer
	}

	acquireRelease(key(1, 1, RoleInput))  // oldest input
	acquireRelease(key(2, 2, RoleOutput)) // oldest overall, wrong role
	acquireRelease(key(3, 3, RoleInput))

	acquireRelease(key(4, 4, RoleInput))

	stats := pool.Stats()
	if stats.Evictions != 1 || stats.Live != 3 {
		t.Fatalf("stats = %+v, want 1 eviction and 3 live", stats)
	}
	if dev.LiveBuffers() != 3 {
		t.Errorf("device holds %d buffers, want 3", dev.LiveBuffers())
	}

	// The output buffer must have survived; reacquiring it is a reuse.
	before := pool.Stats().Reuses
	acquireRelease(key(2, 2, RoleOutput))
	if pool.Stats().Reuses != before+1 {
		t.Error("output buffer was evicted for an input request")
	}
	// The 1x1 input was the victim, so it allocates again.
	allocs := pool.Stats().Allocations
	acquireRelease(key(1, 1, RoleInput))
	if pool.Stats().Allocations != allocs+1 {
		t.Error("expected 1x1 input to have been evicted")
	}
}

func TestPoolDiscardDestroysBuffer(t *testing.T) {
	dev := NewSoftwareDevice()
	pool := NewPool(dev, 0)
	h, err := pool.Acquire(context.Background(), key(2, 2, RoleInput))
	if err != nil {
		t.Fatal(err)
	}
	h.Discard()
	h.Release() // no-op after Discard

	if dev.LiveBuffers() != 0 {
		t.Errorf("device holds %d buffers after discard", dev.LiveBuffers())
	}
	if s := pool.Stats(); s.Live != 0 {
		t.Errorf("pool still tracks %d entries", s.Live)
	}
}

func TestPoolClose(t *testing.T) {
	dev := NewSoftwareDevice()
	pool := NewPool(dev, 0)
	ctx := context.Background()

	idle, _ := pool.Acquire(ctx, key(2, 2, RoleInput))
	idle.Release()
	busy, _ := pool.Acquire(ctx, key(2, 2, RoleOutput))

	pool.Close()
	if dev.LiveBuffers() != 1 {
		t.Errorf("after Close: %d live buffers, want 1 (the borrowed one)", dev.LiveBuffers())
	}
	busy.Release()
	if dev.LiveBuffers() != 0 {
		t.Errorf("borrowed buffer not destroyed on release after Close")
	}
	if _, err := pool.Acquire(ctx, key(2, 2, RoleInput)); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire after Close = %v, want ErrPoolClosed", err)
	}
}
