package accelerator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"transmute/logger"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("buffer pool closed")

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Allocations uint64
	Reuses      uint64
	Evictions   uint64
	Live        int
	Borrowed    int
}

type poolEntry struct {
	key      Key
	buf      Buffer
	borrowed bool
	// released is closed when the current borrower gives the entry back.
	released chan struct{}
	// lastRelease orders idle entries for eviction.
	lastRelease uint64
}

// Pool hands out device buffers keyed by (resolution, role). Each key has
// at most one buffer, and that buffer has at most one borrower at a time.
type Pool struct {
	dev      Device
	capacity int

	mu      sync.Mutex
	entries map[Key]*poolEntry
	clock   uint64
	stats   PoolStats
	closed  bool
}

// NewPool creates a pool on dev. capacity <= 0 means unbounded.
func NewPool(dev Device, capacity int) *Pool {
	return &Pool{
		dev:      dev,
		capacity: capacity,
		entries:  make(map[Key]*poolEntry),
	}
}

// Handle is a borrowed buffer. It must be returned with Release or Discard.
type Handle struct {
	Key    Key
	Buffer Buffer

	pool  *Pool
	entry *poolEntry
	done  bool
}

// Acquire borrows the buffer for key, allocating it on first use. If another
// dispatch holds the key, Acquire waits for it to be released or for ctx.
func (p *Pool) Acquire(ctx context.Context, key Key) (*Handle, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if e, ok := p.entries[key]; ok {
			if e.borrowed {
				wait := e.released
				p.mu.Unlock()
				select {
				case <-wait:
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			e.borrowed = true
			e.released = make(chan struct{})
			p.stats.Reuses++
			p.mu.Unlock()
			return &Handle{Key: key, Buffer: e.buf, pool: p, entry: e}, nil
		}

		var victim *poolEntry
		if p.capacity > 0 && len(p.entries) >= p.capacity {
			victim = p.lruIdleLocked(key.Role)
			if victim != nil {
				delete(p.entries, victim.key)
				p.stats.Evictions++
			}
		}

		// Reserve the key before allocating so concurrent acquirers of the
		// same key wait instead of allocating a duplicate.
		e := &poolEntry{key: key, borrowed: true, released: make(chan struct{})}
		p.entries[key] = e
		p.mu.Unlock()

		if victim != nil {
			logger.Debugf("accelerator pool: evicting %s", victim.key)
			p.dev.DestroyBuffer(victim.buf)
		}

		buf, err := p.dev.CreateBuffer("transmute_"+key.String(), key.Role, key.Size())

		p.mu.Lock()
		if err != nil {
			delete(p.entries, key)
			close(e.released)
			p.mu.Unlock()
			return nil, fmt.Errorf("allocate %s (%d bytes): %w", key, key.Size(), err)
		}
		e.buf = buf
		p.stats.Allocations++
		p.mu.Unlock()

		logger.Debugf("accelerator pool: allocated %s (%d bytes)", key, key.Size())
		return &Handle{Key: key, Buffer: buf, pool: p, entry: e}, nil
	}
}

// lruIdleLocked returns the least recently released idle entry with role,
// or nil when every entry of that role is borrowed.
func (p *Pool) lruIdleLocked(role Role) *poolEntry {
	var victim *poolEntry
	for _, e := range p.entries {
		if e.borrowed || e.key.Role != role {
			continue
		}
		if victim == nil || e.lastRelease < victim.lastRelease {
			victim = e
		}
	}
	return victim
}

// Release returns the buffer to the pool for reuse. Calling it twice is a no-op.
func (h *Handle) Release() {
	p := h.pool
	p.mu.Lock()
	if h.done {
		p.mu.Unlock()
		return
	}
	h.done = true
	p.clock++
	h.entry.lastRelease = p.clock
	h.entry.borrowed = false
	close(h.entry.released)

	var destroy Buffer
	if p.closed {
		delete(p.entries, h.Key)
		destroy = h.entry.buf
	}
	p.mu.Unlock()

	if destroy != nil {
		p.dev.DestroyBuffer(destroy)
	}
}

// Discard removes the buffer from the pool and destroys it.
func (h *Handle) Discard() {
	p := h.pool
	p.mu.Lock()
	if h.done {
		p.mu.Unlock()
		return
	}
	h.done = true
	if p.entries[h.Key] == h.entry {
		delete(p.entries, h.Key)
	}
	close(h.entry.released)
	p.mu.Unlock()

	p.dev.DestroyBuffer(h.entry.buf)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Live = len(p.entries)
	for _, e := range p.entries {
		if e.borrowed {
			s.Borrowed++
		}
	}
	return s
}

// Close destroys idle buffers. Borrowed buffers are destroyed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	var idle []Buffer
	for k, e := range p.entries {
		if !e.borrowed {
			idle = append(idle, e.buf)
			delete(p.entries, k)
		}
	}
	p.mu.Unlock()

	for _, b := range idle {
		p.dev.DestroyBuffer(b)
	}
}
