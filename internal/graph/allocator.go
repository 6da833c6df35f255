package graph

import (
	"sync"

	"github.com/jmylchreest/streamforge/internal/frame"
)

// Allocator is a fixed-size pool of reusable frame slots owned by a single
// Output pin. It is the runtime's only
// back-pressure mechanism: Alloc blocks on a condition variable until a slot
// is returned, and Unblock causes every subsequent (and any currently
// blocked) allocation to fail with ErrAllocatorClosed instead of hanging
// forever during shutdown.
type Allocator struct {
	mu sync.Mutex
	cond *sync.Cond
	slotSize int
	capacity int
	issued int64
	freed int64
	outstanding int
	closed bool
}

// NewAllocator creates a bounded pool with room for `capacity` concurrently
// outstanding Frames, each backed by a slotSize-byte buffer.
func NewAllocator(capacity, slotSize int) *Allocator {
	a := &Allocator{capacity: capacity, slotSize: slotSize}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Alloc returns a new Frame from the pool, blocking while the pool is at
// capacity. size must not exceed the allocator's configured slotSize for a
// fixed-size pool (size <= 0 uses slotSize).
func (a *Allocator) Alloc(size int, meta *frame.Metadata) (*frame.Frame, error) {
	a.mu.Lock()
	for a.outstanding >= a.capacity && !a.closed {
		a.cond.Wait()
	}
	if a.closed {
		a.mu.Unlock()
		return nil, ErrAllocatorClosed
	}
	a.outstanding++
	a.issued++
	a.mu.Unlock()

	if size <= 0 {
		size = a.slotSize
	}
	f := frame.New(size, meta)
	f.OnFinalRelease(a.Free)
	return f, nil
}

// TryAlloc is the non-blocking variant of Alloc: it returns ErrPoolExhausted
// immediately instead of waiting for a slot.
func (a *Allocator) TryAlloc(size int, meta *frame.Metadata) (*frame.Frame, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrAllocatorClosed
	}
	if a.outstanding >= a.capacity {
		a.mu.Unlock()
		return nil, ErrPoolExhausted
	}
	a.outstanding++
	a.issued++
	a.mu.Unlock()

	if size <= 0 {
		size = a.slotSize
	}
	f := frame.New(size, meta)
	f.OnFinalRelease(a.Free)
	return f, nil
}

// Free returns a slot to the pool. Frames from Alloc/TryAlloc carry a
// final-release hook that calls Free automatically once the Frame and all
// its clones have been Released; it is exported for filters that take
// ownership of a slot outside the Frame lifecycle.
func (a *Allocator) Free() {
	a.mu.Lock()
	a.outstanding--
	a.freed++
	a.mu.Unlock()
	a.cond.Signal()
}

// Unblock releases every blocked and future Alloc call with ErrAllocatorClosed,
// used during Pipeline shutdown to guarantee no filter deadlocks waiting on
// a slot that will never be returned.
func (a *Allocator) Unblock() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.cond.Broadcast()
}

// Stats reports the issued/freed counters used to verify the "issued-minus-
// freed equals outstanding, zero at teardown" invariant.
type Stats struct {
	Issued int64
	Freed int64
	Outstanding int
	Capacity int
}

// Stats returns a snapshot of the allocator's counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{Issued: a.issued, Freed: a.freed, Outstanding: a.outstanding, Capacity: a.capacity}
}
