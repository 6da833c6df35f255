package graph

import (
	"sync"

	"github.com/jmylchreest/streamforge/internal/frame"
)

// Input is a typed input pin: a bounded FIFO of Frames plus the pin-level
// Metadata it has adopted.
type Input struct {
	mu sync.Mutex
	cond *sync.Cond
	queue []*frame.Frame
	capacity int
	meta *frame.Metadata
	connections int
	multiConnect bool
	closed bool
}

// NewInput creates an Input with the given bounded-FIFO capacity.
func NewInput(capacity int) *Input {
	in := &Input{capacity: capacity}
	in.cond = sync.NewCond(&in.mu)
	return in
}

// connect registers an upstream producer. Returns ErrInputAlreadyConnected
// if a second producer connects to a pin that hasn't opted into multi-connect.
func (in *Input) connect(multiConnect bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.connections > 0 && !in.multiConnect {
		return ErrInputAlreadyConnected
	}
	in.multiConnect = in.multiConnect || multiConnect
	in.connections++
	return nil
}

// disconnect records an upstream producer going away.
func (in *Input) disconnect() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.connections > 0 {
		in.connections--
	}
}

// ConnectionCount returns the number of producers currently connected.
func (in *Input) ConnectionCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.connections
}

// Push enqueues a Frame, first applying the metadata-ingestion rules, and
// wakes any blocked Pop. Push never drops frames; if the FIFO is at capacity
// it blocks the calling (upstream) goroutine, propagating back-pressure.
func (in *Input) Push(f *frame.Frame) error {
	in.mu.Lock()
	if !frame.Compatible(in.meta, f.Metadata()) {
		in.mu.Unlock()
		return ErrIncompatibleMetadata
	}
	if in.meta == nil {
		in.meta = f.Metadata()
	}
	for len(in.queue) >= in.capacity && in.capacity > 0 && !in.closed {
		in.cond.Wait()
	}
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.queue = append(in.queue, f)
	in.mu.Unlock()
	in.cond.Signal()
	return nil
}

// Pop blocks until a Frame is available and returns it.
func (in *Input) Pop() *frame.Frame {
	in.mu.Lock()
	for len(in.queue) == 0 && !in.closed {
		in.cond.Wait()
	}
	if len(in.queue) == 0 {
		in.mu.Unlock()
		return nil
	}
	f := in.queue[0]
	in.queue = in.queue[1:]
	in.mu.Unlock()
	in.cond.Signal()
	return f
}

// TryPop returns the next queued Frame without blocking, or nil if empty.
func (in *Input) TryPop() *frame.Frame {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.queue) == 0 {
		return nil
	}
	f := in.queue[0]
	in.queue = in.queue[1:]
	in.cond.Signal()
	return f
}

// Empty reports whether the FIFO currently holds no Frames.
func (in *Input) Empty() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue) == 0
}

// QueueLen reports the number of Frames currently queued, for introspection.
func (in *Input) QueueLen() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// Capacity returns the pin's configured bounded-FIFO capacity.
func (in *Input) Capacity() int {
	return in.capacity
}

// Metadata returns the pin's currently-adopted Metadata, or nil.
func (in *Input) Metadata() *frame.Metadata {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.meta
}

// close unblocks any goroutine waiting in Push/Pop, used during Pipeline shutdown.
func (in *Input) close() {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
	in.cond.Broadcast()
}

// Output is a typed output pin: a fan-out set of connected Inputs, the
// pin-level Metadata, and an owned pool Allocator.
type Output struct {
	mu sync.Mutex
	meta *frame.Metadata
	conns []*Input
	allocator *Allocator
	executor Executor
}

// NewOutput creates an Output backed by the given Allocator and delivered
// through the given Executor.
func NewOutput(allocator *Allocator, executor Executor) *Output {
	return &Output{allocator: allocator, executor: executor}
}

// AllocData returns a new Frame from the Output's pool allocator, blocking
// or failing when the pool is exhausted.
func (o *Output) AllocData(size int) (*frame.Frame, error) {
	return o.allocator.Alloc(size, o.Metadata())
}

// Connect registers a downstream Input as a consumer of this Output.
func (o *Output) Connect(in *Input, multiConnect bool) error {
	if err := in.connect(multiConnect); err != nil {
		return err
	}
	o.mu.Lock()
	o.conns = append(o.conns, in)
	o.mu.Unlock()
	return nil
}

// Disconnect removes a downstream Input.
func (o *Output) Disconnect(in *Input) {
	in.disconnect()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range o.conns {
		if c == in {
			o.conns = append(o.conns[:i], o.conns[i+1:]...)
			return
		}
	}
}

// Metadata returns the Output's current pin-level Metadata.
func (o *Output) Metadata() *frame.Metadata {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.meta
}

// SetMetadata atomically sets the Output's pin-level Metadata.
func (o *Output) SetMetadata(m *frame.Metadata) {
	o.mu.Lock()
	o.meta = m
	o.mu.Unlock()
}

// Unblock shuts down the owned pool Allocator so any producer parked in
// AllocData fails with ErrAllocatorClosed instead of hanging; part of
// Pipeline teardown.
func (o *Output) Unblock() {
	o.allocator.Unblock()
}

// AllocatorStats reports the owned pool Allocator's occupancy, for
// introspection.
func (o *Output) AllocatorStats() Stats {
	return o.allocator.Stats()
}

// ConnectionCount reports the number of Inputs currently fed by this Output.
func (o *Output) ConnectionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.conns)
}

// Post validates-and-updates the Output's metadata then broadcasts the Frame
// to every connected Input through the configured Executor. Post never
// invokes user code while holding o.mu.
func (o *Output) Post(f *frame.Frame) error {
	o.mu.Lock()
	if f.Metadata() != nil && !o.meta.Equal(f.Metadata()) {
		o.meta = f.Metadata()
	}
	conns := make([]*Input, len(o.conns))
	copy(conns, o.conns)
	o.mu.Unlock()

	for i, in := range conns {
		deliver := f
		if i > 0 {
			deliver = f.Clone()
		}
		if err := o.executor.Deliver(in, deliver); err != nil {
			return err
		}
	}
	return nil
}
