package graph

import (
	"sync"

	"github.com/jmylchreest/streamforge/internal/frame"
)

// ExecutorPolicy selects the threading mode applied uniformly to every
// filter added to a Pipeline. The mode is fixed at Pipeline construction.
type ExecutorPolicy int

const (
	// Mono delivers Frames inline on the emitter's own goroutine: single-
	// threaded cooperative execution, all filters run on whatever goroutine
	// drives Pipeline.Run.
	Mono ExecutorPolicy = iota
	// OnePerModule gives each filter a dedicated worker goroutine with a
	// task queue fed by Input.Push and its own Process loop.
	OnePerModule
	// SharedPool consumes delivery tasks from all filters via a fixed-size
	// work-stealing-style pool.
	SharedPool
)

// Executor is the policy object responsible for getting a Frame from an
// Output to a connected Input. The executor must never invoke user code
// while holding an internal lock.
type Executor interface {
	// Deliver pushes f onto in's FIFO according to the executor's policy.
	Deliver(in *Input, f *frame.Frame) error
	// Close releases any resources (worker goroutines, pool) owned by the executor.
	Close()
}

// monoExecutor delivers synchronously on the calling goroutine.
type monoExecutor struct{}

func newMonoExecutor() *monoExecutor { return &monoExecutor{} }

func (e *monoExecutor) Deliver(in *Input, f *frame.Frame) error {
	return in.Push(f)
}

func (e *monoExecutor) Close() {}

// sharedPoolExecutor fans delivery tasks out across a fixed worker pool.
type sharedPoolExecutor struct {
	tasks chan deliverTask
	wg sync.WaitGroup
	closed chan struct{}
}

type deliverTask struct {
	in *Input
	f *frame.Frame
	result chan error
}

func newSharedPoolExecutor(workers int) *sharedPoolExecutor {
	if workers <= 0 {
		workers = 1
	}
	e := &sharedPoolExecutor{
		tasks: make(chan deliverTask, workers*4),
		closed: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *sharedPoolExecutor) worker() {
	defer e.wg.Done()
	for task := range e.tasks {
		task.result <- task.in.Push(task.f)
	}
}

func (e *sharedPoolExecutor) Deliver(in *Input, f *frame.Frame) error {
	result := make(chan error, 1)
	select {
	case e.tasks <- deliverTask{in: in, f: f, result: result}:
	case <-e.closed:
		return in.Push(f)
	}
	return <-result
}

func (e *sharedPoolExecutor) Close() {
	select {
	case <-e.closed:
	default:
		close(e.closed)
	}
	close(e.tasks)
	e.wg.Wait()
}

// onePerModuleExecutor delivers inline too: the "one worker per module"
// threading happens at the node level (each filter's Process loop runs on
// its own goroutine, driven by the Pipeline), so delivery itself is a plain
// blocking Push onto the target Input's own FIFO/condvar.
type onePerModuleExecutor struct{}

func newOnePerModuleExecutor() *onePerModuleExecutor { return &onePerModuleExecutor{} }

func (e *onePerModuleExecutor) Deliver(in *Input, f *frame.Frame) error {
	return in.Push(f)
}

func (e *onePerModuleExecutor) Close() {}

// NewExecutor builds the Executor implementation for the given policy.
func NewExecutor(policy ExecutorPolicy, sharedPoolSize int) Executor {
	switch policy {
	case Mono:
		return newMonoExecutor()
	case SharedPool:
		return newSharedPoolExecutor(sharedPoolSize)
	default:
		return newOnePerModuleExecutor()
	}
}
