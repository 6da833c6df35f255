package graph

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrEOS is returned by Filter.Process to signal that the filter has
// observed end-of-stream on all its inputs (or, for a source, that it has
// exhausted its own production) and should be flushed and retired.
var ErrEOS = errors.New("graph: end of stream")

// node wraps a registered Filter with the bookkeeping the Pipeline needs:
// its Host, activation state, source/sink classification, and driver
// goroutine lifecycle.
type node struct {
	name string
	filter Filter
	host *hostImpl
	active atomic.Bool
	stop atomic.Bool
	isSource bool
	isSink bool
	flushOnce sync.Once
	done chan struct{}
}

func (n *node) setActive(active bool) {
	n.active.Store(active)
}

// Pipeline is the graph manager: it constructs filters via a Factory,
// manages connections, computes source/sink topology, starts sources,
// counts EOS notifications to termination, and propagates exceptions.
type Pipeline struct {
	mu sync.Mutex
	cond *sync.Cond
	id string
	nodes []*node
	policy ExecutorPolicy
	sharedPoolSize int
	sharedExecutor Executor
	logger *slog.Logger
	remainingNotifications int
	exception error
	started bool
	done bool
}

// NewPipeline creates an empty Pipeline with the given uniform threading
// policy, applied to every filter added afterward.
func NewPipeline(policy ExecutorPolicy, sharedPoolSize int, logger *slog.Logger) *Pipeline {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	p := &Pipeline{
		id: id,
		policy: policy,
		sharedPoolSize: sharedPoolSize,
		logger: logger.With(slog.String("pipeline_id", id)),
	}
	p.cond = sync.NewCond(&p.mu)
	if policy == SharedPool {
		p.sharedExecutor = NewExecutor(SharedPool, sharedPoolSize)
	}
	return p
}

// ID returns the pipeline's run identifier, a ULID minted at construction
// so concurrent or successive runs sort by start time in logs and the
// introspection API.
func (p *Pipeline) ID() string {
	return p.id
}

// Executor returns the Executor new Output pins for filters on this Pipeline
// should be constructed with, honoring the Pipeline's policy.
func (p *Pipeline) Executor() Executor {
	if p.policy == SharedPool {
		return p.sharedExecutor
	}
	return NewExecutor(p.policy, 0)
}

// Add instantiates a filter via ctor, handing it the Host it needs at
// construction time, and registers it under name. It must be called before
// Start.
func (p *Pipeline) Add(name string, ctor func(Host) (Filter, error)) (Filter, error) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil, errors.New("graph: cannot add filter after pipeline started")
	}
	n := &node{name: name, done: make(chan struct{})}
	n.host = &hostImpl{filterName: name, logger: p.logger, pipeline: p, node: n}
	p.mu.Unlock()

	filter, err := ctor(n.host)
	if err != nil {
		return nil, NewFilterError(name, err)
	}
	n.filter = filter

	p.mu.Lock()
	p.nodes = append(p.nodes, n)
	p.mu.Unlock()
	return filter, nil
}

// Connect registers an edge from an Output belonging to a previously-added
// filter to an Input belonging to another.
func (p *Pipeline) Connect(out *Output, in *Input, multiConnect bool) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("graph: cannot connect after pipeline started")
	}
	p.mu.Unlock()
	return out.Connect(in, multiConnect)
}

// computeTopology classifies each node as source (no inputs) or sink (no
// outputs).
func (p *Pipeline) computeTopology() {
	for _, n := range p.nodes {
		n.isSource = n.filter.NumInputs() == 0
		n.isSink = n.filter.NumOutputs() == 0
	}
}

// Start computes topology, activates every source filter, and launches each
// filter's driver goroutine under the Pipeline's executor policy.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrPipelineAlreadyRunning
	}
	p.started = true
	p.computeTopology()

	// Every filter starts active; a filter that wants to idle until data
	// arrives calls host.Activate(false) itself. Activating on first data
	// arrival is the same rule viewed from the other direction: default
	// active, let filters opt out.
	sinkCount := 0
	for _, n := range p.nodes {
		if n.isSink {
			sinkCount++
		}
		n.setActive(true)
	}
	p.remainingNotifications = sinkCount
	p.mu.Unlock()

	switch p.policy {
	case Mono:
		go p.runMono(ctx)
	default:
		for _, n := range p.nodes {
			go p.runNode(ctx, n)
		}
	}
	return nil
}

// runMono drives every node's Process round-robin on a single goroutine,
// matching Mono's "single-threaded cooperative" semantics.
func (p *Pipeline) runMono(ctx context.Context) {
	live := make(map[*node]bool, len(p.nodes))
	for _, n := range p.nodes {
		live[n] = true
	}
	for len(live) > 0 {
		select {
		case <-ctx.Done():
			return
		default:
		}
		progressed := false
		for n := range live {
			if !n.active.Load() {
				continue
			}
			progressed = true
			if p.stepNode(n) {
				delete(live, n)
				close(n.done)
			}
		}
		if !progressed {
			return
		}
	}
}

// runNode is the OnePerModule/SharedPool driver loop for a single filter: it
// calls Process repeatedly while active, retiring the node on EOS or error.
func (p *Pipeline) runNode(ctx context.Context, n *node) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !n.active.Load() {
			if n.stop.Load() {
				p.stepNode(n)
				return
			}
			time.Sleep(time.Millisecond)
			continue
		}
		if p.stepNode(n) {
			return
		}
	}
}

// stepNode runs one Process call, handling EOS/error termination. It
// returns true once the node has retired.
func (p *Pipeline) stepNode(n *node) bool {
	err := n.filter.Process()
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEOS) {
		n.flushOnce.Do(func() {
			if ferr := n.filter.Flush(); ferr != nil {
				p.exceptionf(n, ferr)
			}
		})
		if n.isSink {
			p.notifyEOS()
		}
		return true
	}
	p.exceptionf(n, err)
	return true
}

// notifyEOS decrements the remaining-notification counter; when it reaches
// zero, waitForEndOfStream unblocks.
func (p *Pipeline) notifyEOS() {
	p.mu.Lock()
	p.remainingNotifications--
	if p.remainingNotifications <= 0 {
		p.done = true
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// exceptionf stores a FilterError and wakes any waiting thread; only the
// most recent exception is retained.
func (p *Pipeline) exceptionf(n *node, err error) {
	p.mu.Lock()
	p.exception = NewFilterError(n.name, err)
	p.done = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// WaitForEndOfStream blocks until every sink filter has notified EOS or an
// exception has been raised, whichever comes first, then returns the stored
// exception (nil on clean completion).
func (p *Pipeline) WaitForEndOfStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.done {
		p.cond.Wait()
	}
	return p.exception
}

// ExitSync requests early termination: every source filter is deactivated
// and marked stopped, which cascades through the graph as EOS once each
// source's Process observes the stop flag and returns ErrEOS.
func (p *Pipeline) ExitSync() {
	p.mu.Lock()
	nodes := make([]*node, len(p.nodes))
	copy(nodes, p.nodes)
	p.mu.Unlock()

	for _, n := range nodes {
		if n.isSource {
			n.stop.Store(true)
			n.setActive(false)
		}
	}
	for _, n := range nodes {
		<-n.done
	}

	// teardown: every allocator unblocked and every input woken, so no
	// goroutine outside the retired driver loops stays parked in
	// AllocData/Push/Pop.
	for _, n := range nodes {
		for i := 0; i < n.filter.NumOutputs(); i++ {
			if out := n.filter.Output(i); out != nil {
				out.Unblock()
			}
		}
		for i := 0; i < n.filter.NumInputs(); i++ {
			if in := n.filter.Input(i); in != nil {
				in.close()
			}
		}
	}
	if p.sharedExecutor != nil {
		p.sharedExecutor.Close()
	}
}

// Host returns the Host handle for the named filter, for use by test code
// constructing filters outside of Add's normal flow.
func (p *Pipeline) Host(name string) Host {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.nodes {
		if n.name == name {
			return n.host
		}
	}
	return nil
}

// NodeInfo is a snapshot of one registered filter's identity and runtime
// state, for the introspection API.
type NodeInfo struct {
	Name string
	NumInputs int
	NumOutputs int
	IsSource bool
	IsSink bool
	Active bool
}

// Nodes returns a snapshot of every registered filter's identity and
// current activation state, in registration order.
func (p *Pipeline) Nodes() []NodeInfo {
	p.mu.Lock()
	nodes := make([]*node, len(p.nodes))
	copy(nodes, p.nodes)
	p.mu.Unlock()

	infos := make([]NodeInfo, len(nodes))
	for i, n := range nodes {
		infos[i] = NodeInfo{
			Name: n.name,
			NumInputs: n.filter.NumInputs(),
			NumOutputs: n.filter.NumOutputs(),
			IsSource: n.isSource,
			IsSink: n.isSink,
			Active: n.active.Load(),
		}
	}
	return infos
}

// Filter returns the registered Filter for name, or nil if unknown.
func (p *Pipeline) Filter(name string) Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.nodes {
		if n.name == name {
			return n.filter
		}
	}
	return nil
}
