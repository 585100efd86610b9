// File: internal/build/run.go
// Brief: Ready queue and worker pool for one build.

package build

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/example/fbuild/internal/action"
	"github.com/example/fbuild/internal/graph"
	"github.com/example/fbuild/internal/stamp"
	"github.com/example/fbuild/internal/stats"
)

// scheduler hands out nodes whose dependencies are all terminal, earliest
// closure position first. NextReady blocks until a node is ready, the build
// is done, or Stop was called.
type scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	g          *graph.Graph
	pos        map[graph.NodeID]int
	inDegree   map[graph.NodeID]int
	deps       map[graph.NodeID][]graph.NodeID
	dependents map[graph.NodeID][]graph.NodeID
	ready      posHeap
	remaining  int
	running    int
	stopped    bool

	// onBlocked runs under mu for nodes failed by a failed dependency.
	onBlocked func(n *graph.Node, dep *graph.Node)
}

func newScheduler(g *graph.Graph, order []graph.NodeID) *scheduler {
	s := &scheduler{
		g:          g,
		pos:        make(map[graph.NodeID]int, len(order)),
		inDegree:   make(map[graph.NodeID]int, len(order)),
		deps:       make(map[graph.NodeID][]graph.NodeID, len(order)),
		dependents: map[graph.NodeID][]graph.NodeID{},
		remaining:  len(order),
	}
	s.cond = sync.NewCond(&s.mu)
	for i, id := range order {
		s.pos[id] = i
	}
	for _, id := range order {
		for _, dep := range g.Deps(id) {
			if _, ok := s.pos[dep]; !ok {
				continue
			}
			s.deps[id] = append(s.deps[id], dep)
			s.dependents[dep] = append(s.dependents[dep], id)
		}
		s.inDegree[id] = len(s.deps[id])
	}
	s.ready.pos = s.pos
	for _, id := range order {
		if s.inDegree[id] == 0 {
			heap.Push(&s.ready, id)
		}
	}
	return s
}

func (s *scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.cond.Broadcast()
}

func (s *scheduler) NextReady() (graph.NodeID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.stopped || s.remaining == 0 {
			return graph.NoNode, false
		}
		if s.ready.Len() == 0 {
			if s.running == 0 {
				// Nothing running and nothing ready: the rest is unreachable.
				return graph.NoNode, false
			}
			s.cond.Wait()
			continue
		}
		id := heap.Pop(&s.ready).(graph.NodeID)
		n := s.g.Node(id)
		if failed := s.failedDep(id); failed != nil {
			n.SetState(graph.StateFailed)
			if s.onBlocked != nil {
				s.onBlocked(n, failed)
			}
			s.completeLocked(id)
			continue
		}
		s.running++
		return id, true
	}
}

// Done marks a dispatched node terminal and releases its dependents.
func (s *scheduler) Done(id graph.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	s.completeLocked(id)
}

func (s *scheduler) completeLocked(id graph.NodeID) {
	s.remaining--
	for _, d := range s.dependents[id] {
		s.inDegree[d]--
		if s.inDegree[d] == 0 {
			heap.Push(&s.ready, d)
		}
	}
	s.cond.Broadcast()
}

func (s *scheduler) failedDep(id graph.NodeID) *graph.Node {
	for _, dep := range s.deps[id] {
		if n := s.g.Node(dep); n.State() == graph.StateFailed {
			return n
		}
	}
	return nil
}

type posHeap struct {
	ids []graph.NodeID
	pos map[graph.NodeID]int
}

func (h posHeap) Len() int           { return len(h.ids) }
func (h posHeap) Less(i, j int) bool { return h.pos[h.ids[i]] < h.pos[h.ids[j]] }
func (h posHeap) Swap(i, j int)      { h.ids[i], h.ids[j] = h.ids[j], h.ids[i] }
func (h *posHeap) Push(x any)        { h.ids = append(h.ids, x.(graph.NodeID)) }
func (h *posHeap) Pop() any {
	old := h.ids
	v := old[len(old)-1]
	h.ids = old[:len(old)-1]
	return v
}

// builder carries everything one Build needs.
type builder struct {
	invocation string
	g          *graph.Graph
	opts       Options
	log        logr.Logger
	stats      *stats.Collector
	policy     stamp.Policy
	exec       action.Executor
	inClosure  map[graph.NodeID]bool
	sched      *scheduler

	kindSem map[graph.Kind]*semaphore.Weighted

	inlineMu sync.Mutex
	emitMu   sync.Mutex

	// settled is broadcast whenever a claimed node turns terminal.
	settleMu sync.Mutex
	settled  *sync.Cond

	errMu   sync.Mutex
	failed  []*NodeError
	blocked []string
}

func (b *builder) run(ctx context.Context, order []graph.NodeID) {
	b.inClosure = make(map[graph.NodeID]bool, len(order))
	for _, id := range order {
		b.inClosure[id] = true
	}
	b.kindSem = map[graph.Kind]*semaphore.Weighted{}
	for k, limit := range b.opts.MaxConcurrencyByKind {
		if limit > 0 {
			b.kindSem[k] = semaphore.NewWeighted(int64(limit))
		}
	}

	b.settled = sync.NewCond(&b.settleMu)
	b.sched = newScheduler(b.g, order)
	b.sched.onBlocked = func(n *graph.Node, dep *graph.Node) {
		b.stats.RecordSeen(n.Kind)
		reason := fmt.Sprintf("dependency %s failed", dep.Name)
		b.errMu.Lock()
		b.blocked = append(b.blocked, n.Name)
		b.errMu.Unlock()
		b.log.V(1).Info("node blocked", "node", n.Name, "dependency", dep.Name)
		b.emit(NodeEvent{Node: n.Name, Kind: n.Kind, State: graph.StateFailed, Reason: reason})
	}
	stop := context.AfterFunc(ctx, b.sched.Stop)
	defer stop()

	workers := b.opts.Workers
	if workers < 1 {
		workers = 1
	}
	var eg errgroup.Group
	for i := 0; i < workers; i++ {
		eg.Go(func() error {
			for {
				id, ok := b.sched.NextReady()
				if !ok {
					return nil
				}
				b.runNode(ctx, id)
				b.sched.Done(id)
			}
		})
	}
	_ = eg.Wait()
}

// runNode visits a dispatched node unless a worker already claimed it as a
// discovered dependency.
func (b *builder) runNode(ctx context.Context, id graph.NodeID) {
	n := b.g.Node(id)
	if !n.TryBegin() {
		return
	}
	b.work(ctx, n)
}

// work visits a node the caller has claimed and publishes its terminal state.
func (b *builder) work(ctx context.Context, n *graph.Node) {
	start := time.Now()
	b.stats.RecordSeen(n.Kind)
	b.emit(NodeEvent{Node: n.Name, Kind: n.Kind, State: graph.StateBuilding, Time: start})

	state, reason, err := b.visitWithLimit(ctx, n)
	if err != nil {
		state = graph.StateFailed
		nerr := &NodeError{Node: n.Name, Kind: n.Kind, Err: err}
		b.errMu.Lock()
		b.failed = append(b.failed, nerr)
		b.errMu.Unlock()
		b.log.Error(err, "node failed", "node", n.Name, "kind", n.Kind.String())
		if !b.opts.KeepGoing {
			b.sched.Stop()
		}
	} else {
		b.log.V(1).Info("node finished", "node", n.Name, "kind", n.Kind.String(), "state", state.String(), "reason", reason)
	}
	if state == graph.StateBuilt {
		b.stats.RecordBuilt(n.Kind)
	}
	n.SetState(state)
	b.settleMu.Lock()
	b.settled.Broadcast()
	b.settleMu.Unlock()
	b.emit(NodeEvent{Node: n.Name, Kind: n.Kind, State: state, Reason: reason, Err: err, Time: time.Now(), Duration: time.Since(start)})
}

// waitSettled blocks until another worker finishes n. Only used for Files,
// whose visits never wait on other nodes.
func (b *builder) waitSettled(n *graph.Node) {
	b.settleMu.Lock()
	defer b.settleMu.Unlock()
	for !n.State().Terminal() {
		b.settled.Wait()
	}
}

func (b *builder) visitWithLimit(ctx context.Context, n *graph.Node) (graph.State, string, error) {
	if sem := b.kindSem[n.Kind]; sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return graph.StateFailed, "", err
		}
		defer sem.Release(1)
	}
	if err := ctx.Err(); err != nil {
		return graph.StateFailed, "", err
	}
	return b.visit(ctx, n)
}

func (b *builder) emit(ev NodeEvent) {
	if len(b.opts.Observers) == 0 {
		return
	}
	ev.InvocationID = b.invocation
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	for _, o := range b.opts.Observers {
		o.ObserveNodeEvent(ev)
	}
}
