// File: internal/build/engine.go
// Brief: Engine entry points (declare, initialize, build, save).

// Package build decides which nodes of an fbuild graph are stale, runs the
// work for exactly those nodes on a worker pool, and keeps the build records
// that make the next invocation incremental.
package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/example/fbuild/internal/action"
	"github.com/example/fbuild/internal/graph"
	"github.com/example/fbuild/internal/graphdb"
	"github.com/example/fbuild/internal/stamp"
	"github.com/example/fbuild/internal/stats"
)

type Options struct {
	// Workers bounds concurrently running nodes; values below 1 mean 1.
	Workers int
	// KeepGoing lets branches unaffected by a failure finish.
	KeepGoing bool
	// ForceClean ignores any saved graph so every node is rebuilt.
	ForceClean bool
	// Dir is the directory relative node names are resolved against.
	Dir                  string
	// StampPolicy is used as given; a zero Resolution turns off racy
	// content hashing.
	StampPolicy          stamp.Policy
	Executor             action.Executor
	MaxConcurrencyByKind map[graph.Kind]int
	Logger               logr.Logger
	Observers            []Observer
}

// Result summarises one Build call.
type Result struct {
	InvocationID string
	Targets      []string
	Stats        stats.Snapshot
	States       map[string]graph.State
	Duration     time.Duration
}

// Built lists the nodes that did work, sorted by name.
func (r *Result) Built() []string {
	return r.namesIn(graph.StateBuilt)
}

func (r *Result) Failed() []string {
	return r.namesIn(graph.StateFailed)
}

func (r *Result) namesIn(st graph.State) []string {
	var out []string
	for name, s := range r.States {
		if s == st {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

type Engine struct {
	mu   sync.Mutex
	opts Options
	log  logr.Logger

	declared       *graph.Graph
	graph          *graph.Graph
	initialized    bool
	needsReconcile bool
	stats          *stats.Collector
}

func New(opts Options) *Engine {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Engine{
		opts:     opts,
		log:      log,
		declared: graph.New(),
		stats:    stats.New(),
	}
}

// Declare records a node declaration. Dependencies may name nodes that are
// declared later; they are resolved by Initialize and Build.
func (e *Engine) Declare(d graph.Declaration) (graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d.Origin = graph.OriginDeclared
	id, err := e.declared.Declare(d)
	if err != nil {
		return graph.NoNode, err
	}
	if e.initialized {
		e.needsReconcile = true
	}
	return id, nil
}

// Initialize validates the declarations and merges them with the graph saved
// at snapshotPath. An unreadable or corrupt snapshot is logged and ignored:
// the build starts from the declarations alone.
func (e *Engine) Initialize(ctx context.Context, snapshotPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.declared.Validate(); err != nil {
		return err
	}

	var loaded *graph.Graph
	switch {
	case e.opts.ForceClean:
		e.log.Info("clean build requested, ignoring saved graph", "path", snapshotPath)
	case snapshotPath == "":
	default:
		g, meta, err := graphdb.LoadWithMeta(ctx, snapshotPath)
		switch {
		case err == nil:
			loaded = g
			e.log.V(1).Info("loaded build graph", "path", snapshotPath, "snapshot", meta.SnapshotID, "nodes", meta.Nodes, "engineVersion", meta.EngineVersion)
		case errors.Is(err, fs.ErrNotExist):
			e.log.V(1).Info("no saved build graph", "path", snapshotPath)
		default:
			e.log.Error(err, "discarding saved build graph", "path", snapshotPath)
		}
	}

	g, report, err := graphdb.Reconcile(e.declared, loaded)
	if err != nil {
		return err
	}
	if loaded != nil {
		e.log.V(1).Info("reconciled build graph", "restored", report.Restored, "dropped", len(report.Dropped), "kindChanged", len(report.KindChanged), "discovered", report.DiscoveredKept)
	}
	e.graph = g
	e.initialized = true
	e.needsReconcile = false
	return nil
}

// Build brings targets and everything they depend on up to date. The
// returned Result is non-nil whenever execution started; a *BuildError
// reports failed nodes.
func (e *Engine) Build(ctx context.Context, targets ...string) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	if e.needsReconcile {
		g, _, err := graphdb.Reconcile(e.declared, e.graph)
		if err != nil {
			return nil, err
		}
		e.graph = g
		e.needsReconcile = false
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets given", ErrUnknownTarget)
	}
	roots := make([]graph.NodeID, 0, len(targets))
	for _, t := range targets {
		id, ok := e.graph.Resolve(t)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, t)
		}
		roots = append(roots, id)
	}
	order, err := e.graph.Closure(roots...)
	if err != nil {
		return nil, err
	}

	invocation := uuid.NewString()
	log := e.log.WithValues("invocation", invocation)
	start := time.Now()
	e.graph.ResetStates()
	e.stats.Reset()
	b := &builder{
		invocation: invocation,
		g:          e.graph,
		opts:       e.opts,
		log:        log,
		stats:      e.stats,
		policy:     e.opts.StampPolicy,
		exec:       e.opts.Executor,
	}
	log.V(1).Info("build started", "targets", targets, "nodes", len(order), "workers", e.opts.Workers)
	b.run(ctx, order)

	res := &Result{
		InvocationID: invocation,
		Targets:      append([]string(nil), targets...),
		Stats:        e.stats.Snapshot(),
		States:       map[string]graph.State{},
		Duration:     time.Since(start),
	}
	for _, n := range e.graph.Nodes() {
		if st := n.State(); st != graph.StateUnvisited {
			res.States[n.Name] = st
		}
	}
	log.Info("build finished", "seen", res.Stats.TotalSeen(), "built", res.Stats.TotalBuilt(), "failed", len(b.failed), "duration", res.Duration.String())

	var buildErr error
	if len(b.failed) > 0 {
		sort.Strings(b.blocked)
		buildErr = &BuildError{Failed: b.failed, Blocked: b.blocked}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, errors.Join(fmt.Errorf("build interrupted: %w", ctxErr), buildErr)
	}
	return res, buildErr
}

// SaveGraph persists the current graph, build records included.
func (e *Engine) SaveGraph(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	meta, err := graphdb.SaveWithMeta(ctx, path, e.graph)
	if err != nil {
		return err
	}
	e.log.V(1).Info("saved build graph", "path", path, "snapshot", meta.SnapshotID, "nodes", meta.Nodes)
	return nil
}

func (e *Engine) Stats() stats.Snapshot {
	return e.stats.Snapshot()
}

// Graph returns the working graph, or nil before Initialize.
func (e *Engine) Graph() *graph.Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph
}

// Declared returns the graph of declarations as given to Declare.
func (e *Engine) Declared() *graph.Graph {
	return e.declared
}
