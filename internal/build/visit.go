// File: internal/build/visit.go
// Brief: Per-kind node work.

package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/example/fbuild/internal/action"
	"github.com/example/fbuild/internal/graph"
	"github.com/example/fbuild/internal/stamp"
)

// visit does n's work for this build and returns its terminal state. The
// caller owns n (it won the node's TryBegin).
func (b *builder) visit(ctx context.Context, n *graph.Node) (graph.State, string, error) {
	switch n.Kind {
	case graph.KindFile:
		return b.visitFile(n)
	case graph.KindDirectoryListing:
		return b.visitListing(n)
	case graph.KindCompiler:
		return b.visitCompiler(n)
	case graph.KindObject:
		return b.visitObject(ctx, n)
	case graph.KindObjectList:
		return b.visitObjectList(n)
	case graph.KindLibrary:
		return b.visitLibrary(ctx, n)
	default:
		return graph.StateFailed, "", fmt.Errorf("unsupported node kind %s", n.Kind)
	}
}

func (b *builder) path(name string) string {
	p := filepath.FromSlash(name)
	if b.opts.Dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.opts.Dir, p)
}

// observeFile refreshes a File node's record. A missing file is not an
// error: its stamp becomes None and dependents see the change.
func (b *builder) observeFile(n *graph.Node) error {
	info, st, err := b.policy.Observe(b.path(n.Name), n.Record.File, n.Record.Stamp)
	if err != nil {
		return err
	}
	n.Record = graph.BuildRecord{
		Stamp:          st,
		SettingsDigest: n.SettingsDigest(),
		File:           info,
	}
	return nil
}

func (b *builder) visitFile(n *graph.Node) (graph.State, string, error) {
	prev := n.Record.Stamp
	if err := b.observeFile(n); err != nil {
		return graph.StateFailed, "", err
	}
	switch {
	case !n.Record.File.Exists:
		return graph.StateBuilt, "missing", nil
	case prev != n.Record.Stamp:
		return graph.StateBuilt, "changed", nil
	default:
		return graph.StateBuilt, "observed", nil
	}
}

func (b *builder) visitListing(n *graph.Node) (graph.State, string, error) {
	s, _ := n.Settings.(graph.DirectoryListingSettings)
	dir := s.Path
	if dir == "" {
		dir = n.Name
	}
	files, err := stamp.List(b.path(dir), s.Patterns, s.Excludes, s.Recursive)
	if err != nil {
		return graph.StateFailed, "", err
	}
	st := stamp.ListingStamp(files)
	reason := "listed"
	if st != n.Record.Stamp {
		reason = "listing changed"
	}
	n.Record = graph.BuildRecord{
		Stamp:          st,
		SettingsDigest: n.SettingsDigest(),
		Listing:        files,
	}
	return graph.StateBuilt, reason, nil
}

// compilerPath resolves a Compiler node's executable. Bare names are looked
// up on PATH.
func (b *builder) compilerPath(n *graph.Node) string {
	s, _ := n.Settings.(graph.CompilerSettings)
	exe := s.Executable
	if exe == "" {
		exe = n.Name
	}
	if !strings.ContainsAny(exe, `/\`) {
		if _, err := os.Stat(b.path(exe)); err != nil {
			if found, err := exec.LookPath(exe); err == nil {
				return found
			}
		}
	}
	return b.path(exe)
}

func (b *builder) visitCompiler(n *graph.Node) (graph.State, string, error) {
	exe := b.compilerPath(n)
	info, st, err := b.policy.Observe(exe, n.Record.File, n.Record.Stamp)
	if err != nil {
		return graph.StateFailed, "", err
	}
	if !info.Exists {
		return graph.StateFailed, "", fmt.Errorf("compiler executable %s not found", exe)
	}
	digest := n.SettingsDigest()
	decision := clean()
	switch {
	case n.Record.Stamp.IsNone():
		decision = dirty("never built")
	case n.Record.SettingsDigest != digest:
		decision = dirty("settings changed")
	case n.Record.Stamp != st:
		decision = dirty("executable changed")
	}
	n.Record = graph.BuildRecord{Stamp: st, SettingsDigest: digest, File: info}
	if !decision.Dirty {
		return graph.StateUpToDate, "executable unchanged", nil
	}
	return graph.StateBuilt, decision.Reason, nil
}

func (b *builder) visitObjectList(n *graph.Node) (graph.State, string, error) {
	deps := b.g.Deps(n.ID)
	decision := b.isDirty(n, deps)
	if !decision.Dirty {
		return graph.StateUpToDate, "up-to-date", nil
	}
	b.commit(n, deps)
	return graph.StateBuilt, decision.Reason, nil
}

func (b *builder) visitObject(ctx context.Context, n *graph.Node) (graph.State, string, error) {
	deps := b.g.Deps(n.ID)
	decision := b.isDirty(n, deps)
	if !decision.Dirty {
		return graph.StateUpToDate, "up-to-date", nil
	}

	var (
		compiler *graph.Node
		inputs   []string
	)
	for _, id := range b.g.StaticDeps(n.ID) {
		dep := b.g.Node(id)
		switch dep.Kind {
		case graph.KindCompiler:
			if compiler == nil {
				compiler = dep
			}
		case graph.KindFile:
			inputs = append(inputs, dep.Name)
		}
	}
	if compiler == nil {
		return graph.StateFailed, "", fmt.Errorf("object has no Compiler dependency")
	}
	s, _ := n.Settings.(graph.ObjectSettings)
	req := action.Request{
		Node:    n.Name,
		Kind:    n.Kind,
		Tool:    b.compilerPath(compiler),
		Command: s.Command,
		Inputs:  inputs,
		Outputs: outputsOf(n),
		DepFile: s.DepFile,
		Dir:     b.opts.Dir,
	}
	res, err := b.runAction(ctx, n, req)
	if err != nil {
		return graph.StateFailed, "", err
	}

	var discovered []graph.NodeID
	for _, name := range res.Discovered {
		name = graph.CanonicalName(name)
		if name == "" || name == n.Name || containsName(inputs, name) {
			continue
		}
		id, err := b.g.DeclareDiscovered(name)
		if err != nil {
			return graph.StateFailed, "", fmt.Errorf("%w: discovered dependency %s: %w", ErrActionFailed, name, err)
		}
		discovered = append(discovered, id)
	}
	if err := b.g.SetDynamicDependencies(n.ID, discovered); err != nil {
		return graph.StateFailed, "", fmt.Errorf("%w: discovered dependencies: %w", ErrActionFailed, err)
	}
	for _, id := range discovered {
		if err := b.settleDiscovered(ctx, id); err != nil {
			return graph.StateFailed, "", err
		}
	}
	b.commit(n, b.g.Deps(n.ID))
	return graph.StateBuilt, decision.Reason, nil
}

func (b *builder) visitLibrary(ctx context.Context, n *graph.Node) (graph.State, string, error) {
	deps := b.g.Deps(n.ID)
	decision := b.isDirty(n, deps)
	if !decision.Dirty {
		return graph.StateUpToDate, "up-to-date", nil
	}

	s, _ := n.Settings.(graph.LibrarySettings)
	tool := s.Librarian
	var inputs []string
	for _, id := range b.g.StaticDeps(n.ID) {
		dep := b.g.Node(id)
		switch dep.Kind {
		case graph.KindCompiler:
			if tool == "" {
				tool = b.compilerPath(dep)
			}
		case graph.KindObject, graph.KindLibrary:
			inputs = append(inputs, outputsOf(dep)...)
		case graph.KindObjectList:
			inputs = append(inputs, b.objectListMembers(dep)...)
		}
	}
	if tool == "" {
		return graph.StateFailed, "", fmt.Errorf("library has neither a librarian nor a Compiler dependency")
	}
	req := action.Request{
		Node:    n.Name,
		Kind:    n.Kind,
		Tool:    tool,
		Command: s.Command,
		Inputs:  inputs,
		Outputs: outputsOf(n),
		Dir:     b.opts.Dir,
	}
	if _, err := b.runAction(ctx, n, req); err != nil {
		return graph.StateFailed, "", err
	}
	b.commit(n, deps)
	return graph.StateBuilt, decision.Reason, nil
}

// objectListMembers flattens nested object lists into object outputs.
func (b *builder) objectListMembers(list *graph.Node) []string {
	var out []string
	seen := map[graph.NodeID]bool{}
	var walk func(*graph.Node)
	walk = func(l *graph.Node) {
		if seen[l.ID] {
			return
		}
		seen[l.ID] = true
		for _, id := range b.g.StaticDeps(l.ID) {
			dep := b.g.Node(id)
			switch dep.Kind {
			case graph.KindObject:
				out = append(out, outputsOf(dep)...)
			case graph.KindObjectList:
				walk(dep)
			}
		}
	}
	walk(list)
	return out
}

func (b *builder) runAction(ctx context.Context, n *graph.Node, req action.Request) (action.Result, error) {
	if b.exec == nil {
		return action.Result{}, fmt.Errorf("%w: no executor configured", ErrActionFailed)
	}
	res, err := b.exec.Execute(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return action.Result{}, err
		}
		return action.Result{}, fmt.Errorf("%w: %w", ErrActionFailed, err)
	}
	for _, out := range req.Outputs {
		if _, err := os.Stat(b.path(out)); err != nil {
			return action.Result{}, fmt.Errorf("%w: output %s was not produced", ErrActionFailed, out)
		}
	}
	return res, nil
}

// settleDiscovered gives a discovered dependency a trustworthy record before
// the discovering node commits. Files are observed: inline when outside the
// closure, otherwise through the node's own gate. Other kinds are only
// accepted once this build has finished them.
func (b *builder) settleDiscovered(ctx context.Context, id graph.NodeID) error {
	n := b.g.Node(id)
	if n.Kind != graph.KindFile {
		if n.State().Succeeded() {
			return nil
		}
		if b.inClosure[id] {
			return fmt.Errorf("%w: discovered dependency %s (%s) is not built yet; declare it as a dependency", ErrActionFailed, n.Name, n.Kind)
		}
		return fmt.Errorf("%w: discovered dependency %s (%s) is not part of this build; declare it as a dependency", ErrActionFailed, n.Name, n.Kind)
	}
	if !b.inClosure[id] {
		return b.observeInline(n)
	}
	if n.TryBegin() {
		b.work(ctx, n)
	} else {
		b.waitSettled(n)
	}
	if n.State() == graph.StateFailed {
		return fmt.Errorf("%w: discovered dependency %s could not be observed", ErrActionFailed, n.Name)
	}
	return nil
}

// observeInline stamps a discovered File that is not part of this build's
// closure, at most once per build. It counts as seen, never built.
func (b *builder) observeInline(n *graph.Node) error {
	b.inlineMu.Lock()
	defer b.inlineMu.Unlock()
	if !n.TryBegin() {
		return nil
	}
	b.stats.RecordSeen(n.Kind)
	if err := b.observeFile(n); err != nil {
		n.SetState(graph.StateFailed)
		b.emit(NodeEvent{Node: n.Name, Kind: n.Kind, State: graph.StateFailed, Err: err, Inline: true})
		return fmt.Errorf("observe discovered dependency %s: %w", n.Name, err)
	}
	n.SetState(graph.StateUpToDate)
	b.emit(NodeEvent{Node: n.Name, Kind: n.Kind, State: graph.StateUpToDate, Reason: "discovered", Inline: true})
	return nil
}

func (b *builder) commit(n *graph.Node, deps []graph.NodeID) {
	depStamps := b.captureDeps(deps)
	n.Record = graph.BuildRecord{
		Stamp:          computeStamp(n, depStamps),
		SettingsDigest: n.SettingsDigest(),
		DepStamps:      depStamps,
	}
}

func outputsOf(n *graph.Node) []string {
	if len(n.Outputs) > 0 {
		return append([]string(nil), n.Outputs...)
	}
	return []string{n.Name}
}

func containsName(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}
