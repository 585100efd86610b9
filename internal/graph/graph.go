// File: internal/graph/graph.go
// Brief: Node arena, declaration and dependency edges.

// Package graph holds fbuild's node store: an arena of nodes addressed by
// NodeID, their static (declared) and dynamic (discovered) dependency edges,
// and the structural checks that keep the graph acyclic.
package graph

import (
	"fmt"
	"slices"
	"sync"
)

type Graph struct {
	mu      sync.RWMutex
	nodes   []*Node
	byName  map[string]NodeID
	pending bool
}

func New() *Graph {
	return &Graph{byName: map[string]NodeID{}}
}

// Declare adds a node. Redeclaring an existing name with an identical
// declaration returns the existing ID; anything else fails with a
// *ConflictError. A declared File replaces a discovered one in place.
// Dependencies are referenced by name and resolved by Validate.
func (g *Graph) Declare(d Declaration) (NodeID, error) {
	name := CanonicalName(d.Name)
	if name == "" {
		return NoNode, fmt.Errorf("declare: empty node name")
	}
	settings, err := normalizeSettings(d.Kind, d.Settings)
	if err != nil {
		return NoNode, fmt.Errorf("declare %s: %w", name, err)
	}
	deps := canonicalNames(d.Deps)
	for _, dep := range deps {
		if dep == "" {
			return NoNode, fmt.Errorf("declare %s: empty dependency name", name)
		}
	}
	outputs := canonicalNames(d.Outputs)

	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.byName[name]; ok {
		n := g.nodes[id]
		if d.Origin == OriginDiscovered {
			return id, nil
		}
		if n.Kind != d.Kind {
			return NoNode, &ConflictError{Name: name, Existing: n.Kind, Declared: d.Kind}
		}
		if n.Origin == OriginDiscovered {
			n.Origin = OriginDeclared
			n.Settings = settings
			n.Outputs = outputs
			n.staticNames = deps
			n.static = nil
			g.pending = true
			return id, nil
		}
		switch {
		case !slices.Equal(n.staticNames, deps):
			return NoNode, &ConflictError{Name: name, Existing: n.Kind, Declared: d.Kind, Reason: "dependencies"}
		case !slices.Equal(n.Outputs, outputs):
			return NoNode, &ConflictError{Name: name, Existing: n.Kind, Declared: d.Kind, Reason: "outputs"}
		case SettingsDigest(n.Kind, n.Settings, nil) != SettingsDigest(d.Kind, settings, nil):
			return NoNode, &ConflictError{Name: name, Existing: n.Kind, Declared: d.Kind, Reason: "settings"}
		}
		return id, nil
	}

	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, &Node{
		ID:          id,
		Name:        name,
		Kind:        d.Kind,
		Settings:    settings,
		Outputs:     outputs,
		Origin:      d.Origin,
		staticNames: deps,
	})
	g.byName[name] = id
	if len(deps) > 0 {
		g.pending = true
	}
	return id, nil
}

// DeclareDiscovered returns the node called name, creating a discovered File
// node when none exists.
func (g *Graph) DeclareDiscovered(name string) (NodeID, error) {
	return g.Declare(Declaration{Name: name, Kind: KindFile, Origin: OriginDiscovered})
}

func (g *Graph) Resolve(name string) (NodeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byName[CanonicalName(name)]
	return id, ok
}

// Node returns nil for an unknown ID.
func (g *Graph) Node(id NodeID) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Nodes returns every node in declaration order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Node(nil), g.nodes...)
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// ResetStates marks every node Unvisited ahead of a build.
func (g *Graph) ResetStates() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		n.SetState(StateUnvisited)
	}
}

func (g *Graph) StaticDeps(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n := g.nodeLocked(id); n != nil {
		return append([]NodeID(nil), n.static...)
	}
	return nil
}

func (g *Graph) DynamicDeps(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n := g.nodeLocked(id); n != nil {
		return append([]NodeID(nil), n.dynamic...)
	}
	return nil
}

// Deps returns static dependencies followed by dynamic ones, without
// duplicates.
func (g *Graph) Deps(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.depsLocked(id)
}

// AddDynamicDependency appends dep to node's dynamic dependencies. The edge
// is rejected with a *CycleError when node is reachable from dep.
func (g *Graph) AddDynamicDependency(node, dep NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodeLocked(node)
	if n == nil || g.nodeLocked(dep) == nil {
		return fmt.Errorf("add dynamic dependency: unknown node %d -> %d", node, dep)
	}
	if slices.Contains(n.dynamic, dep) || slices.Contains(n.static, dep) {
		return nil
	}
	if err := g.checkEdgeLocked(node, dep); err != nil {
		return err
	}
	n.dynamic = append(n.dynamic, dep)
	return nil
}

// SetDynamicDependencies replaces node's dynamic dependencies. Either every
// edge is accepted or none is.
func (g *Graph) SetDynamicDependencies(node NodeID, deps []NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodeLocked(node)
	if n == nil {
		return fmt.Errorf("set dynamic dependencies: unknown node %d", node)
	}
	prev := n.dynamic
	n.dynamic = nil
	var next []NodeID
	for _, dep := range deps {
		if g.nodeLocked(dep) == nil {
			n.dynamic = prev
			return fmt.Errorf("set dynamic dependencies of %s: unknown node %d", n.Name, dep)
		}
		if slices.Contains(next, dep) || slices.Contains(n.static, dep) {
			continue
		}
		if err := g.checkEdgeLocked(node, dep); err != nil {
			n.dynamic = prev
			return err
		}
		next = append(next, dep)
	}
	n.dynamic = next
	return nil
}

func (g *Graph) nodeLocked(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

func (g *Graph) depsLocked(id NodeID) []NodeID {
	n := g.nodeLocked(id)
	if n == nil {
		return nil
	}
	out := make([]NodeID, 0, len(n.static)+len(n.dynamic))
	for _, d := range n.static {
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	for _, d := range n.dynamic {
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}

// checkEdgeLocked rejects node -> dep when dep already (transitively)
// depends on node.
func (g *Graph) checkEdgeLocked(node, dep NodeID) error {
	if node == dep {
		return &CycleError{Path: []string{g.nodes[node].Name}}
	}
	parent := map[NodeID]NodeID{dep: NoNode}
	queue := []NodeID{dep}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.depsLocked(cur) {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == node {
				// node -> dep -> ... -> node
				var path []NodeID
				for at := node; at != NoNode; at = parent[at] {
					path = append(path, at)
				}
				slices.Reverse(path)
				names := []string{g.nodes[node].Name}
				for _, id := range path[:len(path)-1] {
					names = append(names, g.nodes[id].Name)
				}
				return &CycleError{Path: names}
			}
			queue = append(queue, next)
		}
	}
	return nil
}
