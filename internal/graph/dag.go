// File: internal/graph/dag.go
// Brief: Dependency resolution, cycle detection and build closures.

package graph

import (
	"container/heap"
	"fmt"
	"sort"
)

// Validate resolves every pending dependency name and rejects cycles over
// static and dynamic edges.
func (g *Graph) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateLocked()
}

func (g *Graph) validateLocked() error {
	if g.pending {
		for _, n := range g.nodes {
			if len(n.static) == len(n.staticNames) {
				continue
			}
			ids := make([]NodeID, 0, len(n.staticNames))
			for _, dep := range n.staticNames {
				id, ok := g.byName[dep]
				if !ok {
					return &UnresolvedError{Node: n.Name, Dep: dep}
				}
				ids = append(ids, id)
			}
			n.static = ids
		}
		g.pending = false
	}

	all := make([]NodeID, len(g.nodes))
	for i := range g.nodes {
		all[i] = NodeID(i)
	}
	if _, err := g.orderLocked(all); err != nil {
		return err
	}
	return nil
}

// Closure returns roots plus everything they transitively depend on,
// ordered so that every node follows its dependencies. Ties are broken by
// declaration order.
func (g *Graph) Closure(roots ...NodeID) ([]NodeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.validateLocked(); err != nil {
		return nil, err
	}
	seen := map[NodeID]bool{}
	var members []NodeID
	stack := make([]NodeID, 0, len(roots))
	for _, r := range roots {
		if g.nodeLocked(r) == nil {
			return nil, fmt.Errorf("closure: unknown node %d", r)
		}
		stack = append(stack, r)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
		stack = append(stack, g.depsLocked(id)...)
	}
	return g.orderLocked(members)
}

// orderLocked is Kahn's algorithm over the members' induced subgraph with an
// ID-ordered ready set.
func (g *Graph) orderLocked(members []NodeID) ([]NodeID, error) {
	in := make(map[NodeID]bool, len(members))
	for _, id := range members {
		in[id] = true
	}
	inDegree := make(map[NodeID]int, len(members))
	dependents := map[NodeID][]NodeID{}
	for _, id := range members {
		inDegree[id] = 0
		for _, dep := range g.depsLocked(id) {
			if !in[dep] {
				continue
			}
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := &idHeap{}
	for _, id := range members {
		if inDegree[id] == 0 {
			heap.Push(ready, id)
		}
	}
	order := make([]NodeID, 0, len(members))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(NodeID)
		order = append(order, id)
		for _, d := range dependents[id] {
			inDegree[d]--
			if inDegree[d] == 0 {
				heap.Push(ready, d)
			}
		}
	}
	if len(order) != len(members) {
		var stuck []NodeID
		for _, id := range members {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Slice(stuck, func(i, j int) bool { return stuck[i] < stuck[j] })
		return nil, &CycleError{Path: g.findCyclePathLocked(stuck)}
	}
	return order, nil
}

// findCyclePathLocked walks dependency edges among the stuck nodes until one
// repeats. Every stuck node has a stuck dependency, so the walk must loop.
func (g *Graph) findCyclePathLocked(stuck []NodeID) []string {
	if len(stuck) == 0 {
		return nil
	}
	stuckSet := map[NodeID]bool{}
	for _, id := range stuck {
		stuckSet[id] = true
	}
	pos := map[NodeID]int{}
	var walk []NodeID
	cur := stuck[0]
	for {
		if i, ok := pos[cur]; ok {
			names := make([]string, 0, len(walk)-i)
			for _, id := range walk[i:] {
				names = append(names, g.nodes[id].Name)
			}
			return names
		}
		pos[cur] = len(walk)
		walk = append(walk, cur)
		next := NoNode
		for _, dep := range g.depsLocked(cur) {
			if stuckSet[dep] {
				next = dep
				break
			}
		}
		if next == NoNode {
			// Not reachable when stuck came from Kahn; report what we have.
			names := make([]string, 0, len(walk))
			for _, id := range walk {
				names = append(names, g.nodes[id].Name)
			}
			return names
		}
		cur = next
	}
}

type idHeap []NodeID

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(NodeID)) }
func (h *idHeap) Pop() any {
	old := *h
	v := old[len(old)-1]
	*h = old[:len(old)-1]
	return v
}
