// File: internal/stats/stats.go
// Brief: Per-kind seen/built counters for one build.

// Package stats counts, per node kind, how many nodes a build visited
// ("seen") and how many it actually had to build ("built").
package stats

import (
	"sync/atomic"

	"github.com/example/fbuild/internal/graph"
)

type Collector struct {
	seen  [graph.NumKinds]atomic.Int64
	built [graph.NumKinds]atomic.Int64
}

func New() *Collector { return &Collector{} }

func (c *Collector) Reset() {
	for i := range c.seen {
		c.seen[i].Store(0)
		c.built[i].Store(0)
	}
}

func (c *Collector) RecordSeen(k graph.Kind) {
	if k.Valid() {
		c.seen[k.Index()].Add(1)
	}
}

func (c *Collector) RecordBuilt(k graph.Kind) {
	if k.Valid() {
		c.built[k.Index()].Add(1)
	}
}

func (c *Collector) Seen(k graph.Kind) int {
	if !k.Valid() {
		return 0
	}
	return int(c.seen[k.Index()].Load())
}

func (c *Collector) Built(k graph.Kind) int {
	if !k.Valid() {
		return 0
	}
	return int(c.built[k.Index()].Load())
}

func (c *Collector) TotalSeen() int {
	total := 0
	for _, k := range graph.AllKinds() {
		total += c.Seen(k)
	}
	return total
}

func (c *Collector) TotalBuilt() int {
	total := 0
	for _, k := range graph.AllKinds() {
		total += c.Built(k)
	}
	return total
}

// KindCount is one row of a Snapshot.
type KindCount struct {
	Kind  graph.Kind
	Seen  int
	Built int
}

// Snapshot is a point-in-time copy of a Collector, one row per kind in
// kind order.
type Snapshot struct {
	Kinds []KindCount
}

func (c *Collector) Snapshot() Snapshot {
	out := Snapshot{Kinds: make([]KindCount, 0, graph.NumKinds)}
	for _, k := range graph.AllKinds() {
		out.Kinds = append(out.Kinds, KindCount{Kind: k, Seen: c.Seen(k), Built: c.Built(k)})
	}
	return out
}

func (s Snapshot) Seen(k graph.Kind) int {
	for _, row := range s.Kinds {
		if row.Kind == k {
			return row.Seen
		}
	}
	return 0
}

func (s Snapshot) Built(k graph.Kind) int {
	for _, row := range s.Kinds {
		if row.Kind == k {
			return row.Built
		}
	}
	return 0
}

func (s Snapshot) TotalSeen() int {
	total := 0
	for _, row := range s.Kinds {
		total += row.Seen
	}
	return total
}

func (s Snapshot) TotalBuilt() int {
	total := 0
	for _, row := range s.Kinds {
		total += row.Built
	}
	return total
}
