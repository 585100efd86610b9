// File: internal/graphdb/reconcile.go
// Brief: Merge a freshly declared graph with a loaded snapshot.

package graphdb

import (
	"fmt"

	"github.com/example/fbuild/internal/graph"
)

// ReconcileReport summarises what Reconcile kept and dropped.
type ReconcileReport struct {
	Restored           int
	KindChanged        []string
	Dropped            []string
	DiscoveredKept     int
	DroppedDynamicDeps int
}

// Reconcile returns a new graph holding fresh's declarations. Nodes that
// also exist in loaded with the same kind inherit their build record and
// dynamic dependencies. Declared nodes missing from fresh are dropped;
// discovered nodes survive only while a surviving node still depends on
// them. Neither input is modified.
func Reconcile(fresh, loaded *graph.Graph) (*graph.Graph, ReconcileReport, error) {
	var report ReconcileReport
	out := graph.New()
	if fresh == nil {
		return nil, report, fmt.Errorf("reconcile: fresh graph is nil")
	}
	for _, n := range fresh.Nodes() {
		if _, err := out.Declare(n.Declaration()); err != nil {
			return nil, report, fmt.Errorf("reconcile: %w", err)
		}
	}
	if err := out.Validate(); err != nil {
		return nil, report, fmt.Errorf("reconcile: %w", err)
	}
	if loaded == nil {
		return out, report, nil
	}

	type carry struct {
		id      graph.NodeID
		dynamic []string
	}
	var carried []carry
	for _, n := range out.Nodes() {
		oldID, ok := loaded.Resolve(n.Name)
		if !ok {
			continue
		}
		old := loaded.Node(oldID)
		if old.Kind != n.Kind {
			report.KindChanged = append(report.KindChanged, n.Name)
			continue
		}
		n.Record = old.Record.Clone()
		report.Restored++
		var dyn []string
		for _, depID := range loaded.DynamicDeps(oldID) {
			dyn = append(dyn, loaded.Node(depID).Name)
		}
		if len(dyn) > 0 {
			carried = append(carried, carry{id: n.ID, dynamic: dyn})
		}
	}

	for _, c := range carried {
		for _, name := range c.dynamic {
			depID, ok := out.Resolve(name)
			if !ok {
				oldID, _ := loaded.Resolve(name)
				old := loaded.Node(oldID)
				if old.Origin != graph.OriginDiscovered {
					// A declared node that is gone; the dep list change
					// makes the owner dirty.
					report.DroppedDynamicDeps++
					continue
				}
				newID, err := out.DeclareDiscovered(name)
				if err != nil {
					return nil, report, fmt.Errorf("reconcile: %w", err)
				}
				out.Node(newID).Record = old.Record.Clone()
				report.DiscoveredKept++
				depID = newID
			}
			if err := out.AddDynamicDependency(c.id, depID); err != nil {
				report.DroppedDynamicDeps++
			}
		}
	}

	for _, n := range loaded.Nodes() {
		if _, ok := out.Resolve(n.Name); !ok {
			report.Dropped = append(report.Dropped, n.Name)
		}
	}
	return out, report, nil
}
