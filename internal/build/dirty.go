// File: internal/build/dirty.go
// Brief: Staleness decisions and node stamps.

package build

import (
	"fmt"
	"os"

	"github.com/example/fbuild/internal/graph"
	"github.com/example/fbuild/internal/stamp"
)

// Decision explains whether a node must do its work again.
type Decision struct {
	Dirty  bool
	Reason string
}

func clean() Decision { return Decision{} }

func dirty(format string, args ...any) Decision {
	return Decision{Dirty: true, Reason: fmt.Sprintf(format, args...)}
}

// depStamp is the stamp a dependent records for dep. Only terminal,
// successful nodes have a trustworthy record during a build.
func depStamp(dep *graph.Node) stamp.Stamp {
	if !dep.State().Succeeded() {
		return stamp.None
	}
	return dep.Record.Stamp
}

// isDirty compares n's last build record with the current state of its
// dependencies and outputs. deps must be n's current dependency list.
func (b *builder) isDirty(n *graph.Node, deps []graph.NodeID) Decision {
	rec := n.Record
	if rec.Stamp.IsNone() {
		return dirty("never built")
	}
	if rec.SettingsDigest != n.SettingsDigest() {
		return dirty("settings changed")
	}
	if len(rec.DepStamps) != len(deps) {
		return dirty("dependency list changed")
	}
	for i, id := range deps {
		dep := b.g.Node(id)
		if rec.DepStamps[i].Name != dep.Name {
			return dirty("dependency list changed")
		}
		if cur := depStamp(dep); cur != rec.DepStamps[i].Stamp {
			return dirty("dependency %s changed", dep.Name)
		}
	}
	for _, out := range producedOutputs(n) {
		if _, err := os.Stat(b.path(out)); err != nil {
			return dirty("output %s missing", out)
		}
	}
	if n.Kind == graph.KindObjectList {
		for _, id := range deps {
			dep := b.g.Node(id)
			if dep.Kind == graph.KindObject && dep.State() == graph.StateBuilt {
				return dirty("member %s rebuilt", dep.Name)
			}
		}
	}
	return clean()
}

// producedOutputs lists the files n's action must leave behind.
func producedOutputs(n *graph.Node) []string {
	switch n.Kind {
	case graph.KindObject, graph.KindLibrary:
		return outputsOf(n)
	default:
		return n.Outputs
	}
}

// captureDeps snapshots the dependency stamps a successful build is based on.
func (b *builder) captureDeps(deps []graph.NodeID) []graph.DepStamp {
	out := make([]graph.DepStamp, 0, len(deps))
	for _, id := range deps {
		dep := b.g.Node(id)
		out = append(out, graph.DepStamp{Name: dep.Name, Stamp: depStamp(dep)})
	}
	return out
}

// computeStamp derives the stamp of a node whose work is combining its
// dependencies (Object, ObjectList, Library).
func computeStamp(n *graph.Node, depStamps []graph.DepStamp) stamp.Stamp {
	h := stamp.NewHasher("fbuild.node.v1")
	h.WriteString(n.Kind.String())
	h.WriteString(n.SettingsDigest().String())
	h.WriteUint64(uint64(len(depStamps)))
	for _, ds := range depStamps {
		h.WriteString(ds.Name)
		h.WriteStamp(ds.Stamp)
	}
	return h.Sum()
}
