// File: internal/graph/node.go
// Brief: Node, build record and declaration types.

package graph

import (
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/opencontainers/go-digest"

	"github.com/example/fbuild/internal/stamp"
)

// NodeID indexes the graph's node arena.
type NodeID int32

const NoNode NodeID = -1

// DepStamp is one dependency's stamp as seen by the last successful build.
type DepStamp struct {
	Name  string
	Stamp stamp.Stamp
}

// BuildRecord is what a node remembers from its last successful build.
type BuildRecord struct {
	Stamp          stamp.Stamp
	SettingsDigest digest.Digest
	DepStamps      []DepStamp
	// File holds the last observation for File and Compiler nodes.
	File stamp.FileInfo
	// Listing holds the last DirectoryListing result.
	Listing []string
}

func (r BuildRecord) Clone() BuildRecord {
	out := r
	out.DepStamps = append([]DepStamp(nil), r.DepStamps...)
	out.Listing = append([]string(nil), r.Listing...)
	return out
}

// Declaration is the config layer's description of a node.
type Declaration struct {
	Name     string
	Kind     Kind
	Deps     []string
	Outputs  []string
	Settings Settings
	Origin   Origin
}

type Node struct {
	ID       NodeID
	Name     string
	Kind     Kind
	Settings Settings
	Outputs  []string
	Origin   Origin

	// Record is written only by the worker that won the node's build gate
	// and read by others once State is terminal.
	Record BuildRecord

	staticNames []string
	static      []NodeID
	dynamic     []NodeID
	state       atomic.Int32
}

func (n *Node) State() State { return State(n.state.Load()) }

func (n *Node) SetState(s State) { n.state.Store(int32(s)) }

// TryBegin moves the node from Unvisited to Building. Exactly one caller
// wins per build.
func (n *Node) TryBegin() bool {
	return n.state.CompareAndSwap(int32(StateUnvisited), int32(StateBuilding))
}

func (n *Node) StaticDepNames() []string {
	return append([]string(nil), n.staticNames...)
}

func (n *Node) Declaration() Declaration {
	return Declaration{
		Name:     n.Name,
		Kind:     n.Kind,
		Deps:     n.StaticDepNames(),
		Outputs:  append([]string(nil), n.Outputs...),
		Settings: n.Settings,
		Origin:   n.Origin,
	}
}

func (n *Node) SettingsDigest() digest.Digest {
	return SettingsDigest(n.Kind, n.Settings, n.Outputs)
}

// CanonicalName cleans a node name so that "./a/../b.cpp" and "b.cpp" refer
// to the same node on every platform.
func CanonicalName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(name))
}

func canonicalNames(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, CanonicalName(s))
	}
	return out
}
