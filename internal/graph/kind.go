// File: internal/graph/kind.go
// Brief: Node kinds, build states and origins.

package graph

import (
	"fmt"
	"strings"
)

// Kind is the closed set of node variants.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirectoryListing
	KindCompiler
	KindObject
	KindObjectList
	KindLibrary
)

// NumKinds sizes per-kind tables; index them with Kind.Index.
const NumKinds = 6

var kindNames = [NumKinds]string{
	"File",
	"DirectoryListing",
	"Compiler",
	"Object",
	"ObjectList",
	"Library",
}

func (k Kind) Valid() bool { return k >= KindFile && k <= KindLibrary }

func (k Kind) Index() int { return int(k) - 1 }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindNames[k.Index()]
}

func AllKinds() []Kind {
	out := make([]Kind, 0, NumKinds)
	for k := KindFile; k <= KindLibrary; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind accepts the String form case-insensitively, plus a few short
// aliases used in declaration files.
func ParseKind(s string) (Kind, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, k := range AllKinds() {
		if strings.ToLower(k.String()) == v {
			return k, nil
		}
	}
	switch v {
	case "dir", "dirlist", "directory":
		return KindDirectoryListing, nil
	case "obj":
		return KindObject, nil
	case "lib":
		return KindLibrary, nil
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// State is a node's progress within one build.
type State int32

const (
	StateUnvisited State = iota
	StateBuilding
	StateBuilt
	StateUpToDate
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnvisited:
		return "unvisited"
	case StateBuilding:
		return "building"
	case StateBuilt:
		return "built"
	case StateUpToDate:
		return "up-to-date"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

func (s State) Terminal() bool {
	return s == StateBuilt || s == StateUpToDate || s == StateFailed
}

// Succeeded reports whether the node's outputs are valid.
func (s State) Succeeded() bool {
	return s == StateBuilt || s == StateUpToDate
}

// Origin records how a node entered the graph.
type Origin uint8

const (
	OriginDeclared Origin = iota
	OriginDiscovered
)

func (o Origin) String() string {
	if o == OriginDiscovered {
		return "discovered"
	}
	return "declared"
}
