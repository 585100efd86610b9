package build

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/fbuild/internal/graph"
)

var (
	ErrActionFailed   = errors.New("action failed")
	ErrUnknownTarget  = errors.New("unknown build target")
	ErrNotInitialized = errors.New("engine not initialized")
)

// NodeError is the failure of a single node.
type NodeError struct {
	Node string
	Kind graph.Kind
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Node, e.Kind, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// BuildError aggregates the nodes that failed in one build. Blocked lists
// nodes that were not attempted because a dependency failed.
type BuildError struct {
	Failed  []*NodeError
	Blocked []string
}

func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "build failed: %d node(s) failed", len(e.Failed))
	if len(e.Blocked) > 0 {
		fmt.Fprintf(&b, ", %d blocked", len(e.Blocked))
	}
	for i, f := range e.Failed {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Failed)-i)
			break
		}
		b.WriteString("; ")
		b.WriteString(f.Error())
	}
	return b.String()
}

func (e *BuildError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		out = append(out, f)
	}
	return out
}
