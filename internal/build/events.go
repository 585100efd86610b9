// File: internal/build/events.go
// Brief: Node state transition events for observers.

package build

import (
	"time"

	"github.com/example/fbuild/internal/graph"
)

// NodeEvent reports one node state transition.
type NodeEvent struct {
	InvocationID string
	Node         string
	Kind         graph.Kind
	State        graph.State
	// Reason explains why the node was built, skipped or blocked.
	Reason   string
	Err      error
	Inline   bool
	Time     time.Time
	Duration time.Duration
}

// Observer receives events one at a time, in the order transitions happen.
type Observer interface {
	ObserveNodeEvent(NodeEvent)
}

type ObserverFunc func(NodeEvent)

func (f ObserverFunc) ObserveNodeEvent(ev NodeEvent) {
	if f == nil {
		return
	}
	f(ev)
}
