package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateName        = errors.New("duplicate node name")
	ErrCycleDetected        = errors.New("dependency cycle detected")
	ErrUnresolvedDependency = errors.New("unresolved dependency")
)

// ConflictError reports an incompatible redeclaration of an existing name.
type ConflictError struct {
	Name     string
	Existing Kind
	Declared Kind
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.Existing != e.Declared {
		return fmt.Sprintf("%v: %s already declared as %s, redeclared as %s", ErrDuplicateName, e.Name, e.Existing, e.Declared)
	}
	return fmt.Sprintf("%v: %s (%s) redeclared with different %s", ErrDuplicateName, e.Name, e.Existing, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrDuplicateName }

type UnresolvedError struct {
	Node string
	Dep  string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("%v: %s depends on undeclared %q", ErrUnresolvedDependency, e.Node, e.Dep)
}

func (e *UnresolvedError) Unwrap() error { return ErrUnresolvedDependency }

// CycleError carries one cycle as a list of node names; the last element
// depends on the first.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return ErrCycleDetected.Error()
	}
	parts := append(append([]string(nil), e.Path...), e.Path[0])
	return fmt.Sprintf("%v: %s", ErrCycleDetected, strings.Join(parts, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }
