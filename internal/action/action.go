// File: internal/action/action.go
// Brief: Action requests and the executor interface.

// Package action runs the external tools (compilers, librarians) that turn a
// dirty node's inputs into its outputs and reports any dependencies the tool
// discovered while doing so.
package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/example/fbuild/internal/graph"
)

// Request describes one action. Command is a template expanded by
// ExpandCommand: %1 inputs, %2 outputs, %3 depfile.
type Request struct {
	Node    string
	Kind    graph.Kind
	Tool    string
	Command string
	Inputs  []string
	Outputs []string
	DepFile string
	Dir     string
}

type Result struct {
	// Discovered lists dependencies found while running, e.g. headers.
	Discovered []string
	Outputs    []string
}

type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

type ExecutorFunc func(ctx context.Context, req Request) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Result, error) {
	if f == nil {
		return Result{}, fmt.Errorf("action %s: no executor", req.Node)
	}
	return f(ctx, req)
}

// DefaultCommand is used when a node declares no command template.
func DefaultCommand(kind graph.Kind, depFile string) string {
	switch kind {
	case graph.KindObject:
		if depFile != "" {
			return "-c %1 -o %2 -MD -MF %3"
		}
		return "-c %1 -o %2"
	case graph.KindLibrary:
		return "rcs %2 %1"
	default:
		return "%1"
	}
}

// ExpandCommand splits the request's command template into arguments. A
// token that is exactly %1 or %2 expands to one argument per path; inside a
// larger token the paths are joined with spaces.
func ExpandCommand(req Request) ([]string, error) {
	tmpl := strings.TrimSpace(req.Command)
	if tmpl == "" {
		tmpl = DefaultCommand(req.Kind, req.DepFile)
	}
	parser := shellwords.NewParser()
	tokens, err := parser.Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse command for %s: %w", req.Node, err)
	}
	if parser.Position >= 0 {
		return nil, fmt.Errorf("parse command for %s: shell operator at offset %d is not supported", req.Node, parser.Position)
	}
	args := make([]string, 0, len(tokens)+len(req.Inputs))
	for _, tok := range tokens {
		switch tok {
		case "%1":
			args = append(args, req.Inputs...)
			continue
		case "%2":
			args = append(args, req.Outputs...)
			continue
		case "%3":
			if req.DepFile != "" {
				args = append(args, req.DepFile)
			}
			continue
		}
		tok = strings.ReplaceAll(tok, "%1", strings.Join(req.Inputs, " "))
		tok = strings.ReplaceAll(tok, "%2", strings.Join(req.Outputs, " "))
		tok = strings.ReplaceAll(tok, "%3", req.DepFile)
		args = append(args, tok)
	}
	return args, nil
}
