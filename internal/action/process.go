// File: internal/action/process.go
// Brief: Executor that spawns the tool as a child process.

package action

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"
)

// ProcessExecutor runs Request.Tool with the expanded command template.
// Tool output is buffered per action and written to Output in one piece so
// concurrent actions do not interleave.
type ProcessExecutor struct {
	Dir    string
	Env    []string
	Output io.Writer
	Log    logr.Logger

	mu sync.Mutex
}

// ToolError is returned when the tool exits unsuccessfully.
type ToolError struct {
	Node   string
	Tool   string
	Args   []string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Node, e.Tool, strings.Join(e.Args, " "), e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

func (p *ProcessExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Tool) == "" {
		return Result{}, fmt.Errorf("%s: no tool to run", req.Node)
	}
	args, err := ExpandCommand(req)
	if err != nil {
		return Result{}, err
	}
	dir := req.Dir
	if dir == "" {
		dir = p.Dir
	}
	for _, out := range req.Outputs {
		if err := os.MkdirAll(filepath.Dir(resolve(dir, out)), 0o755); err != nil {
			return Result{}, fmt.Errorf("%s: create output dir: %w", req.Node, err)
		}
	}

	p.Log.V(1).Info("running action", "node", req.Node, "kind", req.Kind.String(), "tool", req.Tool, "args", args)
	cmd := exec.CommandContext(ctx, req.Tool, args...)
	cmd.Dir = dir
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	out, err := cmd.CombinedOutput()
	p.emit(out)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &ToolError{Node: req.Node, Tool: req.Tool, Args: args, Output: string(out), Err: err}
	}

	res := Result{Outputs: append([]string(nil), req.Outputs...)}
	if req.DepFile != "" {
		skip := append(append([]string(nil), req.Inputs...), req.Outputs...)
		deps, err := ReadDepFile(resolve(dir, req.DepFile), skip)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", req.Node, err)
		}
		res.Discovered = deps
	}
	return res, nil
}

func (p *ProcessExecutor) emit(out []byte) {
	if p.Output == nil || len(bytes.TrimSpace(out)) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.Output.Write(out)
}

func resolve(dir, path string) string {
	if dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
