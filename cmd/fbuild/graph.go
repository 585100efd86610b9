// File: cmd/fbuild/graph.go
// Brief: CLI command wiring and implementation for 'graph'.

package main

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/example/fbuild/internal/config"
	"github.com/example/fbuild/internal/decl"
	"github.com/example/fbuild/internal/graph"
)

func newGraphCommand(opts *config.Options) *cobra.Command {
	format := "dot"
	cmd := &cobra.Command{
		Use:   "graph [TARGET...]",
		Short: "Print the dependency graph as Graphviz DOT or Mermaid",
		Long: "graph prints the declared nodes reachable from the targets (all nodes when none are given). " +
			"Dependencies discovered by earlier builds are included when a saved graph exists.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			cfg, err := decl.Load(opts.ConfigFile)
			if err != nil {
				return err
			}
			engine, err := newEngine(opts, cfg, logr.Discard(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := engine.Initialize(cmd.Context(), opts.SnapshotPath()); err != nil {
				return err
			}
			g := engine.Graph()
			ids, err := selectNodes(g, args)
			if err != nil {
				return err
			}
			switch strings.ToLower(format) {
			case "dot":
				return g.PrintDOT(cmd.OutOrStdout(), ids)
			case "mermaid":
				return g.PrintMermaid(cmd.OutOrStdout(), ids)
			default:
				return fmt.Errorf("unknown --format %q (expected dot or mermaid)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", format, "Output format: dot or mermaid")
	return cmd
}

func selectNodes(g *graph.Graph, targets []string) ([]graph.NodeID, error) {
	if len(targets) == 0 {
		ids := make([]graph.NodeID, 0, g.Len())
		for _, n := range g.Nodes() {
			ids = append(ids, n.ID)
		}
		return ids, nil
	}
	roots := make([]graph.NodeID, 0, len(targets))
	for _, t := range targets {
		id, ok := g.Resolve(t)
		if !ok {
			return nil, fmt.Errorf("unknown target %q", t)
		}
		roots = append(roots, id)
	}
	return g.Closure(roots...)
}
