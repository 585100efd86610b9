// File: cmd/fbuild/build.go
// Brief: The default build command.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/example/fbuild/internal/action"
	"github.com/example/fbuild/internal/build"
	"github.com/example/fbuild/internal/config"
	"github.com/example/fbuild/internal/decl"
	"github.com/example/fbuild/internal/logging"
	"github.com/example/fbuild/internal/ui"
	"github.com/example/fbuild/internal/version"
)

func runBuild(cmd *cobra.Command, args []string, opts *config.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	log, err := logging.NewWithWriter(opts.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	log.V(1).Info("starting", "version", version.Get().String())

	cfg, err := decl.Load(opts.ConfigFile)
	if err != nil {
		return err
	}
	targets := args
	if len(targets) == 0 {
		targets = cfg.Targets
	}
	if len(targets) == 0 {
		return fmt.Errorf("%s declares no libraries; name a target to build", opts.ConfigFile)
	}

	out := cmd.OutOrStdout()
	useColor := ui.UseColor(opts.ColorMode, out)
	width, _ := ui.TerminalWidth(out)
	console := ui.NewBuildConsole(out, ui.BuildConsoleOptions{Color: useColor, Width: width})
	engine, err := newEngine(opts, cfg, log, cmd.ErrOrStderr(), console)
	if err != nil {
		return err
	}
	return buildAndSave(cmd.Context(), engine, opts, targets, out, useColor, log)
}

func newEngine(opts *config.Options, cfg *decl.Config, log logr.Logger, toolOutput io.Writer, observers ...build.Observer) (*build.Engine, error) {
	eo := opts.EngineOptions()
	eo.Logger = log
	eo.Executor = &action.ProcessExecutor{Dir: opts.Dir, Output: toolOutput, Log: log.WithName("action")}
	eo.Observers = observers
	engine := build.New(eo)
	if err := cfg.Apply(engine); err != nil {
		return nil, err
	}
	return engine, nil
}

// buildAndSave runs one build and saves the graph even when nodes failed, so
// the work that succeeded is not repeated.
func buildAndSave(ctx context.Context, engine *build.Engine, opts *config.Options, targets []string, out io.Writer, useColor bool, log logr.Logger) error {
	snapshot := opts.SnapshotPath()
	if err := engine.Initialize(ctx, snapshot); err != nil {
		return err
	}
	res, buildErr := engine.Build(ctx, targets...)
	if res == nil {
		return buildErr
	}
	if snapshot != "" {
		// The caller's context may be cancelled; saving must still finish.
		if err := engine.SaveGraph(context.WithoutCancel(ctx), snapshot); err != nil {
			log.Error(err, "saving build graph failed", "path", snapshot)
			buildErr = errors.Join(buildErr, err)
		}
	}
	if opts.Summary {
		if err := ui.RenderSummary(out, res.Stats, useColor); err != nil {
			return errors.Join(buildErr, err)
		}
	}
	return buildErr
}
