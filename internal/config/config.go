// File: internal/config/config.go
// Brief: fbuild command-line options.

// Package config defines the flag plumbing and runtime options shared by
// fbuild's commands, translating Cobra/Viper flag values into a strongly typed
// struct the build engine consumes.
package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/example/fbuild/internal/build"
	"github.com/example/fbuild/internal/graph"
	"github.com/example/fbuild/internal/stamp"
)

const (
	DefaultConfigFile = "fbuild.yaml"
	DefaultDBPath     = ".fbuild/fbuild.fdb"
)

// Options holds all CLI configuration for a build.
type Options struct {
	ConfigFile      string
	DBPath          string
	NoDB            bool
	Workers         int
	KeepGoing       bool
	Clean           bool
	StampMode       string
	StampResolution time.Duration
	KindLimitArgs   []string
	Summary         bool
	LogLevel        string
	ColorMode       string
	Dir             string

	StampPolicy stamp.Policy
	KindLimits  map[graph.Kind]int
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		ConfigFile:      DefaultConfigFile,
		DBPath:          DefaultDBPath,
		Workers:         runtime.NumCPU(),
		StampMode:       stamp.ModeTimeSize.String(),
		StampResolution: stamp.DefaultResolution,
		LogLevel:        "info",
		ColorMode:       "auto",
	}
}

// AddFlags binds configuration flags to the provided Cobra command.
func (o *Options) AddFlags(cmd *cobra.Command) []string {
	return o.BindFlags(cmd.PersistentFlags())
}

// BindFlags attaches build flags to an arbitrary FlagSet and returns the flag
// names so callers can bind them to environment variables.
func (o *Options) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile, "Path to the build declaration file")
	names = append(names, "config")
	fs.StringVar(&o.DBPath, "db", o.DBPath, "Path of the saved build graph")
	names = append(names, "db")
	fs.BoolVar(&o.NoDB, "no-db", o.NoDB, "Neither load nor save the build graph")
	names = append(names, "no-db")
	fs.IntVarP(&o.Workers, "workers", "j", o.Workers, "Number of nodes to build in parallel")
	names = append(names, "workers")
	fs.BoolVarP(&o.KeepGoing, "keep-going", "k", o.KeepGoing, "Keep building unaffected targets after a failure")
	names = append(names, "keep-going")
	fs.BoolVar(&o.Clean, "clean", o.Clean, "Ignore the saved build graph and rebuild everything")
	names = append(names, "clean")
	fs.StringVar(&o.StampMode, "stamp-mode", o.StampMode, "How files are fingerprinted: time (mtime+size) or content")
	names = append(names, "stamp-mode")
	fs.DurationVar(&o.StampResolution, "stamp-resolution", o.StampResolution, "Files modified more recently than this are also content-hashed")
	names = append(names, "stamp-resolution")
	fs.StringArrayVar(&o.KindLimitArgs, "kind-limit", nil, "Limit concurrent nodes of one kind, e.g. object=4 (repeatable)")
	names = append(names, "kind-limit")
	fs.BoolVar(&o.Summary, "summary", o.Summary, "Print per-kind seen/built counts after the build")
	names = append(names, "summary")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level: debug, info, warn, error")
	names = append(names, "log-level")
	fs.StringVar(&o.ColorMode, "color", o.ColorMode, "Colorize output: auto, always, never")
	names = append(names, "color")
	return names
}

// Validate normalises paths and parses the derived fields.
func (o *Options) Validate() error {
	var err error
	if o.ConfigFile, err = expandPath(o.ConfigFile); err != nil {
		return fmt.Errorf("invalid --config: %w", err)
	}
	if strings.TrimSpace(o.ConfigFile) == "" {
		return fmt.Errorf("--config cannot be empty")
	}
	if !o.NoDB {
		if o.DBPath, err = expandPath(o.DBPath); err != nil {
			return fmt.Errorf("invalid --db: %w", err)
		}
		if o.DBPath == "" {
			o.NoDB = true
		}
	}
	if o.Dir == "" {
		o.Dir = filepath.Dir(o.ConfigFile)
	}
	if o.Dir, err = filepath.Abs(o.Dir); err != nil {
		return fmt.Errorf("resolve build directory: %w", err)
	}
	if o.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1, got %d", o.Workers)
	}
	mode, err := stamp.ParseMode(o.StampMode)
	if err != nil {
		return err
	}
	if o.StampResolution < 0 {
		return fmt.Errorf("--stamp-resolution cannot be negative")
	}
	o.StampPolicy = stamp.Policy{Mode: mode, Resolution: o.StampResolution}
	if o.KindLimits, err = ParseKindLimits(o.KindLimitArgs); err != nil {
		return err
	}
	switch strings.ToLower(o.ColorMode) {
	case "", "auto":
		o.ColorMode = "auto"
	case "always":
		o.ColorMode = "always"
	case "never":
		o.ColorMode = "never"
	default:
		return fmt.Errorf("invalid --color value %q (allowed: auto, always, never)", o.ColorMode)
	}
	return nil
}

// EngineOptions converts validated options into engine options. Executor,
// Logger and Observers are left for the caller.
func (o *Options) EngineOptions() build.Options {
	return build.Options{
		Workers:              o.Workers,
		KeepGoing:            o.KeepGoing,
		ForceClean:           o.Clean,
		Dir:                  o.Dir,
		StampPolicy:          o.StampPolicy,
		MaxConcurrencyByKind: o.KindLimits,
	}
}

// SnapshotPath is the graph file to load and save, or "" with --no-db.
func (o *Options) SnapshotPath() string {
	if o.NoDB {
		return ""
	}
	if filepath.IsAbs(o.DBPath) || o.Dir == "" {
		return o.DBPath
	}
	return filepath.Join(o.Dir, o.DBPath)
}

// ParseKindLimits parses kind=N pairs. A later pair for the same kind wins.
func ParseKindLimits(args []string) (map[graph.Kind]int, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[graph.Kind]int, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key, val, ok := strings.Cut(part, "=")
			if !ok {
				return nil, fmt.Errorf("invalid --kind-limit value %q (expected kind=N)", part)
			}
			kind, err := graph.ParseKind(key)
			if err != nil {
				return nil, fmt.Errorf("invalid --kind-limit value %q: %w", part, err)
			}
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid --kind-limit value %q (limit must be a positive integer)", part)
			}
			out[kind] = n
		}
	}
	return out, nil
}

func expandPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(expanded), nil
}
