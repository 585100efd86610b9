// File: internal/config/config_test.go
// Brief: Options defaults, validation and flag parsing.

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"

	"github.com/example/fbuild/internal/graph"
	"github.com/example/fbuild/internal/stamp"
)

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	if opts.ConfigFile != DefaultConfigFile {
		t.Fatalf("config default mismatch, got %s", opts.ConfigFile)
	}
	if opts.Workers < 1 {
		t.Fatalf("workers should default to at least 1, got %d", opts.Workers)
	}
	if opts.StampResolution != stamp.DefaultResolution {
		t.Fatalf("resolution default mismatch, got %s", opts.StampResolution)
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if opts.StampPolicy.Mode != stamp.ModeTimeSize {
		t.Fatalf("expected time stamp mode, got %s", opts.StampPolicy.Mode)
	}
	cwd, err := filepath.Abs(".")
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	if want := filepath.Join(cwd, DefaultDBPath); opts.SnapshotPath() != want {
		t.Fatalf("snapshot path = %q, want %q", opts.SnapshotPath(), want)
	}
}

func TestBindFlagsParsesValues(t *testing.T) {
	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	names := opts.BindFlags(fs)
	if len(names) == 0 {
		t.Fatalf("expected flag names")
	}
	for _, n := range names {
		if fs.Lookup(n) == nil {
			t.Fatalf("flag %s returned but not registered", n)
		}
	}
	args := []string{
		"--config", "proj/fbuild.yaml",
		"-j", "3",
		"--keep-going",
		"--stamp-mode", "content",
		"--stamp-resolution", "1s",
		"--kind-limit", "object=2",
		"--kind-limit", "lib=1,compiler=1",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if opts.Workers != 3 || !opts.KeepGoing {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.StampPolicy.Mode != stamp.ModeContent || opts.StampPolicy.Resolution != time.Second {
		t.Fatalf("unexpected stamp policy %+v", opts.StampPolicy)
	}
	proj, err := filepath.Abs("proj")
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	if opts.Dir != proj {
		t.Fatalf("dir = %q, want %q", opts.Dir, proj)
	}
	if got := opts.SnapshotPath(); got != filepath.Join(proj, ".fbuild", "fbuild.fdb") {
		t.Fatalf("snapshot path = %q", got)
	}
	want := map[graph.Kind]int{graph.KindObject: 2, graph.KindLibrary: 1, graph.KindCompiler: 1}
	if len(opts.KindLimits) != len(want) {
		t.Fatalf("kind limits = %v, want %v", opts.KindLimits, want)
	}
	for k, v := range want {
		if opts.KindLimits[k] != v {
			t.Fatalf("kind limit %s = %d, want %d", k, opts.KindLimits[k], v)
		}
	}
	eo := opts.EngineOptions()
	if eo.Workers != 3 || !eo.KeepGoing || eo.MaxConcurrencyByKind[graph.KindObject] != 2 {
		t.Fatalf("unexpected engine options %+v", eo)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Options){
		"workers":    func(o *Options) { o.Workers = 0 },
		"stamp mode": func(o *Options) { o.StampMode = "mtime-ish" },
		"resolution": func(o *Options) { o.StampResolution = -time.Second },
		"kind limit": func(o *Options) { o.KindLimitArgs = []string{"object"} },
		"kind name":  func(o *Options) { o.KindLimitArgs = []string{"widget=2"} },
		"limit zero": func(o *Options) { o.KindLimitArgs = []string{"object=0"} },
		"color":      func(o *Options) { o.ColorMode = "sometimes" },
	}
	for name, mut := range cases {
		opts := NewOptions()
		mut(opts)
		if err := opts.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestNoDBDisablesSnapshot(t *testing.T) {
	opts := NewOptions()
	opts.NoDB = true
	if err := opts.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := opts.SnapshotPath(); got != "" {
		t.Fatalf("snapshot path = %q, want empty", got)
	}
}

func TestValidateExpandsHome(t *testing.T) {
	home, err := homedir.Dir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	opts := NewOptions()
	opts.DBPath = "~/cache/fbuild.fdb"
	if err := opts.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if want := filepath.Join(home, "cache", "fbuild.fdb"); opts.DBPath != want {
		t.Fatalf("db path = %q, want %q", opts.DBPath, want)
	}
	if opts.SnapshotPath() != opts.DBPath {
		t.Fatalf("absolute db path should be used as is, got %q", opts.SnapshotPath())
	}
}

func TestZeroResolutionReachesEngine(t *testing.T) {
	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.BindFlags(fs)
	if err := fs.Parse([]string{"--stamp-resolution", "0"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := opts.EngineOptions().StampPolicy.Resolution; got != 0 {
		t.Fatalf("engine resolution = %s, want 0", got)
	}
}
