// File: internal/decl/load.go
// Brief: Expand fbuild.yaml into node declarations.

// Package decl turns an fbuild.yaml document into graph declarations. It is a
// thin convenience over graph.Declaration; the engine never reads YAML.
package decl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/example/fbuild/internal/graph"
	"github.com/example/fbuild/internal/stamp"
)

const defaultObjectExtension = ".o"

// Declarer accepts declarations; *build.Engine and *graph.Graph satisfy it.
type Declarer interface {
	Declare(graph.Declaration) (graph.NodeID, error)
}

// Config is an expanded declaration file.
type Config struct {
	Path         string
	Dir          string
	Declarations []graph.Declaration
	Targets      []string
}

// Load reads and expands the declaration file at path. Directory inputs are
// listed relative to the file's directory.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

func Parse(raw []byte, dir string) (*Config, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty declaration file")
		}
		return nil, err
	}
	if f.Kind != "" && f.Kind != DocumentKind {
		return nil, fmt.Errorf("kind must be %s (got %q)", DocumentKind, f.Kind)
	}
	if f.APIVersion != "" && f.APIVersion != APIVersion {
		return nil, fmt.Errorf("apiVersion must be %s (got %q)", APIVersion, f.APIVersion)
	}
	x := &expander{dir: dir, index: map[string]int{}}
	if err := x.expand(&f); err != nil {
		return nil, err
	}
	cfg := &Config{Dir: dir, Declarations: x.decls, Targets: x.targets}
	return cfg, nil
}

// Apply declares every node of cfg on d.
func (c *Config) Apply(d Declarer) error {
	for _, decl := range c.Declarations {
		if _, err := d.Declare(decl); err != nil {
			return err
		}
	}
	return nil
}

type expander struct {
	dir     string
	decls   []graph.Declaration
	index   map[string]int
	targets []string
}

// add appends d unless an identical declaration already exists; conflicts
// are left for graph.Declare to report with full context.
func (x *expander) add(d graph.Declaration) {
	d.Name = graph.CanonicalName(d.Name)
	if i, ok := x.index[d.Name]; ok && sameDeclaration(x.decls[i], d) {
		return
	}
	x.index[d.Name] = len(x.decls)
	x.decls = append(x.decls, d)
}

func sameDeclaration(a, b graph.Declaration) bool {
	if a.Kind != b.Kind || strings.Join(a.Deps, "\x00") != strings.Join(b.Deps, "\x00") {
		return false
	}
	return graph.SettingsDigest(a.Kind, a.Settings, a.Outputs) == graph.SettingsDigest(b.Kind, b.Settings, b.Outputs)
}

func (x *expander) expand(f *File) error {
	for i, c := range f.Compilers {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("compilers[%d].name is required", i)
		}
		x.add(graph.Declaration{Name: c.Name, Kind: graph.KindCompiler, Settings: graph.CompilerSettings{Executable: c.Executable}})
	}
	for i, ol := range f.ObjectLists {
		if strings.TrimSpace(ol.Name) == "" {
			return fmt.Errorf("objectLists[%d].name is required", i)
		}
		deps, err := x.compileInputs(fmt.Sprintf("objectLists[%d]", i), ol.Inputs, ol.Compile)
		if err != nil {
			return err
		}
		x.add(graph.Declaration{Name: ol.Name, Kind: graph.KindObjectList, Deps: deps})
	}
	for i, lib := range f.Libraries {
		where := fmt.Sprintf("libraries[%d]", i)
		if strings.TrimSpace(lib.Name) == "" {
			return fmt.Errorf("%s.name is required", where)
		}
		var deps []string
		if lib.Compiler != "" {
			deps = append(deps, lib.Compiler)
		}
		if lib.InputPath != "" || len(lib.Files) > 0 {
			objs, err := x.compileInputs(where, lib.Inputs, lib.Compile)
			if err != nil {
				return err
			}
			deps = append(deps, objs...)
		}
		deps = append(deps, lib.ObjectLists...)
		deps = append(deps, lib.Merge...)
		if lib.Compiler == "" && lib.Librarian == "" {
			return fmt.Errorf("%s: compiler or librarian is required", where)
		}
		x.add(graph.Declaration{
			Name:     lib.Name,
			Kind:     graph.KindLibrary,
			Deps:     dedupe(deps),
			Settings: graph.LibrarySettings{Librarian: lib.Librarian, Command: lib.ArchiveCommand},
		})
		x.targets = append(x.targets, graph.CanonicalName(lib.Name))
	}
	for i, n := range f.Nodes {
		d, err := rawDeclaration(n)
		if err != nil {
			return fmt.Errorf("nodes[%d]: %w", i, err)
		}
		x.add(d)
	}
	if len(f.Targets) > 0 {
		x.targets = x.targets[:0]
		for _, t := range f.Targets {
			x.targets = append(x.targets, graph.CanonicalName(t))
		}
	}
	return nil
}

// compileInputs declares the listing, source files and objects for one
// compile section and returns the dependency names its owner needs: the
// listing (when present) followed by the objects.
func (x *expander) compileInputs(where string, in Inputs, c Compile) ([]string, error) {
	if strings.TrimSpace(c.Compiler) == "" {
		return nil, fmt.Errorf("%s.compiler is required", where)
	}
	var deps, sources []string
	if in.InputPath != "" {
		listing := graph.CanonicalName(in.InputPath)
		patterns := in.Patterns
		if len(patterns) == 0 {
			patterns = []string{"*.cpp"}
		}
		x.add(graph.Declaration{
			Name: listing,
			Kind: graph.KindDirectoryListing,
			Settings: graph.DirectoryListingSettings{
				Path:      listing,
				Patterns:  patterns,
				Excludes:  in.Excludes,
				Recursive: in.Recursive,
			},
		})
		deps = append(deps, listing)
		files, err := stamp.List(filepath.Join(x.dir, filepath.FromSlash(listing)), patterns, in.Excludes, in.Recursive)
		if err != nil {
			return nil, fmt.Errorf("%s: list %s: %w", where, in.InputPath, err)
		}
		for _, rel := range files {
			sources = append(sources, path.Join(listing, rel))
		}
	}
	for _, f := range in.Files {
		sources = append(sources, graph.CanonicalName(f))
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%s: no input files", where)
	}

	ext := c.OutputExtension
	if ext == "" {
		ext = defaultObjectExtension
	}
	for _, src := range sources {
		x.add(graph.Declaration{Name: src, Kind: graph.KindFile})
		obj := path.Join(c.OutputPath, objectStem(src, in.InputPath)+ext)
		settings := graph.ObjectSettings{Command: c.Command}
		if c.DepFiles {
			settings.DepFile = obj + ".d"
		}
		x.add(graph.Declaration{
			Name:     obj,
			Kind:     graph.KindObject,
			Deps:     []string{c.Compiler, src},
			Outputs:  []string{obj},
			Settings: settings,
		})
		deps = append(deps, graph.CanonicalName(obj))
	}
	return deps, nil
}

// objectStem keeps a listed file's path below its input directory so
// same-named files in subdirectories do not collide.
func objectStem(src, inputPath string) string {
	rel := path.Base(src)
	if inputPath != "" {
		rel = strings.TrimPrefix(src, graph.CanonicalName(inputPath)+"/")
	}
	return strings.TrimSuffix(rel, path.Ext(rel))
}

func rawDeclaration(n RawNode) (graph.Declaration, error) {
	if strings.TrimSpace(n.Name) == "" {
		return graph.Declaration{}, errors.New("name is required")
	}
	kind, err := graph.ParseKind(n.Kind)
	if err != nil {
		return graph.Declaration{}, err
	}
	d := graph.Declaration{Name: n.Name, Kind: kind, Deps: n.Deps, Outputs: n.Outputs}
	switch kind {
	case graph.KindFile:
		d.Settings = graph.FileSettings{}
	case graph.KindDirectoryListing:
		d.Settings = graph.DirectoryListingSettings{Path: n.Path, Patterns: n.Patterns, Excludes: n.Excludes, Recursive: n.Recursive}
	case graph.KindCompiler:
		d.Settings = graph.CompilerSettings{Executable: n.Executable}
	case graph.KindObject:
		d.Settings = graph.ObjectSettings{Command: n.Command, DepFile: n.DepFile}
	case graph.KindObjectList:
		d.Settings = graph.ObjectListSettings{}
	case graph.KindLibrary:
		d.Settings = graph.LibrarySettings{Librarian: n.Librarian, Command: n.Command}
	}
	return d, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = graph.CanonicalName(s)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
