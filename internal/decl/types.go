// File: internal/decl/types.go
// Brief: fbuild.yaml document types.

package decl

const (
	APIVersion   = "fbuild.dev/v1"
	DocumentKind = "Build"
)

// File is the decoded form of fbuild.yaml.
type File struct {
	APIVersion string `yaml:"apiVersion,omitempty"`
	Kind       string `yaml:"kind,omitempty"`

	Compilers   []Compiler   `yaml:"compilers,omitempty"`
	ObjectLists []ObjectList `yaml:"objectLists,omitempty"`
	Libraries   []Library    `yaml:"libraries,omitempty"`
	// Nodes declares graph nodes directly, for shapes the sections above
	// cannot express.
	Nodes []RawNode `yaml:"nodes,omitempty"`
	// Targets built when none are given on the command line. Defaults to
	// every library.
	Targets []string `yaml:"targets,omitempty"`
}

type Compiler struct {
	Name       string `yaml:"name"`
	Executable string `yaml:"executable,omitempty"`
}

// Inputs selects source files, either listed from a directory or named
// explicitly.
type Inputs struct {
	InputPath string   `yaml:"inputPath,omitempty"`
	Patterns  []string `yaml:"patterns,omitempty"`
	Excludes  []string `yaml:"excludes,omitempty"`
	Recursive bool     `yaml:"recursive,omitempty"`
	Files     []string `yaml:"files,omitempty"`
}

// Compile describes how Inputs become objects.
type Compile struct {
	Compiler        string `yaml:"compiler"`
	OutputPath      string `yaml:"outputPath,omitempty"`
	OutputExtension string `yaml:"outputExtension,omitempty"`
	Command         string `yaml:"command,omitempty"`
	DepFiles        bool   `yaml:"depFiles,omitempty"`
}

type ObjectList struct {
	Name    string `yaml:"name"`
	Inputs  `yaml:",inline"`
	Compile `yaml:",inline"`
}

type Library struct {
	// Name is also the archive path.
	Name      string `yaml:"name"`
	Librarian string `yaml:"librarian,omitempty"`
	// ArchiveCommand is the librarian command template.
	ArchiveCommand string   `yaml:"archiveCommand,omitempty"`
	ObjectLists    []string `yaml:"objectLists,omitempty"`
	// Merge names other libraries whose archives are merged into this one.
	Merge []string `yaml:"merge,omitempty"`

	Inputs  `yaml:",inline"`
	Compile `yaml:",inline"`
}

type RawNode struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Deps    []string `yaml:"deps,omitempty"`
	Outputs []string `yaml:"outputs,omitempty"`

	Executable string   `yaml:"executable,omitempty"`
	Command    string   `yaml:"command,omitempty"`
	DepFile    string   `yaml:"depFile,omitempty"`
	Librarian  string   `yaml:"librarian,omitempty"`
	Path       string   `yaml:"path,omitempty"`
	Patterns   []string `yaml:"patterns,omitempty"`
	Excludes   []string `yaml:"excludes,omitempty"`
	Recursive  bool     `yaml:"recursive,omitempty"`
}
