// File: internal/version/version.go
// Brief: Build identity of the fbuild binary.

package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Set at link time: -ldflags "-X github.com/example/fbuild/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type Info struct {
	Version   string `yaml:"version"`
	GitCommit string `yaml:"gitCommit"`
	BuildDate string `yaml:"buildDate"`
	GoVersion string `yaml:"goVersion"`
	Platform  string `yaml:"platform"`
}

func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String renders the one-line form used in logs.
func (i Info) String() string {
	parts := []string{"fbuild " + i.Version}
	if i.GitCommit != "" && i.GitCommit != "unknown" {
		parts = append(parts, "commit "+i.GitCommit)
	}
	if i.BuildDate != "" && i.BuildDate != "unknown" {
		parts = append(parts, "built "+i.BuildDate)
	}
	parts = append(parts, i.GoVersion, i.Platform)
	return strings.Join(parts, ", ")
}
