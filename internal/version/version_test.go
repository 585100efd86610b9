package version

import (
	"strings"
	"testing"
)

func TestInfoString(t *testing.T) {
	old := Version
	oldCommit := GitCommit
	Version = "1.2.3"
	GitCommit = "abc123"
	t.Cleanup(func() {
		Version = old
		GitCommit = oldCommit
	})

	got := Get().String()
	if !strings.HasPrefix(got, "fbuild 1.2.3, commit abc123") {
		t.Fatalf("unexpected version string %q", got)
	}
	if strings.Contains(got, "built") {
		t.Fatalf("unknown build date must be omitted: %q", got)
	}
}
