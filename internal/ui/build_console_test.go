package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/fbuild/internal/build"
	"github.com/example/fbuild/internal/graph"
	"github.com/example/fbuild/internal/stats"
)

func TestBuildConsolePrintsWorkAndFailures(t *testing.T) {
	buf := &bytes.Buffer{}
	c := NewBuildConsole(buf, BuildConsoleOptions{})

	c.ObserveNodeEvent(build.NodeEvent{Node: "out/a.o", Kind: graph.KindObject, State: graph.StateBuilding})
	c.ObserveNodeEvent(build.NodeEvent{Node: "src/a.cpp", Kind: graph.KindFile, State: graph.StateBuilt, Reason: "observed"})
	c.ObserveNodeEvent(build.NodeEvent{Node: "out/a.o", Kind: graph.KindObject, State: graph.StateBuilt, Reason: "never built", Duration: 1500 * time.Microsecond})
	c.ObserveNodeEvent(build.NodeEvent{Node: "out/b.o", Kind: graph.KindObject, State: graph.StateUpToDate})
	c.ObserveNodeEvent(build.NodeEvent{Node: "out/c.o", Kind: graph.KindObject, State: graph.StateFailed, Err: errors.New("exit status 1")})

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", out)
	}
	if lines[0] != "BUILD out/a.o never built, 2ms" {
		t.Fatalf("unexpected build line %q", lines[0])
	}
	if lines[1] != "FAIL out/c.o exit status 1" {
		t.Fatalf("unexpected failure line %q", lines[1])
	}
	finished, failed := c.Counts()
	if finished != 4 || failed != 1 {
		t.Fatalf("counts = %d/%d, want 4/1", finished, failed)
	}
}

func TestBuildConsoleVerboseAndTruncation(t *testing.T) {
	buf := &bytes.Buffer{}
	c := NewBuildConsole(buf, BuildConsoleOptions{Verbose: true, Width: 40})
	long := "out/very/deeply/nested/directory/object.o"
	c.ObserveNodeEvent(build.NodeEvent{Node: long, Kind: graph.KindObject, State: graph.StateUpToDate})
	out := buf.String()
	if !strings.HasPrefix(out, "OK    ...") || !strings.HasSuffix(strings.TrimSpace(out), "object.o") {
		t.Fatalf("unexpected verbose line %q", out)
	}
	if len(strings.TrimSpace(strings.TrimPrefix(out, "OK   "))) != 16 {
		t.Fatalf("name not truncated to width: %q", out)
	}
}

func TestRenderSummary(t *testing.T) {
	c := stats.New()
	c.RecordSeen(graph.KindFile)
	c.RecordBuilt(graph.KindFile)
	c.RecordSeen(graph.KindObject)
	c.RecordSeen(graph.KindObject)
	c.RecordBuilt(graph.KindObject)

	buf := &bytes.Buffer{}
	if err := RenderSummary(buf, c.Snapshot(), false); err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "KIND    SEEN  BUILT\n" +
		"File    1     1\n" +
		"Object  2     1\n" +
		"Total   3     2\n"
	if buf.String() != want {
		t.Fatalf("summary mismatch:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestUseColor(t *testing.T) {
	buf := &bytes.Buffer{}
	if UseColor("auto", buf) {
		t.Fatalf("a buffer is not a terminal")
	}
	if !UseColor("always", buf) || UseColor("never", buf) {
		t.Fatalf("explicit modes not honoured")
	}
}
