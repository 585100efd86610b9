// File: internal/ui/build_console.go
// Brief: Line-oriented build progress for the CLI.

package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/example/fbuild/internal/build"
	"github.com/example/fbuild/internal/graph"
)

type BuildConsoleOptions struct {
	Color bool
	// Verbose also prints up-to-date nodes.
	Verbose bool
	// Width truncates node names; 0 disables truncation.
	Width int
}

// BuildConsole prints one line per node that did work or failed. It is a
// build.Observer.
type BuildConsole struct {
	out  io.Writer
	opts BuildConsoleOptions

	mu       sync.Mutex
	finished int
	failed   int

	built, upToDate, failure, dim *color.Color
}

func NewBuildConsole(out io.Writer, opts BuildConsoleOptions) *BuildConsole {
	c := &BuildConsole{
		out:      out,
		opts:     opts,
		built:    color.New(color.FgGreen),
		upToDate: color.New(color.FgHiBlack),
		failure:  color.New(color.FgRed, color.Bold),
		dim:      color.New(color.Faint),
	}
	for _, col := range []*color.Color{c.built, c.upToDate, c.failure, c.dim} {
		if opts.Color {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func (c *BuildConsole) ObserveNodeEvent(ev build.NodeEvent) {
	if c == nil || c.out == nil || !ev.State.Terminal() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished++
	name := c.truncate(ev.Node)
	switch ev.State {
	case graph.StateFailed:
		c.failed++
		msg := ev.Reason
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		fmt.Fprintf(c.out, "%s %s %s\n", c.failure.Sprint("FAIL"), name, c.dim.Sprint(msg))
	case graph.StateBuilt:
		if ev.Kind == graph.KindFile || ev.Kind == graph.KindDirectoryListing {
			if !c.opts.Verbose {
				return
			}
		}
		fmt.Fprintf(c.out, "%s %s %s\n", c.built.Sprint("BUILD"), name, c.dim.Sprint(detail(ev)))
	case graph.StateUpToDate:
		if c.opts.Verbose {
			fmt.Fprintf(c.out, "%s %s\n", c.upToDate.Sprint("OK   "), name)
		}
	}
}

// Counts reports terminal events seen so far and how many were failures.
func (c *BuildConsole) Counts() (finished, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished, c.failed
}

// truncate keeps the tail of long names; the file name is the useful part.
func (c *BuildConsole) truncate(name string) string {
	limit := c.opts.Width - 24
	if c.opts.Width <= 0 || limit < 8 || runewidth.StringWidth(name) <= limit {
		return name
	}
	runes := []rune(name)
	for len(runes) > 0 && runewidth.StringWidth(string(runes))+3 > limit {
		runes = runes[1:]
	}
	return "..." + string(runes)
}

func detail(ev build.NodeEvent) string {
	if ev.Duration <= 0 {
		return ev.Reason
	}
	return fmt.Sprintf("%s, %s", ev.Reason, ev.Duration.Round(time.Millisecond))
}
