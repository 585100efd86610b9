// File: internal/ui/summary.go
// Brief: Per-kind seen/built table.

package ui

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/example/fbuild/internal/stats"
)

// RenderSummary writes the per-kind counts of a build. Kinds that were not
// seen are omitted; the total row is always present.
func RenderSummary(w io.Writer, snap stats.Snapshot, useColor bool) error {
	head := color.New(color.Bold)
	built := color.New(color.FgGreen)
	for _, c := range []*color.Color{head, built} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, head.Sprint("KIND\tSEEN\tBUILT"))
	for _, kc := range snap.Kinds {
		if kc.Seen == 0 && kc.Built == 0 {
			continue
		}
		b := fmt.Sprint(kc.Built)
		if kc.Built > 0 {
			b = built.Sprint(b)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", kc.Kind, kc.Seen, b)
	}
	fmt.Fprintf(tw, "%s\t%d\t%d\n", head.Sprint("Total"), snap.TotalSeen(), snap.TotalBuilt())
	return tw.Flush()
}
