// File: cmd/fbuild/version.go
// Brief: The 'version' command.

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/example/fbuild/internal/version"
)

func newVersionCommand() *cobra.Command {
	var (
		short  bool
		output string
	)
	cmd := &cobra.Command{
		Use:           "version",
		Short:         "Print the fbuild version information",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			out := cmd.OutOrStdout()
			if short {
				_, err := fmt.Fprintln(out, info.Version)
				return err
			}
			switch output {
			case "yaml":
				enc := yaml.NewEncoder(out)
				defer enc.Close()
				return enc.Encode(info)
			case "", "text":
			default:
				return fmt.Errorf("unknown --output %q (expected text or yaml)", output)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Version:\t%s\n", info.Version)
			if info.GitCommit != "unknown" {
				fmt.Fprintf(tw, "Commit:\t%s\n", info.GitCommit)
			}
			if info.BuildDate != "unknown" {
				fmt.Fprintf(tw, "Built:\t%s\n", info.BuildDate)
			}
			fmt.Fprintf(tw, "Go:\t%s\n", info.GoVersion)
			fmt.Fprintf(tw, "Platform:\t%s\n", info.Platform)
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print just the version number")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text or yaml")
	return cmd
}
