// main.go bootstraps fbuild: it builds the root Cobra command and executes it
// with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/fbuild/internal/build"
	"github.com/example/fbuild/internal/config"
	"github.com/example/fbuild/internal/graph"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := config.NewOptions()
	cmd := &cobra.Command{
		Use:           "fbuild [TARGET...]",
		Short:         "Incremental build orchestrator",
		Long:          "fbuild builds the targets declared in fbuild.yaml, rebuilding only what changed since the last run.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, args, opts)
		},
	}
	opts.AddFlags(cmd)
	cmd.AddCommand(
		newGraphCommand(opts),
		newVersionCommand(),
	)
	cmd.Example = `  # Build every library declared in fbuild.yaml
  fbuild

  # Build one archive with 8 workers and print per-kind counts
  fbuild out/libcore.a -j 8 --summary

  # Render the dependency graph
  fbuild graph --format mermaid`
	bindViper(cmd)
	return cmd
}

// bindViper lets FBUILD_* environment variables and an optional config file
// (FBUILD_CONFIG) supply flags that were not given on the command line.
func bindViper(cmd *cobra.Command) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("FBUILD")
	v.AutomaticEnv()
	configFile := os.Getenv("FBUILD_CONFIG")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
			return err
		}
		if configFile != "" {
			if err := readConfigFile(v); err != nil {
				return err
			}
		}
		return applyViper(v, cmd.PersistentFlags())
	}
}

// applyViper sets flags not given on the command line from viper. A value
// the flag rejects is an error naming its source variable.
func applyViper(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		var values []string
		switch f.Value.Type() {
		case "stringArray", "stringSlice":
			values = v.GetStringSlice(f.Name)
		default:
			if val := fmt.Sprintf("%v", v.Get(f.Name)); val != "" {
				values = []string{val}
			}
		}
		for _, val := range values {
			if err := f.Value.Set(val); err != nil {
				env := "FBUILD_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
				errs = append(errs, fmt.Errorf("invalid value %q for --%s (from %s or config file): %w", val, f.Name, env, err))
				return
			}
		}
	})
	return errors.Join(errs...)
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) {
			return nil
		}
		return fmt.Errorf("read %s: %w", v.ConfigFileUsed(), err)
	}
	return nil
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		message = fmt.Sprintf("%s\nHint: the build was interrupted; completed nodes were recorded.", err)
	case errors.Is(err, graph.ErrCycleDetected):
		message = fmt.Sprintf("%s\nHint: run 'fbuild graph' to inspect the dependency graph.", err)
	case errors.Is(err, build.ErrUnknownTarget):
		message = fmt.Sprintf("%s\nHint: targets are node names from fbuild.yaml, e.g. library archive paths.", err)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
