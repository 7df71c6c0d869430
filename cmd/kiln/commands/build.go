package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/adapters/detector"
	"go.trai.ch/kiln/internal/app"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// Setting keys. Each resolves to its flag, then to KILN_<KEY> with dots and dashes as underscores.
const (
	keyWorkers     = "workers"
	keyRemoteURL   = "cache.remote.url"
	keyGC          = "gc"
	keyOptions     = "options"
	keyOutputMode  = "output-mode"
	keyMetricsAddr = "metrics-addr"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [targets...]",
		Short: "Build the specified targets",
		Long: `Build the specified targets, reusing every result whose inputs are unchanged.
The target "all" selects every target of the project.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				// Display command usage help without returning an error
				_ = cmd.Help()
				return nil
			}
			opts, err := c.buildOptions(cmd)
			if err != nil {
				return err
			}
			return c.app.Build(cmd.Context(), args, opts)
		},
	}
	addBuildFlags(cmd)
	cmd.Flags().BoolP("inspect", "i", false, "Inspect the TUI after build completion (prevents auto-exit)")
	return cmd
}

func (c *CLI) newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [targets...]",
		Short: "Rebuild the specified targets whenever their inputs change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.buildOptions(cmd)
			if err != nil {
				return err
			}
			return c.app.Watch(cmd.Context(), args, opts)
		},
	}
	addBuildFlags(cmd)
	return cmd
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("workers", "j", 0, "Number of worker processes (default: workers from kiln.yaml, else one per CPU)")
	cmd.Flags().String("remote-cache", "", "URL of an HTTP remote cache, overriding kiln.yaml")
	cmd.Flags().Bool("gc", false, "Collect graph nodes the build no longer reaches")
	cmd.Flags().StringArray("option", nil, "Set a build option as key=value (repeatable)")
	cmd.Flags().StringP("output-mode", "o", "auto", "Output mode: auto, tui, or linear")
	cmd.Flags().Bool("ci", false, "Use linear output mode (shorthand for --output-mode=linear)")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
}

// buildOptions resolves the flags of cmd and the KILN_* environment into build options.
func (c *CLI) buildOptions(cmd *cobra.Command) (app.BuildOptions, error) {
	c.bindAll(cmd, map[string]string{
		keyWorkers:     "workers",
		keyRemoteURL:   "remote-cache",
		keyGC:          "gc",
		keyOptions:     "option",
		keyOutputMode:  "output-mode",
		keyMetricsAddr: "metrics-addr",
	})
	v := c.settings

	options, err := parseOptions(v.GetStringSlice(keyOptions))
	if err != nil {
		return app.BuildOptions{}, err
	}

	opts := app.BuildOptions{
		Settings: app.Settings{
			Workers:   v.GetInt(keyWorkers),
			RemoteURL: v.GetString(keyRemoteURL),
			Options:   options,
		},
		OutputMode:  v.GetString(keyOutputMode),
		MetricsAddr: v.GetString(keyMetricsAddr),
	}
	if v.IsSet(keyGC) {
		gc := v.GetBool(keyGC)
		opts.GC = &gc
	}
	if opts.Workers < 0 {
		return app.BuildOptions{}, zerr.With(zerr.Wrap(domain.ErrConfigInvalid, "workers must not be negative"), "workers", opts.Workers)
	}

	// If --ci is set, override output-mode to "linear"
	if ci, _ := cmd.Flags().GetBool("ci"); ci {
		opts.OutputMode = "linear"
	}
	if _, err := detector.ParseMode(opts.OutputMode); err != nil {
		return app.BuildOptions{}, err
	}
	if cmd.Flags().Lookup("inspect") != nil {
		opts.Inspect, _ = cmd.Flags().GetBool("inspect")
	}
	return opts, nil
}

// parseOptions turns key=value pairs into a map. A later pair overrides an earlier one.
func parseOptions(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	options := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, zerr.With(zerr.Wrap(domain.ErrConfigInvalid, fmt.Sprintf("option %q is not key=value", pair)), "option", pair)
		}
		options[key] = value
	}
	return options, nil
}

// Ensure the app satisfies the CLI's view of it.
var _ Application = (*app.App)(nil)
