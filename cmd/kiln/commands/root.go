// Package commands implements the CLI commands for the kiln build engine.
package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.trai.ch/kiln/internal/app"
	"go.trai.ch/kiln/internal/build"
)

// EnvPrefix prefixes the environment variables that override flags, as in KILN_WORKERS.
const EnvPrefix = "KILN"

// CLI represents the command line interface for kiln.
type CLI struct {
	app       Application
	rootCmd   *cobra.Command
	settings  *viper.Viper
	onLogJSON func(enabled bool)
}

// Application represents the application logic interface.
type Application interface {
	Build(ctx context.Context, targets []string, opts app.BuildOptions) error
	Watch(ctx context.Context, targets []string, opts app.BuildOptions) error
	Clean(ctx context.Context, opts app.CleanOptions) error
	ServeWorker(ctx context.Context) error
	ServeCache(ctx context.Context, opts app.CacheServeOptions) error
	GraphStats(ctx context.Context, w io.Writer) error
}

// Option configures a CLI.
type Option func(*CLI)

// WithLogJSON registers the function that switches the logger to JSON output.
func WithLogJSON(fn func(enabled bool)) Option {
	return func(c *CLI) {
		c.onLogJSON = fn
	}
}

// New creates a new CLI instance with the given app.
func New(a Application, opts ...Option) *CLI {
	rootCmd := &cobra.Command{
		Use:           "kiln",
		Short:         "An incremental build engine with a persistent request graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build.Version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"{{.Name}} version {{.Version}} (commit: %s, date: %s)\n",
		build.Commit,
		build.Date,
	))
	rootCmd.InitDefaultVersionFlag()
	rootCmd.Flags().Lookup("version").Usage = "Print the application version"

	rootCmd.InitDefaultHelpFlag()
	rootCmd.Flags().Lookup("help").Usage = "Show help for command"

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	c := &CLI{
		app:      a,
		rootCmd:  rootCmd,
		settings: v,
	}
	for _, opt := range opts {
		opt(c)
	}

	rootCmd.PersistentFlags().Bool("log-json", false, "Log in JSON")
	_ = v.BindPFlag("log-json", rootCmd.PersistentFlags().Lookup("log-json"))
	rootCmd.PersistentPreRun = func(*cobra.Command, []string) {
		if c.onLogJSON != nil {
			c.onLogJSON(v.GetBool("log-json"))
		}
	}

	rootCmd.AddCommand(c.newBuildCmd())
	rootCmd.AddCommand(c.newWatchCmd())
	rootCmd.AddCommand(c.newCleanCmd())
	rootCmd.AddCommand(c.newCacheCmd())
	rootCmd.AddCommand(c.newGraphCmd())
	rootCmd.AddCommand(c.newWorkerCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command. Used for testing.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

// bind makes key resolve to the flag of cmd, and to KILN_<KEY> when the flag is not given.
// Commands sharing a key bind it when they run, so the running command's flag wins.
func (c *CLI) bind(cmd *cobra.Command, key, flag string) {
	f := cmd.Flags().Lookup(flag)
	if f == nil {
		return
	}
	_ = c.settings.BindPFlag(key, f)
}

func (c *CLI) bindAll(cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		c.bind(cmd, key, flag)
	}
}
