package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/adapters/cacheserver"
	"go.trai.ch/kiln/internal/app"
	"go.trai.ch/kiln/internal/core/domain"
)

func (c *CLI) newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Work with remote caches",
	}

	cmd.AddCommand(c.newCacheServeCmd())

	return cmd
}

func (c *CLI) newCacheServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a directory or database as an HTTP remote cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c.bindAll(cmd, map[string]string{
				"cache.serve.addr": "addr",
				"cache.serve.dir":  "dir",
				"cache.serve.db":   "db",
			})
			idle, _ := cmd.Flags().GetDuration("idle-timeout")
			maxSize, _ := cmd.Flags().GetInt64("max-object-size")

			return c.app.ServeCache(cmd.Context(), app.CacheServeOptions{
				Addr:          c.settings.GetString("cache.serve.addr"),
				Dir:           c.settings.GetString("cache.serve.dir"),
				DB:            c.settings.GetString("cache.serve.db"),
				IdleTimeout:   idle,
				MaxObjectSize: maxSize,
			})
		},
	}

	cmd.Flags().String("addr", "127.0.0.1:7878", "Address to listen on")
	cmd.Flags().String("dir", domain.DefaultBlobPath(), "Blob directory to serve")
	cmd.Flags().String("db", "", "Serve the cache entries of this badger database instead of a directory")
	cmd.Flags().Duration("idle-timeout", 0, "Shut down after this long without requests (0 disables)")
	cmd.Flags().Int64("max-object-size", cacheserver.DefaultMaxObjectSize, "Largest object accepted by PUT, in bytes")

	return cmd
}
