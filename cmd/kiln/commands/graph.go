package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect the persisted request graph",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show node counts by state, edge counts by kind and the journal length",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.GraphStats(cmd.Context(), cmd.OutOrStdout())
		},
	})

	return cmd
}
