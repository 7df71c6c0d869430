package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/app"
)

func (c *CLI) newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the request graph and the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			blobs, _ := cmd.Flags().GetBool("blobs")
			return c.app.Clean(cmd.Context(), app.CleanOptions{Blobs: blobs})
		},
	}

	cmd.Flags().BoolP("blobs", "b", false, "Only remove the on-disk blob directory and keep the request graph")

	return cmd
}
