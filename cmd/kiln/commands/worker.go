package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/adapters/ipc"
)

func (c *CLI) newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    ipc.WorkerCommand,
		Short:  "Run as a worker process (internal use)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.ServeWorker(cmd.Context())
		},
	}
}
