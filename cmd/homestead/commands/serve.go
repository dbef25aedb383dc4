package commands

import (
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane in the foreground",
		Long: `Run the control plane as a long-lived process: the job workers stay up,
the catalog is watched for changes, and the metrics endpoint is served when
enabled. Stop with an interrupt signal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if rt.metrics.Enabled() {
				go func() {
					if err := rt.metrics.Serve(); err != nil {
						rt.logger.Error().Err(err).Msg("metrics server stopped")
					}
				}()
			}

			rt.logger.Info().Msg("control plane running")

			// Blocks until the signal handler cancels the context.
			if err := rt.catalog.Watch(ctx); err != nil {
				return err
			}
			return nil
		},
	}

	return cmd
}
