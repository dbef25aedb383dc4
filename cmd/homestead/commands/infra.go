package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInfraCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "infra",
		Short: "Manage shared infrastructure components",
	}

	cmd.AddCommand(newInfraInstallCommand())

	return cmd
}

func newInfraInstallCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "install <server> <component>",
		Short: "Install or upgrade a shared infrastructure component",
		Long: `Install a shared infrastructure component (reverse proxy, container
runtime, database engine) on a server. Installing a component that is
already present upgrades it in place.`,
		Example: `  homestead infra install web1 caddy
  homestead infra install web1 docker --wait`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			jobID, err := rt.orchestrator.InstallInfra(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			if wait {
				return awaitJob(ctx, rt, jobID)
			}
			return printResult(map[string]string{"job_id": jobID}, func() {
				fmt.Printf("infra install submitted: job %s\n", jobID)
			})
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the job to finish")

	return cmd
}
