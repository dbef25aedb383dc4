package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAppCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Deploy and manage applications",
	}

	cmd.AddCommand(newAppDeployCommand())
	cmd.AddCommand(newAppUndeployCommand())
	cmd.AddCommand(newAppCatalogCommand())

	return cmd
}

func newAppDeployCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "deploy <server> <app>",
		Short: "Deploy an application to a server",
		Long: `Deploy an application and its dependencies to a server.

The install plan is resolved from the catalog: dependencies deploy first,
bundle-mandatory companions are included, and one job is submitted per plan
entry in order.`,
		Example: `  # Deploy an app and its dependencies
  homestead app deploy web1 nextcloud

  # Deploy and wait for the first job
  homestead app deploy web1 nextcloud --wait`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			result, err := rt.orchestrator.DeployApp(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			if wait {
				if err := awaitJob(ctx, rt, result.JobID); err != nil {
					return err
				}
			}
			return printResult(result, func() {
				fmt.Printf("deployment plan: %s\n", strings.Join(result.Apps, " -> "))
				fmt.Printf("first job: %s\n", result.JobID)
			})
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the first job to finish")

	return cmd
}

func newAppUndeployCommand() *cobra.Command {
	var (
		force bool
		wait  bool
	)

	cmd := &cobra.Command{
		Use:   "undeploy <server> <app>",
		Short: "Remove an application from a server",
		Long: `Remove an application from a server in safe dependency order.

Removal is rejected when another deployed application still requires the
app, unless --force is set. Shared dependencies stay in place either way.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			result, err := rt.orchestrator.UndeployApp(ctx, args[0], args[1], force)
			if err != nil {
				return err
			}

			if wait {
				if err := awaitJob(ctx, rt, result.JobID); err != nil {
					return err
				}
			}
			return printResult(result, func() {
				fmt.Printf("removal plan: %s\n", strings.Join(result.Apps, " -> "))
				fmt.Printf("first job: %s\n", result.JobID)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "remove even if other deployments depend on it")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the first job to finish")

	return cmd
}

func newAppCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the application catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			catalog := rt.catalog.Catalog()
			return printResult(catalog, func() {
				for _, app := range catalog.Apps {
					line := app.ID
					if len(app.Dependencies) > 0 {
						line += " (requires " + strings.Join(app.Dependencies, ", ") + ")"
					}
					if app.RequiredByAllApps {
						line += " [bundle-mandatory]"
					}
					fmt.Println(line)
				}
			})
		},
	}

	return cmd
}
