package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/homesteadops/homestead/pkg/engine"
)

func newServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage servers",
	}

	cmd.AddCommand(newServerSetupCommand())
	cmd.AddCommand(newServerDeleteCommand())
	cmd.AddCommand(newServerListCommand())
	cmd.AddCommand(newServerDNSCommand())

	return cmd
}

func newServerSetupCommand() *cobra.Command {
	var (
		zone      string
		subdomain string
		provider  string
		region    string
		size      string
		image     string
		wait      bool
	)

	cmd := &cobra.Command{
		Use:   "setup <name>",
		Short: "Provision a new server",
		Long: `Provision a new server with the configured cloud provider.

A DNS zone is mandatory: no server exists without a DNS configuration, and
all application domains derive from it.`,
		Example: `  # Provision with a zone
  homestead server setup web1 --zone example.com

  # Provision under a subdomain, waiting for completion
  homestead server setup web1 --zone example.com --subdomain stage --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			jobID, err := rt.orchestrator.SetupServer(ctx, args[0], zone, subdomain, engine.ServerOptions{
				Provider: provider,
				Region:   region,
				Size:     size,
				Image:    image,
			})
			if err != nil {
				return err
			}

			if wait {
				return awaitJob(ctx, rt, jobID)
			}
			return printResult(map[string]string{"job_id": jobID}, func() {
				fmt.Printf("server setup submitted: job %s\n", jobID)
			})
		},
	}

	cmd.Flags().StringVar(&zone, "zone", "", "DNS zone name (required)")
	cmd.Flags().StringVar(&subdomain, "subdomain", "", "optional subdomain under the zone")
	cmd.Flags().StringVar(&provider, "provider", "", "cloud provider override")
	cmd.Flags().StringVar(&region, "region", "", "provider region")
	cmd.Flags().StringVar(&size, "size", "", "instance size")
	cmd.Flags().StringVar(&image, "image", "", "instance image")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the job to finish")
	_ = cmd.MarkFlagRequired("zone")

	return cmd
}

func newServerDeleteCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Deprovision a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			jobID, err := rt.orchestrator.DeleteServer(ctx, args[0])
			if err != nil {
				return err
			}

			if wait {
				return awaitJob(ctx, rt, jobID)
			}
			return printResult(map[string]string{"job_id": jobID}, func() {
				fmt.Printf("server delete submitted: job %s\n", jobID)
			})
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the job to finish")

	return cmd
}

func newServerDNSCommand() *cobra.Command {
	var (
		zone      string
		subdomain string
		wait      bool
	)

	cmd := &cobra.Command{
		Use:   "dns <name>",
		Short: "Replace a server's DNS configuration",
		Example: `  # Move a server to a new zone
  homestead server dns web1 --zone new-zone.com --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			jobID, err := rt.orchestrator.UpdateDNS(ctx, args[0], zone, subdomain)
			if err != nil {
				return err
			}

			if wait {
				return awaitJob(ctx, rt, jobID)
			}
			return printResult(map[string]string{"job_id": jobID}, func() {
				fmt.Printf("dns update submitted: job %s\n", jobID)
			})
		},
	}

	cmd.Flags().StringVar(&zone, "zone", "", "new DNS zone name (required)")
	cmd.Flags().StringVar(&subdomain, "subdomain", "", "optional subdomain under the zone")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the job to finish")
	_ = cmd.MarkFlagRequired("zone")

	return cmd
}

func newServerListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			servers, err := rt.store.ListServers(ctx)
			if err != nil {
				return err
			}

			return printResult(servers, func() {
				if len(servers) == 0 {
					fmt.Println("no servers")
					return
				}
				for _, s := range servers {
					zone := ""
					if s.DNS != nil {
						zone = s.DNS.Domain(s.Name)
					}
					fmt.Printf("%-20s %-12s %-15s %s\n", s.Name, s.Status, s.IPAddress, zone)
				}
			})
		},
	}

	return cmd
}
