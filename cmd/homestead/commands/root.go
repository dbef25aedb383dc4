package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "homestead",
		Short: "Homestead - Self-hosted Infrastructure Control Plane",
		Long: `Homestead provisions servers from a cloud provider, attaches DNS, and
deploys a catalog of applications onto those servers, tracking everything
as durable state.

Features:
  - Asynchronous job engine with cooperative cancellation
  - Dependency-resolved application install plans with bundle support
  - DNS-first consistency for every server and deployment
  - Durable SQLite state surviving restarts
  - Encrypted credentials vault for generated secrets`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServerCommand())
	rootCmd.AddCommand(newAppCommand())
	rootCmd.AddCommand(newInfraCommand())
	rootCmd.AddCommand(newJobCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}
