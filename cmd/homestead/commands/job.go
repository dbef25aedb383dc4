package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/homesteadops/homestead/pkg/engine"
)

func newJobCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and control jobs",
	}

	cmd.AddCommand(newJobStatusCommand())
	cmd.AddCommand(newJobLogsCommand())
	cmd.AddCommand(newJobListCommand())
	cmd.AddCommand(newJobCancelCommand())
	cmd.AddCommand(newJobCleanupCommand())

	return cmd
}

func newJobStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			job, err := rt.manager.GetStatus(ctx, args[0])
			if err != nil {
				return err
			}

			return printResult(job, func() {
				fmt.Printf("id:      %s\n", job.ID)
				fmt.Printf("kind:    %s\n", job.Kind)
				fmt.Printf("target:  %s\n", job.Target)
				fmt.Printf("status:  %s\n", job.Status)
				if job.CancellationRequested && !job.Status.IsTerminal() {
					fmt.Println("cancellation requested")
				}
				if job.Error != nil {
					fmt.Printf("error:   %s\n", job.Error.Error())
				}
			})
		},
	}

	return cmd
}

func newJobLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Show a job's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			logs, err := rt.manager.GetLogs(ctx, args[0])
			if err != nil {
				return err
			}

			return printResult(logs, func() {
				for _, entry := range logs {
					step := entry.Step
					if step != "" {
						step = "[" + step + "] "
					}
					fmt.Printf("%s %-7s %s%s\n",
						entry.Timestamp.Format(time.RFC3339), entry.Level, step, entry.Message)
				}
			})
		},
	}

	return cmd
}

func newJobListCommand() *cobra.Command {
	var (
		kind   string
		target string
		status string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			jobs, err := rt.store.ListJobs(ctx, engine.JobFilter{
				Kind:   engine.JobKind(kind),
				Target: target,
				Status: engine.JobStatus(status),
			})
			if err != nil {
				return err
			}

			return printResult(jobs, func() {
				if len(jobs) == 0 {
					fmt.Println("no jobs")
					return
				}
				for _, job := range jobs {
					fmt.Printf("%-36s %-14s %-20s %-10s %s\n",
						job.ID, job.Kind, job.Target, job.Status,
						job.CreatedAt.Format(time.RFC3339))
				}
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "filter by job kind")
	cmd.Flags().StringVar(&target, "target", "", "filter by target server")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")

	return cmd
}

func newJobCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a job",
		Long: `Request cancellation of a queued or running job.

Cancellation is cooperative: a running job resolves at its next step
boundary, and a step already in flight completes or fails on its own.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			accepted, err := rt.manager.Cancel(ctx, args[0])
			if err != nil {
				return err
			}

			if accepted {
				fmt.Printf("cancellation requested for job %s\n", args[0])
			} else {
				fmt.Printf("job %s is already finished\n", args[0])
			}
			return nil
		},
	}

	return cmd
}

func newJobCleanupCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old finished jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			removed, err := rt.manager.Cleanup(ctx, olderThan)
			if err != nil {
				return err
			}

			fmt.Printf("removed %d job(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete jobs that finished before this age")

	return cmd
}
