package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and cancel background indexing jobs",
	}
	cmd.AddCommand(newJobStatusCmd())
	cmd.AddCommand(newJobCancelCmd())
	return cmd
}

func newJobStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print a job's current status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			rec, err := engine.GetJob(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s progress=%d/%d collection=%s\n",
				rec.Status, rec.Progress.Current, rec.Progress.Total, rec.Collection)
			if rec.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "error=%s\n", rec.Error)
			}
			return nil
		},
	}
}

func newJobCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cooperative cancellation of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			cancelled, err := engine.CancelJob(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled=%v\n", cancelled)
			return nil
		},
	}
}
