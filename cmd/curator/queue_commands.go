package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"curator/internal/jobqueue"
)

func newQueueCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show durable job queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(cctx)
			if err != nil {
				return err
			}
			defer store.Close()

			counts, err := store.Counts(cmd.Context())
			if err != nil {
				return err
			}
			if len(counts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
				return nil
			}

			rows := make([][]string, 0, len(counts))
			for _, c := range counts {
				rows = append(rows, []string{c.Queue, strconv.Itoa(c.Pending), strconv.Itoa(c.Claimed)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Queue", "Pending", "Claimed"}, rows, 2, 3))
			return nil
		},
	}
	return cmd
}

func newDLQCommand(cctx *commandContext) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered jobs",
	}
	dlqCmd.AddCommand(newDLQListCommand(cctx))
	dlqCmd.AddCommand(newDLQRequeueCommand(cctx))
	dlqCmd.AddCommand(newDLQClearCommand(cctx))
	return dlqCmd
}

func newDLQListCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(cctx)
			if err != nil {
				return err
			}
			defer store.Close()

			letters, err := store.DeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			if len(letters) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dead-lettered jobs.")
				return nil
			}

			rows := make([][]string, 0, len(letters))
			for _, dl := range letters {
				rows = append(rows, []string{
					dl.ID,
					dl.Queue,
					dl.BusinessKey,
					dl.FailedAt.Format("2006-01-02 15:04:05"),
					dl.Error,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Queue", "Record", "Failed At", "Error"}, rows))
			return nil
		},
	}
}

func newDLQRequeueCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <dead-letter-id>",
		Short: "Return a dead-lettered job to its queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(cctx)
			if err != nil {
				return err
			}
			defer store.Close()

			requeued, err := store.Requeue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !requeued {
				return fmt.Errorf("no dead letter with id %s, or its record already has a job in flight", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", args[0])
			return nil
		},
	}
}

func newDLQClearCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard all dead-lettered jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(cctx)
			if err != nil {
				return err
			}
			defer store.Close()

			cleared, err := store.ClearDeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d dead-lettered job(s)\n", cleared)
			return nil
		},
	}
}

func openQueue(cctx *commandContext) (*jobqueue.Store, error) {
	cfg, err := cctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return jobqueue.Open(cfg.Paths.DataDir)
}
