package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var sweepFailed bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-enqueue due retries and stalled deliveries once and exit",
	Long: `sweep runs one retry sweep: retrying deliveries whose next attempt is due
are put back on the task queue, attempts left in progress for longer than
WEBHOOK_STALL_TIMEOUT are closed and retried, and pending deliveries that lost
their task are enqueued again. With --failed it also re-attempts deliveries
that failed within WEBHOOK_FAILED_WINDOW.

Without a shared queue backend (QUEUE_BACKEND=asynq) the re-enqueued tasks
live only in this process, so use it with asynq.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, func(ctx context.Context, a *app) (any, error) {
			stats, err := a.sweeper.SweepDue(ctx)
			if err != nil {
				return stats, err
			}
			stalled, err := a.sweeper.SweepStalled(ctx)
			stats.Stalled, stats.Reclaimed = stalled.Stalled, stalled.Reclaimed
			stats.Requeued += stalled.Requeued
			stats.Duplicates += stalled.Duplicates
			if err != nil || !sweepFailed {
				return stats, err
			}
			failed, err := a.sweeper.SweepFailed(ctx, a.settings.Webhook.FailedWindow)
			stats.Failed = failed.Failed
			stats.Retried = failed.Retried
			return stats, err
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished deliveries past retention once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, func(ctx context.Context, a *app) (any, error) {
			return a.cleaner.Run(ctx)
		})
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepFailed, "failed", false, "Also re-attempt recently failed deliveries")
}

// runJob builds the app, runs fn and prints its stats as JSON.
func runJob(cmd *cobra.Command, fn func(context.Context, *app) (any, error)) error {
	ctx := cmd.Context()
	s, err := loadSettings()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, s)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := fn(ctx, a)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
