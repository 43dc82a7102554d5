package main

import (
	"encoding/json"
	"fmt"
	"time"

	"harvester/internal/platform/tasks"

	"github.com/spf13/cobra"
)

var (
	enqueuePriority string
	enqueueAttempts int
	enqueueBackoff  time.Duration
	retryLimit      int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <term>...",
	Short: "Submit one job per search term",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prio, err := tasks.ParsePriority(enqueuePriority)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		svc, err := openServices(ctx, cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		opts := tasks.EnqueueOptions{Priority: prio, Attempts: enqueueAttempts, Backoff: enqueueBackoff}
		failed := 0
		for _, term := range args {
			id, err := svc.enqueuer.Enqueue(ctx, term, opts)
			if err != nil {
				failed++
				logr.Warn().Str("term", term).Err(err).Msg("not enqueued")
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, term)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d terms not enqueued", failed, len(args))
		}
		return nil
	},
}

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Re-queue search terms whose jobs have only ever failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := openServices(ctx, cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.enqueuer.RetryFailed(ctx, retryLimit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueuePriority, "priority", "normal", "high, normal or low")
	enqueueCmd.Flags().IntVar(&enqueueAttempts, "attempts", 0, "total attempts per job (default JOB_ATTEMPTS)")
	enqueueCmd.Flags().DurationVar(&enqueueBackoff, "backoff", 0, "initial retry delay (default JOB_BACKOFF)")
	retryFailedCmd.Flags().IntVar(&retryLimit, "limit", 100, "maximum number of terms to re-queue")
	rootCmd.AddCommand(enqueueCmd, retryFailedCmd)
}
