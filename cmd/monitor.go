package main

import (
	"encoding/json"
	"fmt"

	"harvester/internal/core/events"
	rds "harvester/internal/platform/redis"

	"github.com/spf13/cobra"
)

var monitorJSON bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stream job lifecycle events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		redisSvc, err := rds.New(rds.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			return err
		}
		defer redisSvc.Close()

		out := cmd.OutOrStdout()
		logr.LogInfof("listening on %s", events.Channel)
		return events.Subscribe(ctx, redisSvc, func(e events.Event) {
			if monitorJSON {
				b, _ := json.Marshal(e)
				fmt.Fprintln(out, string(b))
				return
			}
			fmt.Fprintln(out, formatEvent(e))
		})
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorJSON, "json", false, "print raw JSON events")
	rootCmd.AddCommand(monitorCmd)
}

func formatEvent(e events.Event) string {
	head := fmt.Sprintf("%s %-9s %s %q", e.At.Local().Format("15:04:05"), e.Type, e.JobID, e.Term)
	switch e.Type {
	case events.TypeProgress:
		return fmt.Sprintf("%s %d%%", head, e.Progress)
	case events.TypeCompleted:
		return fmt.Sprintf("%s new=%d updated=%d attempt=%d", head, e.ResultCount, e.Updated, e.Attempt)
	case events.TypeFailed, events.TypeRetrying:
		return fmt.Sprintf("%s attempt=%d/%d kind=%s error=%s", head, e.Attempt, e.MaxAttempts, e.Kind, e.Error)
	default:
		return fmt.Sprintf("%s attempt=%d", head, e.Attempt)
	}
}
