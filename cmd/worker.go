package main

import (
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the job worker and the credential scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, err := openServices(ctx, cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		mgr, err := startCredentials(ctx, cfg)
		if err != nil {
			return err
		}
		defer mgr.Stop()

		srv, mux := svc.newWorkerServer(mgr, nil)
		if err := srv.Start(mux.Mux()); err != nil {
			return err
		}
		logr.Info().Int("concurrency", cfg.Jobs.Concurrency).Msg("worker started")
		<-ctx.Done()
		logr.LogInfo("Shutting down worker...")
		srv.Shutdown()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
