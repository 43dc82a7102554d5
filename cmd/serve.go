package main

import (
	"time"

	"harvester/internal/core/ingest"
	"harvester/internal/platform/tasks"
	"harvester/internal/server"

	"github.com/spf13/cobra"
)

var serveOrchestrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the job worker and the credential scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveOrchestrate, "orchestrate", false, "also run the orchestrator loop in this process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	logr.Info().Str("addr", cfg.HTTPAddr).Str("env", cfg.AppEnv).Bool("orchestrate", serveOrchestrate).Msg("starting harvester")

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

	// With the orchestrator in-process, finished terms reach the generator
	// corpus without waiting for a reload.
	var terms ingest.TermRecorder
	if serveOrchestrate {
		gen, corpus, err := svc.newGenerator(ctx)
		if err != nil {
			return err
		}
		terms = corpus
		inspector := tasks.NewInspector(svc.redis)
		defer inspector.Close()
		orch := svc.newOrchestrator(gen, corpus, inspector)
		go func() {
			if err := orch.Run(ctx); err != nil {
				logr.LogError("orchestrator stopped", err)
			}
		}()
	}

	asynqServer, mux := svc.newWorkerServer(mgr, terms)
	if err := asynqServer.Start(mux.Mux()); err != nil {
		return err
	}

	app := server.NewApp()
	healthHandler := server.RegisterRoutes(app, server.Dependencies{
		Jobs:       svc.jobs,
		Submitter:  svc.enqueuer,
		Records:    svc.store,
		Credential: mgr,
		Cache:      svc.redis,
		Checks:     svc.healthChecks(mgr),
	})
	healthHandler.SetReady()

	go func() {
		<-ctx.Done()
		logr.LogInfo("Shutting down...")
		asynqServer.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	return app.Listen(cfg.HTTPAddr)
}
