package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"harvester/internal/config"
	"harvester/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfg  config.Config
	logr *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:           "harvester",
	Short:         "Harvest property records from a public appraisal search API",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logr = logger.NewWithConfig("main", logger.Config{
			IsProduction: cfg.AppEnv == "production",
			AppEnv:       cfg.AppEnv,
			Level:        cfg.LogLevel,
		})
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		l := logr
		if l == nil {
			l = logger.New("main")
		}
		l.LogError("command failed", err)
		os.Exit(1)
	}
}
