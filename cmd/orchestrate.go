package main

import (
	"harvester/internal/platform/tasks"

	"github.com/spf13/cobra"
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Feed the queue with generated terms until the record target is reached",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, err := openServices(ctx, cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		gen, corpus, err := svc.newGenerator(ctx)
		if err != nil {
			return err
		}
		inspector := tasks.NewInspector(svc.redis)
		defer inspector.Close()

		for _, s := range gen.Strategies() {
			logr.Debug().Str("strategy", string(s.Kind)).Float64("weight", s.Weight).Msg("generator strategy")
		}
		return svc.newOrchestrator(gen, corpus, inspector).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(orchestrateCmd)
}
