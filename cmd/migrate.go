package main

import (
	"harvester/internal/platform/postgres"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		ctx := cmd.Context()
		pg, err := postgres.New(ctx, postgres.Options{URL: cfg.DatabaseURL, MaxConns: 1})
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		logr.LogSuccess("schema applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
