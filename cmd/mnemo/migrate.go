package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mnemo/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDatabase(); err != nil {
			return err
		}
		if err := store.MigrateUp(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDatabase(); err != nil {
			return err
		}
		if err := store.MigrateDown(cfg.Database.URL); err != nil {
			return err
		}
		logger.Warn("rolled back one migration", zap.String("database", "mnemo"))
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDatabase(); err != nil {
			return err
		}
		return store.MigrateStatus(cfg.Database.URL)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}
