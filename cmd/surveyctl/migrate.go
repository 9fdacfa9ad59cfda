package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"surveyforge/api/internal/config"
	"surveyforge/api/internal/store"
)

// newMigrateCmd applies or rolls back the database migrations the API server
// would run at startup, using the same environment configuration.
func newMigrateCmd() *cobra.Command {
	var down bool
	var steps int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			driver, err := store.NormalizeDriver(cfg.DatabaseDriver)
			if err != nil {
				return err
			}
			db, err := store.Open(cmd.Context(), driver, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			dir := store.MigrationsDir(cfg.MigrationsDir, driver)
			if !down {
				if err := store.ApplyMigrations(cmd.Context(), db, dir); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrations applied from %s\n", dir)
				return nil
			}
			n, err := store.RollbackMigrations(cmd.Context(), db, dir, steps)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migrations\n", n)
			return nil
		},
	}
	migrateCmd.Flags().BoolVar(&down, "down", false, "roll back instead of applying")
	migrateCmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back, 0 for all")
	return migrateCmd
}
