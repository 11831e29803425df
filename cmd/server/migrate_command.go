package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/thumbforge/internal/config"
	"github.com/rpattn/thumbforge/internal/db"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(db.Up), string(db.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Backend == config.BackendMemory {
				return fmt.Errorf("migrate requires the postgres storage backend")
			}
			direction := db.Up
			if len(args) == 1 {
				direction = db.Direction(args[0])
			}

			conn, err := db.NewConnection(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.RunMigrations(conn.Pool, direction); err != nil {
				return err
			}
			version, dirty, err := db.MigrationVersion(conn.Pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d (dirty: %v)\n", version, dirty)
			return nil
		},
	}
}
