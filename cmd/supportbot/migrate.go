package main

import (
	"github.com/spf13/cobra"

	dbmigrations "github.com/memohai/supportbot/db"
	"github.com/memohai/supportbot/internal/db"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	run := func(command string) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			return db.RunMigrate(log, cfg.Postgres, dbmigrations.Migrations(), command, args)
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run(db.MigrateUp)},
		&cobra.Command{Use: "down", Short: "Roll back all migrations", Args: cobra.NoArgs, RunE: run(db.MigrateDown)},
		&cobra.Command{Use: "version", Short: "Print the current schema version", Args: cobra.NoArgs, RunE: run(db.MigrateVersion)},
		&cobra.Command{Use: "force VERSION", Short: "Force the schema version after a failed migration", Args: cobra.ExactArgs(1), RunE: run(db.MigrateForce)},
	)
	return cmd
}
