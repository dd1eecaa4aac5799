package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Strob0t/projectchat/internal/adapter/postgres"
	"github.com/Strob0t/projectchat/internal/adapter/sqlite"
	"github.com/Strob0t/projectchat/internal/config"
)

var errSQLiteMigrations = errors.New("sqlite migrations are applied on open; only \"up\" is supported")

func migrateCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver == config.DriverSQLite {
				s, err := sqlite.Open(cmd.Context(), cfg.SQLite.Path)
				if err != nil {
					return err
				}
				return s.Close()
			}
			if err := postgres.RunMigrations(cmd.Context(), cfg.Postgres.DSN); err != nil {
				return err
			}
			cmd.Println("migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back the last migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid steps %q", args[0])
				}
				steps = n
			}
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver == config.DriverSQLite {
				return errSQLiteMigrations
			}
			if err := postgres.RollbackMigrations(cmd.Context(), cfg.Postgres.DSN, steps); err != nil {
				return err
			}
			cmd.Printf("rolled back %d migration(s)\n", steps)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver == config.DriverSQLite {
				return errSQLiteMigrations
			}
			v, err := postgres.MigrationVersion(cmd.Context(), cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			cmd.Println(v)
			return nil
		},
	})
	return cmd
}
