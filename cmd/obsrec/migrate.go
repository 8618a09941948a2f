package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/overtake.report/internal/db"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	migrate := &cobra.Command{Use: "migrate", Short: "Trip database schema commands"}

	open := func(cmd *cobra.Command) (*db.DB, error) {
		cfg, err := root.loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		return db.OpenDB(cfg.GetDBPath())
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := open(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.MigrateUp(); err != nil {
				return err
			}
			return printMigrationStatus(cmd, database)
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := open(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.MigrateDown(); err != nil {
				return err
			}
			return printMigrationStatus(cmd, database)
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := open(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			return printMigrationStatus(cmd, database)
		},
	}

	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Mark the schema as being at version, clearing the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			database, err := open(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.MigrateForce(version); err != nil {
				return err
			}
			return printMigrationStatus(cmd, database)
		},
	}

	migrate.AddCommand(up, down, status, force)
	return migrate
}

func printMigrationStatus(cmd *cobra.Command, database *db.DB) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	latest, err := db.LatestMigrationVersion()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version: %d\nlatest: %d\ndirty: %v\n", version, latest, dirty)
	return nil
}
