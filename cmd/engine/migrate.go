package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vedagro/backend/internal/database/migrations"
)

var (
	migrateRollback bool
	migrateList     bool
)

func init() {
	migrateCmd.Flags().BoolVar(&migrateRollback, "rollback", false, "revert the most recent migration")
	migrateCmd.Flags().BoolVar(&migrateList, "list", false, "list known migrations without touching the database")
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if migrateList {
			for _, id := range migrations.IDs() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		}

		// openDB migrates forward on connect
		db, err := openDB(cfg, log)
		if err != nil {
			return err
		}
		if migrateRollback {
			if err := migrations.Rollback(db); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back last migration")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "database at migration %s\n", lastMigration())
		return nil
	},
}

func lastMigration() string {
	ids := migrations.IDs()
	if len(ids) == 0 {
		return "none"
	}
	return ids[len(ids)-1]
}
