package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/thesis-registration-api/pkg/config"
	"github.com/noah-isme/thesis-registration-api/pkg/database"
)

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.NewPostgres(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			applied, err := database.ApplyMigrations(cmd.Context(), db, dir)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(applied)
			}
			for _, name := range applied {
				fmt.Println("applied", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "directory holding *.sql files")
	return cmd
}
