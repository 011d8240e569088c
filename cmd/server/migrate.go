package main

import (
	"github.com/spf13/cobra"

	"docket/internal/platform/postgres"
)

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := postgres.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				cmd.Println("schema is up to date")
				return nil
			}
			for _, name := range applied {
				cmd.Println("applied", name)
			}
			return nil
		},
	}
}
