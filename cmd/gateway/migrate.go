package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentkernel/gateway/pkg/database"
)

// migrateCmd applies pending schema migrations and exits. It is the same
// migration path NewClient runs automatically on every gateway startup;
// this subcommand exists so operators can apply migrations out-of-band
// (e.g. before a rolling deploy) without starting the server.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dbCfg, err := database.LoadConfigFromEnv()
		if err != nil {
			return fmt.Errorf("load database configuration: %w", err)
		}

		client, err := database.NewClient(cmd.Context(), dbCfg)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		defer client.Close()

		fmt.Println("migrations applied")
		return nil
	},
}
