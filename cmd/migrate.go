// services/install/cmd/migrate.go
package cmd

import (
	"fmt"

	"example.com/backstage/services/install/internal/infrastructure"
	"example.com/backstage/services/install/internal/tracker"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Creates or updates the tracker tables used by the postgres backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrations()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrations() error {
	logger.Info("Running database migrations...")

	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := tracker.Migrate(db.DB); err != nil {
		return fmt.Errorf("failed to migrate tracker tables: %w", err)
	}

	logger.Info("Database migrations completed successfully")
	return nil
}
