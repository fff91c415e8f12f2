package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/melosso/reef/config"
	"github.com/melosso/reef/logger"
)

// MigrateCmd applies pending database migrations and exits.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := logger.Initialize(cfg.Log.JSON); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logger.Cleanup()

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Printf("Database %s is up to date\n", cfg.Database.Path)
		return nil
	},
}
