package commands

import (
	"database/sql"

	"github.com/melosso/reef/config"
	"github.com/melosso/reef/db"
	"github.com/melosso/reef/logger"
)

// openDatabase opens the configured SQLite database and applies pending
// migrations.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
