package database

import (
	"fmt"
	"log/slog"
	"strings"
)

// NewDatabase opens the configured database and makes sure the review schema and
// the seeded catalogue exist
func NewDatabase(databaseType, connectionString string) (DatabaseService, error) {
	var database DatabaseService
	switch strings.ToLower(databaseType) {
	case "sqlite", "sqlite3":
		db, err := NewSQLiteDatabase(connectionString)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		database = db
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", databaseType)
	}

	slog.Info("initializing database schema", "type", databaseType)
	if _, err := database.CreateDatabase(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return database, nil
}
