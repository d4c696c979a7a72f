package database

import (
	"fmt"
	"os"
	"path/filepath"

	"mentory-go/internal/config"
	"mentory-go/internal/mentory"
)

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, storeID string, clock mentory.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("%w: creating data dir: %v", mentory.ErrStorageUnavailable, err)
		}
		return NewSQLiteDatabase(JournalPath(cfg.DataDir, storeID), clock)
	case "memory":
		return NewSQLiteDatabase(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// JournalPath returns where the journal for storeID lives inside dataDir.
func JournalPath(dataDir, storeID string) string {
	return filepath.Join(dataDir, storeID+".db")
}
