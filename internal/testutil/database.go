package testutil

import (
	"testing"

	"mentory-go/internal/database"
	"mentory-go/internal/mentory"
)

// NewTestDatabase creates a new in-memory SQLite journal with migrations applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T, clock mentory.Clock) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
