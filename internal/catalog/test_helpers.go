package catalog

import (
	"path/filepath"
	"testing"

	"github.com/motiontrap/camnode/internal/logger"
)

// NewTestManager creates a catalog manager backed by a temporary database
func NewTestManager(t *testing.T) *Manager {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	db, err := NewDatabase(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewManager(db, logger.NewNopLogger())
}
