package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"reddot-watch/river/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "river.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
