package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// newTestDB opens a fresh in-memory SQLite database with the full schema
// migrated, for use by this package's own repository tests.
func newTestDB(t *testing.T) *gorm.DB {
	db, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(AllModels()...))
	return db
}
