// Package storetest opens throwaway databases for tests of packages built on the store.
package storetest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"table-status-backend/internal/db"
	"table-status-backend/internal/store"
)

// NewSQLite returns a store over a private in-memory database with the full schema.
// The database is closed when the test ends.
func NewSQLite(t testing.TB) store.Store {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), db.GormConfig(logger.Silent))
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	// A single connection keeps the in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return store.NewGormStore(gormDB)
}
