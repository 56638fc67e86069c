// Package dbtest opens throwaway in-memory databases with the production
// schema for service tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stepun/botoracle/internal/platform/db"
	"github.com/stepun/botoracle/pkg/gormlog"
	"github.com/stepun/botoracle/pkg/tool"
)

// New returns a migrated sqlite database private to t. It holds a single
// connection, so concurrent callers serialize the way row locks would make
// them serialize on postgres.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	log := zap.NewNop().Sugar()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000&_foreign_keys=on", tool.GenerateUUIDV7())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlog.New(log, "error", 0),
		NowFunc: db.NowUTC,
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(log, gdb))
	return gdb
}
