package repository

import (
	"fmt"
	"strings"
	"testing"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", strings.ReplaceAll(t.Name(), "/", "_"))
	return openTestDB(t, dsn)
}

// newFileTestDB backs the database with a real file so concurrent
// transactions contend through the busy handler instead of shared-cache
// table locks.
func newFileTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s/test.db?_busy_timeout=5000&_journal_mode=WAL", t.TempDir())
	return openTestDB(t, dsn)
}

func openTestDB(t *testing.T, dsn string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Session{},
		&domain.PremiumKey{},
		&domain.Entitlement{},
		&domain.UserJob{},
		&domain.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
