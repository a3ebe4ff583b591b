// Package dbtest opens throwaway sqlite databases for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"github.com/yungbote/researchbridge-backend/internal/db"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
)

// Open returns a migrated sqlite-backed *gorm.DB that is closed when t ends.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	svc, err := db.Open(db.Config{SQLitePath: filepath.Join(t.TempDir(), "research.db")}, logger.Nop())
	if err != nil {
		t.Fatalf("dbtest: open: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	if err := svc.AutoMigrateAll(); err != nil {
		t.Fatalf("dbtest: migrate: %v", err)
	}
	return svc.DB()
}
