package db

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
)

func TestOpenWithoutBackendIsNotConfigured(t *testing.T) {
	_, err := Open(Config{}, logger.Nop())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Open: want=%v got=%v", ErrNotConfigured, err)
	}
}

func TestConfigPrefersPostgres(t *testing.T) {
	cfg := Config{PostgresHost: "db", SQLitePath: "x.db"}
	if got := cfg.dialect(); got != "postgres" {
		t.Fatalf("dialect: want=%q got=%q", "postgres", got)
	}
	want := "postgres://postgres:@db:5432/researchbridge?sslmode=disable"
	if got := cfg.postgresDSN(); got != want {
		t.Fatalf("dsn: want=%q got=%q", want, got)
	}
}

func TestOpenSQLiteAndMigrate(t *testing.T) {
	svc, err := Open(Config{SQLitePath: filepath.Join(t.TempDir(), "research.db")}, logger.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer svc.Close()
	if err := svc.AutoMigrateAll(); err != nil {
		t.Fatalf("AutoMigrateAll: %v", err)
	}
	for _, table := range []string{"research_session", "research_step", "research_document", "research_run"} {
		if !svc.DB().Migrator().HasTable(table) {
			t.Fatalf("table %s: want present", table)
		}
	}
}
