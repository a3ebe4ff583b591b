package db

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

// ErrNotConfigured is returned by Open when no persistence backend is configured.
var ErrNotConfigured = errors.New("persistence not configured")

type Config struct {
	PostgresURL      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresName     string
	SQLitePath       string
	Verbose          bool
}

func (c Config) Configured() bool {
	return c.dialect() != ""
}

func (c Config) dialect() string {
	switch {
	case strings.TrimSpace(c.PostgresURL) != "", strings.TrimSpace(c.PostgresHost) != "":
		return "postgres"
	case strings.TrimSpace(c.SQLitePath) != "":
		return "sqlite"
	default:
		return ""
	}
}

func (c Config) postgresDSN() string {
	if dsn := strings.TrimSpace(c.PostgresURL); dsn != "" {
		return dsn
	}
	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}
	user := c.PostgresUser
	if user == "" {
		user = "postgres"
	}
	name := c.PostgresName
	if name == "" {
		name = "researchbridge"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, c.PostgresPassword, c.PostgresHost, port, name)
}

type Service struct {
	db      *gorm.DB
	dialect string
	log     *logger.Logger
}

func Open(cfg Config, log *logger.Logger) (*Service, error) {
	serviceLog := log.With("service", "DBService")
	gormCfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if cfg.Verbose {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	var (
		theDB *gorm.DB
		err   error
	)
	dialect := cfg.dialect()
	switch dialect {
	case "postgres":
		serviceLog.Info("Connecting to Postgres...")
		theDB, err = gorm.Open(postgres.Open(cfg.postgresDSN()), gormCfg)
	case "sqlite":
		serviceLog.Info("Opening SQLite database...", "path", cfg.SQLitePath)
		theDB, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.SQLitePath)), gormCfg)
		if err == nil {
			// sqlite serializes writers; a single connection avoids SQLITE_BUSY under the worker pool.
			if sqlDB, dbErr := theDB.DB(); dbErr == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
	default:
		return nil, ErrNotConfigured
	}
	if err != nil {
		serviceLog.Error("Failed to open database", "dialect", dialect, "error", err)
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	return &Service{db: theDB, dialect: dialect, log: serviceLog}, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_foreign_keys=off"
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating research tables...")
	if err := s.db.AutoMigrate(
		&types.ResearchSession{},
		&types.ResearchStep{},
		&types.ResearchDocument{},
		&types.ResearchRun{},
	); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}

func (s *Service) DB() *gorm.DB {
	return s.db
}

func (s *Service) Dialect() string {
	return s.dialect
}

func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
