package app

import (
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/researchbridge-backend/internal/cache"
	"github.com/yungbote/researchbridge-backend/internal/db"
	"github.com/yungbote/researchbridge-backend/internal/jobs/worker"
	"github.com/yungbote/researchbridge-backend/internal/platform/envutil"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/platform/openai"
	"github.com/yungbote/researchbridge-backend/internal/temporalx"
)

const (
	GeneratorOpenAI = "openai"
	GeneratorMock   = "mock"
)

type Config struct {
	Port           string
	Environment    string
	Version        string
	CORSOrigins    []string
	MaxUploadBytes int64
	PersistTimeout time.Duration
	GeneratorMode  string

	DB       db.Config
	Worker   worker.Config
	OpenAI   openai.Config
	Cache    cache.Config
	Temporal temporalx.Config
}

// LoadEnvFiles loads .env when present. Variables already set win.
func LoadEnvFiles(log *logger.Logger) {
	if err := godotenv.Load(); err == nil && log != nil {
		log.Info("Loaded .env")
	}
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:           envutil.String("PORT", "8080"),
		Environment:    envutil.String("APP_ENV", "development"),
		Version:        envutil.String("APP_VERSION", "dev"),
		CORSOrigins:    splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),
		MaxUploadBytes: envutil.Int64("MAX_UPLOAD_BYTES", 32<<20),
		PersistTimeout: envutil.Seconds("PERSIST_TIMEOUT_SECONDS", 15*time.Second),
		GeneratorMode:  strings.ToLower(envutil.String("GENERATOR_MODE", "")),

		DB: db.Config{
			PostgresURL:      envutil.String("POSTGRES_URL", ""),
			PostgresHost:     envutil.String("POSTGRES_HOST", ""),
			PostgresPort:     envutil.String("POSTGRES_PORT", "5432"),
			PostgresUser:     envutil.String("POSTGRES_USER", ""),
			PostgresPassword: envutil.String("POSTGRES_PASSWORD", ""),
			PostgresName:     envutil.String("POSTGRES_NAME", ""),
			SQLitePath:       envutil.String("SQLITE_PATH", ""),
			Verbose:          envutil.Bool("DB_VERBOSE", false),
		},
		Worker: worker.Config{
			Concurrency:  envutil.Int("WORKER_CONCURRENCY", 4),
			PollInterval: envutil.Millis("WORKER_POLL_INTERVAL_MS", time.Second),
			StaleAfter:   envutil.Seconds("WORKER_STALE_RUN_SECONDS", 30*time.Minute),
			SweepEvery:   envutil.Seconds("WORKER_SWEEP_INTERVAL_SECONDS", time.Minute),
		},
		OpenAI:   openai.ConfigFromEnv(),
		Cache:    cache.ConfigFromEnv(),
		Temporal: temporalx.LoadConfig(),
	}

	switch cfg.GeneratorMode {
	case GeneratorOpenAI, GeneratorMock:
	case "":
		cfg.GeneratorMode = GeneratorOpenAI
		if cfg.OpenAI.APIKey == "" {
			cfg.GeneratorMode = GeneratorMock
		}
	default:
		if log != nil {
			log.Warn("Unknown GENERATOR_MODE; using mock", "mode", cfg.GeneratorMode)
		}
		cfg.GeneratorMode = GeneratorMock
	}
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
