package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/researchbridge-backend/internal/db"
	httpx "github.com/yungbote/researchbridge-backend/internal/http"
	httpH "github.com/yungbote/researchbridge-backend/internal/http/handlers"
	"github.com/yungbote/researchbridge-backend/internal/observability"
	"github.com/yungbote/researchbridge-backend/internal/platform/envutil"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/research"
)

const serviceName = "researchbridge"

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *db.Service
	Repos    Repos
	Clients  Clients
	Services Services
	Server   *httpx.Server
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	LoadEnvFiles(nil)
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	cfg := LoadConfig(log)
	log.Info("Config loaded", "env", cfg.Environment, "generator", cfg.GeneratorMode, "temporal", cfg.Temporal.Enabled())

	a := &App{Log: log, Cfg: cfg}
	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	a.Metrics = observability.Init(log)

	var gdb *gorm.DB
	dbService, err := db.Open(cfg.DB, log)
	switch {
	case errors.Is(err, db.ErrNotConfigured):
		log.Warn("No database configured; research endpoints will answer 503")
	case err != nil:
		a.Close()
		return nil, fmt.Errorf("failed to init db: %w", err)
	default:
		if err := dbService.AutoMigrateAll(); err != nil {
			_ = dbService.Close()
			a.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		a.DB = dbService
		gdb = dbService.DB()
		a.Repos = wireRepos(gdb, log)
	}

	profile := wireProfile(log, cfg)

	clients, err := wireClients(ctx, log, cfg, profile)
	a.Clients = clients
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init clients: %w", err)
	}

	svcs, err := wireServices(gdb, log, cfg, a.Repos, clients, profile)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to wire services: %w", err)
	}
	a.Services = svcs

	a.Server = httpx.NewServer(httpx.RouterConfig{
		Log:             log,
		ServiceName:     serviceName,
		CORSOrigins:     cfg.CORSOrigins,
		Metrics:         a.Metrics,
		HealthHandler:   httpH.NewHealthHandler(),
		ResearchHandler: httpH.NewResearchHandler(log, svcs.Lifecycle, svcs.Forker, svcs.Reader, cfg.MaxUploadBytes),
	}, ":"+cfg.Port)
	return a, nil
}

// wireProfile applies OPENAI_MODEL on top of the loaded research profile.
func wireProfile(log *logger.Logger, cfg Config) *research.Profile {
	p := *research.CurrentProfile(log)
	if cfg.OpenAI.Model != "" {
		p.Model = cfg.OpenAI.Model
	}
	return &p
}

// Run serves HTTP and executes runs until ctx is done or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Server.Run(gctx)
	})

	if w := a.Services.Worker; w != nil {
		w.Start(gctx)
		g.Go(func() error {
			w.Wait()
			return nil
		})
	}
	if tw := a.Services.TemporalWorker; tw != nil {
		g.Go(func() error {
			if err := tw.Start(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("temporal worker: %w", err)
			}
			return nil
		})
	}

	if a.Clients.Cache != nil {
		a.Metrics.StartRedisCollector(gctx, a.Log, a.Clients.Cache.Client())
	}
	if runs := a.Repos.Runs; runs != nil {
		a.Metrics.StartRunQueueCollector(gctx, a.Log, func(ctx context.Context) (map[string]int64, error) {
			counts, err := runs.CountByStatus(ctx, nil)
			if err != nil {
				return nil, err
			}
			out := make(map[string]int64, len(counts))
			for status, n := range counts {
				out[string(status)] = n
			}
			return out, nil
		})
	}

	a.Log.Info("Research orchestrator running", "port", a.Cfg.Port)
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Clients.Temporal != nil {
		a.Clients.Temporal.Close()
	}
	if a.Clients.Cache != nil {
		_ = a.Clients.Cache.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && a.Log != nil {
			a.Log.Warn("Failed to close db", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
