package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/researchbridge-backend/internal/jobs"
	"github.com/yungbote/researchbridge-backend/internal/jobs/worker"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/research"
	"github.com/yungbote/researchbridge-backend/internal/services"
	"github.com/yungbote/researchbridge-backend/internal/temporalx/researchrun"
	"github.com/yungbote/researchbridge-backend/internal/temporalx/temporalworker"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

type Services struct {
	Gateway   services.Gateway
	Lifecycle *services.Lifecycle
	Forker    *services.Forker
	Reader    *services.Reader

	Runner         *jobs.Runner
	Worker         *worker.Worker
	TemporalWorker *temporalworker.Runner
}

// wireServices builds the research services. A nil db yields the
// not-configured gateway and no run execution.
func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repoSet Repos, clients Clients, profile *research.Profile) (Services, error) {
	log.Info("Wiring services...")
	var out Services

	var snapshots services.SnapshotCache
	if clients.Cache != nil {
		snapshots = clients.Cache
	}

	if db == nil {
		out.Gateway = services.NewUnconfiguredGateway()
		out.Lifecycle = services.NewLifecycle(log, out.Gateway, clients.Source, profile, nil, cfg.PersistTimeout)
		out.Forker = services.NewForker(log, out.Gateway, out.Lifecycle)
		out.Reader = services.NewReader(log, out.Gateway, nil)
		return out, nil
	}

	out.Gateway = services.NewGateway(db, log, repoSet.Sessions, repoSet.Steps, repoSet.Documents)

	var dispatch jobs.Dispatcher = jobs.NewQueueDispatcher(repoSet.Runs, log)
	if clients.Temporal != nil {
		dispatch = researchrun.NewDispatcher(log, clients.Temporal, repoSet.Runs, cfg.Temporal.TaskQueue)
	}

	out.Lifecycle = services.NewLifecycle(log, out.Gateway, clients.Source, profile, dispatch, cfg.PersistTimeout)
	out.Forker = services.NewForker(log, out.Gateway, out.Lifecycle)
	out.Reader = services.NewReader(log, out.Gateway, snapshots)

	registry := jobs.NewRegistry()
	for _, kind := range []types.RunKind{types.RunInitial, types.RunContinuation} {
		if err := registry.Register(kind, out.Lifecycle); err != nil {
			return out, fmt.Errorf("register executor: %w", err)
		}
	}
	out.Runner = jobs.NewRunner(repoSet.Runs, registry, out.Lifecycle, 0, log)
	out.Worker = worker.NewWorker(log, repoSet.Runs, out.Runner, out.Lifecycle, cfg.Worker)

	if clients.Temporal != nil {
		tw, err := temporalworker.NewRunner(log, clients.Temporal, cfg.Temporal, repoSet.Runs, out.Runner, cfg.Worker.Concurrency)
		if err != nil {
			return out, err
		}
		out.TemporalWorker = tw
	}
	return out, nil
}
