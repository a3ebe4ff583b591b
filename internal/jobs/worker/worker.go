package worker

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/researchbridge-backend/internal/jobs"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/repos"
)

type Config struct {
	Concurrency  int
	PollInterval time.Duration
	StaleAfter   time.Duration
	SweepEvery   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = time.Minute
	}
	return c
}

// Worker claims queued research runs and executes them on a fixed pool.
type Worker struct {
	log    *logger.Logger
	runs   repos.ResearchRunRepo
	runner *jobs.Runner
	failer jobs.SessionFailer
	cfg    Config
	wg     sync.WaitGroup
}

func NewWorker(baseLog *logger.Logger, runs repos.ResearchRunRepo, runner *jobs.Runner, failer jobs.SessionFailer, cfg Config) *Worker {
	return &Worker{
		log:    baseLog.With("component", "ResearchWorker"),
		runs:   runs,
		runner: runner,
		failer: failer,
		cfg:    cfg.withDefaults(),
	}
}

// Start sweeps orphaned runs once, then launches the claim loops and the
// periodic sweeper. It returns immediately; Wait blocks until ctx is done
// and every loop has exited.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting research worker pool", "concurrency", w.cfg.Concurrency)
	w.sweep(ctx)

	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.sweepLoop(ctx)
	}()
}

func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// Drain the queue before waiting for the next tick.
			for w.runOne(ctx, workerID) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// runOne claims and executes a single run. It reports whether a run was found.
func (w *Worker) runOne(ctx context.Context, workerID int) bool {
	run, err := w.runs.ClaimNextQueued(ctx, nil)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("ClaimNextQueued failed", "worker_id", workerID, "error", err)
		}
		return false
	}
	if run == nil {
		return false
	}
	w.log.Debug("Run claimed", "worker_id", workerID, "run_id", run.ID, "session_id", run.SessionID)
	_ = w.runner.Run(ctx, run, nil)
	return true
}

func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	n, err := jobs.FailStale(ctx, w.runs, w.failer, time.Now().Add(-w.cfg.StaleAfter), w.log)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("Stale run sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		w.log.Warn("Failed orphaned runs", "count", n)
	}
}
