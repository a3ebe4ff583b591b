package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yungbote/researchbridge-backend/internal/observability"
	"github.com/yungbote/researchbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/repos"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

const finalizeTimeout = 15 * time.Second

// Runner executes a claimed run and records the outcome on its run row.
// It is shared by the queue worker and the Temporal activity.
type Runner struct {
	runs      repos.ResearchRunRepo
	registry  *Registry
	failer    SessionFailer
	log       *logger.Logger
	heartbeat time.Duration
}

func NewRunner(runs repos.ResearchRunRepo, registry *Registry, failer SessionFailer, heartbeat time.Duration, baseLog *logger.Logger) *Runner {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Runner{
		runs:      runs,
		registry:  registry,
		failer:    failer,
		log:       baseLog.With("component", "RunRunner"),
		heartbeat: heartbeat,
	}
}

type missingExecutorError struct{ Kind types.RunKind }

func (e *missingExecutorError) Error() string { return "no executor registered for kind=" + string(e.Kind) }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }

// Run executes run. beat, if non-nil, is called on every heartbeat tick in
// addition to the row heartbeat.
func (r *Runner) Run(ctx context.Context, run *types.ResearchRun, beat func(context.Context)) (err error) {
	start := time.Now()
	desc, decodeErr := DecodeDescriptor(run)
	log := r.log.With("run_id", run.ID, "session_id", run.SessionID, "kind", run.Kind)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go r.heartbeatLoop(hbCtx, run, beat)

	// executorOwned is false when the executor never got the chance to
	// finalize the session itself.
	executorOwned := false
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Run panic", "panic", rec)
			err = &panicError{Val: rec}
			executorOwned = false
		}
		stopHeartbeat()
		r.record(ctx, log, run, desc, err, executorOwned, time.Since(start))
	}()

	if decodeErr != nil {
		return decodeErr
	}
	exec, ok := r.registry.Get(desc.Kind)
	if !ok {
		return &missingExecutorError{Kind: desc.Kind}
	}
	executorOwned = true
	err = exec.Execute(ctx, desc)
	return err
}

func (r *Runner) heartbeatLoop(ctx context.Context, run *types.ResearchRun, beat func(context.Context)) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.runs.Heartbeat(ctx, nil, run.ID); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Warn("Run heartbeat failed", "run_id", run.ID, "error", err)
			}
			if beat != nil {
				beat(ctx)
			}
		}
	}
}

func (r *Runner) record(ctx context.Context, log *logger.Logger, run *types.ResearchRun, desc RunDescriptor, runErr error, executorOwned bool, elapsed time.Duration) {
	wctx, cancel := ctxutil.Detached(ctx, finalizeTimeout)
	defer cancel()

	now := time.Now().UTC()
	updates := map[string]interface{}{"status": types.RunSucceeded}
	outcome := "succeeded"
	if runErr != nil {
		outcome = "failed"
		updates["status"] = types.RunFailed
		updates["error"] = runErr.Error()
		updates["last_error_at"] = now
		log.Warn("Run failed", "error", runErr, "duration_ms", elapsed.Milliseconds())
		if !executorOwned && r.failer != nil {
			if err := r.failer.FailSession(wctx, run.SessionID, runErr); err != nil {
				log.Error("Failed to mark session failed", "error", err)
			}
		}
	} else {
		log.Info("Run succeeded", "duration_ms", elapsed.Milliseconds())
	}
	if err := r.runs.UpdateFields(wctx, nil, run.ID, updates); err != nil {
		log.Error("Failed to record run outcome", "error", err)
	}
	if m := observability.Current(); m != nil {
		kind := string(desc.Kind)
		if kind == "" {
			kind = string(run.Kind)
		}
		m.ObserveRun(kind, outcome, elapsed)
	}
}

// FailStale fails runs whose heartbeat stopped before cutoff, along with
// their sessions. Runs are never resumed; only persisted steps survive.
func FailStale(ctx context.Context, runs repos.ResearchRunRepo, failer SessionFailer, cutoff time.Time, log *logger.Logger) (int, error) {
	stale, err := runs.ListStaleRunning(ctx, nil, cutoff, 100)
	if err != nil {
		return 0, err
	}
	reason := errors.New("run abandoned: heartbeat lost")
	for _, run := range stale {
		if err := runs.UpdateFields(ctx, nil, run.ID, map[string]interface{}{
			"status":        types.RunFailed,
			"error":         reason.Error(),
			"last_error_at": time.Now().UTC(),
		}); err != nil {
			return 0, err
		}
		if failer != nil {
			if err := failer.FailSession(ctx, run.SessionID, reason); err != nil {
				log.Warn("Failed to mark orphaned session failed", "session_id", run.SessionID, "error", err)
			}
		}
		log.Warn("Orphaned run failed", "run_id", run.ID, "session_id", run.SessionID)
	}
	return len(stale), nil
}
