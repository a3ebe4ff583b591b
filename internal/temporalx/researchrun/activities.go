package researchrun

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/researchbridge-backend/internal/jobs"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/repos"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

type Activities struct {
	Log    *logger.Logger
	Runs   repos.ResearchRunRepo
	Runner *jobs.Runner
}

// Execute runs the research run through the shared runner, relaying its
// heartbeat to Temporal. Errors are non-retryable.
func (a *Activities) Execute(ctx context.Context, in RunInput) error {
	if a == nil || a.Runs == nil || a.Runner == nil {
		return temporal.NewNonRetryableApplicationError("researchrun: activity not configured", "config", nil)
	}
	runID, err := uuid.Parse(strings.TrimSpace(in.RunID))
	if err != nil || runID == uuid.Nil {
		return temporal.NewNonRetryableApplicationError("researchrun: invalid run_id", "input", err)
	}
	run, err := a.Runs.GetByID(ctx, nil, runID)
	if err != nil {
		return fmt.Errorf("researchrun: load run: %w", err)
	}
	if run.Status != types.RunRunning {
		a.Log.Warn("Research run not runnable; skipping", "run_id", runID, "status", run.Status)
		return nil
	}
	if err := a.Runner.Run(ctx, run, func(ctx context.Context) { activity.RecordHeartbeat(ctx) }); err != nil {
		return temporal.NewNonRetryableApplicationError(err.Error(), "research_run_failed", err)
	}
	return nil
}
