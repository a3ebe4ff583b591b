package researchrun

import (
	"context"
	"fmt"
	"time"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/researchbridge-backend/internal/jobs"
	"github.com/yungbote/researchbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/repos"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

// Dispatcher records the run and starts its workflow. The run row is created
// already running; the workflow owns it from there.
type Dispatcher struct {
	log       *logger.Logger
	tc        temporalsdkclient.Client
	runs      repos.ResearchRunRepo
	taskQueue string
}

func NewDispatcher(baseLog *logger.Logger, tc temporalsdkclient.Client, runs repos.ResearchRunRepo, taskQueue string) *Dispatcher {
	return &Dispatcher{
		log:       baseLog.With("component", "TemporalDispatcher"),
		tc:        tc,
		runs:      runs,
		taskQueue: taskQueue,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, desc jobs.RunDescriptor) error {
	if d.tc == nil {
		return fmt.Errorf("temporal client is not configured")
	}
	run, err := jobs.CreateRun(ctx, d.runs, desc, types.RunRunning)
	if err != nil {
		return err
	}
	runID := run.ID.String()
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:        workflowID(runID),
		TaskQueue: d.taskQueue,
	}
	if td := ctxutil.GetTraceData(ctx); td != nil && td.TraceID != "" {
		opts.Memo = map[string]interface{}{"trace_id": td.TraceID}
	}
	if _, err := d.tc.ExecuteWorkflow(ctx, opts, WorkflowName, RunInput{RunID: runID}); err != nil {
		wctx, cancel := ctxutil.Detached(ctx, 10*time.Second)
		defer cancel()
		if uerr := d.runs.UpdateFields(wctx, nil, run.ID, map[string]interface{}{
			"status":        types.RunFailed,
			"error":         err.Error(),
			"last_error_at": time.Now().UTC(),
		}); uerr != nil {
			d.log.Error("Failed to record dispatch failure", "run_id", runID, "error", uerr)
		}
		return fmt.Errorf("start research workflow: %w", err)
	}
	d.log.Debug("Research workflow started", "run_id", runID, "session_id", desc.SessionID)
	return nil
}
