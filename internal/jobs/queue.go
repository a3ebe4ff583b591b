package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/repos"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

// QueueDispatcher enqueues runs as research_run rows for the worker pool.
type QueueDispatcher struct {
	runs repos.ResearchRunRepo
	log  *logger.Logger
}

func NewQueueDispatcher(runs repos.ResearchRunRepo, baseLog *logger.Logger) *QueueDispatcher {
	return &QueueDispatcher{runs: runs, log: baseLog.With("component", "QueueDispatcher")}
}

func (q *QueueDispatcher) Dispatch(ctx context.Context, desc RunDescriptor) error {
	_, err := CreateRun(ctx, q.runs, desc, types.RunQueued)
	if err != nil {
		return err
	}
	q.log.Debug("Run enqueued", "run_id", desc.RunID, "session_id", desc.SessionID, "kind", desc.Kind)
	return nil
}

// CreateRun persists a run row for desc with the given initial status.
func CreateRun(ctx context.Context, runs repos.ResearchRunRepo, desc RunDescriptor, status types.RunStatus) (*types.ResearchRun, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.RunID == uuid.Nil {
		return nil, fmt.Errorf("run descriptor: missing run id")
	}
	payload, err := desc.Payload()
	if err != nil {
		return nil, fmt.Errorf("encode run descriptor: %w", err)
	}
	run := &types.ResearchRun{
		ID:        desc.RunID,
		SessionID: desc.SessionID,
		Kind:      desc.Kind,
		Status:    status,
		Payload:   payload,
	}
	if status == types.RunRunning {
		now := time.Now().UTC()
		run.Attempts = 1
		run.LockedAt = &now
		run.HeartbeatAt = &now
	}
	if err := runs.Create(ctx, nil, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}
