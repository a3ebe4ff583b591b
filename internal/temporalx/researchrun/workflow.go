package researchrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflow executes a single research run. There is exactly one activity
// attempt: a failed run is final and a continuation starts a new session.
func Workflow(ctx workflow.Context, in RunInput) error {
	if strings.TrimSpace(in.RunID) == "" {
		return fmt.Errorf("researchrun: missing run_id")
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 6 * time.Hour,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	return workflow.ExecuteActivity(ctx, ActivityExecute, in).Get(ctx, nil)
}
