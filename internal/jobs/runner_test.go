package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/researchbridge-backend/internal/db/dbtest"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/repos"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

type execFunc func(ctx context.Context, desc RunDescriptor) error

func (f execFunc) Execute(ctx context.Context, desc RunDescriptor) error { return f(ctx, desc) }

type recordingFailer struct {
	mu     sync.Mutex
	failed []uuid.UUID
}

func (f *recordingFailer) FailSession(ctx context.Context, id uuid.UUID, reason error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

func (f *recordingFailer) ids() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.failed...)
}

func newRun(t *testing.T, runs repos.ResearchRunRepo, kind types.RunKind) *types.ResearchRun {
	t.Helper()
	desc := RunDescriptor{RunID: uuid.New(), SessionID: uuid.New(), Kind: kind, Query: "q"}
	run, err := CreateRun(context.Background(), runs, desc, types.RunRunning)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func TestRunnerRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	runs := repos.NewResearchRunRepo(dbtest.Open(t), logger.Nop())
	reg := NewRegistry()
	boom := errors.New("boom")
	_ = reg.Register(types.RunInitial, execFunc(func(ctx context.Context, d RunDescriptor) error { return nil }))
	_ = reg.Register(types.RunContinuation, execFunc(func(ctx context.Context, d RunDescriptor) error { return boom }))
	failer := &recordingFailer{}
	runner := NewRunner(runs, reg, failer, time.Hour, logger.Nop())

	ok := newRun(t, runs, types.RunInitial)
	if err := runner.Run(ctx, ok, nil); err != nil {
		t.Fatalf("Run ok: %v", err)
	}
	got, _ := runs.GetByID(ctx, nil, ok.ID)
	if got.Status != types.RunSucceeded {
		t.Fatalf("ok status: want=%s got=%s", types.RunSucceeded, got.Status)
	}

	bad := newRun(t, runs, types.RunContinuation)
	if err := runner.Run(ctx, bad, nil); !errors.Is(err, boom) {
		t.Fatalf("Run bad: want=%v got=%v", boom, err)
	}
	got, _ = runs.GetByID(ctx, nil, bad.ID)
	if got.Status != types.RunFailed || got.Error != "boom" {
		t.Fatalf("bad status: want=failed/boom got=%s/%s", got.Status, got.Error)
	}
	if len(failer.ids()) != 0 {
		t.Fatalf("executor errors must not double-fail sessions: got=%v", failer.ids())
	}
}

func TestRunnerFailsSessionOnPanicAndMissingExecutor(t *testing.T) {
	ctx := context.Background()
	runs := repos.NewResearchRunRepo(dbtest.Open(t), logger.Nop())
	reg := NewRegistry()
	_ = reg.Register(types.RunInitial, execFunc(func(ctx context.Context, d RunDescriptor) error { panic("kaboom") }))
	failer := &recordingFailer{}
	runner := NewRunner(runs, reg, failer, time.Hour, logger.Nop())

	panicking := newRun(t, runs, types.RunInitial)
	var pe *panicError
	if err := runner.Run(ctx, panicking, nil); !errors.As(err, &pe) {
		t.Fatalf("panic run: want panicError got=%v", err)
	}
	orphan := newRun(t, runs, types.RunContinuation)
	var me *missingExecutorError
	if err := runner.Run(ctx, orphan, nil); !errors.As(err, &me) {
		t.Fatalf("missing executor: want missingExecutorError got=%v", err)
	}
	ids := failer.ids()
	if len(ids) != 2 || ids[0] != panicking.SessionID || ids[1] != orphan.SessionID {
		t.Fatalf("failed sessions: got=%v", ids)
	}
}

func TestRunnerHeartbeatCallsBeat(t *testing.T) {
	runs := repos.NewResearchRunRepo(dbtest.Open(t), logger.Nop())
	reg := NewRegistry()
	release := make(chan struct{})
	_ = reg.Register(types.RunInitial, execFunc(func(ctx context.Context, d RunDescriptor) error {
		<-release
		return nil
	}))
	runner := NewRunner(runs, reg, nil, 10*time.Millisecond, logger.Nop())

	beats := make(chan struct{}, 16)
	done := make(chan error, 1)
	run := newRun(t, runs, types.RunInitial)
	go func() {
		done <- runner.Run(context.Background(), run, func(context.Context) {
			select {
			case beats <- struct{}{}:
			default:
			}
		})
	}()
	select {
	case <-beats:
	case <-time.After(2 * time.Second):
		t.Fatalf("beat: want at least one heartbeat")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestFailStale(t *testing.T) {
	ctx := context.Background()
	runs := repos.NewResearchRunRepo(dbtest.Open(t), logger.Nop())
	run := newRun(t, runs, types.RunInitial)
	failer := &recordingFailer{}

	n, err := FailStale(ctx, runs, failer, time.Now().Add(time.Minute), logger.Nop())
	if err != nil || n != 1 {
		t.Fatalf("FailStale: want=1,nil got=%d,%v", n, err)
	}
	got, _ := runs.GetByID(ctx, nil, run.ID)
	if got.Status != types.RunFailed {
		t.Fatalf("status: want=%s got=%s", types.RunFailed, got.Status)
	}
	if ids := failer.ids(); len(ids) != 1 || ids[0] != run.SessionID {
		t.Fatalf("failed sessions: got=%v", ids)
	}
}

func TestDecodeDescriptorRejectsUnknownKind(t *testing.T) {
	run := &types.ResearchRun{ID: uuid.New(), SessionID: uuid.New(), Kind: "bogus", Payload: []byte(`{}`)}
	if _, err := DecodeDescriptor(run); err == nil {
		t.Fatalf("DecodeDescriptor: want error")
	}
}
