package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/researchbridge-backend/internal/db/dbtest"
	"github.com/yungbote/researchbridge-backend/internal/jobs"
	"github.com/yungbote/researchbridge-backend/internal/platform/apierr"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/repos"
	"github.com/yungbote/researchbridge-backend/internal/research"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	descs []jobs.RunDescriptor
	err   error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, desc jobs.RunDescriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.descs = append(d.descs, desc)
	return nil
}

func (d *recordingDispatcher) last(t *testing.T) jobs.RunDescriptor {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.descs) == 0 {
		t.Fatalf("no run dispatched")
	}
	return d.descs[len(d.descs)-1]
}

type harness struct {
	gw       Gateway
	lc       *Lifecycle
	forker   *Forker
	reader   *Reader
	dispatch *recordingDispatcher
	source   *research.StaticSource
}

func newHarness(t *testing.T, src *research.StaticSource, cache SnapshotCache) *harness {
	t.Helper()
	gdb := dbtest.Open(t)
	log := logger.Nop()
	gw := NewGateway(gdb, log,
		repos.NewResearchSessionRepo(gdb, log),
		repos.NewResearchStepRepo(gdb, log),
		repos.NewResearchDocumentRepo(gdb, log),
	)
	disp := &recordingDispatcher{}
	lc := NewLifecycle(log, gw, src, research.DefaultProfile(), disp, 0)
	return &harness{
		gw:       gw,
		lc:       lc,
		forker:   NewForker(log, gw, lc),
		reader:   NewReader(log, gw, cache),
		dispatch: disp,
		source:   src,
	}
}

func wantAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	gotStatus, gotCode := apierr.StatusOf(err)
	if gotStatus != status || gotCode != code {
		t.Fatalf("error: want=%d/%s got=%d/%s (%v)", status, code, gotStatus, gotCode, err)
	}
}

func TestCreateAndExecuteCompletesSession(t *testing.T) {
	ctx := context.Background()
	src := &research.StaticSource{Fragments: []string{strings.Repeat("a", 50) + "\n", strings.Repeat("b", 60)}}
	h := newHarness(t, src, nil)

	id, err := h.lc.Create(ctx, CreateInput{
		Query:     "  quantum sensors  ",
		Documents: []DocumentInput{{Filename: "notes.txt", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	desc := h.dispatch.last(t)
	if desc.SessionID != id || desc.Kind != types.RunInitial || desc.Query != "quantum sensors" {
		t.Fatalf("descriptor: got %+v", desc)
	}

	snap, err := h.reader.Snapshot(ctx, id)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Session.Status != types.SessionRunning || snap.PollAfterMS != PollAfterMS {
		t.Fatalf("running snapshot: got status=%s poll=%d", snap.Session.Status, snap.PollAfterMS)
	}
	if snap.Session.ResultSummary != nil || snap.Session.TotalTokens != 0 {
		t.Fatalf("running snapshot: want empty result got %+v", snap.Session)
	}

	if err := h.lc.Execute(ctx, desc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	reqs := src.Requests()
	if len(reqs) != 1 {
		t.Fatalf("stream requests: want=1 got=%d", len(reqs))
	}
	if !strings.Contains(reqs[0].Prompt, "\"quantum sensors\"") ||
		!strings.Contains(reqs[0].Prompt, "Additional context from uploaded documents:\nnotes.txt:\nhello") {
		t.Fatalf("prompt: got %q", reqs[0].Prompt)
	}

	snap, err = h.reader.Snapshot(ctx, id)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	s := snap.Session
	if s.Status != types.SessionCompleted || s.CompletedAt == nil || snap.PollAfterMS != 0 {
		t.Fatalf("session: want=completed got=%+v poll=%d", s, snap.PollAfterMS)
	}
	if s.TotalTokens != 28 {
		t.Fatalf("total_tokens: want=28 got=%d", s.TotalTokens)
	}
	if s.TotalCost != 0.00028 {
		t.Fatalf("total_cost: want=0.00028 got=%v", s.TotalCost)
	}
	wantText := strings.Repeat("a", 50) + "\n" + strings.Repeat("b", 60)
	if s.ResultSummary == nil || *s.ResultSummary != wantText {
		t.Fatalf("result_summary: got %v", s.ResultSummary)
	}
	if len(snap.Steps) != 1 {
		t.Fatalf("steps: want=1 got=%d", len(snap.Steps))
	}
	step := snap.Steps[0]
	if step.StepNumber != 1 || step.StepType != types.StepAnalysis || step.TokensUsed != 28 {
		t.Fatalf("step: got %+v", step)
	}
}

func TestExecuteStepNumbersContiguousAndTokensSum(t *testing.T) {
	ctx := context.Background()
	var frags []string
	for i := 0; i < 5; i++ {
		frags = append(frags, strings.Repeat("x", 70), "\n"+strings.Repeat("y", 40))
	}
	frags = append(frags, "tail")
	h := newHarness(t, &research.StaticSource{Fragments: frags}, nil)

	id, err := h.lc.Create(ctx, CreateInput{Query: "q"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.lc.Execute(ctx, h.dispatch.last(t)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	snap, err := h.reader.Snapshot(ctx, id)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	var sum int64
	for i, st := range snap.Steps {
		if st.StepNumber != i+1 {
			t.Fatalf("step %d: want number=%d got=%d", i, i+1, st.StepNumber)
		}
		if strings.TrimSpace(st.Content) == "" {
			t.Fatalf("step %d: empty content", st.StepNumber)
		}
		sum += st.TokensUsed
	}
	if last := snap.Steps[len(snap.Steps)-1]; last.StepType != types.StepSummary {
		t.Fatalf("last step: want=summary got=%s", last.StepType)
	}
	if snap.Session.TotalTokens != sum {
		t.Fatalf("total_tokens: want=%d got=%d", sum, snap.Session.TotalTokens)
	}
}

func TestExecuteStreamFailureKeepsPersistedSteps(t *testing.T) {
	ctx := context.Background()
	src := &research.StaticSource{
		Fragments: []string{strings.Repeat("a", 50) + "\n", strings.Repeat("b", 60), "more"},
		FailAfter: 2,
	}
	h := newHarness(t, src, nil)
	id, err := h.lc.Create(ctx, CreateInput{Query: "q"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.lc.Execute(ctx, h.dispatch.last(t)); err == nil {
		t.Fatalf("Execute: want error")
	}
	snap, err := h.reader.Snapshot(ctx, id)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	s := snap.Session
	if s.Status != types.SessionFailed || s.CompletedAt == nil {
		t.Fatalf("session: want=failed got=%s", s.Status)
	}
	if s.TotalTokens != 0 || s.ResultSummary != nil {
		t.Fatalf("failed session must not carry totals: %+v", s)
	}
	if len(snap.Steps) != 1 {
		t.Fatalf("steps: want=1 got=%d", len(snap.Steps))
	}
}

func TestExecuteStartFailureFailsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &research.StaticSource{StartErr: errors.New("upstream down")}, nil)
	id, err := h.lc.Create(ctx, CreateInput{Query: "q"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.lc.Execute(ctx, h.dispatch.last(t)); err == nil {
		t.Fatalf("Execute: want error")
	}
	s, err := h.gw.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Status != types.SessionFailed {
		t.Fatalf("status: want=failed got=%s", s.Status)
	}
}

func TestTerminalTransitionHappensOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &research.StaticSource{Fragments: []string{"short answer"}}, nil)
	id, err := h.lc.Create(ctx, CreateInput{Query: "q"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	desc := h.dispatch.last(t)
	if err := h.lc.Execute(ctx, desc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := h.lc.FailSession(ctx, id, errors.New("late failure")); err != nil {
		t.Fatalf("FailSession: %v", err)
	}
	if err := h.lc.Execute(ctx, desc); err == nil {
		t.Fatalf("replayed Execute: want error got nil")
	}
	s, err := h.gw.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Status != types.SessionCompleted {
		t.Fatalf("status: want=completed got=%s", s.Status)
	}
}

func TestCreateValidationAndConflicts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &research.StaticSource{}, nil)

	_, err := h.lc.Create(ctx, CreateInput{Query: "   "})
	wantAPIError(t, err, 400, "invalid_query")

	id := uuid.New()
	if _, err := h.lc.Create(ctx, CreateInput{ID: &id, Query: "first"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = h.lc.Create(ctx, CreateInput{ID: &id, Query: "second"})
	wantAPIError(t, err, 409, "session_exists")

	sessions, err := h.reader.History(ctx, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Query != "first" {
		t.Fatalf("history: want only the first session got %d", len(sessions))
	}
}

func TestCreateDispatchFailureFailsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &research.StaticSource{}, nil)
	h.dispatch.err = errors.New("queue unavailable")
	id, err := h.lc.Create(ctx, CreateInput{Query: "q"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s, err := h.gw.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Status != types.SessionFailed || s.CompletedAt == nil {
		t.Fatalf("status: want=failed got=%s", s.Status)
	}
}

func TestContinueForksSessionWithContextAndDocuments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &research.StaticSource{}, nil)

	parentID, err := h.lc.Create(ctx, CreateInput{
		Query: "original",
		Documents: []DocumentInput{
			{Filename: "a.txt", Content: "alpha"},
			{Filename: "b.txt", Content: "beta", MimeType: "text/markdown"},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i, c := range []string{"one", "two", "three", "four"} {
		if err := h.gw.AppendStep(ctx, &types.ResearchStep{
			SessionID: parentID, StepNumber: i + 1, StepType: types.StepAnalysis, Content: c, TokensUsed: 1,
		}); err != nil {
			t.Fatalf("AppendStep: %v", err)
		}
	}

	childID, err := h.forker.Continue(ctx, ContinueInput{SessionID: parentID, AdditionalQuery: "  go deeper "})
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	child, err := h.gw.GetSession(ctx, childID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	wantQuery := "original\n\nContinuation: go deeper\n\nPrevious research context: one two three"
	if child.Query != wantQuery {
		t.Fatalf("query: want=%q got=%q", wantQuery, child.Query)
	}
	if child.Status != types.SessionRunning || child.ParentID == nil || *child.ParentID != parentID {
		t.Fatalf("child session: got %+v", child)
	}

	desc := h.dispatch.last(t)
	if desc.Kind != types.RunContinuation || desc.SessionID != childID || desc.ParentSessionID == nil || *desc.ParentSessionID != parentID {
		t.Fatalf("descriptor: got %+v", desc)
	}

	parentDocs, _ := h.gw.ListDocuments(ctx, parentID)
	childDocs, err := h.reader.Documents(ctx, childID)
	if err != nil {
		t.Fatalf("Documents: %v", err)
	}
	if len(childDocs) != 2 || len(parentDocs) != 2 {
		t.Fatalf("documents: want=2/2 got=%d/%d", len(childDocs), len(parentDocs))
	}
	for i := range childDocs {
		if childDocs[i].ID == parentDocs[i].ID {
			t.Fatalf("document %d: copy shares id with parent", i)
		}
		if childDocs[i].Filename != parentDocs[i].Filename || childDocs[i].MimeType != parentDocs[i].MimeType {
			t.Fatalf("document %d: want=%s/%s got=%s/%s", i, parentDocs[i].Filename, parentDocs[i].MimeType, childDocs[i].Filename, childDocs[i].MimeType)
		}
	}
}

func TestContinueFailsFastWithoutWrites(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &research.StaticSource{}, nil)
	parentID, err := h.lc.Create(ctx, CreateInput{Query: "original"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = h.forker.Continue(ctx, ContinueInput{SessionID: parentID, AdditionalQuery: " \t "})
	wantAPIError(t, err, 400, "invalid_additional_query")

	_, err = h.forker.Continue(ctx, ContinueInput{SessionID: uuid.New(), AdditionalQuery: "more"})
	wantAPIError(t, err, 404, "session_not_found")

	stats, err := h.reader.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.SessionCount != 1 {
		t.Fatalf("session_count: want=1 got=%d", stats.SessionCount)
	}
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(ctx context.Context, key string, val []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = val
	return nil
}

func TestSnapshotCachesOnlyTerminalSessions(t *testing.T) {
	ctx := context.Background()
	cache := &mapCache{data: map[string][]byte{}}
	h := newHarness(t, &research.StaticSource{Fragments: []string{"done"}}, cache)

	id, err := h.lc.Create(ctx, CreateInput{Query: "q"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.reader.Snapshot(ctx, id); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(cache.data) != 0 {
		t.Fatalf("running snapshot was cached")
	}
	if err := h.lc.Execute(ctx, h.dispatch.last(t)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	first, err := h.reader.Snapshot(ctx, id)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := cache.data[snapshotKey(id)]; !ok {
		t.Fatalf("terminal snapshot not cached")
	}
	second, err := h.reader.Snapshot(ctx, id)
	if err != nil {
		t.Fatalf("cached Snapshot: %v", err)
	}
	if second.Session.Status != first.Session.Status || len(second.Steps) != len(first.Steps) {
		t.Fatalf("cached snapshot differs: %+v vs %+v", second, first)
	}
}

func TestStatsAndHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &research.StaticSource{Fragments: []string{strings.Repeat("z", 400)}}, nil)
	for i := 0; i < 3; i++ {
		if _, err := h.lc.Create(ctx, CreateInput{Query: "q"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := h.lc.Execute(ctx, h.dispatch.last(t)); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	stats, err := h.reader.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.SessionCount != 3 || stats.TotalTokens != 300 {
		t.Fatalf("stats: want=3/300 got=%d/%d", stats.SessionCount, stats.TotalTokens)
	}
	if stats.TotalCost != 0.003 || stats.AvgCostPerSession != 0.001 {
		t.Fatalf("cost: want=0.003/0.001 got=%v/%v", stats.TotalCost, stats.AvgCostPerSession)
	}
	hist, err := h.reader.History(ctx, 1000)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history: want=3 got=%d", len(hist))
	}
}

func TestDocumentsUnknownSession(t *testing.T) {
	h := newHarness(t, &research.StaticSource{}, nil)
	_, err := h.reader.Documents(context.Background(), uuid.New())
	wantAPIError(t, err, 404, "session_not_found")
}

func TestUnconfiguredGatewayAnswersNotConfigured(t *testing.T) {
	ctx := context.Background()
	gw := NewUnconfiguredGateway()
	log := logger.Nop()
	lc := NewLifecycle(log, gw, &research.StaticSource{}, nil, &recordingDispatcher{}, 0)
	reader := NewReader(log, gw, nil)

	_, err := lc.Create(ctx, CreateInput{Query: "q"})
	wantAPIError(t, err, 503, "database_not_configured")
	_, err = reader.Snapshot(ctx, uuid.New())
	wantAPIError(t, err, 503, "database_not_configured")
	_, err = reader.Stats(ctx)
	wantAPIError(t, err, 503, "database_not_configured")
	_, err = NewForker(log, gw, lc).Continue(ctx, ContinueInput{SessionID: uuid.New(), AdditionalQuery: "x"})
	wantAPIError(t, err, 503, "database_not_configured")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("errors.Is: want ErrNotConfigured")
	}
}
