package repos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/researchbridge-backend/internal/db/dbtest"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

func TestSessionFinalizeOnlyOnce(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := NewResearchSessionRepo(gdb, logger.Nop())

	s := &types.ResearchSession{Query: "q", Status: types.SessionRunning}
	if err := repo.Create(ctx, nil, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now().UTC()
	ok, err := repo.FinalizeIfRunning(ctx, nil, s.ID, map[string]interface{}{
		"status":       types.SessionCompleted,
		"total_tokens": 28,
		"completed_at": now,
	})
	if err != nil || !ok {
		t.Fatalf("first finalize: want=true,nil got=%v,%v", ok, err)
	}
	ok, err = repo.FinalizeIfRunning(ctx, nil, s.ID, map[string]interface{}{
		"status":       types.SessionFailed,
		"completed_at": now,
	})
	if err != nil || ok {
		t.Fatalf("second finalize: want=false,nil got=%v,%v", ok, err)
	}

	got, err := repo.GetByID(ctx, nil, s.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.SessionCompleted || got.TotalTokens != 28 {
		t.Fatalf("session: want=completed/28 got=%s/%d", got.Status, got.TotalTokens)
	}
}

func TestSessionGetMissing(t *testing.T) {
	repo := NewResearchSessionRepo(dbtest.Open(t), logger.Nop())
	_, err := repo.GetByID(context.Background(), nil, uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID: want=%v got=%v", ErrNotFound, err)
	}
}

func TestSessionDuplicateIDConflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewResearchSessionRepo(dbtest.Open(t), logger.Nop())
	id := uuid.New()
	if err := repo.Create(ctx, nil, &types.ResearchSession{ID: id, Query: "a", Status: types.SessionRunning}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := repo.Create(ctx, nil, &types.ResearchSession{ID: id, Query: "b", Status: types.SessionRunning})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate Create: want=%v got=%v", ErrConflict, err)
	}
}

func TestSessionListRecentAndTotals(t *testing.T) {
	ctx := context.Background()
	repo := NewResearchSessionRepo(dbtest.Open(t), logger.Nop())
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 12; i++ {
		s := &types.ResearchSession{
			Query:       "q",
			Status:      types.SessionCompleted,
			TotalTokens: 100,
			TotalCost:   0.001,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(ctx, nil, s); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	recent, err := repo.ListRecent(ctx, nil, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 10 {
		t.Fatalf("ListRecent len: want=%d got=%d", 10, len(recent))
	}
	if !recent[0].CreatedAt.After(recent[9].CreatedAt) {
		t.Fatalf("ListRecent order: want newest first")
	}

	totals, err := repo.Totals(ctx, nil)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.SessionCount != 12 || totals.TotalTokens != 1200 {
		t.Fatalf("Totals: want=12/1200 got=%d/%d", totals.SessionCount, totals.TotalTokens)
	}
	if diff := totals.TotalCost - 0.012; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("Totals cost: want=%v got=%v", 0.012, totals.TotalCost)
	}
}

func TestStepAppendRejectsDuplicateNumber(t *testing.T) {
	ctx := context.Background()
	repo := NewResearchStepRepo(dbtest.Open(t), logger.Nop())
	sid := uuid.New()
	for i := 1; i <= 3; i++ {
		step := &types.ResearchStep{SessionID: sid, StepNumber: i, StepType: types.StepAnalysis, Content: "c", TokensUsed: int64(i)}
		if err := repo.Append(ctx, nil, step); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	dup := &types.ResearchStep{SessionID: sid, StepNumber: 2, StepType: types.StepAnalysis, Content: "c"}
	if err := repo.Append(ctx, nil, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate Append: want=%v got=%v", ErrConflict, err)
	}

	first, err := repo.ListBySession(ctx, nil, sid, 2)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(first) != 2 || first[0].StepNumber != 1 || first[1].StepNumber != 2 {
		t.Fatalf("ListBySession limit: want steps 1,2 got=%d", len(first))
	}
	sum, err := repo.SumTokens(ctx, nil, sid)
	if err != nil {
		t.Fatalf("SumTokens: %v", err)
	}
	if sum != 6 {
		t.Fatalf("SumTokens: want=%d got=%d", 6, sum)
	}
}

func TestDocumentsKeepUploadOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewResearchDocumentRepo(dbtest.Open(t), logger.Nop())
	sid := uuid.New()
	docs := []*types.ResearchDocument{
		{SessionID: sid, Filename: "b.txt", Content: "second"},
		{SessionID: sid, Filename: "a.txt", Content: "first", MimeType: "text/markdown"},
		{SessionID: sid, Filename: "c.txt", Content: "third"},
	}
	if _, err := repo.Create(ctx, nil, docs); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := repo.ListBySession(ctx, nil, sid)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	want := []string{"b.txt", "a.txt", "c.txt"}
	for i, name := range want {
		if got[i].Filename != name {
			t.Fatalf("doc[%d]: want=%q got=%q", i, name, got[i].Filename)
		}
	}
	if got[0].MimeType != types.DefaultDocumentMimeType || got[1].MimeType != "text/markdown" {
		t.Fatalf("mime types: got=%q,%q", got[0].MimeType, got[1].MimeType)
	}
}

func TestRunClaimAndStaleSweep(t *testing.T) {
	ctx := context.Background()
	repo := NewResearchRunRepo(dbtest.Open(t), logger.Nop())

	first := &types.ResearchRun{SessionID: uuid.New(), Kind: types.RunInitial, Payload: datatypes.JSON(`{}`), CreatedAt: time.Now().UTC().Add(-time.Minute)}
	second := &types.ResearchRun{SessionID: uuid.New(), Kind: types.RunContinuation, Payload: datatypes.JSON(`{}`)}
	for _, r := range []*types.ResearchRun{first, second} {
		if err := repo.Create(ctx, nil, r); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	claimed, err := repo.ClaimNextQueued(ctx, nil)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextQueued: want run got=%v,%v", claimed, err)
	}
	if claimed.ID != first.ID || claimed.Status != types.RunRunning || claimed.Attempts != 1 {
		t.Fatalf("claimed: want=%s/running/1 got=%s/%s/%d", first.ID, claimed.ID, claimed.Status, claimed.Attempts)
	}

	counts, err := repo.CountByStatus(ctx, nil)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[types.RunRunning] != 1 || counts[types.RunQueued] != 1 {
		t.Fatalf("counts: got=%v", counts)
	}

	stale, err := repo.ListStaleRunning(ctx, nil, time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStaleRunning: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != first.ID {
		t.Fatalf("stale: want [%s] got=%d rows", first.ID, len(stale))
	}
	fresh, err := repo.ListStaleRunning(ctx, nil, time.Now().UTC().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStaleRunning: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("fresh: want=0 got=%d", len(fresh))
	}

	next, err := repo.ClaimNextQueued(ctx, nil)
	if err != nil || next == nil || next.ID != second.ID {
		t.Fatalf("second claim: want=%s got=%v,%v", second.ID, next, err)
	}
	none, err := repo.ClaimNextQueued(ctx, nil)
	if err != nil || none != nil {
		t.Fatalf("empty claim: want=nil,nil got=%v,%v", none, err)
	}
}
