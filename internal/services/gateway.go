package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/researchbridge-backend/internal/platform/apierr"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/repos"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

var ErrNotConfigured = errors.New("database not configured")

const codeNotConfigured = "database_not_configured"

// TerminalUpdate is the one write that ends a session. Nil totals and summary
// are left untouched, which is how failures persist only status and time.
type TerminalUpdate struct {
	Status        types.SessionStatus
	TotalTokens   *int64
	TotalCost     *float64
	ResultSummary *string
	CompletedAt   time.Time
}

func (u TerminalUpdate) fields() (map[string]interface{}, error) {
	if !u.Status.Terminal() {
		return nil, fmt.Errorf("terminal update: status %q is not terminal", u.Status)
	}
	completedAt := u.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	out := map[string]interface{}{
		"status":       u.Status,
		"completed_at": completedAt.UTC(),
	}
	if u.TotalTokens != nil {
		out["total_tokens"] = *u.TotalTokens
	}
	if u.TotalCost != nil {
		out["total_cost"] = *u.TotalCost
	}
	if u.ResultSummary != nil {
		out["result_summary"] = *u.ResultSummary
	}
	return out, nil
}

// Gateway is the persistence surface of research sessions. Each call is
// atomic on its own; nothing spans calls.
type Gateway interface {
	CreateSession(ctx context.Context, session *types.ResearchSession, docs []*types.ResearchDocument) error
	CreateDocuments(ctx context.Context, sessionID uuid.UUID, docs []*types.ResearchDocument) error
	GetSession(ctx context.Context, id uuid.UUID) (*types.ResearchSession, error)
	// FinalizeSession reports false when the session had already left running.
	FinalizeSession(ctx context.Context, id uuid.UUID, update TerminalUpdate) (bool, error)
	AppendStep(ctx context.Context, step *types.ResearchStep) error
	ListSteps(ctx context.Context, sessionID uuid.UUID, limit int) ([]*types.ResearchStep, error)
	ListDocuments(ctx context.Context, sessionID uuid.UUID) ([]*types.ResearchDocument, error)
	ListRecentSessions(ctx context.Context, limit int) ([]*types.ResearchSession, error)
	SessionStats(ctx context.Context) (repos.SessionTotals, error)
}

type repoGateway struct {
	db       *gorm.DB
	log      *logger.Logger
	sessions repos.ResearchSessionRepo
	steps    repos.ResearchStepRepo
	docs     repos.ResearchDocumentRepo
}

func NewGateway(db *gorm.DB, baseLog *logger.Logger, sessions repos.ResearchSessionRepo, steps repos.ResearchStepRepo, docs repos.ResearchDocumentRepo) Gateway {
	return &repoGateway{
		db:       db,
		log:      baseLog.With("service", "ResearchGateway"),
		sessions: sessions,
		steps:    steps,
		docs:     docs,
	}
}

func (g *repoGateway) CreateSession(ctx context.Context, session *types.ResearchSession, docs []*types.ResearchDocument) error {
	if session == nil {
		return fmt.Errorf("create session: nil session")
	}
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := g.sessions.Create(ctx, tx, session); err != nil {
			return err
		}
		for _, d := range docs {
			d.SessionID = session.ID
		}
		if _, err := g.docs.Create(ctx, tx, docs); err != nil {
			return fmt.Errorf("create documents: %w", err)
		}
		return nil
	})
	if errors.Is(err, repos.ErrConflict) {
		return apierr.Conflict("session_exists", err)
	}
	return err
}

func (g *repoGateway) CreateDocuments(ctx context.Context, sessionID uuid.UUID, docs []*types.ResearchDocument) error {
	for _, d := range docs {
		d.SessionID = sessionID
	}
	_, err := g.docs.Create(ctx, nil, docs)
	return err
}

func (g *repoGateway) GetSession(ctx context.Context, id uuid.UUID) (*types.ResearchSession, error) {
	s, err := g.sessions.GetByID(ctx, nil, id)
	if errors.Is(err, repos.ErrNotFound) {
		return nil, apierr.NotFound("session_not_found", err)
	}
	return s, err
}

func (g *repoGateway) FinalizeSession(ctx context.Context, id uuid.UUID, update TerminalUpdate) (bool, error) {
	fields, err := update.fields()
	if err != nil {
		return false, err
	}
	return g.sessions.FinalizeIfRunning(ctx, nil, id, fields)
}

func (g *repoGateway) AppendStep(ctx context.Context, step *types.ResearchStep) error {
	err := g.steps.Append(ctx, nil, step)
	if errors.Is(err, repos.ErrConflict) {
		return apierr.Conflict("step_exists", err)
	}
	return err
}

func (g *repoGateway) ListSteps(ctx context.Context, sessionID uuid.UUID, limit int) ([]*types.ResearchStep, error) {
	return g.steps.ListBySession(ctx, nil, sessionID, limit)
}

func (g *repoGateway) ListDocuments(ctx context.Context, sessionID uuid.UUID) ([]*types.ResearchDocument, error) {
	return g.docs.ListBySession(ctx, nil, sessionID)
}

func (g *repoGateway) ListRecentSessions(ctx context.Context, limit int) ([]*types.ResearchSession, error) {
	return g.sessions.ListRecent(ctx, nil, limit)
}

func (g *repoGateway) SessionStats(ctx context.Context) (repos.SessionTotals, error) {
	return g.sessions.Totals(ctx, nil)
}

// unconfiguredGateway answers every call with the same 503 so callers never
// need to special-case a missing database.
type unconfiguredGateway struct{}

func NewUnconfiguredGateway() Gateway { return unconfiguredGateway{} }

func notConfigured() error { return apierr.NotConfigured(codeNotConfigured, ErrNotConfigured) }

func (unconfiguredGateway) CreateSession(context.Context, *types.ResearchSession, []*types.ResearchDocument) error {
	return notConfigured()
}

func (unconfiguredGateway) CreateDocuments(context.Context, uuid.UUID, []*types.ResearchDocument) error {
	return notConfigured()
}

func (unconfiguredGateway) GetSession(context.Context, uuid.UUID) (*types.ResearchSession, error) {
	return nil, notConfigured()
}

func (unconfiguredGateway) FinalizeSession(context.Context, uuid.UUID, TerminalUpdate) (bool, error) {
	return false, notConfigured()
}

func (unconfiguredGateway) AppendStep(context.Context, *types.ResearchStep) error {
	return notConfigured()
}

func (unconfiguredGateway) ListSteps(context.Context, uuid.UUID, int) ([]*types.ResearchStep, error) {
	return nil, notConfigured()
}

func (unconfiguredGateway) ListDocuments(context.Context, uuid.UUID) ([]*types.ResearchDocument, error) {
	return nil, notConfigured()
}

func (unconfiguredGateway) ListRecentSessions(context.Context, int) ([]*types.ResearchSession, error) {
	return nil, notConfigured()
}

func (unconfiguredGateway) SessionStats(context.Context) (repos.SessionTotals, error) {
	return repos.SessionTotals{}, notConfigured()
}
