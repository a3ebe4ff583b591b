package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/researchbridge-backend/internal/jobs"
	"github.com/yungbote/researchbridge-backend/internal/observability"
	"github.com/yungbote/researchbridge-backend/internal/platform/apierr"
	"github.com/yungbote/researchbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/research"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

const defaultPersistTimeout = 15 * time.Second

// ErrSessionTerminal is returned by a run whose session left running before
// the run could finalize it.
var ErrSessionTerminal = errors.New("session already terminal")

type DocumentInput struct {
	Filename string
	Content  string
	MimeType string
	FileSize int64
}

type CreateInput struct {
	// ID is optional; when nil a new id is generated.
	ID        *uuid.UUID
	Query     string
	Documents []DocumentInput
}

// Lifecycle owns a session from creation to its single terminal write.
type Lifecycle struct {
	log            *logger.Logger
	gw             Gateway
	source         research.Source
	profile        *research.Profile
	dispatch       jobs.Dispatcher
	persistTimeout time.Duration
}

func NewLifecycle(
	baseLog *logger.Logger,
	gw Gateway,
	source research.Source,
	profile *research.Profile,
	dispatch jobs.Dispatcher,
	persistTimeout time.Duration,
) *Lifecycle {
	if profile == nil {
		profile = research.DefaultProfile()
	}
	if persistTimeout <= 0 {
		persistTimeout = defaultPersistTimeout
	}
	return &Lifecycle{
		log:            baseLog.With("service", "ResearchLifecycle"),
		gw:             gw,
		source:         source,
		profile:        profile,
		dispatch:       dispatch,
		persistTimeout: persistTimeout,
	}
}

// Create persists a running session with its documents and hands the run to
// the dispatcher. It returns as soon as the run is enqueued.
func (l *Lifecycle) Create(ctx context.Context, in CreateInput) (uuid.UUID, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return uuid.Nil, apierr.Validation("invalid_query", errors.New("query is required"))
	}
	session := &types.ResearchSession{
		Query:  query,
		Status: types.SessionRunning,
	}
	if in.ID != nil {
		if *in.ID == uuid.Nil {
			return uuid.Nil, apierr.Validation("invalid_session_id", errors.New("session id must not be the nil uuid"))
		}
		session.ID = *in.ID
	}
	docs := make([]*types.ResearchDocument, 0, len(in.Documents))
	for i, d := range in.Documents {
		if strings.TrimSpace(d.Filename) == "" {
			return uuid.Nil, apierr.Validation("invalid_document", fmt.Errorf("document %d: filename is required", i))
		}
		size := d.FileSize
		if size <= 0 {
			size = int64(len(d.Content))
		}
		docs = append(docs, &types.ResearchDocument{
			Filename: d.Filename,
			Content:  d.Content,
			MimeType: d.MimeType,
			FileSize: size,
		})
	}
	if err := l.gw.CreateSession(ctx, session, docs); err != nil {
		return uuid.Nil, err
	}
	l.log.Info("Research session created", "session_id", session.ID, "documents", len(docs))
	l.start(ctx, session, types.RunInitial, nil)
	return session.ID, nil
}

// start dispatches the run for a freshly created session. A dispatch failure
// fails the session; the caller still gets the id and sees the outcome by polling.
func (l *Lifecycle) start(ctx context.Context, session *types.ResearchSession, kind types.RunKind, parent *uuid.UUID) {
	desc := jobs.RunDescriptor{
		RunID:           uuid.New(),
		SessionID:       session.ID,
		Kind:            kind,
		Query:           session.Query,
		ParentSessionID: parent,
	}
	if l.dispatch == nil {
		l.fail(ctx, session.ID, errors.New("no run dispatcher configured"))
		return
	}
	if err := l.dispatch.Dispatch(ctx, desc); err != nil {
		l.fail(ctx, session.ID, fmt.Errorf("dispatch run: %w", err))
	}
}

// Execute runs one research run to its terminal write. Any error has already
// been absorbed into the session's failed status when it is returned.
func (l *Lifecycle) Execute(ctx context.Context, desc jobs.RunDescriptor) error {
	m := observability.Current()
	m.RunStarted()
	defer m.RunFinished()

	ctx, span := observability.Tracer().Start(ctx, "research.run", trace.WithAttributes(
		attribute.String("research.session_id", desc.SessionID.String()),
		attribute.String("research.run_kind", string(desc.Kind)),
	))
	defer span.End()

	if err := l.run(ctx, desc, span); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, ErrSessionTerminal) {
			l.fail(ctx, desc.SessionID, err)
		}
		return err
	}
	return nil
}

func (l *Lifecycle) run(ctx context.Context, desc jobs.RunDescriptor, span trace.Span) error {
	log := l.log.With("session_id", desc.SessionID, "run_id", desc.RunID)

	query := desc.Query
	if strings.TrimSpace(query) == "" {
		session, err := l.gw.GetSession(ctx, desc.SessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		query = session.Query
	}

	docs, err := l.documents(ctx, desc.SessionID)
	if err != nil {
		return fmt.Errorf("fetch documents: %w", err)
	}

	stream, err := l.source.StartStream(ctx, research.StreamRequest{
		Prompt:    research.BuildPrompt(l.profile, query, docs),
		Model:     l.profile.Model,
		MaxTokens: l.profile.MaxOutputTokens,
		Tools:     l.profile.Tools,
	})
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	defer stream.Close()

	m := observability.Current()
	ledger := &research.Ledger{}
	emit := func(ctx context.Context, d research.StepDraft) error {
		step := &types.ResearchStep{
			SessionID:  desc.SessionID,
			StepNumber: d.Number,
			StepType:   d.Type,
			Content:    d.Content,
			TokensUsed: d.Tokens,
		}
		if err := l.persist(ctx, func(ctx context.Context) error { return l.gw.AppendStep(ctx, step) }); err != nil {
			return fmt.Errorf("persist step %d: %w", d.Number, err)
		}
		ledger.Add(d.Tokens)
		m.ObserveStep(string(d.Type), d.Tokens)
		log.Debug("Research step persisted", "step_number", d.Number, "step_type", d.Type, "tokens_used", d.Tokens)
		return nil
	}
	if err := research.Segment(ctx, stream, research.NewSegmenter(), emit); err != nil {
		return err
	}

	text, err := stream.Text(ctx)
	if err != nil {
		return fmt.Errorf("fetch result text: %w", err)
	}
	tokens := ledger.Tokens()
	cost := ledger.Cost()
	var finalized bool
	err = l.persist(ctx, func(ctx context.Context) error {
		var ferr error
		finalized, ferr = l.gw.FinalizeSession(ctx, desc.SessionID, TerminalUpdate{
			Status:        types.SessionCompleted,
			TotalTokens:   &tokens,
			TotalCost:     &cost,
			ResultSummary: &text,
			CompletedAt:   time.Now().UTC(),
		})
		return ferr
	})
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	if !finalized {
		log.Warn("Session left running before completion was recorded")
		return ErrSessionTerminal
	}
	m.AddCost(cost)
	span.SetAttributes(
		attribute.Int("research.steps", ledger.Steps()),
		attribute.Int64("research.total_tokens", tokens),
	)
	log.Info("Research session completed", "steps", ledger.Steps(), "total_tokens", tokens, "total_cost", cost)
	return nil
}

func (l *Lifecycle) documents(ctx context.Context, sessionID uuid.UUID) ([]research.Document, error) {
	var rows []*types.ResearchDocument
	err := l.persist(ctx, func(ctx context.Context) error {
		var lerr error
		rows, lerr = l.gw.ListDocuments(ctx, sessionID)
		return lerr
	})
	if err != nil {
		return nil, err
	}
	out := make([]research.Document, 0, len(rows))
	for _, d := range rows {
		out = append(out, research.Document{Filename: d.Filename, Content: d.Content})
	}
	return out, nil
}

// persist bounds a single persistence call by the configured timeout.
func (l *Lifecycle) persist(ctx context.Context, fn func(context.Context) error) error {
	pctx, cancel := context.WithTimeout(ctx, l.persistTimeout)
	defer cancel()
	return fn(pctx)
}

// FailSession records the failed terminal state. It is a no-op for sessions
// that already left running.
func (l *Lifecycle) FailSession(ctx context.Context, sessionID uuid.UUID, reason error) error {
	wctx, cancel := ctxutil.Detached(ctx, l.persistTimeout)
	defer cancel()
	ok, err := l.gw.FinalizeSession(wctx, sessionID, TerminalUpdate{
		Status:      types.SessionFailed,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("mark session failed: %w", err)
	}
	if ok {
		l.log.Warn("Research session failed", "session_id", sessionID, "reason", reason)
	}
	return nil
}

func (l *Lifecycle) fail(ctx context.Context, sessionID uuid.UUID, reason error) {
	if err := l.FailSession(ctx, sessionID, reason); err != nil {
		l.log.Error("Failed to record session failure", "session_id", sessionID, "reason", reason, "error", err)
	}
}
