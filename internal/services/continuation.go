package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/researchbridge-backend/internal/platform/apierr"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/research"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

type ContinueInput struct {
	SessionID       uuid.UUID
	AdditionalQuery string
}

// Forker branches a new session off an existing one. The parent is only read.
type Forker struct {
	log       *logger.Logger
	gw        Gateway
	lifecycle *Lifecycle
}

func NewForker(baseLog *logger.Logger, gw Gateway, lifecycle *Lifecycle) *Forker {
	return &Forker{
		log:       baseLog.With("service", "ResearchForker"),
		gw:        gw,
		lifecycle: lifecycle,
	}
}

// Continue validates the request, creates the forked session with copies of
// the parent's documents and enqueues its run. Nothing is written when
// validation or the parent lookup fails.
func (f *Forker) Continue(ctx context.Context, in ContinueInput) (uuid.UUID, error) {
	additional := strings.TrimSpace(in.AdditionalQuery)
	if additional == "" {
		return uuid.Nil, apierr.Validation("invalid_additional_query", errors.New("additional query is required"))
	}
	if in.SessionID == uuid.Nil {
		return uuid.Nil, apierr.Validation("invalid_session_id", errors.New("session id is required"))
	}
	parent, err := f.gw.GetSession(ctx, in.SessionID)
	if err != nil {
		return uuid.Nil, err
	}

	steps, err := f.gw.ListSteps(ctx, parent.ID, 3)
	if err != nil {
		return uuid.Nil, fmt.Errorf("list parent steps: %w", err)
	}
	contents := make([]string, 0, len(steps))
	for _, s := range steps {
		contents = append(contents, s.Content)
	}

	parentDocs, err := f.gw.ListDocuments(ctx, parent.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("list parent documents: %w", err)
	}
	copies := make([]*types.ResearchDocument, 0, len(parentDocs))
	for _, d := range parentDocs {
		copies = append(copies, &types.ResearchDocument{
			Filename: d.Filename,
			Content:  d.Content,
			FileSize: d.FileSize,
			MimeType: d.MimeType,
		})
	}

	parentID := parent.ID
	session := &types.ResearchSession{
		Query:    research.BuildContinuationQuery(parent.Query, additional, contents),
		Status:   types.SessionRunning,
		ParentID: &parentID,
	}
	if err := f.gw.CreateSession(ctx, session, copies); err != nil {
		return uuid.Nil, err
	}
	f.log.Info("Research session continued", "parent_session_id", parent.ID, "session_id", session.ID, "documents", len(copies))
	f.lifecycle.start(ctx, session, types.RunContinuation, &parentID)
	return session.ID, nil
}
