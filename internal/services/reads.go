package services

import (
	"context"
	"encoding/json"
	"math"

	"github.com/google/uuid"

	"github.com/yungbote/researchbridge-backend/internal/observability"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

const (
	PollAfterMS         = 2000
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// SnapshotCache stores encoded snapshots of terminal sessions.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
}

type SessionSnapshot struct {
	Session     *types.ResearchSession `json:"session"`
	Steps       []*types.ResearchStep  `json:"steps"`
	PollAfterMS int                    `json:"poll_after_ms,omitempty"`
}

type SessionStats struct {
	TotalCost         float64 `json:"total_cost"`
	TotalTokens       int64   `json:"total_tokens"`
	SessionCount      int64   `json:"session_count"`
	AvgCostPerSession float64 `json:"avg_cost_per_session"`
}

// Reader serves the polled read side. Snapshots are eventually consistent
// with the running step log.
type Reader struct {
	log   *logger.Logger
	gw    Gateway
	cache SnapshotCache
}

func NewReader(baseLog *logger.Logger, gw Gateway, cache SnapshotCache) *Reader {
	return &Reader{
		log:   baseLog.With("service", "ResearchReader"),
		gw:    gw,
		cache: cache,
	}
}

func snapshotKey(id uuid.UUID) string { return "research:snapshot:" + id.String() }

// Snapshot reads the session before its steps. Steps are written before the
// terminal update, so a terminal session is always paired with all its steps.
func (r *Reader) Snapshot(ctx context.Context, id uuid.UUID) (*SessionSnapshot, error) {
	if snap, ok := r.cached(ctx, id); ok {
		return snap, nil
	}
	session, err := r.gw.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := r.gw.ListSteps(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if steps == nil {
		steps = []*types.ResearchStep{}
	}
	snap := &SessionSnapshot{Session: session, Steps: steps}
	if session.Status == types.SessionRunning {
		snap.PollAfterMS = PollAfterMS
		return snap, nil
	}
	r.store(ctx, id, snap)
	return snap, nil
}

func (r *Reader) cached(ctx context.Context, id uuid.UUID) (*SessionSnapshot, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, ok, err := r.cache.Get(ctx, snapshotKey(id))
	if err != nil {
		r.log.Warn("Snapshot cache read failed", "session_id", id, "error", err)
		return nil, false
	}
	observability.Current().ObserveSnapshotCache(ok)
	if !ok {
		return nil, false
	}
	var snap SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		r.log.Warn("Snapshot cache entry unreadable", "session_id", id, "error", err)
		return nil, false
	}
	return &snap, true
}

func (r *Reader) store(ctx context.Context, id uuid.UUID, snap *SessionSnapshot) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, snapshotKey(id), raw); err != nil {
		r.log.Warn("Snapshot cache write failed", "session_id", id, "error", err)
	}
}

// History returns the most recent sessions first. limit is clamped to [1, 100]
// with 10 as the default.
func (r *Reader) History(ctx context.Context, limit int) ([]*types.ResearchSession, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	out, err := r.gw.ListRecentSessions(ctx, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*types.ResearchSession{}
	}
	return out, nil
}

func (r *Reader) Stats(ctx context.Context) (SessionStats, error) {
	totals, err := r.gw.SessionStats(ctx)
	if err != nil {
		return SessionStats{}, err
	}
	out := SessionStats{
		TotalCost:    roundMicros(totals.TotalCost),
		TotalTokens:  totals.TotalTokens,
		SessionCount: totals.SessionCount,
	}
	if totals.SessionCount > 0 {
		out.AvgCostPerSession = roundMicros(totals.TotalCost / float64(totals.SessionCount))
	}
	return out, nil
}

// Documents lists a session's documents in upload order; unknown sessions are 404.
func (r *Reader) Documents(ctx context.Context, id uuid.UUID) ([]*types.ResearchDocument, error) {
	if _, err := r.gw.GetSession(ctx, id); err != nil {
		return nil, err
	}
	out, err := r.gw.ListDocuments(ctx, id)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*types.ResearchDocument{}
	}
	return out, nil
}

func roundMicros(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
