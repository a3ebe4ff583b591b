package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

// SessionTotals aggregates spend over every stored session.
type SessionTotals struct {
	SessionCount int64   `json:"session_count"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

type ResearchSessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, session *types.ResearchSession) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ResearchSession, error)
	FinalizeIfRunning(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) (bool, error)
	ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.ResearchSession, error)
	Totals(ctx context.Context, tx *gorm.DB) (SessionTotals, error)
}

type researchSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResearchSessionRepo(db *gorm.DB, baseLog *logger.Logger) ResearchSessionRepo {
	return &researchSessionRepo{
		db:  db,
		log: baseLog.With("repo", "ResearchSessionRepo"),
	}
}

func (r *researchSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.ResearchSession) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	return translate(transaction.WithContext(ctx).Create(session).Error)
}

func (r *researchSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ResearchSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var session types.ResearchSession
	if err := transaction.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

// FinalizeIfRunning applies updates only while the session is still running.
// It reports false when another writer already moved the session to a terminal state.
func (r *researchSessionRepo) FinalizeIfRunning(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := transaction.WithContext(ctx).
		Model(&types.ResearchSession{}).
		Where("id = ? AND status = ?", id, types.SessionRunning).
		Updates(updates)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *researchSessionRepo) ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.ResearchSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 10
	}
	var out []*types.ResearchSession
	if err := transaction.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *researchSessionRepo) Totals(ctx context.Context, tx *gorm.DB) (SessionTotals, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out SessionTotals
	err := transaction.WithContext(ctx).
		Model(&types.ResearchSession{}).
		Select("COUNT(*) AS session_count, COALESCE(SUM(total_tokens), 0) AS total_tokens, COALESCE(SUM(total_cost), 0) AS total_cost").
		Scan(&out).Error
	if err != nil {
		return SessionTotals{}, err
	}
	return out, nil
}
