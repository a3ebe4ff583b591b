package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

// ResearchStepRepo is append-only: there is no update or delete.
type ResearchStepRepo interface {
	Append(ctx context.Context, tx *gorm.DB, step *types.ResearchStep) error
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ResearchStep, error)
	SumTokens(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error)
}

type researchStepRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResearchStepRepo(db *gorm.DB, baseLog *logger.Logger) ResearchStepRepo {
	return &researchStepRepo{
		db:  db,
		log: baseLog.With("repo", "ResearchStepRepo"),
	}
}

func (r *researchStepRepo) Append(ctx context.Context, tx *gorm.DB, step *types.ResearchStep) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	return translate(transaction.WithContext(ctx).Create(step).Error)
}

// ListBySession returns steps in step_number order. limit <= 0 means all.
func (r *researchStepRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ResearchStep, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("step_number ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.ResearchStep
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *researchStepRepo) SumTokens(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var total int64
	err := transaction.WithContext(ctx).
		Model(&types.ResearchStep{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(SUM(tokens_used), 0)").
		Scan(&total).Error
	return total, err
}
