package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

type ResearchRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *types.ResearchRun) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ResearchRun, error)
	ClaimNextQueued(ctx context.Context, tx *gorm.DB) (*types.ResearchRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	ListStaleRunning(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]*types.ResearchRun, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.RunStatus]int64, error)
}

type researchRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResearchRunRepo(db *gorm.DB, baseLog *logger.Logger) ResearchRunRepo {
	return &researchRunRepo{
		db:  db,
		log: baseLog.With("repo", "ResearchRunRepo"),
	}
}

func (r *researchRunRepo) Create(ctx context.Context, tx *gorm.DB, run *types.ResearchRun) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = types.RunQueued
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	return translate(transaction.WithContext(ctx).Create(run).Error)
}

func (r *researchRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ResearchRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var run types.ResearchRun
	if err := transaction.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		return nil, translate(err)
	}
	return &run, nil
}

// ClaimNextQueued moves the oldest queued run to running. Runs are never
// re-claimed once started: a run that dies mid-flight is failed by the
// stale sweep instead of retried.
func (r *researchRunRepo) ClaimNextQueued(ctx context.Context, tx *gorm.DB) (*types.ResearchRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	var claimed *types.ResearchRun
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var run types.ResearchRun
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", types.RunQueued).
			Order("created_at ASC").
			First(&run).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		res := txx.Model(&types.ResearchRun{}).
			Where("id = ? AND status = ?", run.ID, types.RunQueued).
			Updates(map[string]interface{}{
				"status":       types.RunRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		run.Status = types.RunRunning
		run.Attempts++
		run.LockedAt = &now
		run.HeartbeatAt = &now
		claimed = &run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *researchRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return transaction.WithContext(ctx).
		Model(&types.ResearchRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *researchRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	return transaction.WithContext(ctx).
		Model(&types.ResearchRun{}).
		Where("id = ? AND status = ?", id, types.RunRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *researchRunRepo) ListStaleRunning(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]*types.ResearchRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var out []*types.ResearchRun
	if err := transaction.WithContext(ctx).
		Where("status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)", types.RunRunning, cutoff.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *researchRunRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.RunStatus]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []struct {
		Status types.RunStatus
		Count  int64
	}
	if err := transaction.WithContext(ctx).
		Model(&types.ResearchRun{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[types.RunStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}
