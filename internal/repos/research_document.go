package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

type ResearchDocumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, docs []*types.ResearchDocument) ([]*types.ResearchDocument, error)
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ResearchDocument, error)
}

type researchDocumentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResearchDocumentRepo(db *gorm.DB, baseLog *logger.Logger) ResearchDocumentRepo {
	return &researchDocumentRepo{
		db:  db,
		log: baseLog.With("repo", "ResearchDocumentRepo"),
	}
}

// Create inserts docs in slice order. Unset upload times are assigned strictly
// increasing values so upload order survives equal clock readings.
func (r *researchDocumentRepo) Create(ctx context.Context, tx *gorm.DB, docs []*types.ResearchDocument) ([]*types.ResearchDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(docs) == 0 {
		return []*types.ResearchDocument{}, nil
	}
	base := time.Now().UTC()
	for i, d := range docs {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		if d.MimeType == "" {
			d.MimeType = types.DefaultDocumentMimeType
		}
		if d.UploadedAt.IsZero() {
			d.UploadedAt = base.Add(time.Duration(i) * time.Microsecond)
		}
	}
	if err := transaction.WithContext(ctx).Create(&docs).Error; err != nil {
		return nil, translate(err)
	}
	return docs, nil
}

func (r *researchDocumentRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ResearchDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ResearchDocument
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("uploaded_at ASC").
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
