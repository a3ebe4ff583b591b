package types

import (
	"time"

	"github.com/google/uuid"
)

const DefaultDocumentMimeType = "text/plain"

type ResearchDocument struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID  uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	Filename   string    `gorm:"column:filename;not null" json:"filename"`
	Content    string    `gorm:"column:content;type:text;not null" json:"content"`
	FileSize   int64     `gorm:"column:file_size;not null;default:0" json:"file_size"`
	MimeType   string    `gorm:"column:mime_type;not null" json:"mime_type"`
	UploadedAt time.Time `gorm:"column:uploaded_at;not null;index" json:"uploaded_at"`
}

func (ResearchDocument) TableName() string { return "research_document" }
