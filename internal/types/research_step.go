package types

import (
	"time"

	"github.com/google/uuid"
)

type StepType string

const (
	StepAnalysis StepType = "analysis"
	StepSummary  StepType = "summary"
)

// ResearchStep rows are append-only. (session_id, step_number) is unique.
type ResearchStep struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_research_step_session_number,priority:1" json:"session_id"`
	StepNumber int       `gorm:"column:step_number;not null;uniqueIndex:idx_research_step_session_number,priority:2" json:"step_number"`
	StepType   StepType  `gorm:"column:step_type;type:varchar(32);not null" json:"step_type"`
	Content    string    `gorm:"column:content;type:text;not null" json:"content"`
	TokensUsed int64     `gorm:"column:tokens_used;not null;default:0" json:"tokens_used"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (ResearchStep) TableName() string { return "research_step" }
