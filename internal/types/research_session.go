package types

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

var validSessionTransitions = map[SessionStatus][]SessionStatus{
	SessionRunning:   {SessionCompleted, SessionFailed},
	SessionCompleted: {},
	SessionFailed:    {},
}

// CanTransition reports whether a session may move from s to next.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, allowed := range validSessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

func (s SessionStatus) Valid() bool {
	_, ok := validSessionTransitions[s]
	return ok
}

type ResearchSession struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Query         string        `gorm:"column:query;type:text;not null" json:"query"`
	Status        SessionStatus `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	TotalTokens   int64         `gorm:"column:total_tokens;not null;default:0" json:"total_tokens"`
	TotalCost     float64       `gorm:"column:total_cost;type:numeric(14,6);not null;default:0" json:"total_cost"`
	ResultSummary *string       `gorm:"column:result_summary;type:text" json:"result_summary"`
	ParentID      *uuid.UUID    `gorm:"column:parent_id;type:uuid;index" json:"parent_id,omitempty"`
	CreatedAt     time.Time     `gorm:"not null;index" json:"created_at"`
	CompletedAt   *time.Time    `gorm:"column:completed_at" json:"completed_at"`
	UpdatedAt     time.Time     `gorm:"not null" json:"updated_at"`
}

func (ResearchSession) TableName() string { return "research_session" }
