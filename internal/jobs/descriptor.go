package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/researchbridge-backend/internal/types"
)

// RunDescriptor is everything a worker needs to execute one research run.
// It is serialized into research_run.payload.
type RunDescriptor struct {
	RunID           uuid.UUID     `json:"run_id"`
	SessionID       uuid.UUID     `json:"session_id"`
	Kind            types.RunKind `json:"kind"`
	Query           string        `json:"query"`
	ParentSessionID *uuid.UUID    `json:"parent_session_id,omitempty"`
}

func (d RunDescriptor) Validate() error {
	if d.SessionID == uuid.Nil {
		return errors.New("run descriptor: missing session id")
	}
	switch d.Kind {
	case types.RunInitial, types.RunContinuation:
	default:
		return fmt.Errorf("run descriptor: unknown kind %q", d.Kind)
	}
	return nil
}

func (d RunDescriptor) Payload() (datatypes.JSON, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func DecodeDescriptor(run *types.ResearchRun) (RunDescriptor, error) {
	var d RunDescriptor
	if run == nil {
		return d, errors.New("run descriptor: nil run")
	}
	if err := json.Unmarshal(run.Payload, &d); err != nil {
		return d, fmt.Errorf("run descriptor: decode: %w", err)
	}
	if d.RunID == uuid.Nil {
		d.RunID = run.ID
	}
	if d.SessionID == uuid.Nil {
		d.SessionID = run.SessionID
	}
	if d.Kind == "" {
		d.Kind = run.Kind
	}
	return d, d.Validate()
}
