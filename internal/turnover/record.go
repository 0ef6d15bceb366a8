package turnover

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeStandard  Type = "standard"
	TypePriority  Type = "priority"
	TypeDeepClean Type = "deep-clean"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var ErrUnknownType = errors.New("unknown turnover type")

// Record is one cleaning cycle of a bed. PatientID is empty for turnovers
// that did not follow a discharge (post-maintenance cleaning).
type Record struct {
	ID               uuid.UUID     `json:"id"`
	BedID            uuid.UUID     `json:"bed_id"`
	PatientID        string        `json:"patient_id,omitempty"`
	Type             Type          `json:"turnover_type"`
	Status           Status        `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	ExpectedDuration time.Duration `json:"expected_duration"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	InspectionPassed *bool         `json:"inspection_passed,omitempty"`
	InspectorID      string        `json:"inspector_id,omitempty"`
	InspectorNotes   string        `json:"inspector_notes,omitempty"`
	AutoCompleted    bool          `json:"auto_completed"`
}

// Terminal reports whether the record is completed or cancelled. Terminal
// records are immutable.
func (r Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled
}

// DurationSource resolves the configured cleaning duration of a turnover type.
type DurationSource interface {
	Duration(turnoverType string) (time.Duration, error)
}

// Store persists turnover records. UpdateTurnover must only succeed while the
// stored record is still in progress and return types.ErrInvalidState otherwise.
type Store interface {
	InsertTurnover(ctx context.Context, rec Record) error
	UpdateTurnover(ctx context.Context, rec Record) error
	GetTurnover(ctx context.Context, id uuid.UUID) (Record, error)
	ListTurnoversByBed(ctx context.Context, bedID uuid.UUID) ([]Record, error)
	ListTurnoversByStatus(ctx context.Context, status Status) ([]Record, error)
}
