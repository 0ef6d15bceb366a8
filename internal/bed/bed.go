package bed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bed is a snapshot of one physical bed. Patient ids are opaque identifiers
// owned by the patient-record collaborator.
type Bed struct {
	ID               uuid.UUID  `json:"id"`
	Number           string     `json:"bed_number"`
	RoomID           string     `json:"room_id"`
	Category         string     `json:"category"`
	State            State      `json:"lifecycle_state"`
	CurrentPatientID string     `json:"current_patient_id,omitempty"`
	ActiveTurnoverID *uuid.UUID `json:"active_turnover_id,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CheckInvariants verifies that the patient is set iff occupied and the
// active turnover is set iff cleaning.
func (b Bed) CheckInvariants() error {
	if !b.State.Valid() {
		return fmt.Errorf("bed %s: invalid state %q", b.Number, b.State)
	}
	if (b.State == StateOccupied) != (b.CurrentPatientID != "") {
		return fmt.Errorf("bed %s: state %s with current_patient_id %q", b.Number, b.State, b.CurrentPatientID)
	}
	if (b.State == StateCleaning) != (b.ActiveTurnoverID != nil) {
		return fmt.Errorf("bed %s: state %s with active_turnover_id set=%t", b.Number, b.State, b.ActiveTurnoverID != nil)
	}
	return nil
}

func (b Bed) clone() Bed {
	c := b
	if b.ActiveTurnoverID != nil {
		id := *b.ActiveTurnoverID
		c.ActiveTurnoverID = &id
	}
	return c
}

// Transition describes one committed state change.
type Transition struct {
	Bed  Bed
	From State
}

// Store persists bed snapshots. SaveBed must be an upsert keyed by ID.
type Store interface {
	ListBeds(ctx context.Context) ([]Bed, error)
	SaveBed(ctx context.Context, b Bed) error
}
