package bed

import (
	"fmt"

	"github.com/KevinKickass/OpenWardCore/internal/types"
)

type State string

const (
	StateAvailable   State = "available"
	StateOccupied    State = "occupied"
	StateCleaning    State = "cleaning"
	StateMaintenance State = "maintenance"
)

func (s State) Valid() bool {
	switch s {
	case StateAvailable, StateOccupied, StateCleaning, StateMaintenance:
		return true
	}
	return false
}

// validTransitions is the complete bed state machine. The normal cycle is
// available -> occupied -> cleaning -> available. cleaning -> occupied only
// restores a discharge whose turnover could not be started.
var validTransitions = map[State][]State{
	StateAvailable:   {StateOccupied, StateMaintenance},
	StateOccupied:    {StateCleaning},
	StateCleaning:    {StateAvailable, StateOccupied, StateMaintenance},
	StateMaintenance: {StateAvailable, StateCleaning},
}

func ValidateTransition(from, to State) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown state %q", types.ErrInvalidTransition, from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, to)
}
