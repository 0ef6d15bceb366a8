package bed

import (
	"testing"

	"github.com/KevinKickass/OpenWardCore/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateAvailable, StateOccupied, true},
		{StateOccupied, StateCleaning, true},
		{StateCleaning, StateAvailable, true},
		{StateAvailable, StateMaintenance, true},
		{StateMaintenance, StateAvailable, true},
		{StateCleaning, StateMaintenance, true},
		{StateMaintenance, StateCleaning, true},
		{StateCleaning, StateOccupied, true},

		{StateAvailable, StateCleaning, false},
		{StateOccupied, StateAvailable, false},
		{StateOccupied, StateMaintenance, false},
		{StateMaintenance, StateOccupied, false},
		{StateOccupied, StateOccupied, false},
		{State("broken"), StateAvailable, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, types.ErrInvalidTransition)
			}
		})
	}
}

func TestBed_CheckInvariants(t *testing.T) {
	assert.NoError(t, Bed{Number: "1", State: StateAvailable}.CheckInvariants())
	assert.NoError(t, Bed{Number: "1", State: StateOccupied, CurrentPatientID: "P"}.CheckInvariants())

	assert.Error(t, Bed{Number: "1", State: StateOccupied}.CheckInvariants())
	assert.Error(t, Bed{Number: "1", State: StateAvailable, CurrentPatientID: "P"}.CheckInvariants())
	assert.Error(t, Bed{Number: "1", State: StateCleaning}.CheckInvariants())
	assert.Error(t, Bed{Number: "1", State: "unknown"}.CheckInvariants())
}
