package epos

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestControlWordBuilder(t *testing.T) {
	word := ControlEnableOperation.Apply(On(NewSetPoint), Off(Relative), Off(Halt))
	assert.EqualValues(t, 0x001F, word)
	assert.True(t, word.Has(NewSetPoint))

	word = word.Apply(On(Relative), On(Halt), Off(NewSetPoint))
	assert.EqualValues(t, 0x014F, word)
	assert.Equal(t, "x014f", word.String())

	// Last flag wins
	assert.EqualValues(t, 0, ControlWord(0).Apply(On(SwitchOn), Off(SwitchOn)))
}

func TestControlBitsDistinct(t *testing.T) {
	bits := []ControlBit{SwitchOn, EnableVoltage, QuickStop, EnableOperation, NewSetPoint, ChangeImmediately, Relative, FaultReset, Halt}
	seen := ControlWord(0)
	for _, bit := range bits {
		single := ControlWord(0).With(bit, true)
		assert.Zero(t, seen&single, "bit %v overlaps", bit)
		seen |= single
	}
}

func TestStatuswordState(t *testing.T) {
	for state := StateNotReadyToSwitchOn; state <= StateFault; state++ {
		assert.Equal(t, state, StatuswordOf(state).State(), state.String())
	}
	// Extra bits do not change the decoded state
	status := StatuswordOf(StateOperationEnabled).With(TargetReached, true).With(Remote, true)
	assert.Equal(t, StateOperationEnabled, status.State())
	assert.True(t, status.Has(TargetReached))
	assert.False(t, status.Has(Fault))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "PPM", ModeProfilePosition.String())
	assert.Equal(t, "PVM", ModeProfileVelocity.String())
	assert.Equal(t, "MODE(-1)", Mode(-1).String())
}
