package epos

import (
	"fmt"

	"github.com/samsamfire/eposmaster/pkg/nmt"
	"github.com/samsamfire/eposmaster/pkg/od"
)

func (d *Drive) writeControlWord(op string, words ...ControlWord) error {
	for _, word := range words {
		if err := d.WriteDictionary(od.Controlword, int32(word)); err != nil {
			d.logger.Errorf("%v failed writing controlword %v : %v", op, word, err)
			return &Error{Op: op, Code: CodeOf(err), Err: err}
		}
	}
	d.logger.Debugf("%v, controlword %v", op, d.node.ControlWord())
	return nil
}

// Disable brings the drive to ready to switch on, power stage off
func (d *Drive) Disable() error {
	return d.writeControlWord("disable", ControlShutdown)
}

// Enable goes through shutdown then enable operation
func (d *Drive) Enable() error {
	return d.writeControlWord("enable", ControlShutdown, ControlEnableOperation)
}

// Halt stops the current motion, the drive stays enabled
func (d *Drive) Halt() error {
	return d.writeControlWord("halt", d.node.ControlWord().With(Halt, true))
}

// ClearFault acknowledges a fault with a rising edge on fault reset
func (d *Drive) ClearFault() error {
	return d.writeControlWord("clear fault", ControlDisableVoltage, ControlFaultReset)
}

// ApplyControlBits writes the current controlword with flags applied, using SDO
func (d *Drive) ApplyControlBits(flags ...Flag) error {
	return d.writeControlWord("control bits", d.node.ControlWord().Apply(flags...))
}

// SetModeOfOperation writes the mode then reads it back from the display object
func (d *Drive) SetModeOfOperation(mode Mode) error {
	op := fmt.Sprintf("set mode %v", mode)
	if err := d.WriteDictionary(od.ModesOfOperation, int32(mode)); err != nil {
		return &Error{Op: op, Code: CodeOf(err), Err: err}
	}
	value, _, err := d.client.Read(d.NodeId(), od.ModesOfOperationDisplay.Index, od.ModesOfOperationDisplay.Subindex)
	if err != nil {
		return wrap(op, err)
	}
	display := Mode(int8(value))
	if display != mode {
		d.logger.Errorf("%v : drive displays %v", op, display)
		return &Error{Op: op, Code: MasterWrongState, Err: ErrModeMismatch}
	}
	d.node.setMode(mode)
	d.node.Cache().Set(od.ModesOfOperationDisplay, int32(display))
	d.logger.Infof("mode of operation %v", mode)
	return nil
}

func (d *Drive) ModeOfOperation() Mode {
	return d.node.Mode()
}

// RequireMotion checks that the drive can accept a motion command in mode
func (d *Drive) RequireMotion(op string, mode Mode) error {
	if state := d.NMTState(); state != nmt.StateOperational {
		return &Error{Op: op, Code: MasterWrongState, Err: fmt.Errorf("%w : %v", ErrNotOperational, state)}
	}
	if current := d.ModeOfOperation(); current != mode {
		return &Error{Op: op, Code: MasterWrongState, Err: fmt.Errorf("%w : %v, need %v", ErrWrongMode, current, mode)}
	}
	return nil
}
