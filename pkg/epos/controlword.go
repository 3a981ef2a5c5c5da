package epos

import "fmt"

// ControlBit is the position of a flag inside the controlword (0x6040)
type ControlBit uint8

const (
	SwitchOn          ControlBit = 0
	EnableVoltage     ControlBit = 1
	QuickStop         ControlBit = 2
	EnableOperation   ControlBit = 3
	NewSetPoint       ControlBit = 4 // profile position
	ChangeImmediately ControlBit = 5 // profile position
	Relative          ControlBit = 6 // profile position, absolute when cleared
	FaultReset        ControlBit = 7
	Halt              ControlBit = 8
)

// ControlWord is a packed controlword
type ControlWord uint16

// Device control commands
const (
	ControlDisableVoltage  ControlWord = 0x0000
	ControlShutdown        ControlWord = 0x0006
	ControlSwitchOn        ControlWord = 0x0007
	ControlEnableOperation ControlWord = 0x000F
	ControlFaultReset      ControlWord = 0x0080
)

// Flag is a controlword bit with its desired value
type Flag struct {
	Bit   ControlBit
	Value bool
}

func On(bit ControlBit) Flag  { return Flag{Bit: bit, Value: true} }
func Off(bit ControlBit) Flag { return Flag{Bit: bit, Value: false} }

func (w ControlWord) With(bit ControlBit, value bool) ControlWord {
	if value {
		return w | 1<<bit
	}
	return w &^ (1 << bit)
}

// Apply every flag in order and return the packed word
func (w ControlWord) Apply(flags ...Flag) ControlWord {
	for _, flag := range flags {
		w = w.With(flag.Bit, flag.Value)
	}
	return w
}

func (w ControlWord) Has(bit ControlBit) bool {
	return w&(1<<bit) != 0
}

func (w ControlWord) String() string {
	return fmt.Sprintf("x%04x", uint16(w))
}

// StatusBit is the position of a flag inside the statusword (0x6041)
type StatusBit uint8

const (
	ReadyToSwitchOn     StatusBit = 0
	SwitchedOn          StatusBit = 1
	OperationEnabled    StatusBit = 2
	Fault               StatusBit = 3
	VoltageEnabled      StatusBit = 4
	QuickStopActive     StatusBit = 5
	SwitchOnDisabled    StatusBit = 6
	Warning             StatusBit = 7
	Remote              StatusBit = 9
	TargetReached       StatusBit = 10
	InternalLimitActive StatusBit = 11
	SetPointAcknowledge StatusBit = 12
	FollowingError      StatusBit = 13
)

var statusBitDescription = map[StatusBit]string{
	ReadyToSwitchOn:     "ready to switch on",
	SwitchedOn:          "switched on",
	OperationEnabled:    "operation enabled",
	Fault:               "fault",
	VoltageEnabled:      "voltage enabled",
	QuickStopActive:     "quick stop",
	SwitchOnDisabled:    "switch on disabled",
	Warning:             "warning",
	Remote:              "remote",
	TargetReached:       "target reached",
	InternalLimitActive: "internal limit active",
	SetPointAcknowledge: "set-point acknowledge",
	FollowingError:      "following error",
}

func (b StatusBit) String() string {
	if description, ok := statusBitDescription[b]; ok {
		return description
	}
	return fmt.Sprintf("bit %d", uint8(b))
}

// Statusword as received from the drive
type Statusword uint16

func (s Statusword) Has(bit StatusBit) bool {
	return s&(1<<bit) != 0
}

func (s Statusword) With(bit StatusBit, value bool) Statusword {
	if value {
		return s | 1<<bit
	}
	return s &^ (1 << bit)
}

// DeviceState of the CiA 402 power state machine
type DeviceState uint8

const (
	StateNotReadyToSwitchOn DeviceState = iota
	StateSwitchOnDisabled
	StateReadyToSwitchOn
	StateSwitchedOn
	StateOperationEnabled
	StateQuickStopActive
	StateFaultReactionActive
	StateFault
)

var deviceStateDescription = map[DeviceState]string{
	StateNotReadyToSwitchOn:  "NOT READY TO SWITCH ON",
	StateSwitchOnDisabled:    "SWITCH ON DISABLED",
	StateReadyToSwitchOn:     "READY TO SWITCH ON",
	StateSwitchedOn:          "SWITCHED ON",
	StateOperationEnabled:    "OPERATION ENABLED",
	StateQuickStopActive:     "QUICK STOP ACTIVE",
	StateFaultReactionActive: "FAULT REACTION ACTIVE",
	StateFault:               "FAULT",
}

func (s DeviceState) String() string {
	return deviceStateDescription[s]
}

// Statusword patterns of each device state
var deviceStatePattern = map[DeviceState]Statusword{
	StateNotReadyToSwitchOn:  0x0000,
	StateSwitchOnDisabled:    0x0040,
	StateReadyToSwitchOn:     0x0021,
	StateSwitchedOn:          0x0023,
	StateOperationEnabled:    0x0027,
	StateQuickStopActive:     0x0007,
	StateFaultReactionActive: 0x000F,
	StateFault:               0x0008,
}

// State decodes the device state
func (s Statusword) State() DeviceState {
	switch {
	case s&0x004F == 0x0000:
		return StateNotReadyToSwitchOn
	case s&0x004F == 0x0040:
		return StateSwitchOnDisabled
	case s&0x006F == 0x0021:
		return StateReadyToSwitchOn
	case s&0x006F == 0x0023:
		return StateSwitchedOn
	case s&0x006F == 0x0027:
		return StateOperationEnabled
	case s&0x006F == 0x0007:
		return StateQuickStopActive
	case s&0x004F == 0x000F:
		return StateFaultReactionActive
	default:
		return StateFault
	}
}

// StatuswordOf returns the statusword pattern of a device state, other bits cleared
func StatuswordOf(state DeviceState) Statusword {
	return deviceStatePattern[state]
}
