package nmt

import (
	"errors"
	"fmt"
	"sync"

	can "github.com/samsamfire/eposmaster/pkg/can"
	log "github.com/sirupsen/logrus"
)

const ServiceId = 0

var (
	ErrInvalidTransition = errors.New("nmt transition not allowed from current state")
	ErrUnknownCommand    = errors.New("unknown nmt command")
)

// NMT state of a node, as reported by its heartbeat
type State uint8

// Possible NMT states
const (
	StateInitializing   State = 0
	StatePreOperational State = 127
	StateOperational    State = 5
	StateStopped        State = 4
	StateUnknown        State = 255
)

var stateMap = map[State]string{
	StateInitializing:   "INITIALIZING",
	StatePreOperational: "PRE-OPERATIONAL",
	StateOperational:    "OPERATIONAL",
	StateStopped:        "STOPPED",
	StateUnknown:        "UNKNOWN",
}

func (state State) String() string {
	description, ok := stateMap[state]
	if ok {
		return description
	}
	return fmt.Sprintf("STATE(%d)", uint8(state))
}

// Available NMT commands
// They can be broadcasted to all nodes or to individual nodes
type Command uint8

const (
	CommandEmpty               Command = 0
	CommandEnterOperational    Command = 1
	CommandEnterStopped        Command = 2
	CommandEnterPreOperational Command = 128
	CommandResetNode           Command = 129
	CommandResetCommunication  Command = 130
)

var CommandDescription = map[Command]string{
	CommandEnterOperational:    "ENTER-OPERATIONAL",
	CommandEnterStopped:        "ENTER-STOPPED",
	CommandEnterPreOperational: "ENTER-PREOPERATIONAL",
	CommandResetNode:           "RESET-NODE",
	CommandResetCommunication:  "RESET-COMMUNICATION",
}

func (command Command) String() string {
	description, ok := CommandDescription[command]
	if ok {
		return description
	}
	return fmt.Sprintf("COMMAND(%d)", uint8(command))
}

// TargetState is the state a node ends up in once the command is applied.
// Resets go through initialization.
func (command Command) TargetState() (State, error) {
	switch command {
	case CommandEnterOperational:
		return StateOperational, nil
	case CommandEnterStopped:
		return StateStopped, nil
	case CommandEnterPreOperational:
		return StatePreOperational, nil
	case CommandResetNode, CommandResetCommunication:
		return StateInitializing, nil
	}
	return StateUnknown, ErrUnknownCommand
}

// CommandFrame builds an NMT command for nodeId, 0 is broadcast
func CommandFrame(command Command, nodeId uint8) can.Frame {
	frame := can.NewFrame(ServiceId, 0, 2)
	frame.Data[0] = uint8(command)
	frame.Data[1] = nodeId
	return frame
}

// DecodeCommand returns the command and addressed node of an NMT frame
func DecodeCommand(frame can.Frame) (Command, uint8, bool) {
	if frame.ID != ServiceId || frame.DLC != 2 {
		return CommandEmpty, 0, false
	}
	return Command(frame.Data[0]), frame.Data[1], true
}

// NMT object, slave side. Follows commands addressed to its node id
// and reports state changes through a callback.
type NMT struct {
	mu             sync.Mutex
	logger         *log.Entry
	nodeId         uint8
	operatingState State
	callback       func(state State, reset bool)
}

func (nmt *NMT) Handle(frame can.Frame) {
	command, nodeId, ok := DecodeCommand(frame)
	if !ok || (nodeId != 0 && nodeId != nmt.nodeId) {
		return
	}
	nmt.apply(command)
}

func (nmt *NMT) apply(command Command) {
	target, err := command.TargetState()
	if err != nil {
		nmt.logger.Warnf("ignoring command %v : %v", command, err)
		return
	}
	reset := command == CommandResetNode || command == CommandResetCommunication
	nmt.mu.Lock()
	previous := nmt.operatingState
	nmt.operatingState = target
	callback := nmt.callback
	nmt.mu.Unlock()

	if previous != target || reset {
		nmt.logger.Debugf("state changed | %v ==> %v", previous, target)
		if callback != nil {
			callback(target, reset)
		}
	}
}

// Boot completes initialization and enters pre-operational
func (nmt *NMT) Boot() {
	nmt.apply(CommandEnterPreOperational)
}

// Get NMT state
func (nmt *NMT) GetInternalState() State {
	nmt.mu.Lock()
	defer nmt.mu.Unlock()
	return nmt.operatingState
}

func NewNMT(nodeId uint8, logger *log.Entry, callback func(state State, reset bool)) *NMT {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &NMT{
		nodeId:         nodeId,
		logger:         logger.WithFields(log.Fields{"service": "[NMT]", "node": nodeId}),
		operatingState: StateInitializing,
		callback:       callback,
	}
}
