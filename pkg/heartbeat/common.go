package heartbeat

import (
	"errors"

	can "github.com/samsamfire/eposmaster/pkg/can"
)

const (
	HeartbeatUnconfigured = 0x00 // Consumer entry inactive
	HeartbeatUnknown      = 0x01 // Consumer enabled, but no heartbeat received yet
	HeartbeatActive       = 0x02 // Heartbeat received within set time
	HeartbeatTimeout      = 0x03 // No heartbeat received for set time
	ServiceId             = 0x700
)

const (
	EventStarted = 0x01
	EventTimeout = 0x02
	EventChanged = 0x03
	EventBoot    = 0x04
)

var (
	ErrTimeoutTooShort = errors.New("heartbeat timeout must exceed period plus jitter")
	ErrTimeoutTooLong  = errors.New("heartbeat timeout exceeds 65535 ms")
	ErrInvalidNodeId   = errors.New("node id must be between 1 and 127")
	ErrInvalidPeriod   = errors.New("heartbeat period must be positive")
)

// Frame builds a heartbeat frame for nodeId carrying its NMT state
func Frame(nodeId uint8, state uint8) can.Frame {
	frame := can.NewFrame(ServiceId+uint32(nodeId), 0, 1)
	frame.Data[0] = state
	return frame
}

// Decode returns the producer and its NMT state
func Decode(frame can.Frame) (nodeId uint8, state uint8, ok bool) {
	if frame.ID <= ServiceId || frame.ID > ServiceId+0x7F || frame.DLC != 1 {
		return 0, 0, false
	}
	return uint8(frame.ID - ServiceId), frame.Data[0], true
}
