package heartbeat

import (
	"sync"
	"time"

	can "github.com/samsamfire/eposmaster/pkg/can"
)

// NMT state values carried by heartbeats
const (
	stateInitializing = 0x00
	stateUnknown      = 0xFF
)

type EventCallback func(event uint8, nodeId uint8, nmtState uint8)

// Monitor consumes the heartbeat of a single remote node and reports
// boot ups, state changes and timeouts through a callback
type Monitor struct {
	mu           sync.Mutex
	nodeId       uint8
	cobId        uint32
	nmtState     uint8
	nmtStatePrev uint8
	hbState      uint8
	timeout      time.Duration
	timer        *time.Timer
	callback     EventCallback
}

// NewMonitor watches nodeId. A zero timeout leaves the monitor unconfigured.
func NewMonitor(nodeId uint8, timeout time.Duration, callback EventCallback) *Monitor {
	monitor := &Monitor{callback: callback}
	monitor.update(nodeId, timeout)
	return monitor
}

// Handle heartbeat frames of the monitored node, others are ignored
func (monitor *Monitor) Handle(frame can.Frame) {
	monitor.mu.Lock()

	if monitor.hbState == HeartbeatUnconfigured || frame.ID != monitor.cobId || frame.DLC != 1 {
		monitor.mu.Unlock()
		return
	}
	monitor.nmtState = frame.Data[0]

	var eventType uint8
	var eventState uint8

	if monitor.nmtState == stateInitializing {
		// Signal reboot
		eventType = EventBoot
		eventState = stateInitializing
		monitor.hbState = HeartbeatUnknown
	} else {
		// Signal Boot-up
		if monitor.hbState != HeartbeatActive {
			eventType = EventStarted
			eventState = monitor.nmtState
		}
		// Heartbeat message
		monitor.hbState = HeartbeatActive
	}

	// Reset timer
	if monitor.timer != nil {
		monitor.timer.Reset(monitor.timeout)
	} else {
		monitor.timer = time.AfterFunc(monitor.timeout, monitor.timerHandler)
	}

	nmtChanged := monitor.nmtState != monitor.nmtStatePrev
	currentNmtState := monitor.nmtState
	monitor.nmtStatePrev = currentNmtState
	monitor.mu.Unlock()

	// Execute callbacks
	if eventType != 0 {
		monitor.notify(eventType, eventState)
	}
	if nmtChanged {
		monitor.notify(EventChanged, currentNmtState)
	}
}

func (monitor *Monitor) timerHandler() {
	monitor.mu.Lock()
	timedOut := false
	// Check timeout
	if monitor.hbState == HeartbeatActive {
		monitor.nmtState = stateUnknown
		monitor.nmtStatePrev = stateUnknown
		monitor.hbState = HeartbeatTimeout
		timedOut = true
	}
	monitor.mu.Unlock()

	if timedOut {
		monitor.notify(EventTimeout, stateUnknown)
	}
}

func (monitor *Monitor) notify(event uint8, state uint8) {
	if monitor.callback != nil {
		monitor.callback(event, monitor.nodeId, state)
	}
}

// Update monitored node id & timeout
func (monitor *Monitor) update(nodeId uint8, timeout time.Duration) {
	monitor.nodeId = nodeId
	monitor.timeout = timeout
	monitor.nmtState = stateUnknown
	monitor.nmtStatePrev = stateUnknown

	if monitor.nodeId != 0 && monitor.timeout != 0 {
		monitor.cobId = uint32(monitor.nodeId) + ServiceId
		monitor.hbState = HeartbeatUnknown
	} else {
		monitor.cobId = 0
		monitor.timeout = 0
		monitor.hbState = HeartbeatUnconfigured
	}
}

// State returns the heartbeat state (HeartbeatUnconfigured ... HeartbeatTimeout)
func (monitor *Monitor) State() uint8 {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	return monitor.hbState
}

// Stop the timeout timer
func (monitor *Monitor) Stop() {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	if monitor.timer != nil {
		monitor.timer.Stop()
	}
}
