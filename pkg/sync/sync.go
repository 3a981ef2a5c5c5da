package sync

import (
	"errors"
	s "sync"
	"time"

	can "github.com/samsamfire/eposmaster/pkg/can"
	log "github.com/sirupsen/logrus"
)

const ServiceId = 0x80

var ErrLength = errors.New("unexpected SYNC data length")

// SYNC object, used both for producing the SYNC broadcast and for
// consuming it on the receiving side
type SYNC struct {
	bus             can.Sender
	mu              s.Mutex
	logger          *log.Entry
	subMu           s.Mutex
	subscribers     []chan uint8
	counterOverflow uint8
	counter         uint8
	cobId           uint32
	timeLastRxTx    time.Time
	txBuffer        can.Frame
}

// Handle [SYNC] related RX CAN frames
func (sync *SYNC) Handle(frame can.Frame) {
	if frame.ID != sync.cobId {
		return
	}
	sync.mu.Lock()
	if sync.counterOverflow == 0 {
		if frame.DLC != 0 {
			sync.mu.Unlock()
			sync.logger.Warnf("reception error, length %v : %v", frame.DLC, ErrLength)
			return
		}
	} else {
		if frame.DLC != 1 {
			sync.mu.Unlock()
			sync.logger.Warnf("reception error, length %v : %v", frame.DLC, ErrLength)
			return
		}
		sync.counter = frame.Data[0]
	}
	sync.timeLastRxTx = time.Now()
	sync.mu.Unlock()
	sync.notifySubscribers()
}

// Subscribe returns a channel that receives the sync counter
// on every valid SYNC message
func (sync *SYNC) Subscribe() chan uint8 {
	sync.subMu.Lock()
	defer sync.subMu.Unlock()
	ch := make(chan uint8, 1)
	sync.subscribers = append(sync.subscribers, ch)
	return ch
}

// Unsubscribe removes the subscriber channel and closes it
func (sync *SYNC) Unsubscribe(ch chan uint8) {
	sync.subMu.Lock()
	defer sync.subMu.Unlock()
	for i, sub := range sync.subscribers {
		if sub == ch {
			sync.subscribers = append(sync.subscribers[:i], sync.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (sync *SYNC) notifySubscribers() {
	counter := sync.Counter()
	sync.subMu.Lock()
	defer sync.subMu.Unlock()
	for _, ch := range sync.subscribers {
		select {
		case ch <- counter:
		default:
			// Channel full, drop event
		}
	}
}

// Send broadcasts one SYNC frame. Staged synchronous PDOs of every
// node are applied on reception.
func (sync *SYNC) Send() error {
	sync.mu.Lock()
	if sync.counterOverflow != 0 {
		sync.counter += 1
		if sync.counter > sync.counterOverflow {
			sync.counter = 1
		}
		sync.txBuffer.Data[0] = sync.counter
	}
	sync.timeLastRxTx = time.Now()
	frame := sync.txBuffer
	sync.mu.Unlock()
	// When listening to own messages, this will trigger Handle to be called
	// So make sure sync is unlocked before sending
	err := sync.bus.Send(frame)
	if err != nil {
		sync.logger.Warnf("failed to send : %v", err)
	}
	return err
}

func (sync *SYNC) Counter() uint8 {
	sync.mu.Lock()
	defer sync.mu.Unlock()
	return sync.counter
}

func (sync *SYNC) CounterOverflow() uint8 {
	sync.mu.Lock()
	defer sync.mu.Unlock()
	return sync.counterOverflow
}

// Time of the last sent or received SYNC
func (sync *SYNC) LastSeen() time.Time {
	sync.mu.Lock()
	defer sync.mu.Unlock()
	return sync.timeLastRxTx
}

// NewSYNC creates a SYNC object on the default COB-ID.
// A counterOverflow of 0 disables the counter, otherwise the value is
// clamped to 2..240.
func NewSYNC(bus can.Sender, logger *log.Entry, counterOverflow uint8) *SYNC {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if counterOverflow == 1 {
		counterOverflow = 2
	} else if counterOverflow > 240 {
		counterOverflow = 240
	}
	sync := &SYNC{
		bus:             bus,
		logger:          logger.WithField("service", "[SYNC]"),
		counterOverflow: counterOverflow,
		cobId:           ServiceId,
	}
	sync.txBuffer = can.NewFrame(sync.cobId, 0, 0)
	if counterOverflow != 0 {
		sync.txBuffer.DLC = 1
	}
	return sync
}
