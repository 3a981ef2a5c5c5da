package heartbeat

import (
	"fmt"
	"time"
)

const DefaultJitter = 100 * time.Millisecond

// Largest timeout of the consumer heartbeat time object (16 bits of ms)
const MaxTimeout = 0xFFFF * time.Millisecond

// Record describes one producer / consumer heartbeat relationship.
// The consumer expects a heartbeat of the producer within Timeout.
type Record struct {
	ProducerId uint8
	Period     time.Duration
	ConsumerId uint8
	Timeout    time.Duration
	// Worst case network and scheduling jitter, [DefaultJitter] if zero
	Jitter time.Duration
}

func validNodeId(nodeId uint8) bool {
	return nodeId >= 1 && nodeId <= 127
}

func (r Record) Validate() error {
	if !validNodeId(r.ProducerId) || !validNodeId(r.ConsumerId) {
		return ErrInvalidNodeId
	}
	if r.Period <= 0 {
		return ErrInvalidPeriod
	}
	jitter := r.Jitter
	if jitter == 0 {
		jitter = DefaultJitter
	}
	if r.Timeout > MaxTimeout {
		return fmt.Errorf("%w : %v", ErrTimeoutTooLong, r.Timeout)
	}
	if r.Timeout <= r.Period+jitter {
		return fmt.Errorf("%w : timeout %v, period %v, jitter %v", ErrTimeoutTooShort, r.Timeout, r.Period, jitter)
	}
	return nil
}
