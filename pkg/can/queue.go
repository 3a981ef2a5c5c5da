package can

import (
	"sync"
	"time"
)

const DefaultQueueDepth = 256

// Queue turns the callback based [Bus] into a pull based [Transport].
// Received frames are buffered up to a fixed depth, when the buffer is full
// the oldest frame is dropped so that a stalled consumer always sees the
// most recent traffic.
type Queue struct {
	bus     Bus
	mu      sync.Mutex
	frames  chan Frame
	done    chan struct{}
	closed  bool
	dropped uint64
}

// NewQueue subscribes to bus and returns the resulting transport.
func NewQueue(bus Bus, depth int) (*Queue, error) {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	q := &Queue{
		bus:    bus,
		frames: make(chan Frame, depth),
		done:   make(chan struct{}),
	}
	if err := bus.Subscribe(q); err != nil {
		return nil, err
	}
	return q, nil
}

// Handle implements [FrameListener]
func (q *Queue) Handle(frame Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for {
		select {
		case q.frames <- frame:
			return
		default:
		}
		// Full, make room
		select {
		case <-q.frames:
			q.dropped++
		default:
		}
	}
}

// Receive the next frame, waiting at most timeout.
// A non positive timeout waits until a frame arrives or the queue is closed.
func (q *Queue) Receive(timeout time.Duration) (Frame, error) {
	if timeout <= 0 {
		select {
		case frame := <-q.frames:
			return frame, nil
		case <-q.done:
			return Frame{}, ErrClosed
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame := <-q.frames:
		return frame, nil
	case <-q.done:
		return Frame{}, ErrClosed
	case <-timer.C:
		return Frame{}, ErrTimeout
	}
}

func (q *Queue) Send(frame Frame) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return q.bus.Send(frame)
}

// Dropped returns the number of frames discarded because of overflow
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops delivery, pending and future Receive calls return [ErrClosed].
// The underlying bus is left connected.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
