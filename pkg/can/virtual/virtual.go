package virtual

import (
	"sync"

	can "github.com/samsamfire/eposmaster/pkg/can"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Virtual CAN bus living inside the process, primarily used for testing
// and for running against the drive simulator.
// Every bus connected to the same channel name sees the frames sent by the others.

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

const rxBufferSize = 4096

type hub struct {
	mu      sync.RWMutex
	members map[*Bus]struct{}
}

var (
	hubsMu sync.Mutex
	hubs   = make(map[string]*hub)
)

func getHub(channel string) *hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[channel]
	if !ok {
		h = &hub{members: make(map[*Bus]struct{})}
		hubs[channel] = h
	}
	return h
}

func (h *hub) broadcast(from *Bus, frame can.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for member := range h.members {
		if member == from && !member.receiveOwn.Load() {
			continue
		}
		member.enqueue(frame)
	}
}

type Bus struct {
	mu           sync.Mutex
	channel      string
	hub          *hub
	receiveOwn   atomic.Bool
	framehandler can.FrameListener
	rx           chan can.Frame
	stopChan     chan struct{}
	wg           sync.WaitGroup
	isRunning    bool
}

func NewVirtualCanBus(channel string) (can.Bus, error) {
	return &Bus{channel: channel}, nil
}

// "Connect" to the in process channel
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isRunning {
		return nil
	}
	b.rx = make(chan can.Frame, rxBufferSize)
	b.stopChan = make(chan struct{})
	b.hub = getHub(b.channel)
	b.isRunning = true
	b.wg.Add(1)
	go b.handleReception(b.rx, b.stopChan)

	b.hub.mu.Lock()
	b.hub.members[b] = struct{}{}
	b.hub.mu.Unlock()
	return nil
}

// "Disconnect" from channel
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return nil
	}
	b.isRunning = false
	h := b.hub
	close(b.stopChan)
	b.mu.Unlock()

	h.mu.Lock()
	delete(h.members, b)
	h.mu.Unlock()
	b.wg.Wait()
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	running := b.isRunning
	h := b.hub
	b.mu.Unlock()
	if !running {
		return can.ErrNotConnected
	}
	h.broadcast(b, frame)
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	return nil
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.receiveOwn.Store(receiveOwn)
}

func (b *Bus) enqueue(frame can.Frame) {
	select {
	case b.rx <- frame:
	default:
		log.Warnf("[CAN] virtual channel %v overflow, frame x%x dropped", b.channel, frame.ID)
	}
}

// Handle incoming traffic, frames are delivered in order
func (b *Bus) handleReception(rx chan can.Frame, stop chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-stop:
			return
		case frame := <-rx:
			b.mu.Lock()
			handler := b.framehandler
			b.mu.Unlock()
			if handler != nil {
				handler.Handle(frame)
			}
		}
	}
}
