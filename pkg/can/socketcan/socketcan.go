package socketcan

import (
	"errors"
	"sync"

	sockcan "github.com/brutella/can"
	can "github.com/samsamfire/eposmaster/pkg/can"
	log "github.com/sirupsen/logrus"
)

// SocketCAN through github.com/brutella/can, registered as "socketcan"

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

var ErrNilListener = errors.New("nil frame listener")

type SocketcanBus struct {
	bus        *sockcan.Bus
	rxCallback can.FrameListener
	logger     *log.Entry
	mu         sync.Mutex
	connected  bool
	// Closed when the reception goroutine returns
	done chan struct{}
}

func NewSocketCanBus(channel string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(channel)
	if err != nil {
		return nil, err
	}
	return &SocketcanBus{
		bus:    bus,
		logger: log.WithFields(log.Fields{"service": "[CAN]", "channel": channel}),
	}, nil
}

// "Connect" implementation of Bus interface
func (socketcan *SocketcanBus) Connect(...any) error {
	socketcan.mu.Lock()
	defer socketcan.mu.Unlock()
	if socketcan.connected {
		return nil
	}
	socketcan.connected = true
	socketcan.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := socketcan.bus.ConnectAndPublish(); err != nil {
			socketcan.logger.Warnf("reception stopped : %v", err)
		}
	}(socketcan.done)
	return nil
}

// "Disconnect" implementation of Bus interface
func (socketcan *SocketcanBus) Disconnect() error {
	socketcan.mu.Lock()
	defer socketcan.mu.Unlock()
	if !socketcan.connected {
		return nil
	}
	socketcan.connected = false
	err := socketcan.bus.Disconnect()
	<-socketcan.done
	return err
}

// "Send" implementation of Bus interface
func (socketcan *SocketcanBus) Send(frame can.Frame) error {
	return socketcan.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Flags:  frame.Flags,
		Data:   frame.Data,
	})
}

// "Subscribe" implementation of Bus interface
func (socketcan *SocketcanBus) Subscribe(rxCallback can.FrameListener) error {
	if rxCallback == nil {
		return ErrNilListener
	}
	socketcan.rxCallback = rxCallback
	socketcan.bus.Subscribe(socketcan)
	return nil
}

// Handle implements the brutella/can frame handler
func (socketcan *SocketcanBus) Handle(frame sockcan.Frame) {
	socketcan.rxCallback.Handle(can.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data})
}
