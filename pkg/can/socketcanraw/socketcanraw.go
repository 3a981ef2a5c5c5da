//go:build linux

package socketcanraw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
	"unsafe"

	can "github.com/samsamfire/eposmaster/pkg/can"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	frameSize      = 16
	receiveTimeout = 100 * time.Millisecond
	// Lower 7 bits of a predefined COB-ID hold the node id
	nodeIdMask = 0x7F
)

func init() {
	can.RegisterInterface("socketcanraw", NewBus)
}

// Kernel struct can_frame
type rawFrame struct {
	id    uint32
	dlc   uint8
	flags uint8
	res0  uint8
	res1  uint8
	data  [8]uint8
}

type Bus struct {
	channel    string
	fd         int
	f          *os.File
	rxCallback can.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *log.Entry
}

// NewBus opens a raw socket bound to channel, the interface must be up
func NewBus(channel string) (can.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket : %w", err)
	}
	tv := unix.NsecToTimeval(receiveTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set read timeout : %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Bus{
		channel: channel,
		fd:      fd,
		f:       os.NewFile(uintptr(fd), fmt.Sprintf("can fd %d", fd)),
		logger:  log.WithFields(log.Fields{"service": "[CAN]", "channel": channel}),
	}, nil
}

// "Connect" implementation of Bus interface
func (b *Bus) Connect(...any) error {
	if b.cancel != nil {
		return nil
	}
	var ctx context.Context
	ctx, b.cancel = context.WithCancel(context.Background())
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processIncoming(ctx)
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (b *Bus) Disconnect() error {
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	b.wg.Wait()
	b.cancel = nil
	return b.f.Close()
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame can.Frame) error {
	raw := rawFrame{id: frame.ID, dlc: frame.DLC, flags: frame.Flags, data: frame.Data}
	n, err := b.f.Write((*(*[frameSize]byte)(unsafe.Pointer(&raw)))[:])
	if err != nil {
		return err
	}
	if n != frameSize {
		return fmt.Errorf("short write on %v : %v bytes", b.channel, n)
	}
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(rxCallback can.FrameListener) error {
	b.rxCallback = rxCallback
	return nil
}

func (b *Bus) processIncoming(ctx context.Context) {
	buffer := make([]byte, frameSize)
	for {
		select {
		case <-ctx.Done():
			b.logger.Debug("reception stopped")
			return
		default:
		}
		n, err := b.f.Read(buffer)
		if err != nil {
			if os.IsTimeout(err) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			b.logger.Warnf("reception stopped : %v", err)
			return
		}
		if n != frameSize {
			continue
		}
		raw := (*rawFrame)(unsafe.Pointer(&buffer[0]))
		if b.rxCallback != nil {
			b.rxCallback.Handle(can.Frame{ID: raw.id, DLC: raw.dlc, Flags: raw.flags, Data: raw.data})
		}
	}
}

// SetReceiveOwn makes the socket receive the frames it sends
func (b *Bus) SetReceiveOwn(enabled bool) error {
	value := 0
	if enabled {
		value = 1
	}
	return unix.SetsockoptInt(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, value)
}

// NodeFilters accepts every predefined COB-ID belonging to nodeId
// (EMCY, TPDOs, SDO responses, heartbeat)
func NodeFilters(nodeId uint8) []unix.CanFilter {
	return []unix.CanFilter{{Id: uint32(nodeId), Mask: unix.CAN_EFF_FLAG | unix.CAN_RTR_FLAG | nodeIdMask}}
}

// FilterNode drops everything not sent by nodeId in the kernel
func (b *Bus) FilterNode(nodeId uint8) error {
	b.logger.Infof("filtering reception on node x%x", nodeId)
	return unix.SetsockoptCanRawFilter(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, NodeFilters(nodeId))
}
