package virtual

import (
	"sync"
	"testing"
	"time"

	can "github.com/samsamfire/eposmaster/pkg/can"
	"github.com/stretchr/testify/assert"
)

type FrameReceiver struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (frameReceiver *FrameReceiver) Handle(frame can.Frame) {
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	frameReceiver.frames = append(frameReceiver.frames, frame)
}

func (frameReceiver *FrameReceiver) Frames() []can.Frame {
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	return append([]can.Frame(nil), frameReceiver.frames...)
}

func newVcan(t *testing.T, channel string) *Bus {
	canBus, err := can.NewBus("virtual", channel, 0)
	assert.Nil(t, err)
	vcan, ok := canBus.(*Bus)
	assert.True(t, ok)
	return vcan
}

func TestSendAndSubscribe(t *testing.T) {
	vcan1 := newVcan(t, t.Name())
	vcan2 := newVcan(t, t.Name())
	assert.Nil(t, vcan1.Connect())
	assert.Nil(t, vcan2.Connect())
	defer vcan1.Disconnect()
	defer vcan2.Disconnect()

	frameReceiver := &FrameReceiver{}
	assert.Nil(t, vcan2.Subscribe(frameReceiver))

	frame := can.Frame{ID: 0x111, Flags: 0, DLC: 8, Data: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}}
	for i := 0; i < 10; i++ {
		frame.Data[0] = uint8(i)
		assert.Nil(t, vcan1.Send(frame))
	}
	assert.Eventually(t, func() bool { return len(frameReceiver.Frames()) == 10 }, time.Second, 5*time.Millisecond)
	for i, received := range frameReceiver.Frames() {
		assert.Equal(t, uint8(i), received.Data[0])
	}
}

func TestReceiveOwn(t *testing.T) {
	vcan := newVcan(t, t.Name())
	assert.Nil(t, vcan.Connect())
	defer vcan.Disconnect()
	frameReceiver := &FrameReceiver{}
	assert.Nil(t, vcan.Subscribe(frameReceiver))

	t.Run("own frames ignored by default", func(t *testing.T) {
		assert.Nil(t, vcan.Send(can.NewFrame(0x80, 0, 0)))
		time.Sleep(50 * time.Millisecond)
		assert.Len(t, frameReceiver.Frames(), 0)
	})

	t.Run("own frames delivered", func(t *testing.T) {
		vcan.SetReceiveOwn(true)
		assert.Nil(t, vcan.Send(can.NewFrame(0x80, 0, 0)))
		assert.Eventually(t, func() bool { return len(frameReceiver.Frames()) == 1 }, time.Second, 5*time.Millisecond)
	})
}

func TestSendDisconnected(t *testing.T) {
	vcan := newVcan(t, t.Name())
	assert.Equal(t, can.ErrNotConnected, vcan.Send(can.NewFrame(0x80, 0, 0)))
	assert.Nil(t, vcan.Connect())
	assert.Nil(t, vcan.Disconnect())
	assert.Equal(t, can.ErrNotConnected, vcan.Send(can.NewFrame(0x80, 0, 0)))
}

func TestQueueOverVirtual(t *testing.T) {
	sender := newVcan(t, t.Name())
	listener := newVcan(t, t.Name())
	assert.Nil(t, sender.Connect())
	assert.Nil(t, listener.Connect())
	defer sender.Disconnect()
	defer listener.Disconnect()

	queue, err := can.NewQueue(listener, 8)
	assert.Nil(t, err)
	defer queue.Close()

	t.Run("idle receive times out", func(t *testing.T) {
		_, err := queue.Receive(10 * time.Millisecond)
		assert.Equal(t, can.ErrTimeout, err)
	})

	t.Run("frame received", func(t *testing.T) {
		assert.Nil(t, sender.Send(can.Frame{ID: 0x181, DLC: 1, Data: [8]byte{0x42}}))
		frame, err := queue.Receive(time.Second)
		assert.Nil(t, err)
		assert.EqualValues(t, 0x181, frame.ID)
		assert.EqualValues(t, 0x42, frame.Data[0])
	})
}
