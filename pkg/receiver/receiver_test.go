package receiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	can "github.com/samsamfire/eposmaster/pkg/can"
	"github.com/samsamfire/eposmaster/pkg/can/virtual"
	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	frame can.Frame
	err   error
}

// scriptedTransport replays results then reports timeouts
type scriptedTransport struct {
	mu      sync.Mutex
	results []result
}

func (s *scriptedTransport) Receive(timeout time.Duration) (can.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		time.Sleep(time.Millisecond)
		return can.Frame{}, can.ErrTimeout
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next.frame, next.err
}

type codeDispatcher struct {
	mu    sync.Mutex
	codes map[uint32]epos.ErrorCode
	seen  []uint32
}

func (d *codeDispatcher) Dispatch(frame can.Frame) epos.ErrorCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, frame.ID)
	return d.codes[frame.ID]
}

func (d *codeDispatcher) Seen() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32{}, d.seen...)
}

type recordingPolicy struct {
	mu     sync.Mutex
	master []epos.ErrorCode
	sdo    []epos.ErrorCode
	device []epos.ErrorCode
}

func (p *recordingPolicy) OnMasterError(frame can.Frame, code epos.ErrorCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.master = append(p.master, code)
}

func (p *recordingPolicy) OnSDOError(frame can.Frame, code epos.ErrorCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sdo = append(p.sdo, code)
}

func (p *recordingPolicy) OnDeviceError(frame can.Frame, code epos.ErrorCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.device = append(p.device, code)
}

func frame(id uint32) result {
	return result{frame: can.NewFrame(id, 0, 0)}
}

func run(t *testing.T, task *Task) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- task.Run(ctx) }()
	assert.Eventually(t, task.Running, time.Second, time.Millisecond)
	return func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		assert.False(t, task.Running())
	}
}

func TestDispatchAndClassify(t *testing.T) {
	transport := &scriptedTransport{results: []result{
		frame(0x181),
		frame(0x581),
		frame(0x81),
		frame(0x701),
	}}
	first := &codeDispatcher{codes: map[uint32]epos.ErrorCode{
		0x581: epos.SDOAbort,
		0x81:  epos.DeviceCurrent | epos.DeviceTemperature,
	}}
	second := &codeDispatcher{codes: map[uint32]epos.ErrorCode{
		0x701: epos.MasterPdoLength | epos.SDOTimeout,
	}}
	policy := &recordingPolicy{}
	task := NewTask(transport, nil, WithPolicy(policy), WithTimeout(time.Millisecond))
	task.Register(first)
	task.Register(second)
	stop := run(t, task)
	assert.Eventually(t, func() bool { return task.Counters().Frames == 4 }, time.Second, time.Millisecond)
	stop()

	// Every dispatcher receives every frame, in order
	assert.Equal(t, []uint32{0x181, 0x581, 0x81, 0x701}, first.Seen())
	assert.Equal(t, first.Seen(), second.Seen())

	counters := task.Counters()
	assert.EqualValues(t, 1, counters.MasterErrors)
	assert.EqualValues(t, 2, counters.SDOErrors)
	assert.EqualValues(t, 1, counters.DeviceErrors)
	assert.Equal(t, []epos.ErrorCode{epos.MasterPdoLength | epos.SDOTimeout}, policy.master)
	assert.Equal(t, []epos.ErrorCode{epos.SDOAbort, epos.MasterPdoLength | epos.SDOTimeout}, policy.sdo)
	assert.Equal(t, []epos.ErrorCode{epos.DeviceCurrent | epos.DeviceTemperature}, policy.device)
}

func TestTimeoutIsIdle(t *testing.T) {
	policy := &recordingPolicy{}
	task := NewTask(&scriptedTransport{}, nil, WithPolicy(policy))
	stop := run(t, task)
	assert.Eventually(t, func() bool { return task.Counters().Timeouts > 3 }, time.Second, time.Millisecond)
	stop()
	counters := task.Counters()
	assert.Zero(t, counters.Frames)
	assert.Zero(t, counters.TransportErrors)
	assert.Empty(t, policy.master)
}

func TestTransportErrorBacksOff(t *testing.T) {
	transport := &scriptedTransport{results: []result{
		{err: errors.New("bus off")},
		frame(0x181),
	}}
	dispatcher := &codeDispatcher{}
	task := NewTask(transport, nil, WithBackoff(5*time.Millisecond))
	task.Register(dispatcher)
	stop := run(t, task)
	assert.Eventually(t, func() bool { return task.Counters().Frames == 1 }, time.Second, time.Millisecond)
	stop()
	assert.EqualValues(t, 1, task.Counters().TransportErrors)
	assert.Equal(t, []uint32{0x181}, dispatcher.Seen())
}

func TestClosedTransportStops(t *testing.T) {
	task := NewTask(&scriptedTransport{results: []result{{err: can.ErrClosed}}}, nil)
	err := task.Run(context.Background())
	assert.ErrorIs(t, err, can.ErrClosed)
}

func TestRunOnce(t *testing.T) {
	task := NewTask(&scriptedTransport{}, nil)
	stop := run(t, task)
	err := task.Run(context.Background())
	require.Error(t, err)
	stop()
}

func TestQueueTransport(t *testing.T) {
	bus, err := virtual.NewVirtualCanBus(t.Name())
	require.Nil(t, err)
	require.Nil(t, bus.Connect())
	defer bus.Disconnect()
	peer, err := virtual.NewVirtualCanBus(t.Name())
	require.Nil(t, err)
	require.Nil(t, peer.Connect())
	defer peer.Disconnect()

	queue, err := can.NewQueue(bus, 0)
	require.Nil(t, err)
	dispatcher := &codeDispatcher{}
	task := NewTask(queue, nil, WithTimeout(5*time.Millisecond))
	task.Register(dispatcher)
	done := make(chan error)
	go func() { done <- task.Run(context.Background()) }()

	require.Nil(t, peer.Send(can.NewFrame(0x701, 0, 1)))
	assert.Eventually(t, func() bool { return len(dispatcher.Seen()) == 1 }, time.Second, time.Millisecond)
	// Closing the queue ends the task
	queue.Close()
	assert.ErrorIs(t, <-done, can.ErrClosed)
}
