package receiver

import (
	"context"
	"errors"
	"time"

	can "github.com/samsamfire/eposmaster/pkg/can"
	"github.com/samsamfire/eposmaster/pkg/epos"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const (
	DefaultTimeout = 1000 * time.Millisecond
	DefaultBackoff = 100 * time.Millisecond
)

// Dispatcher consumes one received frame and returns the composite
// error code of handling it, implemented by [epos.Drive]
type Dispatcher interface {
	Dispatch(frame can.Frame) epos.ErrorCode
}

// Policy is the recovery action taken for each error category.
// Several callbacks may be called for a single frame.
type Policy interface {
	OnMasterError(frame can.Frame, code epos.ErrorCode)
	OnSDOError(frame can.Frame, code epos.ErrorCode)
	OnDeviceError(frame can.Frame, code epos.ErrorCode)
}

// LogPolicy only logs, nothing is retried
type LogPolicy struct {
	Logger *log.Entry
}

func (p LogPolicy) OnMasterError(frame can.Frame, code epos.ErrorCode) {
	p.Logger.Errorf("master error x%08x (%v) handling x%x", uint32(code), code, frame.ID)
}

func (p LogPolicy) OnSDOError(frame can.Frame, code epos.ErrorCode) {
	p.Logger.Warnf("sdo error x%08x (%v) handling x%x", uint32(code), code, frame.ID)
}

func (p LogPolicy) OnDeviceError(frame can.Frame, code epos.ErrorCode) {
	p.Logger.Errorf("device error x%08x (%v) from x%x", uint32(code), code, frame.ID)
}

// Counters of a receiver task
type Counters struct {
	Frames          uint64 `json:"frames"`
	Timeouts        uint64 `json:"timeouts"`
	TransportErrors uint64 `json:"transportErrors"`
	MasterErrors    uint64 `json:"masterErrors"`
	SDOErrors       uint64 `json:"sdoErrors"`
	DeviceErrors    uint64 `json:"deviceErrors"`
}

// Task is the only consumer of received frames. Every frame goes to every
// dispatcher, the resulting codes are classified and handed to the policy.
type Task struct {
	transport       can.Receiver
	dispatchers     []Dispatcher
	policy          Policy
	timeout         time.Duration
	backoff         time.Duration
	logger          *log.Entry
	running         atomic.Bool
	frames          atomic.Uint64
	timeouts        atomic.Uint64
	transportErrors atomic.Uint64
	masterErrors    atomic.Uint64
	sdoErrors       atomic.Uint64
	deviceErrors    atomic.Uint64
}

type Option func(task *Task)

// WithPolicy replaces the default [LogPolicy]
func WithPolicy(policy Policy) Option {
	return func(task *Task) { task.policy = policy }
}

// WithTimeout sets the receive timeout, an idle bus wakes the loop this often
func WithTimeout(timeout time.Duration) Option {
	return func(task *Task) { task.timeout = timeout }
}

// WithBackoff sets the wait after a transport error
func WithBackoff(backoff time.Duration) Option {
	return func(task *Task) { task.backoff = backoff }
}

func NewTask(transport can.Receiver, logger *log.Entry, options ...Option) *Task {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	task := &Task{
		transport: transport,
		timeout:   DefaultTimeout,
		backoff:   DefaultBackoff,
		logger:    logger.WithField("service", "[RECEIVER]"),
	}
	for _, option := range options {
		option(task)
	}
	if task.policy == nil {
		task.policy = LogPolicy{Logger: task.logger}
	}
	return task
}

// Register adds a dispatcher, must be called before [Task.Run]
func (task *Task) Register(dispatcher Dispatcher) {
	task.dispatchers = append(task.dispatchers, dispatcher)
}

// Run receives until ctx is cancelled
func (task *Task) Run(ctx context.Context) error {
	if !task.running.CAS(false, true) {
		return errors.New("receiver already running")
	}
	defer task.running.Store(false)
	task.logger.Infof("receiving, timeout %v, %v dispatchers", task.timeout, len(task.dispatchers))
	for {
		if err := ctx.Err(); err != nil {
			task.logger.Info("stopped")
			return err
		}
		frame, err := task.transport.Receive(task.timeout)
		if errors.Is(err, can.ErrTimeout) {
			task.timeouts.Inc()
			continue
		}
		if err != nil {
			task.transportErrors.Inc()
			task.logger.Warnf("receive failed : %v", err)
			if errors.Is(err, can.ErrClosed) {
				return err
			}
			select {
			case <-ctx.Done():
			case <-time.After(task.backoff):
			}
			continue
		}
		task.frames.Inc()
		for _, dispatcher := range task.dispatchers {
			task.handle(frame, dispatcher.Dispatch(frame))
		}
	}
}

func (task *Task) handle(frame can.Frame, code epos.ErrorCode) {
	category := epos.Classify(code)
	if category.Has(epos.MasterError) {
		task.masterErrors.Inc()
		task.policy.OnMasterError(frame, code)
	}
	if category.Has(epos.SDOError) {
		task.sdoErrors.Inc()
		task.policy.OnSDOError(frame, code)
	}
	if category.Has(epos.DeviceError) {
		task.deviceErrors.Inc()
		task.policy.OnDeviceError(frame, code)
	}
}

func (task *Task) Running() bool {
	return task.running.Load()
}

func (task *Task) Counters() Counters {
	return Counters{
		Frames:          task.frames.Load(),
		Timeouts:        task.timeouts.Load(),
		TransportErrors: task.transportErrors.Load(),
		MasterErrors:    task.masterErrors.Load(),
		SDOErrors:       task.sdoErrors.Load(),
		DeviceErrors:    task.deviceErrors.Load(),
	}
}
