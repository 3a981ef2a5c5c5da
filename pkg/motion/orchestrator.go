package motion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samsamfire/eposmaster/pkg/config"
	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/samsamfire/eposmaster/pkg/heartbeat"
	"github.com/samsamfire/eposmaster/pkg/nmt"
	"github.com/samsamfire/eposmaster/pkg/od"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Drive is what the orchestrator needs from a single drive,
// implemented by [epos.Drive]
type Drive interface {
	nmt.Requester
	PDOConfigurer
	WriteDictionary(entry od.Entry, value int32) error
	ReadDictionary(entry od.Entry) (int32, bool)
	CachedValue(entry od.Entry) int32
	SendRxPDO(label string, values ...int32) error
	BroadcastSync() error
	SetModeOfOperation(mode epos.Mode) error
	ModeOfOperation() epos.Mode
	RequireMotion(op string, mode epos.Mode) error
	Enable() error
	Disable() error
	Halt() error
	ClearFault() error
	ApplyControlBits(flags ...epos.Flag) error
	ControlWord() uint16
	StatusBit(bit epos.StatusBit) bool
	InvalidateStatus()
	Identity() (*config.Identity, error)
}

var _ Drive = (*epos.Drive)(nil)

type Stage uint8

const (
	StageInit Stage = iota
	StagePreOperational
	StagePDOConfigured
	StageOperational
	StageModeSet
	StageAwaitingSyncMotion
	StageIdle
	StageFailed
)

var stageDescription = map[Stage]string{
	StageInit:               "INIT",
	StagePreOperational:     "PRE-OPERATIONAL",
	StagePDOConfigured:      "PDO CONFIGURED",
	StageOperational:        "OPERATIONAL",
	StageModeSet:            "MODE SET",
	StageAwaitingSyncMotion: "AWAITING SYNC MOTION",
	StageIdle:               "IDLE",
	StageFailed:             "FAILED",
}

func (s Stage) String() string {
	return stageDescription[s]
}

const (
	DefaultPDOSettle     = 100 * time.Millisecond
	DefaultSyncSettle    = 50 * time.Millisecond
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultMotionTimeout = 30 * time.Second
)

type Timing struct {
	// Wait after each NMT transition
	NMTSettle time.Duration
	// Wait after clearing the mappings
	PDOSettle time.Duration
	// Wait between staging the controlword and the SYNC broadcast
	SyncDelay time.Duration
	// Wait after SYNC before clearing new set-point
	SyncSettle    time.Duration
	PollInterval  time.Duration
	MotionTimeout time.Duration
}

// DefaultTiming returns the delays used with an EPOS4
func DefaultTiming() Timing {
	return Timing{
		NMTSettle:     nmt.DefaultSettle,
		PDOSettle:     DefaultPDOSettle,
		SyncSettle:    DefaultSyncSettle,
		PollInterval:  DefaultPollInterval,
		MotionTimeout: DefaultMotionTimeout,
	}
}

// Status is a point in time view of the orchestrator
type Status struct {
	Stage     string    `json:"stage"`
	RunId     string    `json:"runId"`
	Busy      bool      `json:"busy"`
	LastError string    `json:"lastError,omitempty"`
	ErrorCode string    `json:"errorCode,omitempty"`
	Moves     uint64    `json:"moves"`
	SyncMoves uint64    `json:"syncMoves"`
	Updated   time.Time `json:"updated"`
}

// Orchestrator sequences a drive from power up to synchronized motion.
// Every operation is only accepted in some stages, a failure moves the
// orchestrator to [StageFailed] until [Orchestrator.Reset].
type Orchestrator struct {
	drive     Drive
	lifecycle *nmt.Lifecycle
	timing    Timing
	logger    *log.Entry
	mu        sync.Mutex
	stage     Stage
	runId     uuid.UUID
	lastErr   error
	updated   time.Time
	moves     uint64
	syncMoves uint64
	// Held while a command is executing on the drive
	busy sync.Mutex
	// Mirrors busy for observers, never locked by readers
	running atomic.Bool
}

func NewOrchestrator(drive Drive, timing Timing, logger *log.Entry) *Orchestrator {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if timing.PollInterval <= 0 {
		timing.PollInterval = DefaultPollInterval
	}
	if timing.MotionTimeout <= 0 {
		timing.MotionTimeout = DefaultMotionTimeout
	}
	o := &Orchestrator{
		drive:     drive,
		lifecycle: nmt.NewLifecycle(drive, timing.NMTSettle, logger),
		timing:    timing,
		stage:     StageInit,
		runId:     uuid.New(),
		updated:   time.Now(),
	}
	o.logger = logger.WithFields(log.Fields{"service": "[MOTION]", "node": drive.NodeId()})
	return o
}

func (o *Orchestrator) Stage() Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// RunId identifies the current run, renewed on every reset
func (o *Orchestrator) RunId() uuid.UUID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runId
}

func (o *Orchestrator) Lifecycle() *nmt.Lifecycle {
	return o.lifecycle
}

func (o *Orchestrator) Status() Status {
	busy := o.running.Load()
	o.mu.Lock()
	defer o.mu.Unlock()
	status := Status{
		Stage:     o.stage.String(),
		RunId:     o.runId.String(),
		Busy:      busy,
		Moves:     o.moves,
		SyncMoves: o.syncMoves,
		Updated:   o.updated,
	}
	if o.lastErr != nil {
		status.LastError = o.lastErr.Error()
		status.ErrorCode = codeOf(o.lastErr).Error()
	}
	return status
}

// LastError returns the error that moved the orchestrator to failed
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Reset goes back to [StageInit] with a new run id.
// The drive itself is left as is, bring-up starts again from scratch.
func (o *Orchestrator) Reset() {
	o.busy.Lock()
	defer o.busy.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stage = StageInit
	o.lastErr = nil
	o.runId = uuid.New()
	o.updated = time.Now()
	o.logger.Infof("reset, run %v", o.runId)
}

func (o *Orchestrator) setStage(stage Stage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if stage != o.stage {
		o.logger.Debugf("stage %v ==> %v", o.stage, stage)
	}
	o.stage = stage
	o.updated = time.Now()
}

func (o *Orchestrator) fail(op string, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	err = errors.Wrapf(err, "%v failed in stage %v", op, o.stage)
	o.logger.WithField("run", o.runId).Errorf("%v", err)
	o.stage = StageFailed
	o.lastErr = err
	o.updated = time.Now()
	return err
}

// step runs fn if the current stage is one of from. On success the
// orchestrator moves to stage to, on error it fails.
func (o *Orchestrator) step(op string, from []Stage, to Stage, fn func() error) error {
	if !o.busy.TryLock() {
		return &epos.Error{Op: op, Code: epos.MasterBusy, Err: errors.New("another command is in progress")}
	}
	o.running.Store(true)
	defer func() {
		o.running.Store(false)
		o.busy.Unlock()
	}()
	current := o.Stage()
	if current == StageFailed {
		return errors.Wrap(ErrFailed, op)
	}
	allowed := false
	for _, stage := range from {
		if stage == current {
			allowed = true
			break
		}
	}
	if !allowed {
		o.logger.Warnf("refusing %v in stage %v", op, current)
		return errors.Wrapf(ErrStage, "%v in stage %v", op, current)
	}
	if err := fn(); err != nil {
		return o.fail(op, err)
	}
	o.setStage(to)
	return nil
}

// EnterPreOperational puts the drive in a known state then in pre-operational.
// Disable and fault clearing failures are only logged, the drive may not be
// in a state where they apply.
func (o *Orchestrator) EnterPreOperational(ctx context.Context) error {
	return o.step("pre-operational", []Stage{StageInit, StagePreOperational}, StagePreOperational, func() error {
		if err := o.drive.Disable(); err != nil {
			o.logger.Warnf("disable failed : %v", err)
		}
		if err := o.drive.ClearFault(); err != nil {
			o.logger.Warnf("clear fault failed : %v", err)
		}
		if err := o.lifecycle.EnterPreOperational(ctx); err != nil {
			return err
		}
		identity, err := o.drive.Identity()
		if err != nil {
			o.logger.Warnf("identity unavailable : %v", err)
			return nil
		}
		o.logger.Infof("identity : %v", identity)
		return nil
	})
}

func (o *Orchestrator) ConfigurePDOs(ctx context.Context) error {
	return o.step("configure pdos", []Stage{StagePreOperational}, StagePDOConfigured, func() error {
		return ConfigurePDOs(ctx, o.drive, o.timing.PDOSettle)
	})
}

// ConfigureHeartbeat makes the drive monitor the master heartbeat
func (o *Orchestrator) ConfigureHeartbeat(ctx context.Context, record heartbeat.Record) error {
	return o.step("configure heartbeat", []Stage{StagePDOConfigured}, StagePDOConfigured, func() error {
		return o.lifecycle.ConfigureHeartbeatConsumer(ctx, record)
	})
}

func (o *Orchestrator) EnterOperational(ctx context.Context) error {
	return o.step("operational", []Stage{StagePDOConfigured}, StageOperational, func() error {
		return o.lifecycle.EnterOperational(ctx)
	})
}

// BringUp runs every stage from init to operational
func (o *Orchestrator) BringUp(ctx context.Context, record heartbeat.Record) error {
	o.logger.WithField("run", o.RunId()).Info("bring-up")
	if err := o.EnterPreOperational(ctx); err != nil {
		return err
	}
	if err := o.ConfigurePDOs(ctx); err != nil {
		return err
	}
	if err := o.ConfigureHeartbeat(ctx, record); err != nil {
		return err
	}
	return o.EnterOperational(ctx)
}

var motionStages = []Stage{StageOperational, StageModeSet, StageIdle}

// SetMode halts any motion, enables the drive then switches mode.
// The mode is asserted from the display object before returning.
func (o *Orchestrator) SetMode(ctx context.Context, mode epos.Mode) error {
	return o.step("set mode "+mode.String(), motionStages, StageModeSet, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.drive.Halt(); err != nil {
			return err
		}
		if err := o.drive.Enable(); err != nil {
			return err
		}
		return o.drive.SetModeOfOperation(mode)
	})
}

// Halt stops motion, the drive stays enabled
func (o *Orchestrator) Halt(ctx context.Context) error {
	return o.step("halt", []Stage{StageModeSet, StageIdle}, StageIdle, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return o.drive.Halt()
	})
}
