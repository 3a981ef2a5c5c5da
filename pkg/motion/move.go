package motion

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/samsamfire/eposmaster/pkg/od"
	log "github.com/sirupsen/logrus"
)

// Operation enabled, no halt
var enableOperation = []epos.Flag{
	epos.On(epos.SwitchOn),
	epos.On(epos.EnableVoltage),
	epos.On(epos.QuickStop),
	epos.On(epos.EnableOperation),
	epos.Off(epos.Halt),
}

// MoveVelocity starts a profile velocity motion, it runs until halted
// or until another velocity is requested
func (o *Orchestrator) MoveVelocity(ctx context.Context, velocity int32) error {
	return o.step("move velocity", []Stage{StageModeSet, StageIdle}, StageIdle, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.drive.RequireMotion("move velocity", epos.ModeProfileVelocity); err != nil {
			return err
		}
		if err := o.drive.WriteDictionary(od.TargetVelocity, velocity); err != nil {
			return err
		}
		if err := o.drive.ApplyControlBits(enableOperation...); err != nil {
			return err
		}
		o.count(false)
		o.logger.Infof("moving at velocity %v", velocity)
		return nil
	})
}

// MovePosition starts a profile position motion to target. The set-point
// handshake is always awaited, when blocking the call also waits for the
// target to be reached.
func (o *Orchestrator) MovePosition(ctx context.Context, target int32, absolute bool, blocking bool) error {
	return o.step("move position", []Stage{StageModeSet, StageIdle}, StageIdle, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.drive.RequireMotion("move position", epos.ModeProfilePosition); err != nil {
			return err
		}
		if err := o.drive.WriteDictionary(od.TargetPosition, target); err != nil {
			return err
		}
		o.drive.InvalidateStatus()
		flags := append(append([]epos.Flag{}, enableOperation...),
			epos.On(epos.NewSetPoint),
			epos.On(epos.ChangeImmediately),
			epos.Flag{Bit: epos.Relative, Value: !absolute},
		)
		if err := o.drive.ApplyControlBits(flags...); err != nil {
			return err
		}
		if err := o.await(ctx, epos.SetPointAcknowledge, nil); err != nil {
			if errors.Is(err, ErrMotionTimeout) {
				return errors.Wrap(ErrNoAcknowledge, err.Error())
			}
			return err
		}
		if err := o.drive.ApplyControlBits(epos.Off(epos.NewSetPoint)); err != nil {
			return err
		}
		o.count(false)
		o.logger.Infof("moving to position %v (absolute %v)", target, absolute)
		if !blocking {
			return nil
		}
		return o.await(ctx, epos.TargetReached, nil)
	})
}

func (o *Orchestrator) count(sync bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sync {
		o.syncMoves++
	} else {
		o.moves++
	}
}

// await polls the cached statusword until bit is set. Only cached values
// are read, nothing is sent to the drive except what report does.
// A fault aborts with [ErrDriveFault], exceeding the motion timeout with
// [ErrMotionTimeout].
func (o *Orchestrator) await(ctx context.Context, bit epos.StatusBit, report func(logger *log.Entry)) error {
	start := time.Now()
	ticker := time.NewTicker(o.timing.PollInterval)
	defer ticker.Stop()
	for {
		if o.drive.StatusBit(bit) {
			o.logger.Debugf("%v after %v", bit, time.Since(start))
			return nil
		}
		if o.drive.StatusBit(epos.Fault) {
			return errors.Wrapf(ErrDriveFault, "waiting for %v", bit)
		}
		if time.Since(start) > o.timing.MotionTimeout {
			return errors.Wrapf(ErrMotionTimeout, "waiting for %v after %v", bit, o.timing.MotionTimeout)
		}
		if report != nil {
			report(o.logger)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
