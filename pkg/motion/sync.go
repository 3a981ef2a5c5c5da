package motion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/samsamfire/eposmaster/pkg/nmt"
	"github.com/samsamfire/eposmaster/pkg/od"
	log "github.com/sirupsen/logrus"
)

// Field is a dictionary value together with whether it could be read
type Field struct {
	Value int32 `json:"value"`
	Valid bool  `json:"valid"`
}

type MotionProfile struct {
	TargetVelocity      Field `json:"targetVelocity"`
	ProfileVelocity     Field `json:"profileVelocity"`
	ProfileAcceleration Field `json:"profileAcceleration"`
	ProfileDeceleration Field `json:"profileDeceleration"`
	TargetPosition      Field `json:"targetPosition"`
}

// Restorable reports whether the profile parameters can be written back
func (p MotionProfile) Restorable() bool {
	return p.ProfileVelocity.Valid && p.ProfileAcceleration.Valid && p.ProfileDeceleration.Valid
}

func readField(drive Drive, entry od.Entry) Field {
	value, valid := drive.ReadDictionary(entry)
	return Field{Value: value, Valid: valid}
}

// SyncMotion is a profile position move started on the next SYNC
type SyncMotion struct {
	ProfileVelocity     int32
	ProfileAcceleration int32
	ProfileDeceleration int32
	TargetPosition      int32
	Absolute            bool
}

type SyncResult struct {
	Id       uuid.UUID
	Previous MotionProfile
	Restored bool
	Polls    int
	Duration time.Duration
}

// SyncMove stages a profile position move then starts it with one SYNC.
// Velocity goes through the asynchronous "PV" RPDO, acceleration,
// deceleration and target through SDO, and the controlword through the
// synchronous "CWS" RPDO so that it only applies on SYNC. Any failure
// before the broadcast aborts without sending SYNC.
// Once the target is reached the previous profile is restored when every
// field of it could be read.
func (o *Orchestrator) SyncMove(ctx context.Context, motion SyncMotion) (SyncResult, error) {
	result := SyncResult{Id: uuid.New()}
	logger := o.logger.WithFields(log.Fields{"run": o.RunId(), "motion": result.Id})
	err := o.step("sync move", []Stage{StageModeSet, StageIdle}, StageIdle, func() error {
		if err := o.drive.RequireMotion("sync move", epos.ModeProfilePosition); err != nil {
			return err
		}
		result.Previous = MotionProfile{
			ProfileVelocity:     readField(o.drive, od.ProfileVelocity),
			ProfileAcceleration: readField(o.drive, od.ProfileAcceleration),
			ProfileDeceleration: readField(o.drive, od.ProfileDeceleration),
		}
		logger.Infof("previous profile velocity %v acceleration %v deceleration %v (restorable %v)",
			result.Previous.ProfileVelocity.Value,
			result.Previous.ProfileAcceleration.Value,
			result.Previous.ProfileDeceleration.Value,
			result.Previous.Restorable(),
		)

		if err := o.drive.SendRxPDO(LabelProfileVelocity, motion.ProfileVelocity); err != nil {
			return err
		}
		if err := o.drive.WriteDictionary(od.ProfileAcceleration, motion.ProfileAcceleration); err != nil {
			return err
		}
		if err := o.drive.WriteDictionary(od.ProfileDeceleration, motion.ProfileDeceleration); err != nil {
			return err
		}
		if err := o.drive.WriteDictionary(od.TargetPosition, motion.TargetPosition); err != nil {
			return err
		}
		staged := epos.ControlWord(o.drive.ControlWord()).Apply(
			epos.On(epos.NewSetPoint),
			epos.Flag{Bit: epos.Relative, Value: !motion.Absolute},
			epos.Off(epos.Halt),
		)
		if err := o.drive.SendRxPDO(LabelControlWordSync, int32(staged)); err != nil {
			return err
		}
		o.setStage(StageAwaitingSyncMotion)
		logger.Infof("controlword %v staged, waiting %v for sync", staged, o.timing.SyncDelay)
		if err := nmt.Sleep(ctx, o.timing.SyncDelay); err != nil {
			return err
		}

		o.drive.InvalidateStatus()
		if err := o.drive.BroadcastSync(); err != nil {
			return err
		}
		start := time.Now()
		if err := nmt.Sleep(ctx, o.timing.SyncSettle); err != nil {
			return err
		}
		if err := o.drive.ApplyControlBits(epos.Off(epos.NewSetPoint)); err != nil {
			return err
		}
		err := o.await(ctx, epos.TargetReached, func(logger *log.Entry) {
			result.Polls++
			velocity, _ := o.drive.ReadDictionary(od.VelocityActualValueAveraged)
			logger.Infof("velocity %v, position %v", velocity, o.drive.CachedValue(od.PositionActualValue))
		})
		result.Duration = time.Since(start)
		if err != nil {
			return err
		}
		o.count(true)
		logger.Infof("target %v reached after %v", motion.TargetPosition, result.Duration)
		result.Restored = o.restore(logger, result.Previous)
		return nil
	})
	return result, err
}

// restore writes back previous through the same mechanism used to apply it.
// Failures are logged and not retried.
func (o *Orchestrator) restore(logger *log.Entry, previous MotionProfile) bool {
	if !previous.Restorable() {
		logger.Warn("previous profile could not be read, keeping new profile")
		return false
	}
	restored := true
	if err := o.drive.SendRxPDO(LabelProfileVelocity, previous.ProfileVelocity.Value); err != nil {
		logger.Warnf("restoring profile velocity failed : %v", err)
		restored = false
	}
	if err := o.drive.WriteDictionary(od.ProfileAcceleration, previous.ProfileAcceleration.Value); err != nil {
		logger.Warnf("restoring profile acceleration failed : %v", err)
		restored = false
	}
	if err := o.drive.WriteDictionary(od.ProfileDeceleration, previous.ProfileDeceleration.Value); err != nil {
		logger.Warnf("restoring profile deceleration failed : %v", err)
		restored = false
	}
	return restored
}
