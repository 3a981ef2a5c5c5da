package app

import (
	"context"

	"github.com/samsamfire/eposmaster/internal/settings"
	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/samsamfire/eposmaster/pkg/motion"
	"github.com/samsamfire/eposmaster/pkg/nmt"
	log "github.com/sirupsen/logrus"
)

// runDemo brings the drive up, runs a velocity burst, an absolute move,
// a synchronized relative move, then loops on an absolute target
func runDemo(ctx context.Context, o *motion.Orchestrator, s settings.Settings, loops int, logger *log.Entry) error {
	demo := s.Demo
	if err := o.BringUp(ctx, s.HeartbeatRecord()); err != nil {
		return err
	}

	if err := o.SetMode(ctx, epos.ModeProfileVelocity); err != nil {
		return err
	}
	if err := o.MoveVelocity(ctx, demo.Velocity); err != nil {
		return err
	}
	if err := nmt.Sleep(ctx, demo.Pause); err != nil {
		return err
	}
	if err := o.Halt(ctx); err != nil {
		return err
	}
	if err := nmt.Sleep(ctx, demo.Pause); err != nil {
		return err
	}

	if err := o.SetMode(ctx, epos.ModeProfilePosition); err != nil {
		return err
	}
	if err := o.MovePosition(ctx, demo.Position, true, true); err != nil {
		return err
	}
	if err := nmt.Sleep(ctx, demo.Pause); err != nil {
		return err
	}

	result, err := o.SyncMove(ctx, motion.SyncMotion{
		ProfileVelocity:     demo.SyncVelocity,
		ProfileAcceleration: demo.SyncAcceleration,
		ProfileDeceleration: demo.SyncDeceleration,
		TargetPosition:      demo.SyncTarget,
	})
	if err != nil {
		return err
	}
	logger.Infof("synchronized move %v done in %v, profile restored %v", result.Id, result.Duration, result.Restored)

	for i := 0; loops < 0 || i < loops; i++ {
		if err := nmt.Sleep(ctx, demo.LoopPause); err != nil {
			return err
		}
		if err := o.MovePosition(ctx, demo.LoopTarget, true, true); err != nil {
			return err
		}
	}
	return nil
}
