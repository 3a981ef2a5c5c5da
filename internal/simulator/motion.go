package simulator

import (
	"time"

	can "github.com/samsamfire/eposmaster/pkg/can"
	"github.com/samsamfire/eposmaster/pkg/emergency"
	"github.com/samsamfire/eposmaster/pkg/od"
)

// Statusword patterns of the power state machine
const (
	statusSwitchOnDisabled = 0x0040
	statusReadyToSwitchOn  = 0x0021
	statusSwitchedOn       = 0x0023
	statusOperationEnabled = 0x0027
	statusFault            = 0x0008
)

const (
	statusRemote        = 1 << 9
	statusTargetReached = 1 << 10
	statusSetPointAck   = 1 << 12
)

const (
	controlNewSetPoint = 1 << 4
	controlRelative    = 1 << 6
	controlFaultReset  = 1 << 7
	controlHalt        = 1 << 8
)

const (
	modeProfilePosition = 1
	modeProfileVelocity = 3
)

type powerStage struct {
	state         uint16
	controlword   uint16
	targetReached bool
	ack           bool
	target        int32
}

func (p *powerStage) statusword() uint16 {
	status := p.state | statusRemote
	if p.targetReached {
		status |= statusTargetReached
	}
	if p.ack {
		status |= statusSetPointAck
	}
	return status
}

func (d *Drive) power() *powerStage {
	if d.stage == nil {
		d.stage = &powerStage{state: statusSwitchOnDisabled, targetReached: true}
	}
	return d.stage
}

// controlwordWritten runs the power state machine and the motion, caller holds the lock
func (d *Drive) controlwordWritten(cw uint16) {
	p := d.power()
	previous := p.controlword
	p.controlword = cw

	if p.state == statusFault {
		if cw&controlFaultReset != 0 && previous&controlFaultReset == 0 {
			p.state = statusSwitchOnDisabled
			d.dict.set(od.ErrorRegister, 0)
			d.dict.set(od.ErrorCode, 0)
			d.outbox = append(d.outbox, emergency.Message{NodeId: d.nodeId}.Encode())
			d.logger.Info("fault cleared")
		}
		d.updateStatus()
		return
	}

	switch {
	case cw&0x0082 == 0x0000:
		p.state = statusSwitchOnDisabled
	case cw&0x0087 == 0x0006:
		p.state = statusReadyToSwitchOn
	case cw&0x008F == 0x0007:
		if p.state != statusSwitchOnDisabled {
			p.state = statusSwitchedOn
		}
	case cw&0x008F == 0x000F:
		if p.state != statusSwitchOnDisabled {
			p.state = statusOperationEnabled
		}
	case cw&0x0086 == 0x0002:
		p.state = statusSwitchOnDisabled
	}

	if p.state != statusOperationEnabled {
		d.stopMotion()
		d.updateStatus()
		return
	}

	switch d.dict.get(od.ModesOfOperationDisplay) {
	case modeProfileVelocity:
		velocity := int32(d.dict.get(od.TargetVelocity))
		if cw&controlHalt != 0 {
			velocity = 0
		}
		d.dict.set(od.VelocityActualValue, uint32(velocity))
		d.dict.set(od.VelocityActualValueAveraged, uint32(velocity))
		p.targetReached = true
	case modeProfilePosition:
		if cw&controlHalt != 0 {
			d.stopMotion()
			p.targetReached = true
			break
		}
		if cw&controlNewSetPoint != 0 && previous&controlNewSetPoint == 0 {
			d.startMove(cw&controlRelative != 0)
		}
		if cw&controlNewSetPoint == 0 {
			p.ack = false
		}
	}
	d.updateStatus()
}

// startMove begins a profile position move, caller holds the lock
func (d *Drive) startMove(relative bool) {
	p := d.power()
	target := int32(d.dict.get(od.TargetPosition))
	if relative {
		target += int32(d.dict.get(od.PositionActualValue))
	}
	p.target = target
	p.ack = true
	p.targetReached = false
	velocity := d.dict.get(od.ProfileVelocity)
	d.dict.set(od.VelocityActualValue, velocity)
	d.dict.set(od.VelocityActualValueAveraged, velocity)
	if d.motion != nil {
		d.motion.Stop()
	}
	d.logger.Debugf("moving to %v", target)
	d.motion = time.AfterFunc(d.config.MotionDuration, d.completeMove)
}

func (d *Drive) completeMove() {
	d.mu.Lock()
	p := d.power()
	if p.state != statusOperationEnabled || p.targetReached {
		d.mu.Unlock()
		return
	}
	d.dict.set(od.PositionActualValue, uint32(p.target))
	d.dict.set(od.VelocityActualValue, 0)
	d.dict.set(od.VelocityActualValueAveraged, 0)
	p.targetReached = true
	d.updateStatus()
	frames := d.collectTPDOs(false)
	d.mu.Unlock()
	d.send(frames)
}

// stopMotion cancels a running move, caller holds the lock
func (d *Drive) stopMotion() {
	if d.motion != nil {
		d.motion.Stop()
		d.motion = nil
	}
	d.dict.set(od.VelocityActualValue, 0)
	d.dict.set(od.VelocityActualValueAveraged, 0)
}

func (d *Drive) updateStatus() {
	d.dict.set(od.Statusword, uint32(d.power().statusword()))
}

// InjectFault puts the drive in fault state and sends an emergency
func (d *Drive) InjectFault(errorCode uint16, errorRegister uint8) {
	d.mu.Lock()
	p := d.power()
	d.stopMotion()
	p.state = statusFault
	p.ack = false
	d.dict.set(od.ErrorRegister, uint32(errorRegister))
	d.dict.set(od.ErrorCode, uint32(errorCode))
	d.updateStatus()
	msg := emergency.Message{NodeId: d.nodeId, ErrorCode: errorCode, ErrorRegister: errorRegister}
	d.outbox = append(d.outbox, msg.Encode())
	frames := d.collectTPDOs(false)
	d.mu.Unlock()
	d.logger.Warnf("fault injected : %v", msg)
	d.send(frames)
}

// Statusword of the simulated drive
func (d *Drive) Statusword() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.power().statusword()
}

func (d *Drive) drainOutbox() []can.Frame {
	frames := d.outbox
	d.outbox = nil
	return frames
}
