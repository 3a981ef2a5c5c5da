package epos

import (
	can "github.com/samsamfire/eposmaster/pkg/can"
	"github.com/samsamfire/eposmaster/pkg/emergency"
	"github.com/samsamfire/eposmaster/pkg/heartbeat"
	"github.com/samsamfire/eposmaster/pkg/nmt"
	"github.com/samsamfire/eposmaster/pkg/od"
	"github.com/samsamfire/eposmaster/pkg/pdo"
	"github.com/samsamfire/eposmaster/pkg/sdo"
	s "github.com/samsamfire/eposmaster/pkg/sync"
)

// Dispatch updates the drive state from a received frame and returns the
// composite code of every error it revealed. Frames of other nodes are
// ignored and give [NoErrorCode].
func (d *Drive) Dispatch(frame can.Frame) ErrorCode {
	code := d.dispatch(frame)
	if d.heartbeatLost.CAS(true, false) {
		code |= DeviceCommunication
	}
	return code
}

func (d *Drive) dispatch(frame can.Frame) ErrorCode {
	nodeId := uint32(d.NodeId())

	switch frame.ID {
	case sdo.ServerBaseId + nodeId:
		d.client.Handle(frame)
		return NoErrorCode
	case heartbeat.ServiceId + nodeId:
		return d.handleHeartbeat(frame)
	case emergency.ServiceId + nodeId:
		return d.handleEmergency(frame)
	case s.ServiceId:
		d.sync.Handle(frame)
		return NoErrorCode
	}

	slot, id, ok := pdo.SlotFromCobId(frame.ID)
	if ok && id == d.NodeId() && !slot.IsRPDO() {
		return d.handleTPDO(slot, frame)
	}
	return NoErrorCode
}

func (d *Drive) handleHeartbeat(frame can.Frame) ErrorCode {
	_, state, ok := heartbeat.Decode(frame)
	if !ok {
		return MasterPdoLength
	}
	previous := d.node.setNMTState(nmt.State(state))
	if previous != nmt.State(state) {
		d.logger.Infof("nmt state %v ==> %v", previous, nmt.State(state))
	}
	d.monitor.Handle(frame)
	return NoErrorCode
}

func (d *Drive) handleEmergency(frame can.Frame) ErrorCode {
	msg, ok := emergency.Decode(frame)
	if !ok {
		return MasterPdoLength
	}
	d.node.setEmergency(msg)
	if msg.IsReset() {
		d.logger.Infof("emergency cleared")
		return NoErrorCode
	}
	d.logger.Warnf("emergency %v", msg)
	code := DeviceCodeOf(msg.ErrorRegister)
	if code == NoErrorCode {
		code = DeviceOther
	}
	return code
}

func (d *Drive) handleTPDO(slot pdo.Slot, frame can.Frame) ErrorCode {
	conf, ok := d.node.ConfigurationOf(slot)
	if !ok {
		return NoErrorCode
	}
	if frame.DLC > 8 {
		return MasterPdoLength
	}
	values, err := conf.Map().Decode(frame.Data[:frame.DLC])
	if err != nil {
		d.logger.Warnf("%v : %v bytes received, %v expected", slot, frame.DLC, conf.Map().Length())
		return MasterPdoLength
	}

	code := NoErrorCode
	cache := d.node.Cache()
	for i, entry := range conf.Entries {
		if entry.Key() == od.Statusword.Key() {
			previous := cache.Lookup(entry)
			faulted := Statusword(uint16(values[i])).Has(Fault)
			wasFaulted := previous.Valid && Statusword(uint16(previous.Raw)).Has(Fault)
			if faulted && !wasFaulted {
				d.logger.Warnf("drive entered fault, statusword x%04x", uint16(values[i]))
				code |= DeviceOther
			}
		}
		cache.Set(entry, values[i])
	}
	return code
}
