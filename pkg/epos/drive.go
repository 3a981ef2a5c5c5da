package epos

import (
	"errors"
	"fmt"
	"time"

	can "github.com/samsamfire/eposmaster/pkg/can"
	"github.com/samsamfire/eposmaster/pkg/config"
	"github.com/samsamfire/eposmaster/pkg/heartbeat"
	"github.com/samsamfire/eposmaster/pkg/nmt"
	"github.com/samsamfire/eposmaster/pkg/od"
	"github.com/samsamfire/eposmaster/pkg/pdo"
	"github.com/samsamfire/eposmaster/pkg/sdo"
	s "github.com/samsamfire/eposmaster/pkg/sync"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const DefaultMasterNodeId = 127

var (
	ErrInvalidNodeId  = errors.New("node id must be between 1 and 127")
	ErrUnknownLabel   = errors.New("no pdo committed under this label")
	ErrNotRPDO        = errors.New("label is not bound to a receive pdo")
	ErrNotOperational = errors.New("drive is not operational")
	ErrOperational    = errors.New("pdo mapping cannot change while operational")
	ErrModeMismatch   = errors.New("mode of operation display does not match request")
	ErrWrongMode      = errors.New("drive is not in the required mode of operation")
)

type Config struct {
	NodeId       uint8
	MasterNodeId uint8
	SDOTimeout   time.Duration
	// Timeout for the drive heartbeat, zero disables monitoring
	HeartbeatTimeout time.Duration
	// SYNC counter overflow, zero sends SYNC without counter
	SyncCounterOverflow uint8
}

// Drive is the master side handle of a single EPOS4 drive.
// It owns the SDO client, the SYNC producer and the heartbeat monitor
// used to talk to it, and the [MotorNode] holding its last known state.
type Drive struct {
	node          *MotorNode
	bus           can.Sender
	client        *sdo.Client
	config        *config.NodeConfigurator
	sync          *s.SYNC
	monitor       *heartbeat.Monitor
	masterId      uint8
	heartbeatLost *atomic.Bool
	logger        *log.Entry
}

func NewDrive(bus can.Sender, conf Config, logger *log.Entry) (*Drive, error) {
	if conf.NodeId < 1 || conf.NodeId > 127 {
		return nil, ErrInvalidNodeId
	}
	if conf.MasterNodeId == 0 {
		conf.MasterNodeId = DefaultMasterNodeId
	}
	if conf.MasterNodeId > 127 || conf.MasterNodeId == conf.NodeId {
		return nil, fmt.Errorf("%w : master %v", ErrInvalidNodeId, conf.MasterNodeId)
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	client := sdo.NewClient(bus, conf.SDOTimeout, logger.WithField("node", conf.NodeId))
	drive := &Drive{
		node:          NewMotorNode(conf.NodeId),
		bus:           bus,
		client:        client,
		config:        config.NewNodeConfigurator(conf.NodeId, client),
		sync:          s.NewSYNC(bus, logger, conf.SyncCounterOverflow),
		masterId:      conf.MasterNodeId,
		heartbeatLost: atomic.NewBool(false),
		logger:        logger.WithFields(log.Fields{"service": "[EPOS]", "node": conf.NodeId}),
	}
	drive.monitor = heartbeat.NewMonitor(conf.NodeId, conf.HeartbeatTimeout, drive.heartbeatEvent)
	return drive, nil
}

func (d *Drive) NodeId() uint8 {
	return d.node.NodeId()
}

func (d *Drive) MasterNodeId() uint8 {
	return d.masterId
}

// Node returns the shared state of the drive
func (d *Drive) Node() *MotorNode {
	return d.node
}

// Close stops the heartbeat monitor
func (d *Drive) Close() {
	d.monitor.Stop()
}

func (d *Drive) heartbeatEvent(event uint8, nodeId uint8, state uint8) {
	switch event {
	case heartbeat.EventTimeout:
		d.logger.Warnf("heartbeat lost")
		d.node.setNMTState(nmt.StateUnknown)
		d.heartbeatLost.Store(true)
	case heartbeat.EventBoot:
		d.logger.Warnf("drive rebooted")
	case heartbeat.EventStarted:
		d.logger.Infof("heartbeat started, state %v", nmt.State(state))
	}
}

// RequestNMTTransition sends an NMT command to the drive.
// The expected state is assumed until the heartbeat says otherwise.
func (d *Drive) RequestNMTTransition(command nmt.Command) error {
	target, err := command.TargetState()
	if err != nil {
		return &Error{Op: "nmt", Code: MasterInvalidArgument, Err: err}
	}
	if err := d.bus.Send(nmt.CommandFrame(command, d.NodeId())); err != nil {
		return wrap("nmt", err)
	}
	if command == nmt.CommandResetNode || command == nmt.CommandResetCommunication {
		// Communication parameters go back to their defaults
		d.node.clearCommitted()
		d.node.Cache().Invalidate(od.Statusword)
	}
	previous := d.node.setNMTState(target)
	d.logger.Debugf("%v | %v ==> %v", command, previous, target)
	return nil
}

func (d *Drive) NMTState() nmt.State {
	return d.node.NMTState()
}

// ConfigureHeartbeatConsumer makes the drive watch the heartbeat of producerId
func (d *Drive) ConfigureHeartbeatConsumer(producerId uint8, timeout time.Duration) error {
	err := d.config.WriteConsumer(1, config.Consumer{ProducerId: producerId, Timeout: timeout})
	if errors.Is(err, config.ErrConsumerTimeout) {
		return &Error{Op: "heartbeat consumer", Code: MasterInvalidArgument, Err: err}
	}
	return wrap("heartbeat consumer", err)
}

// SendHeartbeat emits one heartbeat on behalf of producerId, in operational state
func (d *Drive) SendHeartbeat(producerId uint8) error {
	return wrap("heartbeat", d.bus.Send(heartbeat.Frame(producerId, uint8(nmt.StateOperational))))
}

// BroadcastSync sends a single SYNC, staged synchronous PDOs are applied by every node
func (d *Drive) BroadcastSync() error {
	return wrap("sync", d.sync.Send())
}

// ConfigurePDO writes conf to the drive and commits it under label
func (d *Drive) ConfigurePDO(label string, conf pdo.Configuration) error {
	op := fmt.Sprintf("configure %v (%v)", label, conf.Slot)
	if err := conf.Validate(); err != nil {
		return wrap(op, err)
	}
	if d.NMTState() == nmt.StateOperational {
		return &Error{Op: op, Code: MasterWrongState, Err: ErrOperational}
	}
	if err := d.config.WriteConfigurationPDO(conf); err != nil {
		d.logger.Errorf("%v failed : %v", op, err)
		return wrap(op, err)
	}
	d.node.commit(label, conf)
	d.logger.Infof("%v %v %v mapped %v", label, conf.Slot, conf.Mode, conf.Entries)
	return nil
}

// ResetMappingCount clears the mapping of every PDO slot.
// All slots are attempted, the returned code is the OR of every failure.
func (d *Drive) ResetMappingCount() error {
	if d.NMTState() == nmt.StateOperational {
		return &Error{Op: "reset mappings", Code: MasterWrongState, Err: ErrOperational}
	}
	code := NoErrorCode
	var first error
	for slot := pdo.Rx1; slot <= pdo.Tx4; slot++ {
		err := d.config.ClearMappings(slot)
		if err != nil {
			d.logger.Warnf("clearing %v failed : %v", slot, err)
			code |= CodeOf(err)
			if first == nil {
				first = err
			}
		}
	}
	d.node.clearCommitted()
	if code != NoErrorCode {
		return &Error{Op: "reset mappings", Code: code, Err: first}
	}
	return nil
}

// SendRxPDO packs values in the order of the mapping committed under
// label and sends it. Synchronous slots are only applied on next SYNC.
func (d *Drive) SendRxPDO(label string, values ...int32) error {
	op := "send " + label
	conf, ok := d.node.Configuration(label)
	if !ok {
		return &Error{Op: op, Code: MasterInvalidArgument, Err: ErrUnknownLabel}
	}
	if !conf.Slot.IsRPDO() {
		return &Error{Op: op, Code: MasterInvalidArgument, Err: ErrNotRPDO}
	}
	if d.NMTState() != nmt.StateOperational {
		return &Error{Op: op, Code: MasterWrongState, Err: ErrNotOperational}
	}
	data, length, err := conf.Map().Encode(values...)
	if err != nil {
		return wrap(op, err)
	}
	frame := can.NewFrame(conf.Slot.CobId(d.NodeId()), 0, length)
	frame.Data = data
	if err := d.bus.Send(frame); err != nil {
		return wrap(op, err)
	}
	for i, entry := range conf.Entries {
		if entry.Key() == od.Controlword.Key() {
			d.node.setControlWord(ControlWord(uint16(values[i])))
		}
	}
	d.logger.Debugf("[TX] %v %v <- %v", label, conf.Slot, values)
	return nil
}

// WriteDictionary writes entry on the drive with an expedited SDO
func (d *Drive) WriteDictionary(entry od.Entry, value int32) error {
	err := d.client.Write(d.NodeId(), entry.Index, entry.Subindex, uint32(value), entry.Size())
	if err != nil {
		return wrap(fmt.Sprintf("write x%x|x%x", entry.Index, entry.Subindex), err)
	}
	if entry.Key() == od.Controlword.Key() {
		d.node.setControlWord(ControlWord(uint16(value)))
	}
	return nil
}

// ReadDictionary returns the value of entry and whether it could be obtained.
// Entries carried by a committed TPDO are served from the cache, others are
// read with SDO and cached.
func (d *Drive) ReadDictionary(entry od.Entry) (int32, bool) {
	if d.node.TxMapped(entry) {
		raw, valid := d.node.Cache().Get(entry)
		if valid {
			return raw, true
		}
	}
	raw, size, err := d.client.Read(d.NodeId(), entry.Index, entry.Subindex)
	if err != nil {
		d.logger.Warnf("reading x%x|x%x failed : %v", entry.Index, entry.Subindex, err)
		return 0, false
	}
	value := entry.Extend(raw, size)
	d.node.Cache().Set(entry, value)
	return value, true
}

// CachedValue returns the last known value, possibly stale
func (d *Drive) CachedValue(entry od.Entry) int32 {
	return d.node.Cache().Raw(entry)
}

// Statusword returns the cached statusword and whether it is fresh
func (d *Drive) Statusword() (Statusword, bool) {
	raw, valid := d.node.Cache().Get(od.Statusword)
	return Statusword(uint16(raw)), valid
}

// StatusBit reports a statusword bit, false when no fresh statusword is known
func (d *Drive) StatusBit(bit StatusBit) bool {
	status, valid := d.Statusword()
	return valid && status.Has(bit)
}

// InvalidateStatus marks the cached statusword stale, until the next
// TPDO from the drive every status bit reads false
func (d *Drive) InvalidateStatus() {
	d.node.Cache().Invalidate(od.Statusword)
}

func (d *Drive) ControlWord() uint16 {
	return uint16(d.node.ControlWord())
}

func (d *Drive) Identity() (*config.Identity, error) {
	identity, err := d.config.ReadIdentity()
	return identity, wrap("identity", err)
}

func (d *Drive) SDOClient() *sdo.Client {
	return d.client
}

func (d *Drive) SYNC() *s.SYNC {
	return d.sync
}
