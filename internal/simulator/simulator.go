package simulator

import (
	"context"
	"sync"
	"time"

	can "github.com/samsamfire/eposmaster/pkg/can"
	"github.com/samsamfire/eposmaster/pkg/emergency"
	"github.com/samsamfire/eposmaster/pkg/heartbeat"
	"github.com/samsamfire/eposmaster/pkg/nmt"
	"github.com/samsamfire/eposmaster/pkg/od"
	"github.com/samsamfire/eposmaster/pkg/pdo"
	"github.com/samsamfire/eposmaster/pkg/sdo"
	s "github.com/samsamfire/eposmaster/pkg/sync"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultVendorId       = 0x000000FB
	DefaultProductCode    = 0x63500000
	DefaultMotionDuration = 200 * time.Millisecond
)

type Config struct {
	NodeId uint8
	// Heartbeat period of the drive, zero disables it
	HeartbeatPeriod time.Duration
	// Time taken by a profile position move
	MotionDuration time.Duration
}

// Drive simulates an EPOS4 on a CAN bus. It answers expedited SDO,
// follows NMT commands, applies RPDOs (synchronous ones on SYNC), emits
// its TPDOs on change and runs a crude profile position / velocity motion.
type Drive struct {
	mu       sync.Mutex
	bus      can.Bus
	nodeId   uint8
	config   Config
	dict     dictionary
	nmt      *nmt.NMT
	sync     *s.SYNC
	producer *heartbeat.Producer
	monitor  *heartbeat.Monitor
	logger   *log.Entry

	staged      map[pdo.Slot][]int32
	lastTx      map[pdo.Slot][8]byte
	syncCount   int
	motion      *time.Timer
	stage       *powerStage
	outbox      []can.Frame
	failures    map[od.Key]sdo.Abort
	requests    []od.Key
	rpdoHistory []pdo.Slot
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func New(bus can.Bus, config Config, logger *log.Entry) *Drive {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if config.MotionDuration <= 0 {
		config.MotionDuration = DefaultMotionDuration
	}
	logger = logger.WithFields(log.Fields{"service": "[SIM]", "node": config.NodeId})
	drive := &Drive{
		bus:      bus,
		nodeId:   config.NodeId,
		config:   config,
		dict:     newDictionary(config.NodeId, DefaultVendorId, DefaultProductCode),
		staged:   make(map[pdo.Slot][]int32),
		lastTx:   make(map[pdo.Slot][8]byte),
		failures: make(map[od.Key]sdo.Abort),
		logger:   logger,
	}
	drive.updateStatus()
	drive.sync = s.NewSYNC(bus, logger, 0)
	drive.nmt = nmt.NewNMT(config.NodeId, logger, drive.nmtChanged)
	drive.monitor = heartbeat.NewMonitor(0, 0, nil)
	if config.HeartbeatPeriod > 0 {
		drive.producer = heartbeat.NewProducer(drive, config.NodeId, config.HeartbeatPeriod, nil, logger)
	}
	return drive
}

// Start subscribes to the bus, sends the boot up message and enters pre-operational
func (d *Drive) Start() error {
	if err := d.bus.Subscribe(d); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	if err := d.bus.Send(heartbeat.Frame(d.nodeId, uint8(nmt.StateInitializing))); err != nil {
		cancel()
		return err
	}
	d.nmt.Boot()
	if d.producer != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			_ = d.producer.Run(ctx)
		}()
	}
	return nil
}

func (d *Drive) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.mu.Lock()
	d.monitor.Stop()
	if d.motion != nil {
		d.motion.Stop()
	}
	d.mu.Unlock()
}

// SendHeartbeat implements [heartbeat.Sender]
func (d *Drive) SendHeartbeat(producerId uint8) error {
	return d.bus.Send(heartbeat.Frame(producerId, uint8(d.nmt.GetInternalState())))
}

// Handle implements [can.FrameListener]
func (d *Drive) Handle(frame can.Frame) {
	switch {
	case frame.ID == nmt.ServiceId:
		d.nmt.Handle(frame)
	case frame.ID == s.ServiceId:
		d.handleSync(frame)
	case frame.ID == sdo.ClientBaseId+uint32(d.nodeId):
		d.handleSDO(frame)
	case frame.ID>>7 == heartbeat.ServiceId>>7:
		d.mu.Lock()
		monitor := d.monitor
		d.mu.Unlock()
		monitor.Handle(frame)
	default:
		slot, nodeId, ok := pdo.SlotFromCobId(frame.ID)
		if ok && nodeId == d.nodeId && slot.IsRPDO() {
			d.handleRPDO(slot, frame)
		}
	}
}

func (d *Drive) nmtChanged(state nmt.State, reset bool) {
	if reset {
		d.mu.Lock()
		d.dict = newDictionary(d.nodeId, DefaultVendorId, DefaultProductCode)
		d.staged = make(map[pdo.Slot][]int32)
		d.lastTx = make(map[pdo.Slot][8]byte)
		d.stopMotion()
		d.stage = nil
		d.updateStatus()
		d.monitor.Stop()
		d.monitor = heartbeat.NewMonitor(0, 0, nil)
		d.mu.Unlock()
		d.logger.Info("reset, dictionary back to defaults")
		_ = d.bus.Send(heartbeat.Frame(d.nodeId, uint8(nmt.StateInitializing)))
		d.nmt.Boot()
		return
	}
	if state == nmt.StateOperational {
		d.mu.Lock()
		frames := d.collectTPDOs(true)
		d.mu.Unlock()
		d.send(frames)
	}
}

func (d *Drive) operational() bool {
	return d.nmt.GetInternalState() == nmt.StateOperational
}

func (d *Drive) send(frames []can.Frame) {
	for _, frame := range frames {
		if err := d.bus.Send(frame); err != nil {
			d.logger.Warnf("send x%x failed : %v", frame.ID, err)
		}
	}
}

func (d *Drive) handleSync(frame can.Frame) {
	d.sync.Handle(frame)
	if !d.operational() {
		return
	}
	d.mu.Lock()
	d.syncCount++
	frames := []can.Frame{}
	for slot := pdo.Rx1; slot <= pdo.Rx4; slot++ {
		values, ok := d.staged[slot]
		if !ok {
			continue
		}
		delete(d.staged, slot)
		frames = append(frames, d.applyRPDO(slot, values)...)
	}
	d.mu.Unlock()
	d.send(frames)
}

func (d *Drive) handleRPDO(slot pdo.Slot, frame can.Frame) {
	if !d.operational() {
		return
	}
	d.mu.Lock()
	if !d.dict.pdoEnabled(slot) {
		d.mu.Unlock()
		return
	}
	mapping := d.dict.mapping(slot)
	if len(mapping) == 0 {
		d.mu.Unlock()
		return
	}
	values, err := mapping.Decode(frame.Data[:frame.DLC])
	if err != nil {
		d.mu.Unlock()
		d.logger.Warnf("%v : %v", slot, err)
		return
	}
	d.rpdoHistory = append(d.rpdoHistory, slot)
	var frames []can.Frame
	if d.dict.transmissionType(slot) <= pdo.TransmissionTypeSync240 {
		d.staged[slot] = values
	} else {
		frames = d.applyRPDO(slot, values)
	}
	d.mu.Unlock()
	d.send(frames)
}

// applyRPDO writes received values inside the dictionary, caller holds the lock
func (d *Drive) applyRPDO(slot pdo.Slot, values []int32) []can.Frame {
	for i, entry := range d.dict.mapping(slot) {
		d.write(entry, uint32(values[i]))
	}
	return d.collectTPDOs(false)
}

func (d *Drive) handleSDO(frame can.Frame) {
	request := sdo.NewMessage(frame.Data)
	if request.IsAbort() {
		return
	}
	key := od.Key{Index: request.Index(), Subindex: request.Subindex()}
	d.mu.Lock()
	d.requests = append(d.requests, key)
	response, frames := d.serveSDO(key, request)
	d.mu.Unlock()

	reply := can.NewFrame(sdo.ServerBaseId+uint32(d.nodeId), 0, 8)
	reply.Data = response.Raw()
	d.send(append([]can.Frame{reply}, frames...))
}

func (d *Drive) serveSDO(key od.Key, request sdo.Message) (sdo.Message, []can.Frame) {
	if abort, ok := d.failures[key]; ok {
		return sdo.AbortMessage(key.Index, key.Subindex, abort), nil
	}
	switch request.Command() {
	case sdo.CmdUploadInitiate:
		v, ok := d.dict[key]
		if !ok {
			return sdo.AbortMessage(key.Index, key.Subindex, sdo.AbortNotExist), nil
		}
		return sdo.UploadResponse(key.Index, key.Subindex, v.value, v.size), nil
	case sdo.CmdDownloadInitiate:
		if !request.IsExpedited() {
			return sdo.AbortMessage(key.Index, key.Subindex, sdo.AbortUnsupportedAccess), nil
		}
		v, err := d.dict.checkWrite(key, request.Value(), request.DataSize(), d.operational())
		if err != nil {
			return sdo.AbortMessage(key.Index, key.Subindex, err.(sdo.Abort)), nil
		}
		entry := od.Entry{Index: key.Index, Subindex: key.Subindex, Bits: v.size * 8}
		d.write(entry, request.Value())
		return sdo.DownloadResponse(key.Index, key.Subindex), d.collectTPDOs(false)
	}
	return sdo.AbortMessage(key.Index, key.Subindex, sdo.AbortCmd), nil
}

// write a value and run its side effects, caller holds the lock
func (d *Drive) write(entry od.Entry, value uint32) {
	d.dict.set(entry, value)
	switch entry.Key() {
	case od.Controlword.Key():
		d.controlwordWritten(uint16(value))
	case od.ModesOfOperation.Key():
		d.dict.set(od.ModesOfOperationDisplay, value)
	case od.ConsumerHeartbeatTime.Key():
		d.monitor.Stop()
		producer := uint8(value >> 16)
		timeout := time.Duration(value&0xFFFF) * time.Millisecond
		d.monitor = heartbeat.NewMonitor(producer, timeout, d.heartbeatEvent)
	}
}

func (d *Drive) heartbeatEvent(event uint8, nodeId uint8, state uint8) {
	if event != heartbeat.EventTimeout {
		return
	}
	d.logger.Warnf("heartbeat of node %v lost", nodeId)
	d.InjectFault(emergency.ErrHeartbeat, emergency.ErrRegCommunication)
}

// collectTPDOs returns pending emergencies and the enabled asynchronous
// TPDOs whose content changed, caller holds the lock
func (d *Drive) collectTPDOs(force bool) []can.Frame {
	frames := d.drainOutbox()
	if !d.operational() {
		return frames
	}
	for slot := pdo.Tx1; slot <= pdo.Tx4; slot++ {
		if !d.dict.pdoEnabled(slot) || d.dict.transmissionType(slot) <= pdo.TransmissionTypeSync240 {
			continue
		}
		mapping := d.dict.mapping(slot)
		if len(mapping) == 0 {
			continue
		}
		values := make([]int32, len(mapping))
		for i, entry := range mapping {
			values[i] = int32(d.dict.get(entry))
		}
		data, length, err := mapping.Encode(values...)
		if err != nil {
			continue
		}
		previous, sent := d.lastTx[slot]
		if sent && previous == data && !force {
			continue
		}
		d.lastTx[slot] = data
		frame := can.NewFrame(slot.CobId(d.nodeId), 0, length)
		frame.Data = data
		frames = append(frames, frame)
	}
	return frames
}

// FailAccess makes every SDO access to entry abort with abort
func (d *Drive) FailAccess(entry od.Entry, abort sdo.Abort) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[entry.Key()] = abort
}

// RestoreAccess cancels [Drive.FailAccess]
func (d *Drive) RestoreAccess(entry od.Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, entry.Key())
}

// Value of entry inside the simulated dictionary
func (d *Drive) Value(entry od.Entry) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int32(d.dict.get(entry))
}

// SetValue changes entry without side effects, TPDOs are emitted if needed
func (d *Drive) SetValue(entry od.Entry, value int32) {
	d.mu.Lock()
	d.dict.set(entry, uint32(value))
	frames := d.collectTPDOs(false)
	d.mu.Unlock()
	d.send(frames)
}

func (d *Drive) Mapping(slot pdo.Slot) pdo.Map {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dict.mapping(slot)
}

func (d *Drive) TransmissionType(slot pdo.Slot) uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dict.transmissionType(slot)
}

func (d *Drive) NMTState() nmt.State {
	return d.nmt.GetInternalState()
}

// SyncCount returns the number of SYNC received while operational
func (d *Drive) SyncCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncCount
}

// Requests returns every entry accessed through SDO, in order
func (d *Drive) Requests() []od.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]od.Key(nil), d.requests...)
}

// Received returns every RPDO received while operational, in order
func (d *Drive) Received() []pdo.Slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]pdo.Slot(nil), d.rpdoHistory...)
}
