package gateway

import (
	"errors"
	"sort"
	"sync"

	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/samsamfire/eposmaster/pkg/motion"
	"github.com/samsamfire/eposmaster/pkg/receiver"
)

var (
	ErrUnknownNode = errors.New("no drive with this node id")
	ErrNotAttached = errors.New("component not attached to the gateway")
)

// SDOResult is a raw dictionary upload
type SDOResult struct {
	NodeId   uint8
	Index    uint16
	Subindex uint8
	Value    uint32
	Size     uint8
}

// BaseGateway is the protocol independent view of the master exposed by
// the outer gateways. Each gateway maps its own parsing logic to it.
type BaseGateway struct {
	mu            sync.RWMutex
	drives        map[uint8]*epos.Drive
	defaultNodeId uint8
	orchestrator  *motion.Orchestrator
	receiver      *receiver.Task
	version       Version
}

type Version struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	MasterNodeId uint8  `json:"masterNodeId"`
}

func NewBaseGateway(version Version) *BaseGateway {
	return &BaseGateway{
		drives:  make(map[uint8]*epos.Drive),
		version: version,
	}
}

// AddDrive exposes drive, the first one added becomes the default node
func (gw *BaseGateway) AddDrive(drive *epos.Drive) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.drives[drive.NodeId()] = drive
	if gw.defaultNodeId == 0 {
		gw.defaultNodeId = drive.NodeId()
	}
}

func (gw *BaseGateway) SetOrchestrator(orchestrator *motion.Orchestrator) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.orchestrator = orchestrator
}

func (gw *BaseGateway) SetReceiver(task *receiver.Task) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.receiver = task
}

// Set default node Id to use
func (gw *BaseGateway) SetDefaultNodeId(id uint8) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if _, ok := gw.drives[id]; !ok {
		return ErrUnknownNode
	}
	gw.defaultNodeId = id
	return nil
}

// Get default node Id
func (gw *BaseGateway) DefaultNodeId() uint8 {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	return gw.defaultNodeId
}

func (gw *BaseGateway) GetVersion() Version {
	return gw.version
}

// Nodes returns the exposed node ids in ascending order
func (gw *BaseGateway) Nodes() []uint8 {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	ids := make([]uint8, 0, len(gw.drives))
	for id := range gw.drives {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (gw *BaseGateway) drive(nodeId uint8) (*epos.Drive, error) {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	drive, ok := gw.drives[nodeId]
	if !ok {
		return nil, ErrUnknownNode
	}
	return drive, nil
}

func (gw *BaseGateway) Snapshot(nodeId uint8) (epos.Snapshot, error) {
	drive, err := gw.drive(nodeId)
	if err != nil {
		return epos.Snapshot{}, err
	}
	return drive.Node().Snapshot(), nil
}

// ReadSDO uploads an entry from the drive, bypassing the cache
func (gw *BaseGateway) ReadSDO(nodeId uint8, index uint16, subindex uint8) (SDOResult, error) {
	drive, err := gw.drive(nodeId)
	if err != nil {
		return SDOResult{}, err
	}
	value, size, err := drive.SDOClient().Read(nodeId, index, subindex)
	if err != nil {
		return SDOResult{}, err
	}
	return SDOResult{NodeId: nodeId, Index: index, Subindex: subindex, Value: value, Size: size}, nil
}

func (gw *BaseGateway) OrchestratorStatus() (motion.Status, error) {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	if gw.orchestrator == nil {
		return motion.Status{}, ErrNotAttached
	}
	return gw.orchestrator.Status(), nil
}

func (gw *BaseGateway) ReceiverCounters() (receiver.Counters, bool, error) {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	if gw.receiver == nil {
		return receiver.Counters{}, false, ErrNotAttached
	}
	return gw.receiver.Counters(), gw.receiver.Running(), nil
}
