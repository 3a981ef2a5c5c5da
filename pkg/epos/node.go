package epos

import (
	"sync"
	"time"

	"github.com/samsamfire/eposmaster/pkg/emergency"
	"github.com/samsamfire/eposmaster/pkg/nmt"
	"github.com/samsamfire/eposmaster/pkg/od"
	"github.com/samsamfire/eposmaster/pkg/pdo"
)

// MotorNode is the master side view of a drive. It is written by the
// reception path and by commanded changes, read by everyone else.
type MotorNode struct {
	mu            sync.RWMutex
	nodeId        uint8
	nmtState      nmt.State
	mode          Mode
	controlWord   ControlWord
	committed     map[pdo.Slot]pdo.Configuration
	labels        map[string]pdo.Slot
	lastEmergency *emergency.Message
	emergencyAt   time.Time
	cache         *od.Cache
}

func NewMotorNode(nodeId uint8) *MotorNode {
	return &MotorNode{
		nodeId:    nodeId,
		nmtState:  nmt.StateUnknown,
		mode:      ModeNone,
		committed: make(map[pdo.Slot]pdo.Configuration),
		labels:    make(map[string]pdo.Slot),
		cache:     od.NewCache(),
	}
}

func (n *MotorNode) NodeId() uint8 {
	return n.nodeId
}

func (n *MotorNode) Cache() *od.Cache {
	return n.cache
}

func (n *MotorNode) NMTState() nmt.State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nmtState
}

func (n *MotorNode) setNMTState(state nmt.State) nmt.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	previous := n.nmtState
	n.nmtState = state
	return previous
}

func (n *MotorNode) Mode() Mode {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.mode
}

func (n *MotorNode) setMode(mode Mode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode = mode
}

func (n *MotorNode) ControlWord() ControlWord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.controlWord
}

func (n *MotorNode) setControlWord(word ControlWord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.controlWord = word
}

// commit records a successfully written configuration under its label.
// A label previously bound to another slot is moved.
func (n *MotorNode) commit(label string, conf pdo.Configuration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for l, slot := range n.labels {
		if slot == conf.Slot {
			delete(n.labels, l)
		}
	}
	n.committed[conf.Slot] = conf
	n.labels[label] = conf.Slot
}

// clearCommitted forgets every mapping, the drive has none left
func (n *MotorNode) clearCommitted() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.committed = make(map[pdo.Slot]pdo.Configuration)
	n.labels = make(map[string]pdo.Slot)
}

// Configuration returns the committed configuration bound to label
func (n *MotorNode) Configuration(label string) (pdo.Configuration, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	slot, ok := n.labels[label]
	if !ok {
		return pdo.Configuration{}, false
	}
	conf, ok := n.committed[slot]
	return conf, ok
}

// ConfigurationOf returns the committed configuration of slot
func (n *MotorNode) ConfigurationOf(slot pdo.Slot) (pdo.Configuration, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	conf, ok := n.committed[slot]
	return conf, ok
}

// TxMapped reports whether entry is carried by a committed TPDO of the drive
func (n *MotorNode) TxMapped(entry od.Entry) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for slot, conf := range n.committed {
		if !slot.IsRPDO() && conf.Map().Contains(entry) {
			return true
		}
	}
	return false
}

func (n *MotorNode) setEmergency(msg emergency.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastEmergency = &msg
	n.emergencyAt = time.Now()
}

// LastEmergency returns the last emergency received, if any
func (n *MotorNode) LastEmergency() (emergency.Message, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.lastEmergency == nil {
		return emergency.Message{}, false
	}
	return *n.lastEmergency, true
}

// CachedField is a cached value as exposed in a [Snapshot]
type CachedField struct {
	Value int32     `json:"value"`
	Valid bool      `json:"valid"`
	At    time.Time `json:"updated,omitempty"`
}

// Snapshot is a consistent copy of a node, used for reporting
type Snapshot struct {
	NodeId      uint8                  `json:"nodeId"`
	NMTState    string                 `json:"nmtState"`
	Mode        string                 `json:"mode"`
	ControlWord uint16                 `json:"controlword"`
	DeviceState string                 `json:"deviceState"`
	Mappings    map[string]string      `json:"mappings"`
	Values      map[string]CachedField `json:"values"`
	Emergency   string                 `json:"emergency,omitempty"`
	EmergencyAt time.Time              `json:"emergencyAt,omitempty"`
	Taken       time.Time              `json:"taken"`
}

func (n *MotorNode) Snapshot() Snapshot {
	n.mu.RLock()
	snapshot := Snapshot{
		NodeId:      n.nodeId,
		NMTState:    n.nmtState.String(),
		Mode:        n.mode.String(),
		ControlWord: uint16(n.controlWord),
		Mappings:    make(map[string]string, len(n.labels)),
		Values:      make(map[string]CachedField),
		Taken:       time.Now(),
	}
	for label, slot := range n.labels {
		snapshot.Mappings[label] = slot.String()
	}
	if n.lastEmergency != nil {
		snapshot.Emergency = n.lastEmergency.String()
		snapshot.EmergencyAt = n.emergencyAt
	}
	n.mu.RUnlock()

	for key, value := range n.cache.Snapshot() {
		snapshot.Values[key.String()] = CachedField{Value: value.Raw, Valid: value.Valid, At: value.Updated}
	}
	statusword, valid := n.cache.Get(od.Statusword)
	if valid {
		snapshot.DeviceState = Statusword(statusword).State().String()
	}
	return snapshot
}
