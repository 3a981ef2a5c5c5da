package pdo

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/samsamfire/eposmaster/pkg/od"
)

var (
	ErrInvalidSlot     = errors.New("invalid pdo slot")
	ErrEmptyMapping    = errors.New("pdo mapping is empty")
	ErrTooManyEntries  = errors.New("too many mapped entries")
	ErrMapLen          = errors.New("mapped length exceeds pdo length")
	ErrAlignment       = errors.New("mapped entry is not byte aligned")
	ErrValueCount      = errors.New("value count does not match mapping")
	ErrLengthMismatch  = errors.New("pdo data shorter than mapping")
	ErrUnknownTransmit = errors.New("unknown transmission mode")
)

const (
	MaxPdoLength  uint8 = 8
	MinPdoNumber        = uint16(1)
	MaxRpdoNumber       = uint16(512)
	MaxTpdoNumber       = MaxRpdoNumber
	MaxPdoNumber        = MaxRpdoNumber + MaxTpdoNumber
	MinRpdoNumber       = MinPdoNumber
	MinTpdoNumber       = MaxRpdoNumber + 1
)

const (
	TransmissionTypeSyncAcyclic = 0    // synchronous (acyclic)
	TransmissionTypeSync1       = 1    // synchronous (cyclic every sync)
	TransmissionTypeSync240     = 0xF0 // synchronous (cyclic every 240-th sync)
	TransmissionTypeSyncEventLo = 0xFE // event-driven, lower value (manufacturer specific)
	TransmissionTypeSyncEventHi = 0xFF // event-driven, higher value (device profile and application profile specific)
)

// Predefined connection set COB-IDs
const (
	baseRpdo = uint32(0x200)
	baseTpdo = uint32(0x180)
	stepPdo  = uint32(0x100)
)

// Slot is one of the four predefined receive or transmit PDOs of a node.
// Rx slots are received by the drive, Tx slots are transmitted by it.
type Slot uint8

const (
	Rx1 Slot = iota + 1
	Rx2
	Rx3
	Rx4
	Tx1
	Tx2
	Tx3
	Tx4
)

func (s Slot) Valid() bool {
	return s >= Rx1 && s <= Tx4
}

func (s Slot) IsRPDO() bool {
	return s >= Rx1 && s <= Rx4
}

// Number inside its direction, 1 to 4
func (s Slot) Number() uint16 {
	if s.IsRPDO() {
		return uint16(s - Rx1 + 1)
	}
	return uint16(s - Tx1 + 1)
}

// Global PDO number as used by [config.NodeConfigurator]
// RPDOs are 1..512, TPDOs 513..1024
func (s Slot) PdoNumber() uint16 {
	if s.IsRPDO() {
		return s.Number()
	}
	return MaxRpdoNumber + s.Number()
}

// Default COB-ID of the slot for a given node
func (s Slot) CobId(nodeId uint8) uint32 {
	base := baseTpdo
	if s.IsRPDO() {
		base = baseRpdo
	}
	return base + stepPdo*uint32(s.Number()-1) + uint32(nodeId)
}

func (s Slot) CommunicationIndex() uint16 {
	if s.IsRPDO() {
		return od.EntryRPDOCommunicationStart + s.Number() - 1
	}
	return od.EntryTPDOCommunicationStart + s.Number() - 1
}

func (s Slot) MappingIndex() uint16 {
	if s.IsRPDO() {
		return od.EntryRPDOMappingStart + s.Number() - 1
	}
	return od.EntryTPDOMappingStart + s.Number() - 1
}

func (s Slot) String() string {
	if !s.Valid() {
		return fmt.Sprintf("PDO(%d)", uint8(s))
	}
	if s.IsRPDO() {
		return fmt.Sprintf("RPDO%d", s.Number())
	}
	return fmt.Sprintf("TPDO%d", s.Number())
}

// SlotFromCobId returns the predefined slot and node for a COB-ID
func SlotFromCobId(cobId uint32) (Slot, uint8, bool) {
	nodeId := uint8(cobId & 0x7F)
	function := cobId &^ 0x7F
	if nodeId == 0 {
		return 0, 0, false
	}
	for s := Rx1; s <= Tx4; s++ {
		if s.CobId(0) == function {
			return s, nodeId, true
		}
	}
	return 0, 0, false
}

// TransmissionMode of a PDO
type TransmissionMode uint8

const (
	// Applied or sent on reception of SYNC
	Synchronous TransmissionMode = iota
	// Applied on reception or sent on change (or event timer)
	Asynchronous
)

// TransmissionType as written in the communication parameter
func (m TransmissionMode) TransmissionType() (uint8, error) {
	switch m {
	case Synchronous:
		return TransmissionTypeSync1, nil
	case Asynchronous:
		return TransmissionTypeSyncEventHi, nil
	}
	return 0, ErrUnknownTransmit
}

// ModeFromTransmissionType is the inverse of [TransmissionMode.TransmissionType]
func ModeFromTransmissionType(transType uint8) TransmissionMode {
	if transType <= TransmissionTypeSync240 {
		return Synchronous
	}
	return Asynchronous
}

func (m TransmissionMode) String() string {
	switch m {
	case Synchronous:
		return "synchronous"
	case Asynchronous:
		return "asynchronous"
	}
	return "unknown"
}

// Configuration of a single PDO slot
type Configuration struct {
	Slot    Slot
	Mode    TransmissionMode
	Entries []od.Entry
	// Minimum time between two transmissions in 100µs units, TPDO only
	InhibitTime uint16
}

func (c Configuration) Validate() error {
	if !c.Slot.Valid() {
		return ErrInvalidSlot
	}
	if _, err := c.Mode.TransmissionType(); err != nil {
		return err
	}
	return Map(c.Entries).Validate()
}

func (c Configuration) Map() Map {
	return Map(c.Entries)
}

// Map is the ordered list of entries packed inside a PDO
type Map []od.Entry

func (m Map) Validate() error {
	if len(m) == 0 {
		return ErrEmptyMapping
	}
	if len(m) > int(od.MaxMappedEntriesPdo) {
		return ErrTooManyEntries
	}
	bits := 0
	for _, entry := range m {
		if entry.Bits == 0 || entry.Bits%8 != 0 || entry.Bits > 32 {
			return ErrAlignment
		}
		bits += int(entry.Bits)
	}
	if bits > od.MaxMappedBitsPdo {
		return ErrMapLen
	}
	return nil
}

// Length in bytes
func (m Map) Length() uint8 {
	length := uint8(0)
	for _, entry := range m {
		length += entry.Size()
	}
	return length
}

// Contains reports whether the entry is mapped
func (m Map) Contains(entry od.Entry) bool {
	for _, mapped := range m {
		if mapped.Key() == entry.Key() {
			return true
		}
	}
	return false
}

// Encode values in mapping order, little endian
func (m Map) Encode(values ...int32) ([8]byte, uint8, error) {
	var data [8]byte
	if len(values) != len(m) {
		return data, 0, ErrValueCount
	}
	if err := m.Validate(); err != nil {
		return data, 0, err
	}
	var buf [4]byte
	offset := uint8(0)
	for i, entry := range m {
		binary.LittleEndian.PutUint32(buf[:], uint32(values[i]))
		copy(data[offset:offset+entry.Size()], buf[:entry.Size()])
		offset += entry.Size()
	}
	return data, offset, nil
}

// Decode data into one value per mapped entry.
// Values shorter than 32 bits are sign extended for signed objects.
func (m Map) Decode(data []byte) ([]int32, error) {
	if len(data) < int(m.Length()) {
		return nil, ErrLengthMismatch
	}
	values := make([]int32, len(m))
	offset := uint8(0)
	for i, entry := range m {
		var buf [4]byte
		copy(buf[:], data[offset:offset+entry.Size()])
		values[i] = entry.Extend(binary.LittleEndian.Uint32(buf[:]), entry.Size())
		offset += entry.Size()
	}
	return values, nil
}
