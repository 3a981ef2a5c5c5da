package simulator

import (
	"github.com/samsamfire/eposmaster/pkg/od"
	"github.com/samsamfire/eposmaster/pkg/pdo"
	"github.com/samsamfire/eposmaster/pkg/sdo"
)

type variable struct {
	value    uint32
	size     uint8
	readOnly bool
}

// dictionary is the object dictionary of the simulated drive.
// Only objects used by the master exist, others abort with [sdo.AbortNotExist].
type dictionary map[od.Key]*variable

func (d dictionary) add(entry od.Entry, value uint32, readOnly bool) {
	d[entry.Key()] = &variable{value: value, size: entry.Size(), readOnly: readOnly}
}

func (d dictionary) addRaw(index uint16, subindex uint8, size uint8, value uint32) {
	d[od.Key{Index: index, Subindex: subindex}] = &variable{value: value, size: size}
}

func (d dictionary) get(entry od.Entry) uint32 {
	v, ok := d[entry.Key()]
	if !ok {
		return 0
	}
	return v.value
}

// set bypasses access rights, used by the drive itself
func (d dictionary) set(entry od.Entry, value uint32) {
	v, ok := d[entry.Key()]
	if !ok {
		d.add(entry, value, false)
		return
	}
	v.value = value
}

func newDictionary(nodeId uint8, vendorId uint32, productCode uint32) dictionary {
	dict := make(dictionary)

	dict.add(od.ErrorRegister, 0, true)
	dict.addRaw(od.EntryConsumerHeartbeatTime, 0, 1, 1)
	dict.addRaw(od.EntryConsumerHeartbeatTime, 1, 4, 0)
	dict.add(od.ProducerHeartbeatTime, 0, false)
	dict.addRaw(od.EntryIdentityObject, 0, 1, 4)
	dict.add(od.VendorId, vendorId, true)
	dict.add(od.ProductCode, productCode, true)
	dict.add(od.RevisionNumber, 0x01700000, true)
	dict.add(od.SerialNumber, 0x1234+uint32(nodeId), true)

	for slot := pdo.Rx1; slot <= pdo.Tx4; slot++ {
		comm := slot.CommunicationIndex()
		mapping := slot.MappingIndex()
		dict.addRaw(comm, 0, 1, 5)
		dict.addRaw(comm, od.SubPdoCobId, 4, slot.CobId(nodeId))
		dict.addRaw(comm, od.SubPdoTransmissionType, 1, uint32(pdo.TransmissionTypeSyncEventHi))
		dict.addRaw(comm, od.SubPdoInhibitTime, 2, 0)
		dict.addRaw(comm, od.SubPdoEventTimer, 2, 0)
		dict.addRaw(mapping, 0, 1, 0)
		for sub := uint8(1); sub <= od.MaxMappedEntriesPdo; sub++ {
			dict.addRaw(mapping, sub, 4, 0)
		}
	}

	dict.add(od.ErrorCode, 0, true)
	dict.add(od.Controlword, 0, false)
	dict.add(od.Statusword, uint32(0x0040), true)
	dict.add(od.ModesOfOperation, 0, false)
	dict.add(od.ModesOfOperationDisplay, 0, true)
	dict.add(od.PositionActualValue, 0, true)
	dict.add(od.VelocityActualValue, 0, true)
	dict.add(od.VelocityActualValueAveraged, 0, true)
	dict.add(od.TargetPosition, 0, false)
	dict.add(od.ProfileVelocity, 1000, false)
	dict.add(od.ProfileAcceleration, 10000, false)
	dict.add(od.ProfileDeceleration, 10000, false)
	dict.add(od.TargetVelocity, 0, false)
	return dict
}

// mapping returns the entries currently mapped in slot
func (d dictionary) mapping(slot pdo.Slot) pdo.Map {
	count := d[od.Key{Index: slot.MappingIndex(), Subindex: 0}].value
	entries := make(pdo.Map, 0, count)
	for sub := uint8(1); sub <= uint8(count); sub++ {
		entries = append(entries, od.EntryFromMapping(d[od.Key{Index: slot.MappingIndex(), Subindex: sub}].value))
	}
	return entries
}

func (d dictionary) pdoEnabled(slot pdo.Slot) bool {
	return d[od.Key{Index: slot.CommunicationIndex(), Subindex: od.SubPdoCobId}].value&od.PdoCobIdInvalid == 0
}

func (d dictionary) transmissionType(slot pdo.Slot) uint8 {
	return uint8(d[od.Key{Index: slot.CommunicationIndex(), Subindex: od.SubPdoTransmissionType}].value)
}

// slotOfMapping returns the slot whose mapping parameter is index
func slotOfMapping(index uint16) (pdo.Slot, bool) {
	for slot := pdo.Rx1; slot <= pdo.Tx4; slot++ {
		if slot.MappingIndex() == index {
			return slot, true
		}
	}
	return 0, false
}

// checkWrite returns the abort a real drive would give for this download
func (d dictionary) checkWrite(key od.Key, value uint32, size uint8, operational bool) (*variable, error) {
	v, ok := d[key]
	if !ok {
		if _, exists := d[od.Key{Index: key.Index}]; exists {
			return nil, sdo.AbortSubUnknown
		}
		return nil, sdo.AbortNotExist
	}
	if v.readOnly {
		return nil, sdo.AbortReadOnly
	}
	if size != v.size {
		return nil, sdo.AbortTypeMismatch
	}
	_, isMapping := slotOfMapping(key.Index)
	if !isMapping {
		return v, nil
	}
	if operational {
		return nil, sdo.AbortDataDeviceState
	}
	// Entries are only writable while the mapping is cleared
	if key.Subindex != 0 && d[od.Key{Index: key.Index}].value != 0 {
		return nil, sdo.AbortUnsupportedAccess
	}
	if key.Subindex == 0 {
		if value > uint32(od.MaxMappedEntriesPdo) {
			return nil, sdo.AbortMapLen
		}
		bits := 0
		for sub := uint8(1); sub <= uint8(value); sub++ {
			entry := od.EntryFromMapping(d[od.Key{Index: key.Index, Subindex: sub}].value)
			if _, exists := d[entry.Key()]; !exists {
				return nil, sdo.AbortNoMap
			}
			bits += int(entry.Bits)
		}
		if bits > od.MaxMappedBitsPdo {
			return nil, sdo.AbortMapLen
		}
	}
	return v, nil
}
