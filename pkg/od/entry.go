package od

import "fmt"

// Entry addresses a single variable of a remote object dictionary.
// Bits is the variable length as it appears in a PDO mapping.
type Entry struct {
	Index    uint16
	Subindex uint8
	Bits     uint8
}

// Key identifies an entry regardless of its length
type Key struct {
	Index    uint16
	Subindex uint8
}

func (k Key) String() string {
	return fmt.Sprintf("x%x|x%x", k.Index, k.Subindex)
}

func (e Entry) Key() Key {
	return Key{Index: e.Index, Subindex: e.Subindex}
}

// Size in bytes
func (e Entry) Size() uint8 {
	return e.Bits / 8
}

// MappingValue returns the value to write inside a PDO mapping parameter
func (e Entry) MappingValue() uint32 {
	return uint32(e.Index)<<16 | uint32(e.Subindex)<<8 | uint32(e.Bits)
}

func (e Entry) String() string {
	return fmt.Sprintf("x%x|x%x (%v bits)", e.Index, e.Subindex, e.Bits)
}

// EntryFromMapping decodes a PDO mapping parameter
func EntryFromMapping(raw uint32) Entry {
	return Entry{Index: uint16(raw >> 16), Subindex: uint8(raw >> 8), Bits: uint8(raw)}
}

var (
	ErrorRegister               = Entry{EntryErrorRegister, 0, 8}
	ConsumerHeartbeatTime       = Entry{EntryConsumerHeartbeatTime, 1, 32}
	ProducerHeartbeatTime       = Entry{EntryProducerHeartbeatTime, 0, 16}
	VendorId                    = Entry{EntryIdentityObject, 1, 32}
	ProductCode                 = Entry{EntryIdentityObject, 2, 32}
	RevisionNumber              = Entry{EntryIdentityObject, 3, 32}
	SerialNumber                = Entry{EntryIdentityObject, 4, 32}
	ErrorCode                   = Entry{EntryErrorCode, 0, 16}
	Controlword                 = Entry{EntryControlword, 0, 16}
	Statusword                  = Entry{EntryStatusword, 0, 16}
	ModesOfOperation            = Entry{EntryModesOfOperation, 0, 8}
	ModesOfOperationDisplay     = Entry{EntryModesOfOperationDisplay, 0, 8}
	PositionActualValue         = Entry{EntryPositionActualValue, 0, 32}
	VelocityActualValue         = Entry{EntryVelocityActualValue, 0, 32}
	VelocityActualValueAveraged = Entry{EntryVelocityActualValueAveraged, 1, 32}
	TargetPosition              = Entry{EntryTargetPosition, 0, 32}
	ProfileVelocity             = Entry{EntryProfileVelocity, 0, 32}
	ProfileAcceleration         = Entry{EntryProfileAcceleration, 0, 32}
	ProfileDeceleration         = Entry{EntryProfileDeceleration, 0, 32}
	TargetVelocity              = Entry{EntryTargetVelocity, 0, 32}
)

// INTEGER8/16/32 objects, everything else is treated as unsigned
var signed = map[Key]bool{
	ModesOfOperation.Key():            true,
	ModesOfOperationDisplay.Key():     true,
	PositionActualValue.Key():         true,
	VelocityActualValue.Key():         true,
	VelocityActualValueAveraged.Key(): true,
	TargetPosition.Key():              true,
	TargetVelocity.Key():              true,
}

func (k Key) Signed() bool {
	return signed[k]
}

// Extend widens a raw value of size bytes to 32 bits,
// sign extended when the object is signed
func (e Entry) Extend(raw uint32, size uint8) int32 {
	if size == 0 || size >= 4 {
		return int32(raw)
	}
	shift := 32 - 8*uint32(size)
	if e.Key().Signed() {
		return int32(raw<<shift) >> shift
	}
	return int32(raw << shift >> shift)
}
