package pdo

import (
	"testing"

	"github.com/samsamfire/eposmaster/pkg/od"
	"github.com/stretchr/testify/assert"
)

func TestSlot(t *testing.T) {
	assert.EqualValues(t, 0x201, Rx1.CobId(1))
	assert.EqualValues(t, 0x301, Rx2.CobId(1))
	assert.EqualValues(t, 0x181, Tx1.CobId(1))
	assert.EqualValues(t, 0x4FF, Tx4.CobId(0x7F))
	assert.EqualValues(t, 0x1401, Rx2.CommunicationIndex())
	assert.EqualValues(t, 0x1A00, Tx1.MappingIndex())
	assert.EqualValues(t, 1, Rx1.PdoNumber())
	assert.EqualValues(t, 513, Tx1.PdoNumber())
	assert.Equal(t, "TPDO3", Tx3.String())

	slot, nodeId, ok := SlotFromCobId(0x281)
	assert.True(t, ok)
	assert.Equal(t, Tx2, slot)
	assert.EqualValues(t, 1, nodeId)
	_, _, ok = SlotFromCobId(0x701)
	assert.False(t, ok)
	_, _, ok = SlotFromCobId(0x180)
	assert.False(t, ok)
}

func TestTransmissionMode(t *testing.T) {
	transType, err := Synchronous.TransmissionType()
	assert.Nil(t, err)
	assert.EqualValues(t, 1, transType)
	transType, err = Asynchronous.TransmissionType()
	assert.Nil(t, err)
	assert.EqualValues(t, 255, transType)
	_, err = TransmissionMode(9).TransmissionType()
	assert.Equal(t, ErrUnknownTransmit, err)
	assert.Equal(t, Synchronous, ModeFromTransmissionType(1))
	assert.Equal(t, Asynchronous, ModeFromTransmissionType(254))
}

func TestConfigurationValidate(t *testing.T) {
	tests := []struct {
		name string
		conf Configuration
		err  error
	}{
		{"valid", Configuration{Slot: Tx1, Entries: []od.Entry{od.Statusword, od.PositionActualValue}}, nil},
		{"invalid slot", Configuration{Slot: 0, Entries: []od.Entry{od.Statusword}}, ErrInvalidSlot},
		{"empty", Configuration{Slot: Rx1}, ErrEmptyMapping},
		{"too long", Configuration{Slot: Rx1, Entries: []od.Entry{od.TargetPosition, od.ProfileVelocity, od.Controlword}}, ErrMapLen},
		{"too many", Configuration{Slot: Rx1, Entries: make([]od.Entry, 9)}, ErrTooManyEntries},
		{"unaligned", Configuration{Slot: Rx1, Entries: []od.Entry{{Index: 0x6040, Bits: 12}}}, ErrAlignment},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.err, test.conf.Validate())
		})
	}
}

func TestMapEncodeDecode(t *testing.T) {
	m := Map{od.Statusword, od.PositionActualValue}
	assert.EqualValues(t, 6, m.Length())
	assert.True(t, m.Contains(od.PositionActualValue))
	assert.False(t, m.Contains(od.TargetPosition))

	data, length, err := m.Encode(0x1437, -2)
	assert.Nil(t, err)
	assert.EqualValues(t, 6, length)
	assert.Equal(t, [8]byte{0x37, 0x14, 0xFE, 0xFF, 0xFF, 0xFF, 0, 0}, data)

	values, err := m.Decode(data[:length])
	assert.Nil(t, err)
	assert.Equal(t, []int32{0x1437, -2}, values)

	_, err = m.Decode(data[:4])
	assert.Equal(t, ErrLengthMismatch, err)
	_, _, err = m.Encode(1)
	assert.Equal(t, ErrValueCount, err)
}

func TestDecodeShortSigned(t *testing.T) {
	m := Map{od.Statusword, od.ModesOfOperationDisplay}
	values, err := m.Decode([]byte{0xFF, 0xFF, 0xFF})
	assert.Nil(t, err)
	assert.Equal(t, []int32{0xFFFF, -1}, values)
}
