package emergency

import (
	"encoding/binary"
	"fmt"

	can "github.com/samsamfire/eposmaster/pkg/can"
)

const ServiceId = 0x80

// Error register values
const (
	ErrRegGeneric       = 0x01 // bit 0 - generic error
	ErrRegCurrent       = 0x02 // bit 1 - current
	ErrRegVoltage       = 0x04 // bit 2 - voltage
	ErrRegTemperature   = 0x08 // bit 3 - temperature
	ErrRegCommunication = 0x10 // bit 4 - communication error
	ErrRegDevProfile    = 0x20 // bit 5 - device profile specific
	ErrRegReserved      = 0x40 // bit 6 - reserved (always 0)
	ErrRegManufacturer  = 0x80 // bit 7 - manufacturer specific
)

// Error codes
const (
	ErrNoError          = 0x0000
	ErrGeneric          = 0x1000
	ErrCurrent          = 0x2000
	ErrCurrentInput     = 0x2100
	ErrCurrentInside    = 0x2200
	ErrCurrentOutput    = 0x2300
	ErrVoltage          = 0x3000
	ErrVoltageMains     = 0x3100
	ErrVoltageInside    = 0x3200
	ErrVoltageOutput    = 0x3300
	ErrTemperature      = 0x4000
	ErrTempAmbient      = 0x4100
	ErrTempDevice       = 0x4200
	ErrHardware         = 0x5000
	ErrSoftwareDevice   = 0x6000
	ErrSoftwareInternal = 0x6100
	ErrSoftwareUser     = 0x6200
	ErrDataSet          = 0x6300
	ErrAdditionalModul  = 0x7000
	ErrMonitoring       = 0x8000
	ErrCommunication    = 0x8100
	ErrCanOverrun       = 0x8110
	ErrCanPassive       = 0x8120
	ErrHeartbeat        = 0x8130
	ErrBusOffRecovered  = 0x8140
	ErrCanIdCollision   = 0x8150
	ErrProtocolError    = 0x8200
	ErrPdoLength        = 0x8210
	ErrPdoLengthExc     = 0x8220
	ErrDamMpdo          = 0x8230
	ErrSyncDataLength   = 0x8240
	ErrRpdoTimeout      = 0x8250
	ErrExternalError    = 0x9000
	ErrAdditionalFunc   = 0xF000
	ErrDeviceSpecific   = 0xFF00
)

var errorCodeDescriptionMap = map[int]string{
	ErrNoError:          "Reset or No Error",
	ErrGeneric:          "Generic Error",
	ErrCurrent:          "Current",
	ErrCurrentInput:     "Current, device input side",
	ErrCurrentInside:    "Current inside the device",
	ErrCurrentOutput:    "Current, device output side",
	ErrVoltage:          "Voltage",
	ErrVoltageMains:     "Mains Voltage",
	ErrVoltageInside:    "Voltage inside the device",
	ErrVoltageOutput:    "Output Voltage",
	ErrTemperature:      "Temperature",
	ErrTempAmbient:      "Ambient Temperature",
	ErrTempDevice:       "Device Temperature",
	ErrHardware:         "Device Hardware",
	ErrSoftwareDevice:   "Device Software",
	ErrSoftwareInternal: "Internal Software",
	ErrSoftwareUser:     "User Software",
	ErrDataSet:          "Data Set",
	ErrAdditionalModul:  "Additional Modules",
	ErrMonitoring:       "Monitoring",
	ErrCommunication:    "Communication",
	ErrCanOverrun:       "CAN Overrun (Objects lost)",
	ErrCanPassive:       "CAN in Error Passive Mode",
	ErrHeartbeat:        "Life Guard Error or Heartbeat Error",
	ErrBusOffRecovered:  "Recovered from bus off",
	ErrCanIdCollision:   "CAN-ID collision",
	ErrProtocolError:    "Protocol Error",
	ErrPdoLength:        "PDO not processed due to length error",
	ErrPdoLengthExc:     "PDO length exceeded",
	ErrDamMpdo:          "DAM MPDO not processed, destination object not available",
	ErrSyncDataLength:   "Unexpected SYNC data length",
	ErrRpdoTimeout:      "RPDO timeout",
	ErrExternalError:    "External Error",
	ErrAdditionalFunc:   "Additional Functions",
	ErrDeviceSpecific:   "Device specific",
}

func getErrorCodeDescription(errorCode int) string {
	description, ok := errorCodeDescriptionMap[errorCode]
	if ok {
		return description
	}
	// Fall back on the error class
	description, ok = errorCodeDescriptionMap[errorCode&0xFF00]
	if ok {
		return description
	}
	description, ok = errorCodeDescriptionMap[errorCode&0xF000]
	if ok {
		return description
	}
	return "Invalid or not implemented error code"
}

// Message is a received emergency object
type Message struct {
	NodeId        uint8
	ErrorCode     uint16
	ErrorRegister uint8
	// Manufacturer specific error field
	Manufacturer [5]byte
}

// Decode an emergency frame, returns false if frame is not an EMCY.
// SYNC shares the same function code and is rejected.
func Decode(frame can.Frame) (Message, bool) {
	if frame.ID <= ServiceId || frame.ID > ServiceId+0x7F || frame.DLC != 8 {
		return Message{}, false
	}
	msg := Message{
		NodeId:        uint8(frame.ID - ServiceId),
		ErrorCode:     binary.LittleEndian.Uint16(frame.Data[0:2]),
		ErrorRegister: frame.Data[2],
	}
	copy(msg.Manufacturer[:], frame.Data[3:8])
	return msg, true
}

// Encode an emergency frame for nodeId
func (msg Message) Encode() can.Frame {
	frame := can.NewFrame(ServiceId+uint32(msg.NodeId), 0, 8)
	binary.LittleEndian.PutUint16(frame.Data[0:2], msg.ErrorCode)
	frame.Data[2] = msg.ErrorRegister
	copy(frame.Data[3:8], msg.Manufacturer[:])
	return frame
}

// IsReset is true when the node signals that all errors are cleared
func (msg Message) IsReset() bool {
	return msg.ErrorCode == ErrNoError
}

func (msg Message) Description() string {
	return getErrorCodeDescription(int(msg.ErrorCode))
}

func (msg Message) String() string {
	return fmt.Sprintf("node %v x%04x (%v) register x%02x", msg.NodeId, msg.ErrorCode, msg.Description(), msg.ErrorRegister)
}
