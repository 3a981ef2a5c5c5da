package od

// Communication profile objects
const (
	EntryErrorRegister          = uint16(0x1001)
	EntryConsumerHeartbeatTime  = uint16(0x1016)
	EntryProducerHeartbeatTime  = uint16(0x1017)
	EntryIdentityObject         = uint16(0x1018)
	EntryRPDOCommunicationStart = uint16(0x1400)
	EntryRPDOMappingStart       = uint16(0x1600)
	EntryTPDOCommunicationStart = uint16(0x1800)
	EntryTPDOMappingStart       = uint16(0x1A00)
)

// PDO communication parameter subindexes
const (
	SubPdoCobId            = uint8(1)
	SubPdoTransmissionType = uint8(2)
	SubPdoInhibitTime      = uint8(3)
	SubPdoEventTimer       = uint8(5)
)

const (
	MaxMappedEntriesPdo = uint8(8)
	MaxMappedBitsPdo    = 64
	// Bit 31 of a PDO COB-ID, set when the PDO is not valid
	PdoCobIdInvalid = uint32(1) << 31
)

// CiA 402 / EPOS4 device profile objects
const (
	EntryErrorCode               = uint16(0x603F)
	EntryControlword             = uint16(0x6040)
	EntryStatusword              = uint16(0x6041)
	EntryModesOfOperation        = uint16(0x6060)
	EntryModesOfOperationDisplay = uint16(0x6061)
	EntryPositionActualValue     = uint16(0x6064)
	EntryVelocityActualValue     = uint16(0x606C)
	EntryTargetPosition          = uint16(0x607A)
	EntryProfileVelocity         = uint16(0x6081)
	EntryProfileAcceleration     = uint16(0x6083)
	EntryProfileDeceleration     = uint16(0x6084)
	EntryTargetVelocity          = uint16(0x60FF)
	// Maxon specific
	EntryVelocityActualValueAveraged = uint16(0x30D3)
)
