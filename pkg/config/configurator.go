package config

// SDOClient is the subset of [sdo.Client] used for configuration
type SDOClient interface {
	ReadUint8(nodeId uint8, index uint16, subindex uint8) (uint8, error)
	ReadUint16(nodeId uint8, index uint16, subindex uint8) (uint16, error)
	ReadUint32(nodeId uint8, index uint16, subindex uint8) (uint32, error)
	WriteRaw(nodeId uint8, index uint16, subindex uint8, data any) error
}

// NodeConfigurator provides helper methods for
// reading / updating CANopen reserved configuration objects
// i.e. objects between 0x1000 and 0x2000.
// This uses an SDO client to access the different objects
type NodeConfigurator struct {
	client SDOClient
	nodeId uint8
}

// Create a new [NodeConfigurator] for given ID and SDOClient
func NewNodeConfigurator(nodeId uint8, client SDOClient) *NodeConfigurator {
	configurator := NodeConfigurator{client: client, nodeId: nodeId}
	return &configurator
}

func (config *NodeConfigurator) NodeId() uint8 {
	return config.nodeId
}
