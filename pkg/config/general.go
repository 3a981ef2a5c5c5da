package config

import (
	"fmt"

	"github.com/samsamfire/eposmaster/pkg/od"
)

type Identity struct {
	VendorId       uint32
	ProductCode    uint32
	RevisionNumber uint32
	SerialNumber   uint32
}

func (identity Identity) String() string {
	return fmt.Sprintf("vendor x%x product x%x revision x%x serial x%x",
		identity.VendorId, identity.ProductCode, identity.RevisionNumber, identity.SerialNumber)
}

// Read identity object (0x1018, mandatory)
func (config *NodeConfigurator) ReadIdentity() (*Identity, error) {
	// Vendor ID is the only mandatory field
	vendorId, err := config.client.ReadUint32(config.nodeId, od.EntryIdentityObject, 1)
	if err != nil {
		return nil, err
	}
	productCode, _ := config.client.ReadUint32(config.nodeId, od.EntryIdentityObject, 2)
	revisionNumber, _ := config.client.ReadUint32(config.nodeId, od.EntryIdentityObject, 3)
	serialNumber, _ := config.client.ReadUint32(config.nodeId, od.EntryIdentityObject, 4)
	return &Identity{
		VendorId:       vendorId,
		ProductCode:    productCode,
		RevisionNumber: revisionNumber,
		SerialNumber:   serialNumber,
	}, nil
}

// Read the error register (0x1001)
func (config *NodeConfigurator) ReadErrorRegister() (uint8, error) {
	return config.client.ReadUint8(config.nodeId, od.EntryErrorRegister, 0)
}
