package config

import (
	"github.com/samsamfire/eposmaster/pkg/od"
	"github.com/samsamfire/eposmaster/pkg/pdo"
)

func (config *NodeConfigurator) ReadCobIdPDO(slot pdo.Slot) (uint32, error) {
	return config.client.ReadUint32(config.nodeId, slot.CommunicationIndex(), od.SubPdoCobId)
}

func (config *NodeConfigurator) ReadEnabledPDO(slot pdo.Slot) (bool, error) {
	cobId, err := config.ReadCobIdPDO(slot)
	if err != nil {
		return false, err
	}
	return cobId&od.PdoCobIdInvalid == 0, nil
}

func (config *NodeConfigurator) ReadTransmissionType(slot pdo.Slot) (uint8, error) {
	return config.client.ReadUint8(config.nodeId, slot.CommunicationIndex(), od.SubPdoTransmissionType)
}

func (config *NodeConfigurator) ReadInhibitTime(slot pdo.Slot) (uint16, error) {
	return config.client.ReadUint16(config.nodeId, slot.CommunicationIndex(), od.SubPdoInhibitTime)
}

func (config *NodeConfigurator) ReadNbMappings(slot pdo.Slot) (uint8, error) {
	return config.client.ReadUint8(config.nodeId, slot.MappingIndex(), 0)
}

func (config *NodeConfigurator) ReadMappings(slot pdo.Slot) (pdo.Map, error) {
	nbMappings, err := config.ReadNbMappings(slot)
	if err != nil {
		return nil, err
	}
	mappings := make(pdo.Map, 0, nbMappings)
	for i := range nbMappings {
		rawMap, err := config.client.ReadUint32(config.nodeId, slot.MappingIndex(), i+1)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, od.EntryFromMapping(rawMap))
	}
	return mappings, nil
}

// Reads configuration of a single PDO
func (config *NodeConfigurator) ReadConfigurationPDO(slot pdo.Slot) (pdo.Configuration, error) {
	conf := pdo.Configuration{Slot: slot}
	transType, err := config.ReadTransmissionType(slot)
	if err != nil {
		return conf, err
	}
	conf.Mode = pdo.ModeFromTransmissionType(transType)
	// Optional
	if !slot.IsRPDO() {
		conf.InhibitTime, _ = config.ReadInhibitTime(slot)
	}
	conf.Entries, err = config.ReadMappings(slot)
	return conf, err
}

// Disable PDO
func (config *NodeConfigurator) DisablePDO(slot pdo.Slot) error {
	cobId, err := config.ReadCobIdPDO(slot)
	if err != nil {
		return err
	}
	cobId |= od.PdoCobIdInvalid
	return config.client.WriteRaw(config.nodeId, slot.CommunicationIndex(), od.SubPdoCobId, cobId)
}

// Enable PDO, the COB-ID is reset to the predefined connection set
func (config *NodeConfigurator) EnablePDO(slot pdo.Slot) error {
	cobId, err := config.ReadCobIdPDO(slot)
	if err != nil {
		return err
	}
	cobId &= 0x7FFFF800 // clear valid & cobid bits
	cobId |= slot.CobId(config.nodeId)
	return config.client.WriteRaw(config.nodeId, slot.CommunicationIndex(), od.SubPdoCobId, cobId)
}

func (config *NodeConfigurator) WriteTransmissionType(slot pdo.Slot, transType uint8) error {
	return config.client.WriteRaw(config.nodeId, slot.CommunicationIndex(), od.SubPdoTransmissionType, transType)
}

func (config *NodeConfigurator) WriteInhibitTime(slot pdo.Slot, inhibitTime uint16) error {
	return config.client.WriteRaw(config.nodeId, slot.CommunicationIndex(), od.SubPdoInhibitTime, inhibitTime)
}

// Clear the number of mapped objects, the PDO is unusable until remapped
func (config *NodeConfigurator) ClearMappings(slot pdo.Slot) error {
	return config.client.WriteRaw(config.nodeId, slot.MappingIndex(), 0, uint8(0))
}

// Write new PDO mapping
// Takes a list of objects to map and will fill them up in the given order
// This will first clear the current mapping
func (config *NodeConfigurator) WriteMappings(slot pdo.Slot, mappings pdo.Map) error {
	if err := mappings.Validate(); err != nil {
		return err
	}
	err := config.ClearMappings(slot)
	if err != nil {
		return err
	}
	// Update with new mapping
	for sub, mapping := range mappings {
		err := config.client.WriteRaw(config.nodeId, slot.MappingIndex(), uint8(sub)+1, mapping.MappingValue())
		if err != nil {
			return err
		}
	}
	// Update number of mapped objects
	return config.client.WriteRaw(config.nodeId, slot.MappingIndex(), 0, uint8(len(mappings)))
}

// Update whole configuration.
// PDO is disabled during the update and enabled again at the end
func (config *NodeConfigurator) WriteConfigurationPDO(conf pdo.Configuration) error {
	if err := conf.Validate(); err != nil {
		return err
	}
	transType, _ := conf.Mode.TransmissionType()
	err := config.DisablePDO(conf.Slot)
	if err != nil {
		return err
	}
	err = config.WriteTransmissionType(conf.Slot, transType)
	if err != nil {
		return err
	}
	if !conf.Slot.IsRPDO() {
		err = config.WriteInhibitTime(conf.Slot, conf.InhibitTime)
		if err != nil {
			return err
		}
	}
	err = config.WriteMappings(conf.Slot, conf.Map())
	if err != nil {
		return err
	}
	return config.EnablePDO(conf.Slot)
}
