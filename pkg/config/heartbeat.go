package config

import (
	"errors"
	"time"

	"github.com/samsamfire/eposmaster/pkg/od"
)

var ErrConsumerTimeout = errors.New("consumer timeout must be between 1 and 65535 ms")

// Consumer is one sub-entry of 0x1016 : the drive expects a heartbeat
// from ProducerId at least every Timeout
type Consumer struct {
	ProducerId uint8
	Timeout    time.Duration
}

// Raw 0x1016 value : producer id in bits 16..23, timeout in ms below
func (c Consumer) raw() (uint32, error) {
	ms := c.Timeout.Milliseconds()
	if ms <= 0 || ms > 0xFFFF {
		return 0, ErrConsumerTimeout
	}
	return uint32(c.ProducerId)<<16 | uint32(ms), nil
}

func consumerFromRaw(raw uint32) Consumer {
	return Consumer{
		ProducerId: uint8(raw >> 16),
		Timeout:    time.Duration(raw&0xFFFF) * time.Millisecond,
	}
}

// ReadConsumers returns every configured consumer slot, unused slots
// have a zero producer id
func (config *NodeConfigurator) ReadConsumers() ([]Consumer, error) {
	nbSlots, err := config.client.ReadUint8(config.nodeId, od.EntryConsumerHeartbeatTime, 0)
	if err != nil {
		return nil, err
	}
	consumers := make([]Consumer, 0, nbSlots)
	for slot := uint8(1); slot <= nbSlots; slot++ {
		raw, err := config.client.ReadUint32(config.nodeId, od.EntryConsumerHeartbeatTime, slot)
		if err != nil {
			return consumers, err
		}
		consumers = append(consumers, consumerFromRaw(raw))
	}
	return consumers, nil
}

// WriteConsumer fills consumer slot (starting at 1)
func (config *NodeConfigurator) WriteConsumer(slot uint8, consumer Consumer) error {
	raw, err := consumer.raw()
	if err != nil {
		return err
	}
	return config.client.WriteRaw(config.nodeId, od.EntryConsumerHeartbeatTime, slot, raw)
}

// ReadProducerPeriod returns the heartbeat period of the node itself (0x1017)
func (config *NodeConfigurator) ReadProducerPeriod() (time.Duration, error) {
	ms, err := config.client.ReadUint16(config.nodeId, od.EntryProducerHeartbeatTime, 0)
	return time.Duration(ms) * time.Millisecond, err
}

// WriteProducerPeriod sets the heartbeat period of the node, zero disables it
func (config *NodeConfigurator) WriteProducerPeriod(period time.Duration) error {
	ms := period.Milliseconds()
	if ms < 0 || ms > 0xFFFF {
		return ErrConsumerTimeout
	}
	return config.client.WriteRaw(config.nodeId, od.EntryProducerHeartbeatTime, 0, uint16(ms))
}
