package sdo

import (
	"sync"
	"time"

	can "github.com/samsamfire/eposmaster/pkg/can"
	log "github.com/sirupsen/logrus"
)

type transfer struct {
	nodeId   uint8
	index    uint16
	subindex uint8
	response chan Message
}

// Client is an SDO client restricted to expedited transfers.
// Only one transfer is in flight at a time, responses are fed back
// through [Client.Handle] by whoever consumes the bus.
type Client struct {
	bus     can.Sender
	logger  *log.Entry
	timeout time.Duration
	// Serializes transfers
	transferMu sync.Mutex
	mu         sync.Mutex
	pending    *transfer
}

func NewClient(bus can.Sender, timeout time.Duration, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &Client{
		bus:     bus,
		timeout: timeout,
		logger:  logger.WithField("service", "[SDO]"),
	}
}

// Handle a received frame, returns true if it was the response
// to the pending transfer.
func (c *Client) Handle(frame can.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pending
	if pending == nil || frame.ID != ServerBaseId+uint32(pending.nodeId) || frame.DLC != 8 {
		return false
	}
	response := NewMessage(frame.Data)
	if response.Index() != pending.index || response.Subindex() != pending.subindex {
		c.logger.Warnf("ignoring response for x%x|x%x, expecting x%x|x%x",
			response.Index(), response.Subindex(), pending.index, pending.subindex)
		return false
	}
	c.pending = nil
	pending.response <- response
	return true
}

func (c *Client) send(nodeId uint8, m Message) error {
	frame := can.NewFrame(ClientBaseId+uint32(nodeId), 0, 8)
	frame.Data = m.Raw()
	return c.bus.Send(frame)
}

func (c *Client) exchange(nodeId uint8, request Message) (Message, error) {
	c.transferMu.Lock()
	defer c.transferMu.Unlock()

	t := &transfer{
		nodeId:   nodeId,
		index:    request.Index(),
		subindex: request.Subindex(),
		response: make(chan Message, 1),
	}
	c.mu.Lock()
	c.pending = t
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		if c.pending == t {
			c.pending = nil
		}
		c.mu.Unlock()
	}

	if err := c.send(nodeId, request); err != nil {
		release()
		return Message{}, err
	}
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case response := <-t.response:
		if response.IsAbort() {
			c.logger.Debugf("[RX] x%x|x%x aborted by server %v : %v", t.index, t.subindex, nodeId, response.AbortCode())
			return response, response.AbortCode()
		}
		return response, nil
	case <-timer.C:
		release()
		c.logger.Warnf("x%x|x%x no response from node %v after %v", t.index, t.subindex, nodeId, c.timeout)
		_ = c.send(nodeId, AbortMessage(t.index, t.subindex, AbortTimeout))
		return Message{}, AbortTimeout
	}
}

// Write a value of 1 to 4 bytes with an expedited download
func (c *Client) Write(nodeId uint8, index uint16, subindex uint8, value uint32, size uint8) error {
	if size == 0 || size > expeditedMaxDataLength {
		return ErrUnsupportedSize
	}
	response, err := c.exchange(nodeId, DownloadRequest(index, subindex, value, size))
	if err != nil {
		return err
	}
	if response.Command() != CmdDownloadResponse {
		_ = c.send(nodeId, AbortMessage(index, subindex, AbortCmd))
		return ErrProtocol
	}
	c.logger.Debugf("[TX] x%x|x%x <- x%x (%v bytes) node %v", index, subindex, value, size, nodeId)
	return nil
}

// Write a value whose size is deduced from its type
func (c *Client) WriteRaw(nodeId uint8, index uint16, subindex uint8, data any) error {
	var value uint32
	var size uint8
	switch v := data.(type) {
	case uint8:
		value, size = uint32(v), 1
	case int8:
		value, size = uint32(uint8(v)), 1
	case uint16:
		value, size = uint32(v), 2
	case int16:
		value, size = uint32(uint16(v)), 2
	case uint32:
		value, size = v, 4
	case int32:
		value, size = uint32(v), 4
	case bool:
		size = 1
		if v {
			value = 1
		}
	default:
		return ErrUnsupportedType
	}
	return c.Write(nodeId, index, subindex, value, size)
}

// Read a value with an expedited upload.
// Returns the value and the size in bytes given by the server.
func (c *Client) Read(nodeId uint8, index uint16, subindex uint8) (uint32, uint8, error) {
	response, err := c.exchange(nodeId, UploadRequest(index, subindex))
	if err != nil {
		return 0, 0, err
	}
	if response.Command() != CmdUploadInitiate || !response.IsExpedited() {
		// Segmented uploads are not supported
		_ = c.send(nodeId, AbortMessage(index, subindex, AbortCmd))
		return 0, 0, ErrProtocol
	}
	value := response.Value()
	c.logger.Debugf("[RX] x%x|x%x -> x%x node %v", index, subindex, value, nodeId)
	return value, response.DataSize(), nil
}

func (c *Client) ReadUint8(nodeId uint8, index uint16, subindex uint8) (uint8, error) {
	value, _, err := c.Read(nodeId, index, subindex)
	return uint8(value), err
}

func (c *Client) ReadUint16(nodeId uint8, index uint16, subindex uint8) (uint16, error) {
	value, _, err := c.Read(nodeId, index, subindex)
	return uint16(value), err
}

func (c *Client) ReadUint32(nodeId uint8, index uint16, subindex uint8) (uint32, error) {
	value, _, err := c.Read(nodeId, index, subindex)
	return value, err
}
