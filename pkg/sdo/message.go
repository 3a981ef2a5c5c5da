package sdo

import (
	"encoding/binary"
)

// Command specifiers used by expedited transfers
const (
	CmdDownloadInitiate    = 0x20
	CmdDownloadResponse    = 0x60
	CmdUploadInitiate      = 0x40
	CmdAbort               = 0x80
	flagExpedited          = 0x02
	flagSizeIndicated      = 0x01
	maskClientCommand      = 0xE0
	maskUnusedBytes        = 0x0C
	expeditedMaxDataLength = 4
)

// Message is the 8 byte payload of an SDO frame
type Message struct {
	raw [8]byte
}

func NewMessage(raw [8]byte) Message {
	return Message{raw: raw}
}

func (m Message) Raw() [8]byte {
	return m.raw
}

// Command specifier, upper 3 bits
func (m Message) Command() uint8 {
	return m.raw[0] & maskClientCommand
}

func (m Message) IsAbort() bool {
	return m.raw[0] == CmdAbort
}

func (m Message) IsExpedited() bool {
	return m.raw[0]&flagExpedited != 0
}

func (m Message) IsSizeIndicated() bool {
	return m.raw[0]&flagSizeIndicated != 0
}

func (m Message) Index() uint16 {
	return binary.LittleEndian.Uint16(m.raw[1:3])
}

func (m Message) Subindex() uint8 {
	return m.raw[3]
}

func (m Message) AbortCode() Abort {
	return Abort(binary.LittleEndian.Uint32(m.raw[4:]))
}

// Size of the expedited payload, 4 when not indicated
func (m Message) DataSize() uint8 {
	if !m.IsSizeIndicated() {
		return expeditedMaxDataLength
	}
	return expeditedMaxDataLength - (m.raw[0]&maskUnusedBytes)>>2
}

// Expedited payload, unused bytes are zeroed
func (m Message) Value() uint32 {
	var data [4]byte
	copy(data[:m.DataSize()], m.raw[4:8])
	return binary.LittleEndian.Uint32(data[:])
}

func newMessage(cmd uint8, index uint16, subindex uint8) Message {
	m := Message{}
	m.raw[0] = cmd
	binary.LittleEndian.PutUint16(m.raw[1:3], index)
	m.raw[3] = subindex
	return m
}

func expedited(cmd uint8, index uint16, subindex uint8, value uint32, size uint8) Message {
	m := newMessage(cmd|flagExpedited|flagSizeIndicated|((expeditedMaxDataLength-size)<<2), index, subindex)
	binary.LittleEndian.PutUint32(m.raw[4:], value)
	// Clear unused bytes
	for i := 4 + int(size); i < 8; i++ {
		m.raw[i] = 0
	}
	return m
}

// Expedited download initiate, sent by the client
func DownloadRequest(index uint16, subindex uint8, value uint32, size uint8) Message {
	return expedited(CmdDownloadInitiate, index, subindex, value, size)
}

// Download acknowledge, sent by the server
func DownloadResponse(index uint16, subindex uint8) Message {
	return newMessage(CmdDownloadResponse, index, subindex)
}

// Upload initiate, sent by the client
func UploadRequest(index uint16, subindex uint8) Message {
	return newMessage(CmdUploadInitiate, index, subindex)
}

// Expedited upload response, sent by the server
func UploadResponse(index uint16, subindex uint8, value uint32, size uint8) Message {
	return expedited(CmdUploadInitiate, index, subindex, value, size)
}

// Abort transfer, sent by either side
func AbortMessage(index uint16, subindex uint8, code Abort) Message {
	m := newMessage(CmdAbort, index, subindex)
	binary.LittleEndian.PutUint32(m.raw[4:], uint32(code))
	return m
}
