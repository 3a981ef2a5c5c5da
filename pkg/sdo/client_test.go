package sdo

import (
	"sync"
	"testing"
	"time"

	can "github.com/samsamfire/eposmaster/pkg/can"
	"github.com/stretchr/testify/assert"
)

// Minimal server answering requests from a map of values
type fakeServer struct {
	mu      sync.Mutex
	nodeId  uint8
	client  *Client
	values  map[uint32]uint32
	mute    bool
	aborts  []Message
	respond func(request Message) Message
}

func (s *fakeServer) Send(frame can.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request := NewMessage(frame.Data)
	if request.IsAbort() {
		s.aborts = append(s.aborts, request)
		return nil
	}
	if s.mute || frame.ID != ClientBaseId+uint32(s.nodeId) {
		return nil
	}
	var response Message
	if s.respond != nil {
		response = s.respond(request)
	} else {
		key := uint32(request.Index())<<8 | uint32(request.Subindex())
		switch request.Command() {
		case CmdDownloadInitiate:
			s.values[key] = request.Value()
			response = DownloadResponse(request.Index(), request.Subindex())
		case CmdUploadInitiate:
			value, ok := s.values[key]
			if !ok {
				response = AbortMessage(request.Index(), request.Subindex(), AbortNotExist)
			} else {
				response = UploadResponse(request.Index(), request.Subindex(), value, 4)
			}
		}
	}
	go func() {
		reply := can.NewFrame(ServerBaseId+uint32(s.nodeId), 0, 8)
		reply.Data = response.Raw()
		s.client.Handle(reply)
	}()
	return nil
}

func (s *fakeServer) update(f func(s *fakeServer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

func newFakeServer(nodeId uint8) (*fakeServer, *Client) {
	server := &fakeServer{nodeId: nodeId, values: make(map[uint32]uint32)}
	client := NewClient(server, 100*time.Millisecond, nil)
	server.client = client
	return server, client
}

func TestMessageEncoding(t *testing.T) {
	request := DownloadRequest(0x6040, 0, 0x000F, 2)
	assert.Equal(t, [8]byte{0x2B, 0x40, 0x60, 0x00, 0x0F, 0x00, 0x00, 0x00}, request.Raw())
	assert.EqualValues(t, 2, request.DataSize())
	assert.EqualValues(t, 0x000F, request.Value())

	response := UploadResponse(0x6064, 0, 0xFFFFFF9C, 4)
	assert.Equal(t, [8]byte{0x43, 0x64, 0x60, 0x00, 0x9C, 0xFF, 0xFF, 0xFF}, response.Raw())
	assert.EqualValues(t, -100, int32(response.Value()))

	abort := AbortMessage(0x1016, 1, AbortNotExist)
	assert.True(t, abort.IsAbort())
	assert.Equal(t, AbortNotExist, abort.AbortCode())
	assert.Equal(t, [8]byte{0x40, 0x16, 0x10, 0x01}, UploadRequest(0x1016, 1).Raw())
}

func TestClientReadWrite(t *testing.T) {
	server, client := newFakeServer(1)

	t.Run("write then read", func(t *testing.T) {
		assert.Nil(t, client.WriteRaw(1, 0x6083, 0, uint32(5000)))
		value, err := client.ReadUint32(1, 0x6083, 0)
		assert.Nil(t, err)
		assert.EqualValues(t, 5000, value)
	})

	t.Run("signed values", func(t *testing.T) {
		assert.Nil(t, client.WriteRaw(1, 0x607A, 0, int32(-4000)))
		value, err := client.ReadUint32(1, 0x607A, 0)
		assert.Nil(t, err)
		assert.EqualValues(t, -4000, int32(value))
	})

	t.Run("abort from server", func(t *testing.T) {
		_, err := client.ReadUint32(1, 0x2000, 0)
		assert.Equal(t, AbortNotExist, err)
	})

	t.Run("unsupported", func(t *testing.T) {
		assert.Equal(t, ErrUnsupportedSize, client.Write(1, 0x2000, 0, 0, 5))
		assert.Equal(t, ErrUnsupportedType, client.WriteRaw(1, 0x2000, 0, "string"))
	})

	t.Run("timeout", func(t *testing.T) {
		server.update(func(s *fakeServer) { s.mute = true })
		defer server.update(func(s *fakeServer) { s.mute = false })
		err := client.WriteRaw(1, 0x6081, 0, uint32(10))
		assert.Equal(t, AbortTimeout, err)
		server.mu.Lock()
		defer server.mu.Unlock()
		assert.Len(t, server.aborts, 1)
	})

	t.Run("wrong node is ignored", func(t *testing.T) {
		_, err := client.ReadUint32(2, 0x6083, 0)
		assert.Equal(t, AbortTimeout, err)
	})

	t.Run("segmented response rejected", func(t *testing.T) {
		server.update(func(s *fakeServer) {
			s.respond = func(request Message) Message {
				return newMessage(0x41, request.Index(), request.Subindex())
			}
		})
		defer server.update(func(s *fakeServer) { s.respond = nil })
		_, _, err := client.Read(1, 0x1008, 0)
		assert.Equal(t, ErrProtocol, err)
	})
}

func TestClientIgnoresUnsolicited(t *testing.T) {
	_, client := newFakeServer(1)
	frame := can.NewFrame(ServerBaseId+1, 0, 8)
	frame.Data = DownloadResponse(0x6040, 0).Raw()
	assert.False(t, client.Handle(frame))
}

func TestAbortDescription(t *testing.T) {
	assert.Equal(t, "SDO protocol timed out", AbortTimeout.Description())
	assert.Equal(t, "General error", Abort(0x12345678).Description())
	assert.Contains(t, AbortNotExist.Error(), "x6020000")
}
