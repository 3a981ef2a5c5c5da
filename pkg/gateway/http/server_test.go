package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samsamfire/eposmaster/internal/simulator"
	can "github.com/samsamfire/eposmaster/pkg/can"
	"github.com/samsamfire/eposmaster/pkg/can/virtual"
	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/samsamfire/eposmaster/pkg/gateway"
	"github.com/samsamfire/eposmaster/pkg/motion"
	"github.com/samsamfire/eposmaster/pkg/nmt"
	"github.com/samsamfire/eposmaster/pkg/od"
	"github.com/samsamfire/eposmaster/pkg/receiver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const NODE_ID_TEST = uint8(1)

func connect(t *testing.T) can.Bus {
	bus, err := virtual.NewVirtualCanBus(t.Name())
	require.Nil(t, err)
	require.Nil(t, bus.Connect())
	t.Cleanup(func() { _ = bus.Disconnect() })
	return bus
}

type fixture struct {
	client *GatewayClient
	base   *gateway.BaseGateway
	drive  *epos.Drive
}

func createClient(t *testing.T, attach bool) fixture {
	queue, err := can.NewQueue(connect(t), 0)
	require.Nil(t, err)
	drive, err := epos.NewDrive(queue, epos.Config{NodeId: NODE_ID_TEST, SDOTimeout: 200 * time.Millisecond}, nil)
	require.Nil(t, err)
	sim := simulator.New(connect(t), simulator.Config{NodeId: NODE_ID_TEST}, nil)

	base := gateway.NewBaseGateway(gateway.Version{Name: "eposmaster", Version: "test", MasterNodeId: 127})
	base.AddDrive(drive)
	task := receiver.NewTask(queue, nil, receiver.WithTimeout(10*time.Millisecond))
	task.Register(drive)
	ctx, cancel := context.WithCancel(context.Background())
	go task.Run(ctx)
	require.Nil(t, sim.Start())
	if attach {
		base.SetReceiver(task)
		base.SetOrchestrator(motion.NewOrchestrator(drive, motion.DefaultTiming(), nil))
	}

	server := httptest.NewServer(NewGatewayServer(base, nil).Handler())
	t.Cleanup(func() {
		server.Close()
		sim.Stop()
		cancel()
		drive.Close()
	})
	assert.Eventually(t, func() bool { return drive.NMTState() == nmt.StateInitializing }, time.Second, 5*time.Millisecond)
	return fixture{client: NewGatewayClient(server.URL, API_VERSION), base: base, drive: drive}
}

func TestNodes(t *testing.T) {
	f := createClient(t, true)
	nodes, err := f.client.Nodes()
	require.Nil(t, err)
	assert.Equal(t, []uint8{NODE_ID_TEST}, nodes.Nodes)
	assert.Equal(t, NODE_ID_TEST, nodes.DefaultNodeId)

	node, err := f.client.Node(NODE_ID_TEST)
	require.Nil(t, err)
	assert.EqualValues(t, NODE_ID_TEST, node.NodeId)
	assert.Equal(t, "INITIALIZING", node.NMTState)
}

func TestInvalidRequests(t *testing.T) {
	f := createClient(t, true)
	var statusErr *StatusError

	_, err := f.client.Node(12)
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Status)

	err = f.client.do("/nodes/200", &NodeResponse{})
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)

	err = f.client.do("/nodes/1/sdo/0xzz/0", &SDOReadResponse{})
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
}

func TestSDOAccessCommands(t *testing.T) {
	f := createClient(t, true)
	resp, err := f.client.Read(NODE_ID_TEST, od.VendorId.Index, od.VendorId.Subindex)
	require.Nil(t, err)
	assert.EqualValues(t, simulator.DefaultVendorId, resp.Value)
	assert.Equal(t, "0x1018", resp.Index)
	assert.Contains(t, resp.Data, "fb")

	// Object missing on the drive
	_, err = f.client.Read(NODE_ID_TEST, 0x2000, 0)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Status)
	assert.Equal(t, "x06020000", statusErr.Response.Abort)
}

func TestOrchestratorAndReceiver(t *testing.T) {
	f := createClient(t, true)
	status, err := f.client.Orchestrator()
	require.Nil(t, err)
	assert.Equal(t, "INIT", status.Stage)
	assert.NotEmpty(t, status.RunId)

	assert.Eventually(t, func() bool {
		resp, err := f.client.Receiver()
		return err == nil && resp.Running && resp.Counters.Frames > 0
	}, time.Second, 10*time.Millisecond)
}

func TestNotAttached(t *testing.T) {
	f := createClient(t, false)
	var statusErr *StatusError
	_, err := f.client.Orchestrator()
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
	_, err = f.client.Receiver()
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
}
