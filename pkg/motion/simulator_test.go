package motion

import (
	"context"
	"testing"
	"time"

	"github.com/samsamfire/eposmaster/internal/simulator"
	can "github.com/samsamfire/eposmaster/pkg/can"
	"github.com/samsamfire/eposmaster/pkg/can/virtual"
	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/samsamfire/eposmaster/pkg/heartbeat"
	"github.com/samsamfire/eposmaster/pkg/nmt"
	"github.com/samsamfire/eposmaster/pkg/od"
	"github.com/samsamfire/eposmaster/pkg/pdo"
	"github.com/samsamfire/eposmaster/pkg/receiver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T) can.Bus {
	bus, err := virtual.NewVirtualCanBus(t.Name())
	require.Nil(t, err)
	require.Nil(t, bus.Connect())
	t.Cleanup(func() { _ = bus.Disconnect() })
	return bus
}

// Node 1 driven by master 127, the drive monitors the master heartbeat
// with a 1500 ms timeout
func TestSimulatedDemo(t *testing.T) {
	if testing.Short() {
		t.Skip("runs for a few seconds")
	}
	queue, err := can.NewQueue(connect(t), 0)
	require.Nil(t, err)
	drive, err := epos.NewDrive(queue, epos.Config{NodeId: 1, MasterNodeId: 127, SDOTimeout: 200 * time.Millisecond}, nil)
	require.Nil(t, err)
	defer drive.Close()

	sim := simulator.New(connect(t), simulator.Config{NodeId: 1, MotionDuration: 100 * time.Millisecond}, nil)
	require.Nil(t, sim.Start())
	defer sim.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	task := receiver.NewTask(queue, nil, receiver.WithTimeout(10*time.Millisecond))
	task.Register(drive)
	go task.Run(ctx)
	producer := heartbeat.NewProducer(drive, 127, time.Second, nil, nil)
	go producer.Run(ctx)

	assert.Eventually(t, func() bool { return drive.NMTState() == nmt.StateInitializing }, time.Second, 5*time.Millisecond)

	o := NewOrchestrator(drive, Timing{
		NMTSettle:     20 * time.Millisecond,
		PDOSettle:     10 * time.Millisecond,
		SyncDelay:     20 * time.Millisecond,
		SyncSettle:    DefaultSyncSettle,
		PollInterval:  10 * time.Millisecond,
		MotionTimeout: 2 * time.Second,
	}, nil)
	require.Nil(t, o.BringUp(ctx, heartbeat.Record{ProducerId: 127, Period: time.Second, ConsumerId: 1, Timeout: 1500 * time.Millisecond}))
	assert.Equal(t, nmt.StateOperational, sim.NMTState())
	assert.Equal(t, pdo.Map{od.Controlword}, sim.Mapping(pdo.Rx1))
	assert.Equal(t, pdo.Map{od.Statusword, od.PositionActualValue}, sim.Mapping(pdo.Tx1))
	assert.EqualValues(t, 1500, sim.Value(od.Entry{Index: od.EntryConsumerHeartbeatTime, Subindex: 1, Bits: 32})&0xFFFF)

	// Velocity burst
	require.Nil(t, o.SetMode(ctx, epos.ModeProfileVelocity))
	require.Nil(t, o.MoveVelocity(ctx, 120))
	assert.Eventually(t, func() bool { return sim.Value(od.VelocityActualValue) == 120 }, time.Second, 5*time.Millisecond)
	require.Nil(t, o.Halt(ctx))

	// Absolute blocking move
	require.Nil(t, o.SetMode(ctx, epos.ModeProfilePosition))
	require.Nil(t, o.MovePosition(ctx, 1000, true, true))
	assert.EqualValues(t, 1000, sim.Value(od.PositionActualValue))

	// Relative move started on SYNC
	syncs := sim.SyncCount()
	result, err := o.SyncMove(ctx, SyncMotion{
		ProfileVelocity:     120,
		ProfileAcceleration: 60,
		ProfileDeceleration: 60,
		TargetPosition:      4000,
	})
	require.Nil(t, err)
	assert.Equal(t, syncs+1, sim.SyncCount())
	assert.EqualValues(t, 5000, sim.Value(od.PositionActualValue))
	assert.True(t, result.Restored)
	assert.EqualValues(t, 1000, sim.Value(od.ProfileVelocity))
	assert.EqualValues(t, 10000, sim.Value(od.ProfileAcceleration))
	assert.EqualValues(t, 10000, sim.Value(od.ProfileDeceleration))

	require.Nil(t, o.MovePosition(ctx, 500, true, true))
	assert.EqualValues(t, 500, sim.Value(od.PositionActualValue))
	assert.Equal(t, StageIdle, o.Stage())
	assert.Zero(t, task.Counters().DeviceErrors)
}
