package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/samsamfire/eposmaster/internal/settings"
	"github.com/samsamfire/eposmaster/internal/simulator"
	can "github.com/samsamfire/eposmaster/pkg/can"
	_ "github.com/samsamfire/eposmaster/pkg/can/socketcan"
	_ "github.com/samsamfire/eposmaster/pkg/can/socketcanraw"
	_ "github.com/samsamfire/eposmaster/pkg/can/virtual"
	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/samsamfire/eposmaster/pkg/gateway"
	gwhttp "github.com/samsamfire/eposmaster/pkg/gateway/http"
	"github.com/samsamfire/eposmaster/pkg/heartbeat"
	"github.com/samsamfire/eposmaster/pkg/motion"
	"github.com/samsamfire/eposmaster/pkg/receiver"
	"github.com/samsamfire/eposmaster/pkg/telemetry"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const simulatedChannel = "eposmaster-sim"

// Implemented by buses able to drop foreign traffic in the kernel
type nodeFilter interface {
	FilterNode(nodeId uint8) error
}

func newRunCmd(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bring the drive up and run the motion sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(o.ConfigFile, o.EnvFile)
			if err != nil {
				return err
			}
			if o.LogLevel != "" {
				s.Log.Level = o.LogLevel
			}
			level, err := log.ParseLevel(s.Log.Level)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, s, o)
		},
	}
	cmd.Flags().BoolVar(&o.Simulate, "simulate", false, "drive a simulated EPOS4 on a virtual bus")
	cmd.Flags().IntVar(&o.Loops, "loops", -1, "number of position loops, negative runs until interrupted")
	return cmd
}

func openBus(s settings.Settings, simulate bool) (can.Bus, error) {
	if simulate {
		return can.NewBus("virtual", simulatedChannel, s.Can.Bitrate)
	}
	return can.NewBus(s.Can.Interface, s.Can.Channel, s.Can.Bitrate)
}

func run(ctx context.Context, s settings.Settings, o *Options) error {
	logger := log.WithField("component", Component)
	bus, err := openBus(s, o.Simulate)
	if err != nil {
		return err
	}
	if filtered, ok := bus.(nodeFilter); ok {
		if err := filtered.FilterNode(s.DriveNodeId()); err != nil {
			return errors.Wrap(err, "installing receive filters")
		}
	}
	if err := bus.Connect(); err != nil {
		return errors.Wrap(err, "connecting to bus")
	}
	defer bus.Disconnect()
	queue, err := can.NewQueue(bus, s.Can.QueueDepth)
	if err != nil {
		return err
	}
	defer queue.Close()

	if o.Simulate {
		simBus, err := can.NewBus("virtual", simulatedChannel, s.Can.Bitrate)
		if err != nil {
			return err
		}
		if err := simBus.Connect(); err != nil {
			return err
		}
		defer simBus.Disconnect()
		sim := simulator.New(simBus, simulator.Config{
			NodeId:          s.DriveNodeId(),
			HeartbeatPeriod: s.Drive.MonitorTimeout / 3,
			MotionDuration:  time.Second,
		}, logger)
		if err := sim.Start(); err != nil {
			return err
		}
		defer sim.Stop()
	}

	drive, err := epos.NewDrive(queue, s.DriveConfig(), logger)
	if err != nil {
		return err
	}
	defer drive.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	task := receiver.NewTask(queue, logger, receiver.WithTimeout(s.Can.ReceiveTimeout))
	task.Register(drive)
	go task.Run(ctx)
	producer := heartbeat.NewProducer(drive, s.MasterNodeId(), s.Master.HeartbeatPeriod, nil, logger)
	go producer.Run(ctx)

	orchestrator := motion.NewOrchestrator(drive, s.MotionTiming(), logger)

	if s.Telemetry.Broker != "" {
		publisher, err := telemetry.NewMQTTPublisher(s.MQTT(), logger)
		if err != nil {
			logger.Warnf("telemetry disabled : %v", err)
		} else {
			reporter := telemetry.NewReporter(drive.Node(), publisher, s.Telemetry.Prefix, s.Telemetry.Period, logger)
			go reporter.Run(ctx)
		}
	}
	if s.Gateway.Listen != "" {
		base := gateway.NewBaseGateway(gateway.Version{Name: Component, Version: Version, MasterNodeId: s.MasterNodeId()})
		base.AddDrive(drive)
		base.SetOrchestrator(orchestrator)
		base.SetReceiver(task)
		server := gwhttp.NewGatewayServer(base, logger)
		go func() {
			if err := server.ListenAndServe(ctx, s.Gateway.Listen); err != nil {
				logger.Errorf("status api stopped : %v", err)
			}
		}()
	}

	err = runDemo(ctx, orchestrator, s, o.Loops, logger)
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted")
		return nil
	}
	return err
}
