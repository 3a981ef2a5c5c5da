package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/samsamfire/eposmaster/pkg/heartbeat"
	"github.com/samsamfire/eposmaster/pkg/motion"
	"github.com/samsamfire/eposmaster/pkg/telemetry"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// Environment variables named EnvPrefix + SECTION_KEY override the file
const EnvPrefix = "EPOSMASTER_"

var ErrInvalid = errors.New("invalid settings")

type Can struct {
	Interface      string        `ini:"interface"`
	Channel        string        `ini:"channel"`
	Bitrate        int           `ini:"bitrate"`
	ReceiveTimeout time.Duration `ini:"receive_timeout"`
	QueueDepth     int           `ini:"queue_depth"`
}

type Master struct {
	NodeId          int           `ini:"node_id"`
	HeartbeatPeriod time.Duration `ini:"heartbeat_period"`
}

type Drive struct {
	NodeId int `ini:"node_id"`
	// Timeout of the drive monitoring the master heartbeat
	HeartbeatTimeout time.Duration `ini:"heartbeat_timeout"`
	SDOTimeout       time.Duration `ini:"sdo_timeout"`
	// Timeout of the master monitoring the drive heartbeat, zero disables
	MonitorTimeout time.Duration `ini:"monitor_timeout"`
}

type Timing struct {
	NMTSettle     time.Duration `ini:"nmt_settle"`
	PDOSettle     time.Duration `ini:"pdo_settle"`
	SyncDelay     time.Duration `ini:"sync_delay"`
	SyncSettle    time.Duration `ini:"sync_settle"`
	PollInterval  time.Duration `ini:"poll_interval"`
	MotionTimeout time.Duration `ini:"motion_timeout"`
}

type Log struct {
	Level string `ini:"level"`
}

type Telemetry struct {
	Broker   string        `ini:"broker"`
	ClientId string        `ini:"client_id"`
	Username string        `ini:"username"`
	Password string        `ini:"password"`
	Prefix   string        `ini:"prefix"`
	Period   time.Duration `ini:"period"`
}

type Gateway struct {
	// Listen address of the status API, empty disables it
	Listen string `ini:"listen"`
}

// Demo is the motion sequence run by the command line
type Demo struct {
	Velocity         int32         `ini:"velocity"`
	Position         int32         `ini:"position"`
	SyncVelocity     int32         `ini:"sync_velocity"`
	SyncAcceleration int32         `ini:"sync_acceleration"`
	SyncDeceleration int32         `ini:"sync_deceleration"`
	SyncTarget       int32         `ini:"sync_target"`
	LoopTarget       int32         `ini:"loop_target"`
	Pause            time.Duration `ini:"pause"`
	LoopPause        time.Duration `ini:"loop_pause"`
}

type Settings struct {
	Can       Can       `ini:"can"`
	Master    Master    `ini:"master"`
	Drive     Drive     `ini:"drive"`
	Timing    Timing    `ini:"timing"`
	Log       Log       `ini:"log"`
	Telemetry Telemetry `ini:"telemetry"`
	Gateway   Gateway   `ini:"gateway"`
	Demo      Demo      `ini:"demo"`
}

func Default() Settings {
	return Settings{
		Can: Can{
			Interface:      "socketcan",
			Channel:        "can0",
			Bitrate:        500000,
			ReceiveTimeout: time.Second,
		},
		Master: Master{NodeId: epos.DefaultMasterNodeId, HeartbeatPeriod: heartbeat.DefaultPeriod},
		Drive: Drive{
			NodeId:           1,
			HeartbeatTimeout: 1500 * time.Millisecond,
			SDOTimeout:       time.Second,
		},
		Timing: Timing{
			NMTSettle:     time.Second,
			PDOSettle:     motion.DefaultPDOSettle,
			SyncDelay:     5 * time.Second,
			SyncSettle:    motion.DefaultSyncSettle,
			PollInterval:  motion.DefaultPollInterval,
			MotionTimeout: motion.DefaultMotionTimeout,
		},
		Log:       Log{Level: "info"},
		Telemetry: Telemetry{ClientId: "eposmaster", Prefix: "eposmaster", Period: telemetry.DefaultPeriod},
		Demo: Demo{
			Velocity:         120,
			Position:         1000,
			SyncVelocity:     120,
			SyncAcceleration: 60,
			SyncDeceleration: 60,
			SyncTarget:       4000,
			LoopTarget:       500,
			Pause:            time.Second,
			LoopPause:        3 * time.Second,
		},
	}
}

// Load reads path on top of [Default], path may be empty.
// envFile is loaded into the environment when it exists, then every
// EPOSMASTER_SECTION_KEY variable overrides the matching key.
func Load(path string, envFile string) (Settings, error) {
	settings := Default()
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return settings, fmt.Errorf("loading %v : %w", envFile, err)
		}
	}
	cfg := ini.Empty()
	if path != "" {
		loaded, err := ini.Load(path)
		if err != nil {
			return settings, err
		}
		cfg = loaded
	}
	applyEnvironment(cfg, os.Environ())
	if err := cfg.MapTo(&settings); err != nil {
		return settings, err
	}
	return settings, settings.Validate()
}

func applyEnvironment(cfg *ini.File, environ []string) {
	for _, variable := range environ {
		name, value, ok := strings.Cut(variable, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		section, key, ok := strings.Cut(strings.TrimPrefix(name, EnvPrefix), "_")
		if !ok || key == "" {
			continue
		}
		cfg.Section(strings.ToLower(section)).Key(strings.ToLower(key)).SetValue(value)
		log.Debugf("[SETTINGS] %v overridden from environment", name)
	}
}

func validNodeId(id int) bool {
	return id >= 1 && id <= 127
}

// MasterNodeId is the validated master node id
func (s Settings) MasterNodeId() uint8 {
	return uint8(s.Master.NodeId)
}

// DriveNodeId is the validated drive node id
func (s Settings) DriveNodeId() uint8 {
	return uint8(s.Drive.NodeId)
}

func (s Settings) Validate() error {
	if !validNodeId(s.Master.NodeId) || !validNodeId(s.Drive.NodeId) {
		return fmt.Errorf("%w : node ids must be between 1 and 127", ErrInvalid)
	}
	if s.Master.NodeId == s.Drive.NodeId {
		return fmt.Errorf("%w : master and drive share node id %v", ErrInvalid, s.Drive.NodeId)
	}
	if err := s.HeartbeatRecord().Validate(); err != nil {
		return fmt.Errorf("%w : %v", ErrInvalid, err)
	}
	if s.Timing.PollInterval <= 0 || s.Timing.MotionTimeout <= 0 {
		return fmt.Errorf("%w : poll interval and motion timeout must be positive", ErrInvalid)
	}
	if _, err := log.ParseLevel(s.Log.Level); err != nil {
		return fmt.Errorf("%w : %v", ErrInvalid, err)
	}
	return nil
}

// HeartbeatRecord describes the drive monitoring the master
func (s Settings) HeartbeatRecord() heartbeat.Record {
	return heartbeat.Record{
		ProducerId: s.MasterNodeId(),
		Period:     s.Master.HeartbeatPeriod,
		ConsumerId: s.DriveNodeId(),
		Timeout:    s.Drive.HeartbeatTimeout,
	}
}

func (s Settings) DriveConfig() epos.Config {
	return epos.Config{
		NodeId:           s.DriveNodeId(),
		MasterNodeId:     s.MasterNodeId(),
		SDOTimeout:       s.Drive.SDOTimeout,
		HeartbeatTimeout: s.Drive.MonitorTimeout,
	}
}

func (s Settings) MotionTiming() motion.Timing {
	return motion.Timing{
		NMTSettle:     s.Timing.NMTSettle,
		PDOSettle:     s.Timing.PDOSettle,
		SyncDelay:     s.Timing.SyncDelay,
		SyncSettle:    s.Timing.SyncSettle,
		PollInterval:  s.Timing.PollInterval,
		MotionTimeout: s.Timing.MotionTimeout,
	}
}

func (s Settings) MQTT() telemetry.MQTTConfig {
	return telemetry.MQTTConfig{
		Broker:   s.Telemetry.Broker,
		ClientId: s.Telemetry.ClientId,
		Username: s.Telemetry.Username,
		Password: s.Telemetry.Password,
	}
}
