package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"
)

func writeFile(t *testing.T, name string, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.Nil(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	settings, err := Load("", "")
	require.Nil(t, err)
	assert.Equal(t, Default(), settings)
	assert.EqualValues(t, 127, settings.Master.NodeId)
	assert.EqualValues(t, 1, settings.Drive.NodeId)
	assert.Equal(t, 1500*time.Millisecond, settings.HeartbeatRecord().Timeout)
	assert.Equal(t, "can0", settings.Can.Channel)
	assert.Equal(t, 100*time.Millisecond, settings.MotionTiming().PollInterval)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "eposmaster.ini", `
[can]
interface = virtual
channel = bench

[drive]
node_id = 4
sdo_timeout = 250ms

[timing]
motion_timeout = 10s
`)
	settings, err := Load(path, "")
	require.Nil(t, err)
	assert.Equal(t, "virtual", settings.Can.Interface)
	assert.Equal(t, "bench", settings.Can.Channel)
	assert.EqualValues(t, 4, settings.Drive.NodeId)
	assert.Equal(t, 250*time.Millisecond, settings.DriveConfig().SDOTimeout)
	assert.Equal(t, 10*time.Second, settings.MotionTiming().MotionTimeout)
	// Untouched keys keep their default
	assert.Equal(t, 500000, settings.Can.Bitrate)
	assert.Equal(t, 1500*time.Millisecond, settings.Drive.HeartbeatTimeout)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeFile(t, "eposmaster.ini", "[drive]\nnode_id = 4\n")
	env := writeFile(t, ".env", "EPOSMASTER_TELEMETRY_BROKER=tcp://localhost:1883\n")
	t.Setenv("EPOSMASTER_DRIVE_NODE_ID", "9")
	t.Setenv("EPOSMASTER_LOG_LEVEL", "debug")
	t.Cleanup(func() { os.Unsetenv("EPOSMASTER_TELEMETRY_BROKER") })

	settings, err := Load(path, env)
	require.Nil(t, err)
	assert.EqualValues(t, 9, settings.Drive.NodeId)
	assert.Equal(t, "debug", settings.Log.Level)
	assert.Equal(t, "tcp://localhost:1883", settings.MQTT().Broker)
}

func TestNodeIds(t *testing.T) {
	path := writeFile(t, "eposmaster.ini", "[drive]\nnode_id = 2\n")
	t.Setenv("EPOSMASTER_MASTER_NODE_ID", "100")

	settings, err := Load(path, "")
	require.Nil(t, err)
	assert.EqualValues(t, 2, settings.DriveConfig().NodeId)
	assert.EqualValues(t, 100, settings.DriveConfig().MasterNodeId)
	assert.EqualValues(t, 100, settings.HeartbeatRecord().ProducerId)
	assert.EqualValues(t, 2, settings.HeartbeatRecord().ConsumerId)

	// Out of byte range must not wrap into a valid id
	path = writeFile(t, "wrap.ini", "[drive]\nnode_id = 258\n")
	_, err = Load(path, "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestMissingEnvFileIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), ".env"))
	assert.Nil(t, err)
}

func TestApplyEnvironment(t *testing.T) {
	cfg := ini.Empty()
	applyEnvironment(cfg, []string{
		"EPOSMASTER_TIMING_SYNC_DELAY=1s",
		"EPOSMASTER_NOSECTION",
		"HOME=/root",
	})
	assert.Equal(t, "1s", cfg.Section("timing").Key("sync_delay").String())
	assert.False(t, cfg.Section("").HasKey("home"))
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(s *Settings)
	}{
		{"drive node id zero", func(s *Settings) { s.Drive.NodeId = 0 }},
		{"master node id too high", func(s *Settings) { s.Master.NodeId = 128 }},
		{"shared node id", func(s *Settings) { s.Master.NodeId = s.Drive.NodeId }},
		{"timeout shorter than period", func(s *Settings) { s.Drive.HeartbeatTimeout = s.Master.HeartbeatPeriod }},
		{"no poll interval", func(s *Settings) { s.Timing.PollInterval = 0 }},
		{"unknown log level", func(s *Settings) { s.Log.Level = "loud" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			settings := Default()
			tc.modify(&settings)
			assert.ErrorIs(t, settings.Validate(), ErrInvalid)
		})
	}
	assert.Nil(t, Default().Validate())
}
