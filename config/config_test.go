package config

import (
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/proto"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scryer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "zmq", cfg.Transport)
	assert.Equal(t, "tcp://127.0.0.1:7897", cfg.Command.Endpoint)
	assert.Equal(t, "tcp://127.0.0.1:7898", cfg.Telemetry.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Command.Timeout)
	assert.Equal(t, time.Second, cfg.Link.Interval)
	assert.Equal(t, 4096, cfg.Telemetry.QueueSize)
	assert.Equal(t, "protobuf", cfg.Codec)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
decide_version: "0.2.1"
transport: WS
command:
  endpoint: ws://sim:8080
  timeout: 750ms
telemetry:
  endpoint: ws://sim:8080
  queue_size: 16
codec: cbor
byte_order: big
opcodes:
  GetParameters: 0x30
components: [house-light, stepper-motor]
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.2.1", cfg.DecideVersion)
	assert.Equal(t, "ws", cfg.Transport)
	assert.Equal(t, 750*time.Millisecond, cfg.Command.Timeout)
	assert.Equal(t, 16, cfg.Telemetry.QueueSize)

	table, err := cfg.OpcodeTable()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x30), table.Values[proto.GetParameters])
	assert.Equal(t, binary.BigEndian, table.Order)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"house-light", "stepper-motor"}, reg.IDs())

	codec, err := cfg.NewCodec(slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "0.2.1", codec.Version())
}

func TestLoadLegacyKeys(t *testing.T) {
	path := writeConfig(t, `
DECIDE_VERSION: "0.1.9"
REQ_ENDPOINT: tcp://10.0.0.5:7897
PUB_ENDPOINT: tcp://10.0.0.5:7898
TIMEOUT: 2500
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.1.9", cfg.DecideVersion)
	assert.Equal(t, "tcp://10.0.0.5:7897", cfg.Command.Endpoint)
	assert.Equal(t, "tcp://10.0.0.5:7898", cfg.Telemetry.Endpoint)
	assert.Equal(t, 2500*time.Millisecond, cfg.Command.Timeout)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SCRYER_COMMAND_TIMEOUT", "3s")
	t.Setenv("SCRYER_TRANSPORT", "nats")
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Command.Timeout)
	assert.Equal(t, "nats", cfg.Transport)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"transport", func(c *Config) { c.Transport = "carrier-pigeon" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"timeout", func(c *Config) { c.Command.Timeout = 0 }},
		{"interval", func(c *Config) { c.Link.Interval = -time.Second }},
		{"queue", func(c *Config) { c.Telemetry.QueueSize = -1 }},
		{"codec", func(c *Config) { c.Codec = "xml" }},
		{"opcode name", func(c *Config) { c.Opcodes = map[string]uint16{"teleport": 1} }},
		{"opcode clash", func(c *Config) { c.Opcodes = map[string]uint16{"shutdown": 0x00} }},
		{"byte order", func(c *Config) { c.ByteOrder = "middle" }},
		{"endpoint", func(c *Config) { c.Command.Endpoint = "" }},
		{"version", func(c *Config) { c.DecideVersion = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrInvalidConfig)
		})
	}

	t.Run("unknown component", func(t *testing.T) {
		cfg := Default()
		cfg.Components = []string{"fog-machine"}
		assert.ErrorIs(t, cfg.Validate(), errs.ErrUnknownComponent)
	})

	t.Run("discovery needs no endpoints", func(t *testing.T) {
		cfg := Default()
		cfg.Discover = true
		cfg.Command.Endpoint = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestSetupLoggerWritesFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "logs", "scryer.log")
	logger, closer := SetupLogger(LogConfig{Level: "debug", Format: "json", File: path})
	logger.Debug("Command sent", "opcode", "ChangeState")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Command sent"`)
	assert.Contains(t, string(data), `"opcode":"ChangeState"`)
}
