// Package config provides YAML-based configuration loading for scryer.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/proto"
)

// Config is the root application configuration.
type Config struct {
	// DecideVersion is sent as the first frame of every request.
	DecideVersion string `mapstructure:"decide_version"`

	// Transport selects the wire: zmq, ws or nats.
	Transport string `mapstructure:"transport"`

	Command   CommandConfig   `mapstructure:"command"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Link      LinkConfig      `mapstructure:"link"`

	// Codec is the payload serialization inside envelopes: protobuf or cbor.
	Codec string `mapstructure:"codec"`

	// Opcodes overrides the numeric value of opcodes by name.
	Opcodes   map[string]uint16 `mapstructure:"opcodes"`
	ByteOrder string            `mapstructure:"byte_order"`

	// Components restricts the registry to these ids; empty means all.
	Components []string `mapstructure:"components"`

	// Discover resolves the transport and endpoints over mDNS instead.
	Discover bool `mapstructure:"discover"`

	NATS NATSConfig `mapstructure:"nats"`
	Log  LogConfig  `mapstructure:"log"`
	HTTP HTTPConfig `mapstructure:"http"`
	MCP  MCPConfig  `mapstructure:"mcp"`
}

type CommandConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type TelemetryConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	QueueSize int    `mapstructure:"queue_size"`
}

type LinkConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Name          string `mapstructure:"name"`
	Prefix        string `mapstructure:"prefix"`
	Token         string `mapstructure:"token"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: text or json
	Format string `mapstructure:"format"`
	// File is an optional log file written alongside stderr.
	File     string         `mapstructure:"file"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls rotation of the log file.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

type HTTPConfig struct {
	// Addr of the HTTP surface; empty disables it.
	Addr string `mapstructure:"addr"`
}

type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		DecideVersion: "0.1.0",
		Transport:     "zmq",
		Command: CommandConfig{
			Endpoint: "tcp://127.0.0.1:7897",
			Timeout:  5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Endpoint:  "tcp://127.0.0.1:7898",
			QueueSize: 4096,
		},
		Link:      LinkConfig{Interval: time.Second},
		Codec:     "protobuf",
		ByteOrder: "little",
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Name:          "scryer",
			Prefix:        "decide",
			MaxReconnects: 0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// legacy keys of the original flat configuration file.
var legacyKeys = map[string]string{
	"req_endpoint": "command.endpoint",
	"pub_endpoint": "telemetry.endpoint",
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix SCRYER and `.`/`-` are replaced with `_`.
// Example: SCRYER_COMMAND_TIMEOUT=2s
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SCRYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("decide_version", cfg.DecideVersion)
	v.SetDefault("transport", cfg.Transport)
	v.SetDefault("command.endpoint", cfg.Command.Endpoint)
	v.SetDefault("command.timeout", cfg.Command.Timeout)
	v.SetDefault("telemetry.endpoint", cfg.Telemetry.Endpoint)
	v.SetDefault("telemetry.queue_size", cfg.Telemetry.QueueSize)
	v.SetDefault("link.interval", cfg.Link.Interval)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("byte_order", cfg.ByteOrder)
	v.SetDefault("discover", cfg.Discover)
	v.SetDefault("nats.url", cfg.NATS.URL)
	v.SetDefault("nats.name", cfg.NATS.Name)
	v.SetDefault("nats.prefix", cfg.NATS.Prefix)
	v.SetDefault("nats.max_reconnects", cfg.NATS.MaxReconnects)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("mcp.enabled", cfg.MCP.Enabled)

	if path == "" {
		if envPath := os.Getenv("SCRYER_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scryer")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "scryer"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		slog.Debug("Loaded config file", "path", v.ConfigFileUsed())
	}
	applyLegacy(v)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyLegacy maps REQ_ENDPOINT, PUB_ENDPOINT and TIMEOUT (milliseconds)
// from an old configuration file onto the current keys.
func applyLegacy(v *viper.Viper) {
	for old, key := range legacyKeys {
		if v.InConfig(old) {
			v.Set(key, v.GetString(old))
		}
	}
	if v.InConfig("timeout") {
		v.Set("command.timeout", time.Duration(v.GetInt64("timeout"))*time.Millisecond)
	}
}

// Validate normalizes the configuration and rejects values no component
// could run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errs.Invalid(errs.ErrInvalidConfig, "", "config", format, args...)
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case "zmq", "ws", "nats":
	default:
		return invalid("invalid transport: %q", c.Transport)
	}
	if strings.TrimSpace(c.DecideVersion) == "" {
		return invalid("decide_version is required")
	}
	if c.Transport != "nats" && !c.Discover {
		if c.Command.Endpoint == "" || c.Telemetry.Endpoint == "" {
			return invalid("command.endpoint and telemetry.endpoint are required")
		}
	}
	if c.Command.Timeout <= 0 {
		return invalid("command.timeout must be positive, got %s", c.Command.Timeout)
	}
	if c.Telemetry.QueueSize < 0 {
		return invalid("telemetry.queue_size must not be negative")
	}
	if c.Link.Interval <= 0 {
		return invalid("link.interval must be positive, got %s", c.Link.Interval)
	}
	if _, err := proto.PayloadCodecByName(c.Codec); err != nil {
		return err
	}
	if _, err := c.OpcodeTable(); err != nil {
		return err
	}
	if _, err := c.Registry(); err != nil {
		return err
	}
	return nil
}

// OpcodeTable is the default table with the configured overrides applied.
func (c *Config) OpcodeTable() (proto.OpcodeTable, error) {
	return proto.DefaultOpcodes().WithOverrides(c.Opcodes, c.ByteOrder)
}

// Registry builds the component registry, restricted to Components if set.
func (c *Config) Registry() (*component.Registry, error) {
	return component.NewRegistry(c.Components...)
}

// NewCodec builds the wire codec described by the configuration.
func (c *Config) NewCodec(logger *slog.Logger) (*proto.Codec, error) {
	reg, err := c.Registry()
	if err != nil {
		return nil, err
	}
	table, err := c.OpcodeTable()
	if err != nil {
		return nil, err
	}
	payloads, err := proto.PayloadCodecByName(c.Codec)
	if err != nil {
		return nil, err
	}
	return proto.NewCodec(reg, c.DecideVersion,
		proto.WithOpcodes(table),
		proto.WithPayloadCodec(payloads),
		proto.WithLogger(logger),
	), nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
