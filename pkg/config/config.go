// Package config loads the gateway configuration.
//
// Values are layered: Default, then the YAML file, then environment
// overrides. The master secret is only ever taken from the environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/connax-utim/uhost-go/pkg/connection"
	"github.com/connax-utim/uhost-go/pkg/version"
)

// Environment variables.
const (
	EnvConfig         = "UHOST_CONFIG"
	EnvMasterKey      = "UHOST_MASTER_KEY"
	EnvName           = "UHOST_NAME"
	EnvProtocol       = "UHOST_PROTOCOL"
	EnvBrokerURL      = "UHOST_BROKER_URL"
	EnvBrokerUsername = "UHOST_BROKER_USERNAME"
	EnvBrokerPassword = "UHOST_BROKER_PASSWORD"
	EnvStorageDriver  = "UHOST_STORAGE_DRIVER"
	EnvStorageDSN     = "UHOST_STORAGE_DSN"
	EnvMetricsListen  = "UHOST_METRICS_LISTEN"
	EnvTraceFile      = "UHOST_TRACE_FILE"
	EnvLogLevel       = "UHOST_LOG_LEVEL"
)

// DefaultPath is the config file read when UHOST_CONFIG is unset.
const DefaultPath = "config.yaml"

// MasterKeySize is the required size of the decoded master secret.
const MasterKeySize = 32

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Configuration errors.
var (
	ErrInvalid   = errors.New("invalid configuration")
	ErrMasterKey = errors.New("master key")
)

// Secret holds sensitive bytes. It never prints or logs its value.
type Secret []byte

// String implements fmt.Stringer.
func (s Secret) String() string {
	if len(s) == 0 {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer.
func (s Secret) GoString() string {
	return s.String()
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Config is the full gateway configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Broker  BrokerConfig  `yaml:"broker"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Trace   TraceConfig   `yaml:"trace"`
	Log     LogConfig     `yaml:"log"`

	// MasterKey is the SRP password shared by every device.
	MasterKey Secret `yaml:"-"`
}

// GatewayConfig configures the protocol pipeline.
type GatewayConfig struct {
	// Name is the hex-encoded gateway identity. Its decoded text is the
	// subscribed topic and the sender of every published message.
	Name string `yaml:"name"`

	// Protocol selects the envelope suite.
	Protocol string `yaml:"protocol"`

	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	KeepaliveThreshold int           `yaml:"keepalive_threshold"`

	// RepeatDelay is the wait before a CONNECTION_STRING is re-processed.
	RepeatDelay time.Duration `yaml:"repeat_delay"`
	RepeatLimit int           `yaml:"repeat_limit"`

	SessionTTL time.Duration `yaml:"session_ttl"`

	InboundQueue  int `yaml:"inbound_queue"`
	OutboundQueue int `yaml:"outbound_queue"`

	// Rate and Burst limit inbound messages per device. A zero Rate
	// disables limiting.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// BrokerConfig configures the MQTT connection.
type BrokerConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
	Attempts int    `yaml:"attempts"`

	Backoff connection.BackoffConfig `yaml:"backoff"`
}

// StorageConfig selects the device store.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the HTTP address. Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// TraceConfig configures protocol tracing.
type TraceConfig struct {
	// File receives CBOR trace events. Empty disables file tracing.
	File string `yaml:"file"`

	// MaxSize rotates the trace file once it would grow past this many
	// bytes. Zero disables rotation.
	MaxSize int64 `yaml:"max_size"`

	// Console mirrors trace events to the operational log.
	Console bool `yaml:"console"`
}

// LogConfig configures operational logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Protocol:           version.Current,
			KeepaliveInterval:  15 * time.Second,
			KeepaliveThreshold: 4,
			RepeatDelay:        5 * time.Second,
			RepeatLimit:        5,
			SessionTTL:         2 * time.Minute,
			InboundQueue:       256,
			OutboundQueue:      256,
			Rate:               20,
			Burst:              40,
		},
		Broker: BrokerConfig{
			URL:      "tcp://localhost:1883",
			Attempts: connection.DefaultAttempts,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			DSN:    "uhost.db",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides read through lookup, typically
// os.LookupEnv. It also decodes the master secret.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvName, &c.Gateway.Name)
	str(EnvProtocol, &c.Gateway.Protocol)
	str(EnvBrokerURL, &c.Broker.URL)
	str(EnvBrokerUsername, &c.Broker.Username)
	str(EnvBrokerPassword, &c.Broker.Password)
	str(EnvStorageDriver, &c.Storage.Driver)
	str(EnvStorageDSN, &c.Storage.DSN)
	str(EnvMetricsListen, &c.Metrics.Listen)
	str(EnvTraceFile, &c.Trace.File)
	str(EnvLogLevel, &c.Log.Level)

	raw, ok := lookup(EnvMasterKey)
	if !ok || strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: %s is not set", ErrMasterKey, EnvMasterKey)
	}
	key, err := ParseMasterKey(raw)
	if err != nil {
		return err
	}
	c.MasterKey = key
	return nil
}

// ParseMasterKey decodes a hex master secret of MasterKeySize bytes.
// The error never contains the input.
func ParseMasterKey(raw string) (Secret, error) {
	key, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: not valid hex", ErrMasterKey)
	}
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrMasterKey, len(key), MasterKeySize)
	}
	return key, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := c.GatewayName(); err != nil {
		return err
	}
	v, err := version.Parse(c.Gateway.Protocol)
	if err != nil {
		return fmt.Errorf("%w: gateway.protocol: %w", ErrInvalid, err)
	}
	if !v.Supported() {
		return fmt.Errorf("%w: gateway.protocol %s is not supported", ErrInvalid, v)
	}

	switch {
	case c.Gateway.KeepaliveInterval <= 0:
		return fmt.Errorf("%w: gateway.keepalive_interval must be positive", ErrInvalid)
	case c.Gateway.KeepaliveThreshold <= 0:
		return fmt.Errorf("%w: gateway.keepalive_threshold must be positive", ErrInvalid)
	case c.Gateway.RepeatDelay <= 0:
		return fmt.Errorf("%w: gateway.repeat_delay must be positive", ErrInvalid)
	case c.Gateway.RepeatLimit < 0:
		return fmt.Errorf("%w: gateway.repeat_limit must not be negative", ErrInvalid)
	case c.Gateway.SessionTTL < 0:
		return fmt.Errorf("%w: gateway.session_ttl must not be negative", ErrInvalid)
	case c.Gateway.InboundQueue <= 0 || c.Gateway.OutboundQueue <= 0:
		return fmt.Errorf("%w: queue sizes must be positive", ErrInvalid)
	case c.Gateway.Rate < 0 || c.Gateway.Burst < 0:
		return fmt.Errorf("%w: gateway.rate and gateway.burst must not be negative", ErrInvalid)
	case c.Broker.URL == "":
		return fmt.Errorf("%w: broker.url is required", ErrInvalid)
	case c.Trace.MaxSize < 0:
		return fmt.Errorf("%w: trace.max_size must not be negative", ErrInvalid)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for sqlite", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown storage.driver %q", ErrInvalid, c.Storage.Driver)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if len(c.MasterKey) != MasterKeySize {
		return fmt.Errorf("%w: not loaded", ErrMasterKey)
	}
	return nil
}

// GatewayName decodes the hex gateway name.
func (c *Config) GatewayName() (string, error) {
	if c.Gateway.Name == "" {
		return "", fmt.Errorf("%w: gateway.name is required", ErrInvalid)
	}
	b, err := hex.DecodeString(c.Gateway.Name)
	if err != nil {
		return "", fmt.Errorf("%w: gateway.name: %w", ErrInvalid, err)
	}
	return string(b), nil
}

// ProtocolVersion returns the parsed gateway protocol.
func (c *Config) ProtocolVersion() (version.ProtocolVersion, error) {
	return version.Parse(c.Gateway.Protocol)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalid, s)
	}
	return l, nil
}

// Summary returns a printable description of the configuration. The master
// secret and broker password are not included.
func (c *Config) Summary() string {
	name, _ := c.GatewayName()
	var b strings.Builder
	fmt.Fprintf(&b, "Gateway:   %s (%s)\n", name, c.Gateway.Name)
	fmt.Fprintf(&b, "Protocol:  %s\n", c.Gateway.Protocol)
	fmt.Fprintf(&b, "Broker:    %s\n", c.Broker.URL)
	fmt.Fprintf(&b, "Username:  %s\n", c.Broker.Username)
	fmt.Fprintf(&b, "Storage:   %s %s\n", c.Storage.Driver, c.Storage.DSN)
	fmt.Fprintf(&b, "Keepalive: every %s, dead after %d misses\n",
		c.Gateway.KeepaliveInterval, c.Gateway.KeepaliveThreshold+1)
	return b.String()
}
