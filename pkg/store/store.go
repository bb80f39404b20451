// Package store persists device records.
//
// A record holds the device status, its hex-encoded session key, the
// keepalive counter, the last acknowledged configuration hash and an optional
// provisioning configuration. Two implementations are provided: Memory for
// tests and single-process use, and SQLite for deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/connax-utim/uhost-go/pkg/lifecycle"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Store errors.
var (
	ErrNotFound = errors.New("store: device not registered")
	ErrExists   = errors.New("store: device already registered")
)

// Configuration is the provisioning configuration assigned to a device.
// An empty Type means no configuration.
type Configuration struct {
	Type                string `yaml:"type"`
	HostName            string `yaml:"host_name"`
	SharedAccessKeyName string `yaml:"shared_access_key_name"`
	SharedAccessKey     string `yaml:"shared_access_key"`
	AuthMethod          string `yaml:"auth_method"`
	Region              string `yaml:"region"`
}

// Record is a full device record.
type Record struct {
	ID               wire.DeviceID    `yaml:"device_id"`
	Name             string           `yaml:"name,omitempty"`
	Status           lifecycle.Status `yaml:"status"`
	HasSessionKey    bool             `yaml:"has_session_key"`
	ConfigHash       string           `yaml:"config_hash,omitempty"`
	KeepaliveCounter int              `yaml:"keep_alive_counter"`
	Updated          time.Time        `yaml:"update_time"`
	Config           *Configuration   `yaml:"configuration,omitempty"`
}

// Store is the device storage boundary. Every operation is keyed by device id
// and atomic for that device. Unknown ids fail with ErrNotFound.
type Store interface {
	lifecycle.Backend

	// RegisterDevice adds a NEWBORN device.
	RegisterDevice(ctx context.Context, id wire.DeviceID, name string) error

	// DeviceIDs lists every registered device.
	DeviceIDs(ctx context.Context) ([]wire.DeviceID, error)

	// Exists reports whether the device is registered.
	Exists(ctx context.Context, id wire.DeviceID) (bool, error)

	// SessionKey returns the session key, or nil if none was stored.
	SessionKey(ctx context.Context, id wire.DeviceID) ([]byte, error)

	// SetSessionKey stores a session key.
	SetSessionKey(ctx context.Context, id wire.DeviceID, key []byte) error

	// Configuration returns the assigned configuration, or nil.
	Configuration(ctx context.Context, id wire.DeviceID) (*Configuration, error)

	// SetConfiguration assigns a configuration. Nil removes it.
	SetConfiguration(ctx context.Context, id wire.DeviceID, cfg *Configuration) error

	// Record returns the full record.
	Record(ctx context.Context, id wire.DeviceID) (*Record, error)

	// Close releases resources.
	Close() error
}
