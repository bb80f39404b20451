package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/connax-utim/uhost-go/pkg/envelope"
	"github.com/connax-utim/uhost-go/pkg/keepalive"
	"github.com/connax-utim/uhost-go/pkg/log"
	"github.com/connax-utim/uhost-go/pkg/metrics"
	"github.com/connax-utim/uhost-go/pkg/session"
	"github.com/connax-utim/uhost-go/pkg/srp"
)

// Gateway errors.
var (
	ErrNotStarted     = errors.New("gateway not started")
	ErrAlreadyStarted = errors.New("gateway already started")
	ErrQueueFull      = errors.New("queue full")
	ErrInvalidConfig  = errors.New("invalid gateway configuration")
)

// State represents the gateway state.
type State uint8

const (
	// StateIdle - gateway created but not started.
	StateIdle State = iota

	// StateStarting - connecting to the broker.
	StateStarting

	// StateRunning - workers are running.
	StateRunning

	// StateStopping - workers are draining.
	StateStopping

	// StateStopped - gateway has stopped.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Default queue and shutdown settings.
const (
	DefaultQueueSize    = 256
	DefaultSendTimeout  = time.Second
	DefaultDrainTimeout = 5 * time.Second
)

// Config configures a Gateway.
type Config struct {
	// Name is the gateway's topic and the sender name on everything it
	// publishes.
	Name string

	// MasterKey is the SRP password shared by every device.
	MasterKey []byte

	// Suite is the envelope suite. Defaults to envelope.SuiteV1.
	Suite *envelope.Suite

	// Params is the SRP parameter set. Defaults to srp.V1.
	Params *srp.Params

	// KeepaliveInterval is the time between keepalive sweeps.
	KeepaliveInterval time.Duration

	// KeepaliveThreshold is the counter value above which a device is dead.
	KeepaliveThreshold int

	// RepeatDelay and RepeatLimit control CONNECTION_STRING repeat-sends.
	RepeatDelay time.Duration
	RepeatLimit int

	// SessionTTL is the lifetime of an idle handshake.
	SessionTTL time.Duration

	// InboundQueue and OutboundQueue are the queue capacities.
	InboundQueue  int
	OutboundQueue int

	// SendTimeout bounds how long a handler waits for outbound queue space.
	SendTimeout time.Duration

	// DrainTimeout bounds how long Stop spends publishing queued replies.
	DrainTimeout time.Duration

	// Rate and Burst limit inbound messages per sender. A zero Rate
	// disables limiting.
	Rate  float64
	Burst int

	// Logger is used for operational logging. Nil disables logging.
	Logger *slog.Logger

	// Trace receives protocol events. Nil disables tracing.
	Trace log.Logger

	// Metrics records gateway counters. Nil disables metrics.
	Metrics *metrics.Metrics
}

// DefaultConfig returns a configuration with default timings. Name and
// MasterKey must still be set.
func DefaultConfig() Config {
	return Config{
		KeepaliveInterval:  keepalive.DefaultInterval,
		KeepaliveThreshold: keepalive.DefaultThreshold,
		SessionTTL:         session.DefaultTTL,
		InboundQueue:       DefaultQueueSize,
		OutboundQueue:      DefaultQueueSize,
		SendTimeout:        DefaultSendTimeout,
		DrainTimeout:       DefaultDrainTimeout,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if len(c.MasterKey) == 0 {
		return fmt.Errorf("%w: master key is required", ErrInvalidConfig)
	}
	if c.InboundQueue < 0 || c.OutboundQueue < 0 {
		return fmt.Errorf("%w: queue sizes must not be negative", ErrInvalidConfig)
	}
	return nil
}
