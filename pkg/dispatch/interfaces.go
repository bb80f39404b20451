package dispatch

import (
	"context"
	"time"

	"github.com/connax-utim/uhost-go/pkg/lifecycle"
	"github.com/connax-utim/uhost-go/pkg/schedule"
	"github.com/connax-utim/uhost-go/pkg/session"
	"github.com/connax-utim/uhost-go/pkg/store"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Sessions holds in-progress handshakes.
type Sessions interface {
	Get(id wire.DeviceID) (session.Session, bool)
	GetOrCreate(id wire.DeviceID) (session.Session, error)
	Replace(s session.Session)
	Update(id wire.DeviceID, fn func(s *session.Session) error) error
	Remove(id wire.DeviceID)
}

// Devices performs lifecycle bookkeeping.
type Devices interface {
	Status(ctx context.Context, id wire.DeviceID) (lifecycle.Status, error)
	SetStatus(ctx context.Context, id wire.DeviceID, to lifecycle.Status) error
	StartHandshake(ctx context.Context, id wire.DeviceID) error
	ResetKeepalive(ctx context.Context, id wire.DeviceID) error
	ApplyConfigHash(ctx context.Context, id wire.DeviceID, current, noConfig string) (lifecycle.Status, error)
}

// Keys stores session keys.
type Keys interface {
	SessionKey(ctx context.Context, id wire.DeviceID) ([]byte, error)
	SetSessionKey(ctx context.Context, id wire.DeviceID, key []byte) error
}

// Registry answers which devices exist and what they are configured with.
type Registry interface {
	Exists(ctx context.Context, id wire.DeviceID) (bool, error)
	Configuration(ctx context.Context, id wire.DeviceID) (*store.Configuration, error)
}

// Sink accepts outbound messages.
type Sink interface {
	Send(ctx context.Context, out Outbound) error
}

// Scheduler runs delayed tasks keyed by device.
type Scheduler interface {
	Schedule(key schedule.Key, delay time.Duration, value any) error
	Cancel(key schedule.Key) error
	CancelDevice(id wire.DeviceID)
}

// Compile-time interface satisfaction checks.
var (
	_ Sessions  = (*session.Table)(nil)
	_ Devices   = (*lifecycle.Manager)(nil)
	_ Keys      = (store.Store)(nil)
	_ Registry  = (store.Store)(nil)
	_ Scheduler = (*schedule.Manager)(nil)
)

// Outbound is a message for the transport.
type Outbound struct {
	// Topic to publish on.
	Topic string

	// Device is set when Payload is a command for that device and must pass
	// through the envelope. Relay output leaves it empty.
	Device wire.DeviceID

	Payload []byte

	// TraceID links the message to the inbound message that caused it.
	TraceID string
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, out Outbound) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, out Outbound) error {
	return f(ctx, out)
}
