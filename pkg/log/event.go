package log

import (
	"time"

	"github.com/google/uuid"
)

// MaxFrameDataSize is the largest frame payload copied into an event.
const MaxFrameDataSize = 4096

// Event is one protocol trace record. CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// TraceID is shared by every event caused by the same inbound message.
	TraceID string `cbor:"2,keyasint,omitempty"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// DeviceID is the hex id of the device concerned, if known.
	DeviceID string `cbor:"6,keyasint,omitempty"`

	// Topic is the pub/sub topic the frame travelled on.
	Topic string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload, at most one is set.
	Frame       *FrameEvent       `cbor:"8,keyasint,omitempty"`
	Command     *CommandEvent     `cbor:"9,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"11,keyasint,omitempty"`
}

// NewTraceID returns a fresh trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates a message from a device or client.
	DirectionIn Direction = 0
	// DirectionOut indicates a message published by the gateway.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the pipeline captured the event.
type Layer uint8

const (
	// LayerTransport is the pub/sub boundary.
	LayerTransport Layer = 0
	// LayerEnvelope is signing and encryption.
	LayerEnvelope Layer = 1
	// LayerDispatch is command routing and handling.
	LayerDispatch Layer = 2
	// LayerLifecycle is device status bookkeeping.
	LayerLifecycle Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerEnvelope:
		return "ENVELOPE"
	case LayerDispatch:
		return "DISPATCH"
	case LayerLifecycle:
		return "LIFECYCLE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	// CategoryMessage is a frame or command.
	CategoryMessage Category = 0
	// CategoryControl is a keepalive probe or answer.
	CategoryControl Category = 1
	// CategoryState is a status change.
	CategoryState Category = 2
	// CategoryError is a failure or a dropped message.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame bytes.
type FrameEvent struct {
	// Size is the full frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the frame, cut to MaxFrameDataSize.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated is set if Data was cut.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Secured is set if the frame carried a signature envelope.
	Secured bool `cbor:"4,keyasint,omitempty"`
}

// NewFrameEvent builds a FrameEvent from data, truncating long frames.
func NewFrameEvent(data []byte, secured bool) *FrameEvent {
	fe := &FrameEvent{Size: len(data), Secured: secured}
	if len(data) > MaxFrameDataSize {
		data = data[:MaxFrameDataSize]
		fe.Truncated = true
	}
	fe.Data = append([]byte(nil), data...)
	return fe
}

// CommandEvent captures a decoded command.
type CommandEvent struct {
	// Tag is the command tag byte.
	Tag uint8 `cbor:"1,keyasint"`

	// Name is the command name, e.g. "HELLO".
	Name string `cbor:"2,keyasint"`

	// Size is the command payload size.
	Size int `cbor:"3,keyasint,omitempty"`

	// Secured is set if the command arrived inside a verified envelope.
	Secured bool `cbor:"4,keyasint,omitempty"`

	// Duration is the handling time (inbound commands only).
	Duration *time.Duration `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures a status change.
type StateChangeEvent struct {
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	NewState string `cbor:"3,keyasint"`

	// Reason for the change, if known.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	// StateEntityDevice is a device lifecycle status.
	StateEntityDevice StateEntity = 0
	// StateEntitySession is a handshake session.
	StateEntitySession StateEntity = 1
	// StateEntityConnection is the broker connection.
	StateEntityConnection StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityDevice:
		return "DEVICE"
	case StateEntitySession:
		return "SESSION"
	case StateEntityConnection:
		return "CONNECTION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures a failure.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Kind is the error class, e.g. "format" or "crypto".
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context describes what was being done.
	Context string `cbor:"4,keyasint,omitempty"`
}
