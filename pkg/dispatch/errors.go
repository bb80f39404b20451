package dispatch

import (
	"errors"
	"fmt"

	"github.com/connax-utim/uhost-go/pkg/envelope"
	"github.com/connax-utim/uhost-go/pkg/lifecycle"
	"github.com/connax-utim/uhost-go/pkg/metrics"
	"github.com/connax-utim/uhost-go/pkg/srp"
	"github.com/connax-utim/uhost-go/pkg/tlv"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Dispatch errors.
var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrProtocolState = errors.New("command not allowed in device status")
	ErrUnrecognized  = errors.New("unrecognized command")
	ErrNoSession     = errors.New("no handshake session")
	ErrProofRejected = errors.New("client proof rejected")
	ErrThrottled     = errors.New("handshake throttled")
	ErrInternal      = errors.New("internal error")
)

// StateError reports a command received outside the phases that allow it.
type StateError struct {
	Device  wire.DeviceID
	Command wire.Tag
	Status  lifecycle.Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("device %s: %s in status %s: %v", e.Device, e.Command, e.Status, ErrProtocolState)
}

func (e *StateError) Unwrap() error {
	return ErrProtocolState
}

// Reason classifies a Process error for metrics and trace events.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, tlv.ErrFormat):
		return metrics.ReasonFormat
	case errors.Is(err, envelope.ErrCrypto), errors.Is(err, ErrProofRejected):
		return metrics.ReasonCrypto
	case errors.Is(err, srp.ErrChallenge):
		return metrics.ReasonChallenge
	case errors.Is(err, ErrUnknownDevice):
		return metrics.ReasonUnknownDevice
	case errors.Is(err, ErrProtocolState), errors.Is(err, ErrNoSession), errors.Is(err, ErrThrottled):
		return metrics.ReasonState
	case errors.Is(err, ErrUnrecognized):
		return metrics.ReasonUnrecognized
	default:
		return metrics.ReasonInternal
	}
}
