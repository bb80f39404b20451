package dispatch

import (
	"context"
	"fmt"

	"github.com/connax-utim/uhost-go/pkg/envelope"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Sealer applies the envelope to outbound messages.
type Sealer struct {
	keys  Keys
	suite *envelope.Suite
}

// NewSealer creates a Sealer. A nil suite means envelope.SuiteV1.
func NewSealer(keys Keys, suite *envelope.Suite) *Sealer {
	if suite == nil {
		suite = envelope.SuiteV1
	}
	return &Sealer{keys: keys, suite: suite}
}

// Seal returns the bytes to publish for out. Relay output and the plain
// handshake replies pass unchanged; other device commands are encrypted and
// signed with the device's session key, or sent plain if it has none.
func (s *Sealer) Seal(ctx context.Context, out Outbound) ([]byte, error) {
	if out.Device == "" {
		return out.Payload, nil
	}
	if tag, ok := wire.CommandTag(out.Payload); ok && tag.Plain() {
		return out.Payload, nil
	}

	key, err := s.keys.SessionKey(ctx, out.Device)
	if err != nil {
		return nil, fmt.Errorf("session key for %s: %w", out.Device, err)
	}
	frame, err := s.suite.Seal(key, out.Payload)
	if err != nil {
		return nil, fmt.Errorf("seal for %s: %w", out.Device, err)
	}
	return frame, nil
}
