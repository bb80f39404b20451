package wire

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// DeviceIDSize is the size of a binary device id.
const DeviceIDSize = 12

// ErrInvalidDeviceID is returned when a device id is not DeviceIDSize bytes
// of hex.
var ErrInvalidDeviceID = errors.New("invalid device id")

// DeviceID is the canonical lowercase hex form of a device id.
type DeviceID string

// ParseDeviceID validates s and returns its canonical form. Hex case is
// ignored.
func ParseDeviceID(s string) (DeviceID, error) {
	if len(s) != DeviceIDSize*2 {
		return "", fmt.Errorf("%w: %q has %d characters, want %d", ErrInvalidDeviceID, s, len(s), DeviceIDSize*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDeviceID, err)
	}
	return DeviceIDFromBytes(b)
}

// ParseWireDeviceID is ParseDeviceID restricted to the canonical lowercase
// form. Senders and topics are parsed with it; replies go to the canonical
// topic.
func ParseWireDeviceID(s string) (DeviceID, error) {
	id, err := ParseDeviceID(s)
	if err != nil {
		return "", err
	}
	if string(id) != s {
		return "", fmt.Errorf("%w: %q is not lowercase", ErrInvalidDeviceID, s)
	}
	return id, nil
}

// DeviceIDFromBytes returns the id for a binary device id.
func DeviceIDFromBytes(b []byte) (DeviceID, error) {
	if len(b) != DeviceIDSize {
		return "", fmt.Errorf("%w: %d bytes, want %d", ErrInvalidDeviceID, len(b), DeviceIDSize)
	}
	return DeviceID(hex.EncodeToString(b)), nil
}

// Bytes returns the binary id. It is the SRP username of the device.
func (id DeviceID) Bytes() []byte {
	b, _ := hex.DecodeString(string(id))
	return b
}

// String returns the hex form.
func (id DeviceID) String() string {
	return string(id)
}
