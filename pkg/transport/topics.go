package transport

import (
	"strings"

	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Topic prefixes.
const (
	// PrefixToDS carries signed relay output toward the device service.
	PrefixToDS = "to_DS/"

	// PrefixToClient carries verified plaintext toward client applications.
	PrefixToClient = "to_Client/"

	// PrefixForSignature marks a client message that asks the gateway to
	// sign on a device's behalf.
	PrefixForSignature = "for_Signature/"
)

// DeviceTopic returns the topic replies to a device are published on.
func DeviceTopic(id wire.DeviceID) string {
	return id.String()
}

// ToDSTopic returns the relay topic for signed client messages.
func ToDSTopic(id wire.DeviceID) string {
	return PrefixToDS + id.String()
}

// ToClientTopic returns the relay topic for verified device messages.
func ToClientTopic(id wire.DeviceID) string {
	return PrefixToClient + id.String()
}

// ForSignatureSender returns the sender name a client uses to request
// signing for a device.
func ForSignatureSender(id wire.DeviceID) string {
	return PrefixForSignature + id.String()
}

// ParseForSignature extracts the device id from a for_Signature sender.
func ParseForSignature(sender string) (wire.DeviceID, bool) {
	rest, ok := strings.CutPrefix(sender, PrefixForSignature)
	if !ok {
		return "", false
	}
	id, err := wire.ParseWireDeviceID(rest)
	if err != nil {
		return "", false
	}
	return id, true
}

// DeviceIDFromTopic extracts the device id from a device, to_DS or
// to_Client topic.
func DeviceIDFromTopic(topic string) (wire.DeviceID, bool) {
	for _, p := range []string{PrefixToDS, PrefixToClient} {
		if rest, ok := strings.CutPrefix(topic, p); ok {
			topic = rest
			break
		}
	}
	id, err := wire.ParseWireDeviceID(topic)
	if err != nil {
		return "", false
	}
	return id, true
}
