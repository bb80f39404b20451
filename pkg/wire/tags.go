package wire

// Tag identifies a command or a TLV element inside a command.
type Tag uint8

const (
	// TagHello starts a handshake. Value is the client public value A.
	TagHello Tag = 0x01

	// TagTryFirst carries the SRP salt in a TRY reply.
	TagTryFirst Tag = 0x02

	// TagTrySecond carries the server public value B in a TRY reply.
	TagTrySecond Tag = 0x03

	// TagCheck carries the client proof M.
	TagCheck Tag = 0x04

	// TagInit carries the server proof HAMK.
	TagInit Tag = 0x05

	// TagTrusted is sent by a device once it has installed the session key.
	TagTrusted Tag = 0x06

	// TagAuthentic confirms to the device that onboarding is complete.
	TagAuthentic Tag = 0x07

	// TagError carries a short diagnostic string.
	TagError Tag = 0x08

	// TagSigned carries a relayed message.
	TagSigned Tag = 0x09

	// TagSignature carries the MAC of the preceding SIGNED element.
	TagSignature Tag = 0x0A

	// TagVerified reports a successful platform test.
	TagVerified Tag = 0x0B

	// TagConnectionString reports the device's platform connection result.
	TagConnectionString Tag = 0x0C

	// TagTestPlatformData carries the platform liveness nonce.
	TagTestPlatformData Tag = 0x0D

	// TagKeepalive probes a device. Sent as a single byte.
	TagKeepalive Tag = 0x0E

	// TagKeepaliveAnswer answers a keepalive probe.
	TagKeepaliveAnswer Tag = 0x0F
)

// ConnectionStatus is the single-byte value of a CONNECTION_STRING element.
type ConnectionStatus uint8

const (
	ConnectionError   ConnectionStatus = 0x00
	ConnectionSuccess ConnectionStatus = 0x01
)

// String returns the connection status name.
func (s ConnectionStatus) String() string {
	switch s {
	case ConnectionError:
		return "ERROR"
	case ConnectionSuccess:
		return "SUCCESS"
	default:
		return "UNKNOWN"
	}
}

// String returns the tag name.
func (t Tag) String() string {
	switch t {
	case TagHello:
		return "HELLO"
	case TagTryFirst:
		return "TRY_FIRST"
	case TagTrySecond:
		return "TRY_SECOND"
	case TagCheck:
		return "CHECK"
	case TagInit:
		return "INIT"
	case TagTrusted:
		return "TRUSTED"
	case TagAuthentic:
		return "AUTHENTIC"
	case TagError:
		return "ERROR"
	case TagSigned:
		return "SIGNED"
	case TagSignature:
		return "SIGNATURE"
	case TagVerified:
		return "VERIFIED"
	case TagConnectionString:
		return "CONNECTION_STRING"
	case TagTestPlatformData:
		return "TEST_PLATFORM_DATA"
	case TagKeepalive:
		return "KEEPALIVE"
	case TagKeepaliveAnswer:
		return "KEEPALIVE_ANSWER"
	default:
		return "UNKNOWN"
	}
}

// RequiresSecured reports whether an inbound command with this tag is only
// accepted when it arrived inside a signed envelope.
func (t Tag) RequiresSecured() bool {
	switch t {
	case TagTrusted, TagSigned, TagVerified, TagConnectionString, TagKeepaliveAnswer:
		return true
	default:
		return false
	}
}

// Plain reports whether an outbound packet with this tag is sent without the
// crypto envelope. The device has no session key yet when it receives them.
func (t Tag) Plain() bool {
	return t == TagTryFirst || t == TagInit
}
