package wire

import (
	"fmt"

	"github.com/connax-utim/uhost-go/pkg/tlv"
)

// CommandTag returns the tag of the first element of a command payload.
func CommandTag(payload []byte) (Tag, bool) {
	if len(payload) == 0 {
		return 0, false
	}
	return Tag(payload[0]), true
}

func single(tag Tag, value []byte) []byte {
	return tlv.MustEncode(tlv.Element{Tag: byte(tag), Value: value})
}

// AssembleHello builds HELLO(A).
func AssembleHello(a []byte) []byte {
	return single(TagHello, a)
}

// AssembleTry builds TRY_FIRST(salt) || TRY_SECOND(B).
func AssembleTry(salt, b []byte) []byte {
	return tlv.MustEncode(
		tlv.Element{Tag: byte(TagTryFirst), Value: salt},
		tlv.Element{Tag: byte(TagTrySecond), Value: b},
	)
}

// AssembleCheck builds CHECK(M).
func AssembleCheck(m []byte) []byte {
	return single(TagCheck, m)
}

// AssembleInit builds INIT(HAMK).
func AssembleInit(hamk []byte) []byte {
	return single(TagInit, hamk)
}

// AssembleTrusted builds an empty TRUSTED.
func AssembleTrusted() []byte {
	return single(TagTrusted, nil)
}

// AssembleAuthentic builds an empty AUTHENTIC.
func AssembleAuthentic() []byte {
	return single(TagAuthentic, nil)
}

// AssembleError builds ERROR(diagnostic).
func AssembleError(diagnostic string) []byte {
	return single(TagError, []byte(diagnostic))
}

// AssembleSigned builds SIGNED(message) || SIGNATURE(mac).
func AssembleSigned(message, mac []byte) ([]byte, error) {
	return tlv.Encode(
		tlv.Element{Tag: byte(TagSigned), Value: message},
		tlv.Element{Tag: byte(TagSignature), Value: mac},
	)
}

// AssembleVerified builds an empty VERIFIED.
func AssembleVerified() []byte {
	return single(TagVerified, nil)
}

// AssembleConnectionStatus builds CONNECTION_STRING(status).
func AssembleConnectionStatus(s ConnectionStatus) []byte {
	return single(TagConnectionString, []byte{byte(s)})
}

// AssembleTestPlatformData builds TEST_PLATFORM_DATA(nonce).
func AssembleTestPlatformData(nonce []byte) []byte {
	return single(TagTestPlatformData, nonce)
}

// AssembleKeepalive builds the bare KEEPALIVE probe.
func AssembleKeepalive() []byte {
	return []byte{byte(TagKeepalive)}
}

// AssembleKeepaliveAnswer builds an empty KEEPALIVE_ANSWER.
func AssembleKeepaliveAnswer() []byte {
	return single(TagKeepaliveAnswer, nil)
}

// ParseValue decodes a single-element command and returns its value. The
// element must carry the expected tag and fill the payload exactly.
func ParseValue(payload []byte, tag Tag) ([]byte, error) {
	elems, err := tlv.DecodeSchema(payload, byte(tag))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tag, err)
	}
	return elems[0].Value, nil
}

// ParseTry decodes a TRY reply.
func ParseTry(payload []byte) (salt, b []byte, err error) {
	elems, err := tlv.DecodeSchema(payload, byte(TagTryFirst), byte(TagTrySecond))
	if err != nil {
		return nil, nil, fmt.Errorf("TRY: %w", err)
	}
	return elems[0].Value, elems[1].Value, nil
}

// ParseSigned decodes SIGNED(message) || SIGNATURE(mac).
func ParseSigned(payload []byte) (message, mac []byte, err error) {
	elems, err := tlv.DecodeSchema(payload, byte(TagSigned), byte(TagSignature))
	if err != nil {
		return nil, nil, fmt.Errorf("SIGNED: %w", err)
	}
	return elems[0].Value, elems[1].Value, nil
}

// ParseConnectionStatus decodes CONNECTION_STRING(status).
func ParseConnectionStatus(payload []byte) (ConnectionStatus, error) {
	v, err := ParseValue(payload, TagConnectionString)
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("CONNECTION_STRING: %w: value has %d bytes, want 1", tlv.ErrFormat, len(v))
	}
	return ConnectionStatus(v[0]), nil
}
