package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Framing constants.
const (
	// SenderPrefixSize is the size of the sender length prefix.
	SenderPrefixSize = 2

	// MaxSenderSize is the longest sender name.
	MaxSenderSize = 0xFFFF
)

// Framing errors.
var (
	// ErrFrameTruncated indicates a frame shorter than its header says.
	ErrFrameTruncated = errors.New("transport: frame truncated")

	// ErrSenderTooLong indicates a sender name over MaxSenderSize bytes.
	ErrSenderTooLong = errors.New("transport: sender too long")
)

// EncodeFrame prefixes message with the sender header.
func EncodeFrame(sender string, message []byte) ([]byte, error) {
	if len(sender) > MaxSenderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrSenderTooLong, len(sender))
	}
	frame := make([]byte, SenderPrefixSize+len(sender)+len(message))
	binary.BigEndian.PutUint16(frame, uint16(len(sender)))
	copy(frame[SenderPrefixSize:], sender)
	copy(frame[SenderPrefixSize+len(sender):], message)
	return frame, nil
}

// DecodeFrame splits a frame into sender and message. The message aliases
// frame.
func DecodeFrame(frame []byte) (sender string, message []byte, err error) {
	if len(frame) < SenderPrefixSize {
		return "", nil, fmt.Errorf("%w: %d bytes", ErrFrameTruncated, len(frame))
	}
	n := int(binary.BigEndian.Uint16(frame))
	if len(frame) < SenderPrefixSize+n {
		return "", nil, fmt.Errorf("%w: sender needs %d bytes, have %d",
			ErrFrameTruncated, n, len(frame)-SenderPrefixSize)
	}
	return string(frame[SenderPrefixSize : SenderPrefixSize+n]), frame[SenderPrefixSize+n:], nil
}
