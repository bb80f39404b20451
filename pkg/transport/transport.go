package transport

import (
	"context"
	"errors"
)

// Transport errors.
var (
	// ErrConnect indicates the broker could not be reached or refused the
	// credentials.
	ErrConnect = errors.New("transport: connect failed")

	// ErrClosed indicates the transport was closed.
	ErrClosed = errors.New("transport: closed")

	// ErrNotConnected indicates an operation before Connect.
	ErrNotConnected = errors.New("transport: not connected")
)

// Message is an inbound, unframed message.
type Message struct {
	// Topic the message arrived on.
	Topic string

	// Sender is the name from the frame header.
	Sender string

	// Payload is the message body after the frame header.
	Payload []byte
}

// Handler receives inbound messages. It must not block.
type Handler func(msg Message)

// Transport is a connection to a pub/sub broker.
type Transport interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Subscribe delivers messages published on topic to h.
	Subscribe(topic string, h Handler) error

	// Publish frames payload with the transport's own name and publishes it
	// on topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Close disconnects. It is safe to call more than once.
	Close() error
}
