package transport

import (
	"bytes"
	"context"
	"sync"
)

// Broker is an in-process pub/sub broker. Delivery is synchronous on the
// publisher's goroutine, in subscription order.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID int
}

type subscription struct {
	id      int
	handler Handler
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]subscription)}
}

// Client returns a Transport attached to the broker that frames outbound
// payloads with name.
func (b *Broker) Client(name string) *BrokerClient {
	return &BrokerClient{broker: b, name: name}
}

func (b *Broker) subscribe(topic string, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[topic] = append(b.subs[topic], subscription{id: b.nextID, handler: h})
	return b.nextID
}

func (b *Broker) unsubscribe(ids map[int]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, topic := range ids {
		subs := b.subs[topic]
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}
}

func (b *Broker) publish(topic string, frame []byte) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	sender, message, err := DecodeFrame(frame)
	if err != nil {
		return
	}
	for _, s := range subs {
		s.handler(Message{Topic: topic, Sender: sender, Payload: bytes.Clone(message)})
	}
}

// Subscribers returns the number of handlers on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// BrokerClient is a Transport backed by a Broker.
type BrokerClient struct {
	broker *Broker
	name   string

	mu        sync.Mutex
	connected bool
	closed    bool
	subs      map[int]string
}

// Compile-time interface satisfaction check.
var _ Transport = (*BrokerClient)(nil)

// Connect implements Transport.
func (c *BrokerClient) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.connected = true
	return nil
}

// Subscribe implements Transport.
func (c *BrokerClient) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return err
	}
	if c.subs == nil {
		c.subs = make(map[int]string)
	}
	c.subs[c.broker.subscribe(topic, h)] = topic
	return nil
}

// Publish implements Transport.
func (c *BrokerClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	err := c.usable()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	frame, err := EncodeFrame(c.name, payload)
	if err != nil {
		return err
	}
	c.broker.publish(topic, frame)
	return nil
}

// PublishRaw publishes frame unmodified, bypassing sender framing.
func (c *BrokerClient) PublishRaw(topic string, frame []byte) {
	c.broker.publish(topic, bytes.Clone(frame))
}

// Close implements Transport. It drops the client's subscriptions.
func (c *BrokerClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	c.broker.unsubscribe(c.subs)
	c.subs = nil
	return nil
}

func (c *BrokerClient) usable() error {
	if c.closed {
		return ErrClosed
	}
	if !c.connected {
		return ErrNotConnected
	}
	return nil
}
