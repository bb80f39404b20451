// Package mqtt binds transport.Transport to an MQTT broker using the Eclipse
// Paho client.
//
// The initial connect is retried with backoff and failure is reported as
// transport.ErrConnect. After that Paho reconnects on its own; subscriptions
// are restored from the OnConnect handler because sessions are clean.
package mqtt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/connax-utim/uhost-go/pkg/connection"
	"github.com/connax-utim/uhost-go/pkg/transport"
)

// Defaults.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
	DefaultQoS            = 1
)

// Config configures a Transport.
type Config struct {
	// URL is the broker address, e.g. "tcp://localhost:1883".
	URL string

	Username string
	Password string

	// ClientID defaults to "uhost-" plus a random suffix.
	ClientID string

	// Name is the sender name framed into every published payload.
	Name string

	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	// Attempts bounds the initial connect. Zero means
	// connection.DefaultAttempts.
	Attempts int
	Backoff  connection.BackoffConfig

	// Logger is used for operational logging. Nil disables logging.
	Logger *slog.Logger

	// OnStateChange, if set, observes connection state changes.
	OnStateChange func(old, new connection.State)
}

// Transport is an MQTT-backed transport.Transport.
type Transport struct {
	config  Config
	client  paho.Client
	tracker *connection.Tracker
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[string]transport.Handler
}

// Compile-time interface satisfaction check.
var _ transport.Transport = (*Transport)(nil)

// New creates a Transport. It does not connect.
func New(cfg Config) *Transport {
	if cfg.ClientID == "" {
		cfg.ClientID = "uhost-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.QoS > 2 {
		cfg.QoS = DefaultQoS
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	t := &Transport{
		config:  cfg,
		tracker: connection.NewTracker(cfg.OnStateChange),
		logger:  logger,
		subs:    make(map[string]transport.Handler),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(false).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
			t.tracker.Set(connection.StateReconnecting)
		})
	t.client = paho.NewClient(opts)
	return t
}

// State returns the connection state.
func (t *Transport) State() connection.State {
	return t.tracker.State()
}

// ClientID returns the MQTT client id in use.
func (t *Transport) ClientID() string {
	return t.config.ClientID
}

// Connect implements transport.Transport.
func (t *Transport) Connect(ctx context.Context) error {
	if t.tracker.State() == connection.StateClosed {
		return transport.ErrClosed
	}
	t.tracker.Set(connection.StateConnecting)

	err := connection.Retry(ctx, connection.RetryConfig{
		Attempts: t.config.Attempts,
		Backoff:  t.config.Backoff,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			t.logger.Warn("mqtt: connect failed, retrying",
				"broker", t.config.URL, "attempt", attempt, "delay", delay, "error", err)
		},
	}, t.connectOnce)
	if err != nil {
		t.tracker.Set(connection.StateDisconnected)
		return fmt.Errorf("%w: %s: %w", transport.ErrConnect, t.config.URL, err)
	}
	return nil
}

func (t *Transport) connectOnce(ctx context.Context) error {
	return wait(ctx, t.client.Connect(), t.config.ConnectTimeout)
}

func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return fmt.Errorf("no answer within %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) onConnect(c paho.Client) {
	t.tracker.Set(connection.StateConnected)
	t.logger.Info("mqtt: connected", "broker", t.config.URL, "client_id", t.config.ClientID)

	t.mu.Lock()
	topics := make([]string, 0, len(t.subs))
	for topic := range t.subs {
		topics = append(topics, topic)
	}
	t.mu.Unlock()

	for _, topic := range topics {
		tok := c.Subscribe(topic, t.config.QoS, t.messageHandler(topic))
		go func(topic string) {
			if tok.Wait(); tok.Error() != nil {
				t.logger.Error("mqtt: resubscribe", "topic", topic, "error", tok.Error())
			}
		}(topic)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.tracker.Set(connection.StateReconnecting)
	t.logger.Warn("mqtt: connection lost", "broker", t.config.URL, "error", err)
}

func (t *Transport) messageHandler(topic string) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		t.deliver(topic, m.Topic(), m.Payload())
	}
}

// deliver unframes an inbound payload and hands it to the topic's handler.
func (t *Transport) deliver(subscribed, topic string, payload []byte) {
	t.mu.Lock()
	h := t.subs[subscribed]
	t.mu.Unlock()
	if h == nil {
		return
	}

	sender, message, err := transport.DecodeFrame(payload)
	if err != nil {
		t.logger.Warn("mqtt: dropping unframed payload", "topic", topic, "size", len(payload), "error", err)
		return
	}
	h(transport.Message{
		Topic:   topic,
		Sender:  sender,
		Payload: append([]byte(nil), message...),
	})
}

// Subscribe implements transport.Transport.
func (t *Transport) Subscribe(topic string, h transport.Handler) error {
	if t.tracker.State() == connection.StateClosed {
		return transport.ErrClosed
	}
	t.mu.Lock()
	t.subs[topic] = h
	t.mu.Unlock()

	if !t.client.IsConnectionOpen() {
		return transport.ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.config.ConnectTimeout)
	defer cancel()
	if err := wait(ctx, t.client.Subscribe(topic, t.config.QoS, t.messageHandler(topic)), t.config.ConnectTimeout); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}
	return nil
}

// Publish implements transport.Transport.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	switch t.tracker.State() {
	case connection.StateClosed:
		return transport.ErrClosed
	case connection.StateDisconnected:
		return transport.ErrNotConnected
	}

	frame, err := transport.EncodeFrame(t.config.Name, payload)
	if err != nil {
		return err
	}
	if err := wait(ctx, t.client.Publish(topic, t.config.QoS, false, frame), t.config.PublishTimeout); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	if t.tracker.State() == connection.StateClosed {
		return nil
	}
	if t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	t.tracker.Set(connection.StateClosed)
	return nil
}
