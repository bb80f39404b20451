// Package utim implements the device side of the Utim protocol.
//
// A Client runs the SRP handshake against a gateway, reports its platform
// connection, answers keepalive probes and sends signed messages. It is
// used by the end-to-end tests and by the device simulator.
package utim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/connax-utim/uhost-go/pkg/envelope"
	"github.com/connax-utim/uhost-go/pkg/srp"
	"github.com/connax-utim/uhost-go/pkg/transport"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Client errors.
var (
	// ErrRejected is returned when the gateway answers with ERROR.
	ErrRejected = errors.New("utim: rejected by gateway")

	// ErrServerProof is returned when the gateway's HAMK does not verify.
	ErrServerProof = errors.New("utim: server proof invalid")

	// ErrNoKey is returned for operations that need a session key before the
	// handshake completed.
	ErrNoKey = errors.New("utim: no session key")
)

// DefaultTimeout bounds each wait for a gateway reply.
const DefaultTimeout = 5 * time.Second

const inboxSize = 32

// Config configures a Client.
type Config struct {
	// Device is this device's id.
	Device wire.DeviceID

	// Gateway is the gateway's topic.
	Gateway string

	// MasterKey is the shared SRP password.
	MasterKey []byte

	// Suite is the envelope suite. Defaults to envelope.SuiteV1.
	Suite *envelope.Suite

	// Params is the SRP parameter set. Defaults to srp.V1.
	Params *srp.Params

	// Timeout bounds each wait for a reply. Defaults to DefaultTimeout.
	Timeout time.Duration

	// AnswerKeepalive makes the client answer KEEPALIVE probes.
	AnswerKeepalive bool

	// Logger is used for operational logging. Nil disables logging.
	Logger *slog.Logger
}

// Client is a simulated Utim.
type Client struct {
	config    Config
	transport transport.Transport
	logger    *slog.Logger
	inbox     chan []byte

	mu         sync.Mutex
	key        []byte
	keepalives int
	testData   []byte
}

// New creates a client over tr.
func New(tr transport.Transport, cfg Config) *Client {
	if cfg.Suite == nil {
		cfg.Suite = envelope.SuiteV1
	}
	if cfg.Params == nil {
		cfg.Params = srp.V1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		config:    cfg,
		transport: tr,
		logger:    logger,
		inbox:     make(chan []byte, inboxSize),
	}
}

// Start connects the transport and subscribes to the device topic.
func (c *Client) Start(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	return c.transport.Subscribe(transport.DeviceTopic(c.config.Device), c.receive)
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// SessionKey returns the key agreed in the last handshake, or nil.
func (c *Client) SessionKey() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.key)
}

// Keepalives returns the number of keepalive probes answered.
func (c *Client) Keepalives() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepalives
}

// TestData returns the last platform test nonce received.
func (c *Client) TestData() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.testData)
}

// receive is the transport handler. Secured frames are opened with the
// session key; keepalive probes are answered off the delivery goroutine.
func (c *Client) receive(msg transport.Message) {
	key := c.SessionKey()
	payload, _, err := c.config.Suite.Open(key, msg.Payload)
	if err != nil {
		c.logger.Debug("utim: dropping frame", "device", c.config.Device, "error", err)
		return
	}

	if tag, ok := wire.CommandTag(payload); ok && tag == wire.TagKeepalive {
		if c.config.AnswerKeepalive {
			go c.answerKeepalive()
		}
		return
	}

	select {
	case c.inbox <- payload:
	default:
		c.logger.Debug("utim: inbox full", "device", c.config.Device)
	}
}

func (c *Client) answerKeepalive() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	if err := c.sendSecured(ctx, wire.AssembleKeepaliveAnswer()); err != nil {
		c.logger.Debug("utim: keepalive answer", "device", c.config.Device, "error", err)
		return
	}
	c.mu.Lock()
	c.keepalives++
	c.mu.Unlock()
}

func (c *Client) send(ctx context.Context, payload []byte) error {
	return c.transport.Publish(ctx, c.config.Gateway, payload)
}

func (c *Client) sendSecured(ctx context.Context, payload []byte) error {
	key := c.SessionKey()
	if key == nil {
		return ErrNoKey
	}
	frame, err := c.config.Suite.Seal(key, payload)
	if err != nil {
		return err
	}
	return c.send(ctx, frame)
}

// await returns the next packet carrying tag. ERROR replies fail with
// ErrRejected; other packets are skipped.
func (c *Client) await(ctx context.Context, tag wire.Tag) ([]byte, error) {
	timer := time.NewTimer(c.config.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("utim: waiting for %s: %w", tag, context.DeadlineExceeded)
		case payload := <-c.inbox:
			got, ok := wire.CommandTag(payload)
			switch {
			case !ok:
				continue
			case got == tag:
				return payload, nil
			case got == wire.TagError:
				diag, _ := wire.ParseValue(payload, wire.TagError)
				return nil, fmt.Errorf("%w: %s", ErrRejected, diag)
			default:
				c.logger.Debug("utim: skipping packet", "want", tag, "got", got)
			}
		}
	}
}

// Handshake runs HELLO and CHECK and installs the agreed session key.
func (c *Client) Handshake(ctx context.Context) error {
	user, err := c.config.Params.NewUser(c.config.Device.Bytes(), c.config.MasterKey)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.key = nil
	c.mu.Unlock()

	if err := c.send(ctx, wire.AssembleHello(user.PublicValue())); err != nil {
		return err
	}
	reply, err := c.await(ctx, wire.TagTryFirst)
	if err != nil {
		return err
	}
	salt, b, err := wire.ParseTry(reply)
	if err != nil {
		return err
	}

	m, err := user.ProcessChallenge(salt, b)
	if err != nil {
		return err
	}
	if err := c.send(ctx, wire.AssembleCheck(m)); err != nil {
		return err
	}
	reply, err = c.await(ctx, wire.TagInit)
	if err != nil {
		return err
	}
	hamk, err := wire.ParseValue(reply, wire.TagInit)
	if err != nil {
		return err
	}
	if !user.VerifySession(hamk) {
		return ErrServerProof
	}
	key, err := user.SessionKey()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.key = key
	c.mu.Unlock()
	return nil
}

// Trust tells the gateway the session key is installed and waits for
// AUTHENTIC.
func (c *Client) Trust(ctx context.Context) error {
	if err := c.sendSecured(ctx, wire.AssembleTrusted()); err != nil {
		return err
	}
	_, err := c.await(ctx, wire.TagAuthentic)
	return err
}

// ReportConnection sends CONNECTION_STRING(status). On SUCCESS it waits for
// the platform test nonce and returns it.
func (c *Client) ReportConnection(ctx context.Context, status wire.ConnectionStatus) ([]byte, error) {
	if err := c.sendSecured(ctx, wire.AssembleConnectionStatus(status)); err != nil {
		return nil, err
	}
	if status != wire.ConnectionSuccess {
		return nil, nil
	}
	reply, err := c.await(ctx, wire.TagTestPlatformData)
	if err != nil {
		return nil, err
	}
	nonce, err := wire.ParseValue(reply, wire.TagTestPlatformData)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.testData = bytes.Clone(nonce)
	c.mu.Unlock()
	return nonce, nil
}

// Verify reports a passed platform test and waits for AUTHENTIC.
func (c *Client) Verify(ctx context.Context) error {
	if err := c.sendSecured(ctx, wire.AssembleVerified()); err != nil {
		return err
	}
	_, err := c.await(ctx, wire.TagAuthentic)
	return err
}

// SendSigned sends message as SIGNED || SIGNATURE inside the envelope.
func (c *Client) SendSigned(ctx context.Context, message []byte) error {
	key := c.SessionKey()
	if key == nil {
		return ErrNoKey
	}
	mac, err := c.config.Suite.Sign(key, message)
	if err != nil {
		return err
	}
	packet, err := wire.AssembleSigned(message, mac)
	if err != nil {
		return err
	}
	return c.sendSecured(ctx, packet)
}

// Next returns the next packet that is not a keepalive probe.
func (c *Client) Next(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(c.config.Timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, context.DeadlineExceeded
	case payload := <-c.inbox:
		return payload, nil
	}
}
