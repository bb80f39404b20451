package utim

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connax-utim/uhost-go/pkg/envelope"
	"github.com/connax-utim/uhost-go/pkg/srp"
	"github.com/connax-utim/uhost-go/pkg/transport"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

const dev = wire.DeviceID("0a0b0c0d0e0f101112131415")

var master = bytes.Repeat([]byte{0x42}, 32)

// fakeGateway answers HELLO and CHECK with a real SRP verifier.
type fakeGateway struct {
	t      *testing.T
	client *transport.BrokerClient

	mu        sync.Mutex
	svr       *srp.Verifier
	key       []byte
	tamper    bool
	reject    string
	forwarded [][]byte
}

func newFakeGateway(t *testing.T, broker *transport.Broker) *fakeGateway {
	g := &fakeGateway{t: t, client: broker.Client("gw")}
	require.NoError(t, g.client.Connect(context.Background()))
	require.NoError(t, g.client.Subscribe("gw", g.receive))
	return g
}

func (g *fakeGateway) reply(payload []byte) {
	g.mu.Lock()
	key := g.key
	g.mu.Unlock()
	if tag, _ := wire.CommandTag(payload); !tag.Plain() {
		frame, err := envelope.SuiteV1.Seal(key, payload)
		require.NoError(g.t, err)
		payload = frame
	}
	require.NoError(g.t, g.client.Publish(context.Background(), dev.String(), payload))
}

func (g *fakeGateway) receive(msg transport.Message) {
	g.mu.Lock()
	key := g.key
	g.mu.Unlock()
	payload, _, err := envelope.SuiteV1.Open(key, msg.Payload)
	require.NoError(g.t, err)
	tag, _ := wire.CommandTag(payload)

	if g.reject != "" {
		g.reply(wire.AssembleError(g.reject))
		return
	}

	switch tag {
	case wire.TagHello:
		a, err := wire.ParseValue(payload, wire.TagHello)
		require.NoError(g.t, err)
		salt, v, err := srp.V1.CreateSaltedVerificationKey(dev.Bytes(), master)
		require.NoError(g.t, err)
		svr, err := srp.V1.NewVerifier(dev.Bytes(), salt, v, a)
		require.NoError(g.t, err)
		g.mu.Lock()
		g.svr = svr
		g.mu.Unlock()
		s, b := svr.Challenge()
		g.reply(wire.AssembleTry(s, b))
	case wire.TagCheck:
		m, err := wire.ParseValue(payload, wire.TagCheck)
		require.NoError(g.t, err)
		hamk := g.svr.VerifySession(m)
		require.NotNil(g.t, hamk)
		if g.tamper {
			hamk = bytes.Clone(hamk)
			hamk[0] ^= 0xFF
		}
		key, err := g.svr.SessionKey()
		require.NoError(g.t, err)
		g.reply(wire.AssembleInit(hamk))
		g.mu.Lock()
		g.key = key
		g.mu.Unlock()
	case wire.TagTrusted, wire.TagVerified:
		g.reply(wire.AssembleAuthentic())
	case wire.TagConnectionString:
		g.reply(wire.AssembleTestPlatformData([]byte("nonce")))
	case wire.TagSigned:
		g.mu.Lock()
		g.forwarded = append(g.forwarded, payload)
		g.mu.Unlock()
	case wire.TagKeepaliveAnswer:
		g.mu.Lock()
		g.forwarded = append(g.forwarded, payload)
		g.mu.Unlock()
	}
}

func newClient(t *testing.T, broker *transport.Broker) *Client {
	c := New(broker.Client(dev.String()), Config{
		Device:          dev,
		Gateway:         "gw",
		MasterKey:       master,
		Timeout:         time.Second,
		AnswerKeepalive: true,
	})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientOnboarding(t *testing.T) {
	broker := transport.NewBroker()
	gw := newFakeGateway(t, broker)
	c := newClient(t, broker)
	ctx := context.Background()

	require.NoError(t, c.Handshake(ctx))
	assert.Equal(t, gw.key, c.SessionKey())
	require.NoError(t, c.Trust(ctx))

	nonce, err := c.ReportConnection(ctx, wire.ConnectionSuccess)
	require.NoError(t, err)
	assert.Equal(t, []byte("nonce"), nonce)
	assert.Equal(t, nonce, c.TestData())
	require.NoError(t, c.Verify(ctx))

	require.NoError(t, c.SendSigned(ctx, []byte("hi")))
	gw.mu.Lock()
	require.Len(t, gw.forwarded, 1)
	message, mac, err := wire.ParseSigned(gw.forwarded[0])
	gw.mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), message)
	assert.True(t, envelope.SuiteV1.Verify(c.SessionKey(), message, mac))
}

func TestClientAnswersKeepalive(t *testing.T) {
	broker := transport.NewBroker()
	gw := newFakeGateway(t, broker)
	c := newClient(t, broker)
	require.NoError(t, c.Handshake(context.Background()))

	gw.reply(wire.AssembleKeepalive())
	require.Eventually(t, func() bool { return c.Keepalives() == 1 }, time.Second, 5*time.Millisecond)
}

func TestClientServerProofMismatch(t *testing.T) {
	broker := transport.NewBroker()
	gw := newFakeGateway(t, broker)
	gw.tamper = true
	c := newClient(t, broker)

	assert.ErrorIs(t, c.Handshake(context.Background()), ErrServerProof)
	assert.Nil(t, c.SessionKey())
}

func TestClientRejected(t *testing.T) {
	broker := transport.NewBroker()
	gw := newFakeGateway(t, broker)
	gw.reject = "hello invalid data"
	c := newClient(t, broker)

	err := c.Handshake(context.Background())
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "hello invalid data")
}

func TestClientNeedsKey(t *testing.T) {
	c := New(transport.NewBroker().Client(dev.String()), Config{Device: dev, Gateway: "gw", MasterKey: master})
	ctx := context.Background()

	assert.ErrorIs(t, c.Trust(ctx), ErrNoKey)
	assert.ErrorIs(t, c.SendSigned(ctx, []byte("x")), ErrNoKey)
	_, err := c.ReportConnection(ctx, wire.ConnectionSuccess)
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestClientTimeout(t *testing.T) {
	broker := transport.NewBroker()
	c := newClient(t, broker)
	c.config.Timeout = 20 * time.Millisecond

	assert.ErrorIs(t, c.Handshake(context.Background()), context.DeadlineExceeded)
}
