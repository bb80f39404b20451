package gateway

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/connax-utim/uhost-go/pkg/dispatch"
	"github.com/connax-utim/uhost-go/pkg/store"
	"github.com/connax-utim/uhost-go/pkg/transport"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

var master = bytes.Repeat([]byte{0x42}, 32)

type mockTransport struct{ mock.Mock }

func (m *mockTransport) Connect(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockTransport) Subscribe(topic string, h transport.Handler) error {
	return m.Called(topic, h).Error(0)
}
func (m *mockTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	return m.Called(ctx, topic, payload).Error(0)
}
func (m *mockTransport) Close() error { return m.Called().Error(0) }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "uhost"
	cfg.MasterKey = master
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no name", func(c *Config) { c.Name = "" }},
		{"no master key", func(c *Config) { c.MasterKey = nil }},
		{"negative queue", func(c *Config) { c.InboundQueue = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(&mockTransport{}, store.NewMemory(), cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestStartConnectFailure(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Connect", mock.Anything).Return(errors.New("connection refused"))

	g, err := New(tr, store.NewMemory(), testConfig())
	require.NoError(t, err)

	err = g.Start(context.Background())
	assert.ErrorIs(t, err, transport.ErrConnect)
	assert.Equal(t, StateIdle, g.State())
	tr.AssertExpectations(t)
}

func TestStartSubscribeFailureClosesTransport(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Connect", mock.Anything).Return(nil)
	tr.On("Subscribe", "uhost", mock.Anything).Return(errors.New("not authorized"))
	tr.On("Close").Return(nil)

	g, err := New(tr, store.NewMemory(), testConfig())
	require.NoError(t, err)

	err = g.Start(context.Background())
	assert.ErrorIs(t, err, transport.ErrConnect)
	tr.AssertExpectations(t)
}

func TestStartStop(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Connect", mock.Anything).Return(nil)
	tr.On("Subscribe", "uhost", mock.Anything).Return(nil)
	tr.On("Close").Return(nil)

	g, err := New(tr, store.NewMemory(), testConfig())
	require.NoError(t, err)

	assert.ErrorIs(t, g.Stop(), ErrNotStarted)
	require.NoError(t, g.Start(context.Background()))
	assert.Equal(t, StateRunning, g.State())
	assert.ErrorIs(t, g.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, g.Stop())
	assert.Equal(t, StateStopped, g.State())
	assert.ErrorIs(t, g.Enqueue(transport.Message{}), ErrNotStarted)
	tr.AssertExpectations(t)
}

func TestStopDrainsQueuedReplies(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Connect", mock.Anything).Return(nil)
	tr.On("Subscribe", "uhost", mock.Anything).Return(nil)
	tr.On("Close").Return(nil)
	tr.On("Publish", mock.Anything, "to_Client/x", []byte("queued")).Return(nil).Once()

	cfg := testConfig()
	g, err := New(tr, store.NewMemory(), cfg)
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))

	g.outbound <- dispatch.Outbound{Topic: "to_Client/x", Payload: []byte("queued")}
	require.NoError(t, g.Stop())
	tr.AssertExpectations(t)
}

func TestEnqueueQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.InboundQueue = 1
	g, err := New(&mockTransport{}, store.NewMemory(), cfg)
	require.NoError(t, err)
	g.state = StateRunning

	require.NoError(t, g.Enqueue(transport.Message{Sender: "a"}))
	assert.ErrorIs(t, g.Enqueue(transport.Message{Sender: "b"}), ErrQueueFull)
}

func TestReceiveRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = 0.001
	cfg.Burst = 2
	g, err := New(&mockTransport{}, store.NewMemory(), cfg)
	require.NoError(t, err)
	g.state = StateRunning

	dev := wire.DeviceID("0a0b0c0d0e0f101112131415")
	for i := 0; i < 5; i++ {
		g.receive(transport.Message{Sender: dev.String(), Payload: []byte{byte(i)}})
	}
	g.receive(transport.Message{Sender: "1a1b1c1d1e1f202122232425"})

	assert.Len(t, g.inbound, 3, "burst of 2 for the first sender plus 1 for the second")
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateStarting, "STARTING"},
		{StateRunning, "RUNNING"},
		{StateStopping, "STOPPING"},
		{StateStopped, "STOPPED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
