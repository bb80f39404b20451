package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/connax-utim/uhost-go/pkg/dispatch"
	"github.com/connax-utim/uhost-go/pkg/envelope"
	"github.com/connax-utim/uhost-go/pkg/keepalive"
	"github.com/connax-utim/uhost-go/pkg/lifecycle"
	"github.com/connax-utim/uhost-go/pkg/log"
	"github.com/connax-utim/uhost-go/pkg/metrics"
	"github.com/connax-utim/uhost-go/pkg/ratelimit"
	"github.com/connax-utim/uhost-go/pkg/schedule"
	"github.com/connax-utim/uhost-go/pkg/session"
	"github.com/connax-utim/uhost-go/pkg/srp"
	"github.com/connax-utim/uhost-go/pkg/store"
	"github.com/connax-utim/uhost-go/pkg/transport"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Queue names used in metrics.
const (
	queueInbound  = "inbound"
	queueOutbound = "outbound"
)

// Gateway runs the inbound worker, the outbound worker and the keepalive
// sweep over one transport and one device store.
type Gateway struct {
	config    Config
	transport transport.Transport
	store     store.Store
	logger    *slog.Logger
	trace     log.Logger
	metrics   *metrics.Metrics

	sessions  *session.Table
	devices   *lifecycle.Manager
	scheduler *schedule.Manager
	pipeline  *dispatch.Pipeline
	sealer    *dispatch.Sealer
	sweeper   *keepalive.Sweeper
	limiter   *ratelimit.Limiter

	inbound  chan transport.Message
	outbound chan dispatch.Outbound

	mu      sync.RWMutex
	state   State
	cancel  context.CancelFunc
	stopIn  chan struct{}
	stopOut chan struct{}
	inDone  chan struct{}
	outDone chan struct{}
}

// New creates a gateway. The store stays owned by the caller.
func New(tr transport.Transport, st store.Store, cfg Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.InboundQueue == 0 {
		cfg.InboundQueue = def.InboundQueue
	}
	if cfg.OutboundQueue == 0 {
		cfg.OutboundQueue = def.OutboundQueue
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.Suite == nil {
		cfg.Suite = envelope.SuiteV1
	}
	if cfg.Params == nil {
		cfg.Params = srp.V1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	g := &Gateway{
		config:    cfg,
		transport: tr,
		store:     st,
		logger:    logger,
		trace:     log.OrNoop(cfg.Trace),
		metrics:   cfg.Metrics,
		limiter:   ratelimit.New(cfg.Rate, cfg.Burst, ratelimit.DefaultIdleTTL),
		inbound:   make(chan transport.Message, cfg.InboundQueue),
		outbound:  make(chan dispatch.Outbound, cfg.OutboundQueue),
	}

	g.sessions = session.NewTable(session.NewFactory(cfg.Params, cfg.MasterKey), session.Config{TTL: cfg.SessionTTL})
	g.devices = lifecycle.NewManager(st, lifecycle.Config{
		Logger:   logger,
		OnChange: g.onStatusChange,
	})
	g.scheduler = schedule.NewManager()
	g.scheduler.OnFire(g.onRepeat)

	g.pipeline = dispatch.New(dispatch.Deps{
		Sessions:  g.sessions,
		Devices:   g.devices,
		Keys:      st,
		Registry:  st,
		Sink:      dispatch.SinkFunc(g.send),
		Scheduler: g.scheduler,
	}, dispatch.Config{
		Suite:       cfg.Suite,
		Params:      cfg.Params,
		RepeatDelay: cfg.RepeatDelay,
		RepeatLimit: cfg.RepeatLimit,
		Logger:      logger,
		Trace:       cfg.Trace,
		Metrics:     cfg.Metrics,
	})
	g.sealer = dispatch.NewSealer(st, cfg.Suite)

	g.sweeper = keepalive.New(st, g.devices, g.probe, keepalive.Config{
		Interval:  cfg.KeepaliveInterval,
		Threshold: cfg.KeepaliveThreshold,
		Sessions:  g.sessions,
		Logger:    logger,
		OnSweep:   g.onSweep,
	})
	return g, nil
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Devices returns the lifecycle manager shared by all workers.
func (g *Gateway) Devices() *lifecycle.Manager {
	return g.devices
}

// SweepNow runs one keepalive pass immediately.
func (g *Gateway) SweepNow(ctx context.Context) keepalive.Stats {
	return g.sweeper.SweepOnce(ctx)
}

// Start connects the transport, subscribes to the gateway topic and starts
// the workers. Broker failures are returned wrapped in transport.ErrConnect.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateIdle {
		g.mu.Unlock()
		return ErrAlreadyStarted
	}
	g.state = StateStarting
	g.mu.Unlock()

	if err := g.connect(ctx); err != nil {
		g.setState(StateIdle)
		return err
	}
	g.metrics.Connected(true)

	runCtx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.cancel = cancel
	g.stopIn = make(chan struct{})
	g.stopOut = make(chan struct{})
	g.inDone = make(chan struct{})
	g.outDone = make(chan struct{})
	g.state = StateRunning
	g.mu.Unlock()

	go g.inboundLoop(runCtx, g.stopIn, g.inDone)
	go g.outboundLoop(g.stopOut, g.outDone)
	g.sweeper.Start(runCtx)

	g.logger.Info("gateway started",
		"name", g.config.Name,
		"suite", g.config.Suite.Name,
		"keepalive", g.config.KeepaliveInterval)
	return nil
}

func (g *Gateway) connect(ctx context.Context) error {
	if err := g.transport.Connect(ctx); err != nil {
		if errors.Is(err, transport.ErrConnect) {
			return err
		}
		return fmt.Errorf("%w: %w", transport.ErrConnect, err)
	}
	if err := g.transport.Subscribe(g.config.Name, g.receive); err != nil {
		_ = g.transport.Close()
		return fmt.Errorf("%w: subscribe %q: %w", transport.ErrConnect, g.config.Name, err)
	}
	return nil
}

// Stop stops accepting messages, lets the in-flight handler finish,
// publishes queued replies within the drain timeout and closes the
// transport.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	if g.state != StateRunning {
		g.mu.Unlock()
		return ErrNotStarted
	}
	g.state = StateStopping
	g.mu.Unlock()

	// Producers stop first so the outbound drain sees every reply.
	g.sweeper.Stop()
	g.scheduler.Stop()
	close(g.stopIn)
	<-g.inDone
	close(g.stopOut)
	<-g.outDone
	g.cancel()

	err := g.transport.Close()
	g.metrics.Connected(false)
	g.setState(StateStopped)
	g.logger.Info("gateway stopped")
	return err
}

func (g *Gateway) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// receive is the transport handler. It never blocks.
func (g *Gateway) receive(msg transport.Message) {
	if !g.limiter.Allow(wire.DeviceID(msg.Sender), time.Now()) {
		g.metrics.Dropped(metrics.ReasonRateLimited)
		g.logger.Debug("rate limited", "sender", msg.Sender)
		return
	}
	if err := g.Enqueue(msg); err != nil {
		g.logger.Debug("inbound dropped", "sender", msg.Sender, "error", err)
	}
}

// Enqueue queues an inbound message for the dispatcher without blocking.
func (g *Gateway) Enqueue(msg transport.Message) error {
	g.mu.RLock()
	running := g.state == StateRunning
	g.mu.RUnlock()
	if !running {
		return ErrNotStarted
	}

	select {
	case g.inbound <- msg:
		g.metrics.QueueDepth(queueInbound, len(g.inbound))
		return nil
	default:
		g.metrics.Dropped(metrics.ReasonQueueFull)
		return fmt.Errorf("%w: %s", ErrQueueFull, queueInbound)
	}
}

// onRepeat re-injects a CONNECTION_STRING whose repeat delay elapsed.
func (g *Gateway) onRepeat(key schedule.Key, value any) {
	msg, ok := value.(transport.Message)
	if !ok {
		return
	}
	if err := g.Enqueue(msg); err != nil {
		g.logger.Debug("repeat dropped", "device", key.Device, "error", err)
	}
}

// send is the dispatcher's sink. It waits up to SendTimeout for queue space.
func (g *Gateway) send(ctx context.Context, out dispatch.Outbound) error {
	select {
	case g.outbound <- out:
		g.metrics.QueueDepth(queueOutbound, len(g.outbound))
		return nil
	default:
	}

	timer := time.NewTimer(g.config.SendTimeout)
	defer timer.Stop()
	select {
	case g.outbound <- out:
		g.metrics.QueueDepth(queueOutbound, len(g.outbound))
		return nil
	case <-timer.C:
		g.metrics.Dropped(metrics.ReasonQueueFull)
		return fmt.Errorf("%w: %s", ErrQueueFull, queueOutbound)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// probe is the keepalive sweeper's send function.
func (g *Gateway) probe(ctx context.Context, id wire.DeviceID, payload []byte) error {
	return g.send(ctx, dispatch.Outbound{
		Topic:   transport.DeviceTopic(id),
		Device:  id,
		Payload: payload,
		TraceID: log.NewTraceID(),
	})
}

func (g *Gateway) inboundLoop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stopCh:
			return
		case msg := <-g.inbound:
			g.metrics.QueueDepth(queueInbound, len(g.inbound))
			// Errors are counted and traced by the pipeline.
			_ = g.pipeline.Process(ctx, msg)
			g.metrics.Sessions(g.sessions.Len())
		}
	}
}

func (g *Gateway) outboundLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stopCh:
			g.drain()
			return
		case out := <-g.outbound:
			g.publish(context.Background(), out)
		}
	}
}

// drain publishes what is left in the outbound queue until it is empty or
// the drain timeout passes.
func (g *Gateway) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.DrainTimeout)
	defer cancel()

	for {
		select {
		case out := <-g.outbound:
			g.publish(ctx, out)
		default:
			return
		}
		if ctx.Err() != nil {
			g.logger.Warn("drain timeout, discarding queued replies", "remaining", len(g.outbound))
			return
		}
	}
}

func (g *Gateway) publish(ctx context.Context, out dispatch.Outbound) {
	g.metrics.QueueDepth(queueOutbound, len(g.outbound))

	frame, err := g.sealer.Seal(ctx, out)
	if err != nil {
		g.logger.Warn("seal failed", "topic", out.Topic, "error", err)
		g.traceError(out, log.LayerEnvelope, err)
		return
	}
	if err := g.transport.Publish(ctx, out.Topic, frame); err != nil {
		g.logger.Warn("publish failed", "topic", out.Topic, "error", err)
		g.traceError(out, log.LayerTransport, err)
		return
	}

	command := "RELAY"
	if out.Device != "" {
		tag, _ := wire.CommandTag(out.Payload)
		command = tag.String()
	}
	g.metrics.Outbound(command)
	log.Stamp(g.trace, log.Event{
		TraceID:   out.TraceID,
		Direction: log.DirectionOut,
		Layer:     log.LayerTransport,
		Category:  category(out),
		DeviceID:  out.Device.String(),
		Topic:     out.Topic,
		Frame:     log.NewFrameEvent(frame, envelope.IsSecured(frame)),
	})
}

func category(out dispatch.Outbound) log.Category {
	if tag, ok := wire.CommandTag(out.Payload); ok && out.Device != "" && tag == wire.TagKeepalive {
		return log.CategoryControl
	}
	return log.CategoryMessage
}

func (g *Gateway) traceError(out dispatch.Outbound, layer log.Layer, err error) {
	log.Stamp(g.trace, log.Event{
		TraceID:   out.TraceID,
		Direction: log.DirectionOut,
		Layer:     layer,
		Category:  log.CategoryError,
		DeviceID:  out.Device.String(),
		Topic:     out.Topic,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: "publishing to " + out.Topic,
		},
	})
}

func (g *Gateway) onStatusChange(id wire.DeviceID, from, to lifecycle.Status) {
	g.metrics.Transition(to.String())
	log.Stamp(g.trace, log.Event{
		Layer:    log.LayerDispatch,
		Category: log.CategoryState,
		DeviceID: id.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDevice,
			OldState: from.String(),
			NewState: to.String(),
		},
	})
}

func (g *Gateway) onSweep(stats keepalive.Stats) {
	g.metrics.Sweep(stats.Probed, stats.Dead)
	g.metrics.Sessions(g.sessions.Len())
	if stats.Dead > 0 || stats.Errors > 0 {
		g.logger.Info("keepalive sweep",
			"devices", stats.Devices,
			"probed", stats.Probed,
			"dead", stats.Dead,
			"errors", stats.Errors,
			"expired_sessions", stats.ExpiredSessions)
	}
}
