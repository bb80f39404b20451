package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/connax-utim/uhost-go/pkg/envelope"
	"github.com/connax-utim/uhost-go/pkg/lifecycle"
	"github.com/connax-utim/uhost-go/pkg/log"
	"github.com/connax-utim/uhost-go/pkg/metrics"
	"github.com/connax-utim/uhost-go/pkg/srp"
	"github.com/connax-utim/uhost-go/pkg/transport"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Repeat-send defaults.
const (
	DefaultRepeatDelay = 5 * time.Second
	DefaultRepeatLimit = 5
)

// Deps are the capabilities handlers work with.
type Deps struct {
	Sessions  Sessions
	Devices   Devices
	Keys      Keys
	Registry  Registry
	Sink      Sink
	Scheduler Scheduler
}

// Config configures a Pipeline.
type Config struct {
	// Suite is the envelope suite. Defaults to envelope.SuiteV1.
	Suite *envelope.Suite

	// Params is the SRP parameter set. Defaults to srp.V1.
	Params *srp.Params

	// RepeatDelay is the wait before an unanswered CONNECTION_STRING is
	// processed again. Defaults to DefaultRepeatDelay.
	RepeatDelay time.Duration

	// RepeatLimit bounds repeat-sends per session. Zero disables them.
	RepeatLimit int

	// Tracker throttles HELLO after failed proofs. Defaults to a tracker
	// with DefaultProofTiers.
	Tracker *ProofTracker

	// Logger is used for operational logging. Nil disables logging.
	Logger *slog.Logger

	// Trace receives protocol events. Nil disables tracing.
	Trace log.Logger

	// Metrics records pipeline counters. Nil disables metrics.
	Metrics *metrics.Metrics
}

// Request is one inbound message as seen by a handler.
type Request struct {
	TraceID string

	// Message is the message as received from the transport.
	Message transport.Message

	Device  wire.DeviceID
	Tag     wire.Tag
	Payload []byte

	// Secured is set if the payload arrived inside a verified envelope.
	Secured bool

	// Status is the device status when dispatch began.
	Status lifecycle.Status

	relay bool
}

// Command returns the name of the command being handled.
func (r *Request) Command() string {
	if r.relay {
		return "FOR_SIGNATURE"
	}
	return r.Tag.String()
}

type handlerFunc func(ctx context.Context, req *Request) error

// Pipeline decodes, authenticates, gates and dispatches inbound messages.
// Process must be called from a single goroutine.
type Pipeline struct {
	sessions  Sessions
	devices   Devices
	keys      Keys
	registry  Registry
	sink      Sink
	scheduler Scheduler

	suite       *envelope.Suite
	params      *srp.Params
	repeatDelay time.Duration
	repeatLimit int
	tracker     *ProofTracker

	logger  *slog.Logger
	trace   log.Logger
	metrics *metrics.Metrics

	handlers map[wire.Tag]handlerFunc
}

// New creates a Pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	p := &Pipeline{
		sessions:    deps.Sessions,
		devices:     deps.Devices,
		keys:        deps.Keys,
		registry:    deps.Registry,
		sink:        deps.Sink,
		scheduler:   deps.Scheduler,
		suite:       cfg.Suite,
		params:      cfg.Params,
		repeatDelay: cfg.RepeatDelay,
		repeatLimit: cfg.RepeatLimit,
		tracker:     cfg.Tracker,
		logger:      cfg.Logger,
		trace:       log.OrNoop(cfg.Trace),
		metrics:     cfg.Metrics,
	}
	if p.suite == nil {
		p.suite = envelope.SuiteV1
	}
	if p.params == nil {
		p.params = srp.V1
	}
	if p.repeatDelay <= 0 {
		p.repeatDelay = DefaultRepeatDelay
	}
	if p.tracker == nil {
		p.tracker = NewProofTracker(DefaultProofTiers)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	p.handlers = map[wire.Tag]handlerFunc{
		wire.TagHello:            p.handleHello,
		wire.TagCheck:            p.handleCheck,
		wire.TagTrusted:          p.handleTrusted,
		wire.TagSigned:           p.handleSigned,
		wire.TagVerified:         p.handleVerified,
		wire.TagConnectionString: p.handleConnectionString,
		wire.TagKeepaliveAnswer:  p.handleKeepaliveAnswer,
	}
	return p
}

// Suite returns the envelope suite in use.
func (p *Pipeline) Suite() *envelope.Suite {
	return p.suite
}

// Process handles one inbound message. A non-nil error means the message
// was dropped; it is safe to continue with the next message.
func (p *Pipeline) Process(ctx context.Context, msg transport.Message) (err error) {
	req := &Request{TraceID: log.NewTraceID(), Message: msg}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic handling message from %q: %v", ErrInternal, msg.Sender, r)
		}
		p.finish(req, time.Since(start), err)
	}()

	return p.process(ctx, req)
}

func (p *Pipeline) process(ctx context.Context, req *Request) error {
	msg := req.Message
	p.emit(log.Event{
		TraceID:   req.TraceID,
		Direction: log.DirectionIn,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		DeviceID:  msg.Sender,
		Topic:     msg.Topic,
		Frame:     log.NewFrameEvent(msg.Payload, envelope.IsSecured(msg.Payload)),
	})

	if strings.HasPrefix(msg.Sender, transport.PrefixForSignature) {
		return p.handleForSignature(ctx, req)
	}

	id, err := wire.ParseWireDeviceID(msg.Sender)
	if err != nil {
		return fmt.Errorf("%w: sender %q: %w", ErrUnknownDevice, msg.Sender, err)
	}
	req.Device = id

	ok, err := p.registry.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("registry lookup for %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	payload, secured, err := p.open(ctx, id, msg.Payload)
	if err != nil {
		return err
	}
	req.Payload = payload
	req.Secured = secured

	tag, ok := wire.CommandTag(payload)
	req.Tag = tag
	handler := p.handlers[tag]
	if !ok || handler == nil || (tag.RequiresSecured() && !secured) {
		return p.cleanup(req)
	}

	st, err := p.devices.Status(ctx, id)
	if err != nil {
		return fmt.Errorf("status of %s: %w", id, err)
	}
	req.Status = st
	if !Allowed(tag, st) {
		return &StateError{Device: id, Command: tag, Status: st}
	}

	return handler(ctx, req)
}

// open verifies and decrypts a secured frame with the device's session key.
func (p *Pipeline) open(ctx context.Context, id wire.DeviceID, frame []byte) ([]byte, bool, error) {
	if !envelope.IsSecured(frame) {
		return frame, false, nil
	}
	key, err := p.keys.SessionKey(ctx, id)
	if err != nil {
		return nil, true, fmt.Errorf("session key for %s: %w", id, err)
	}
	payload, secured, err := p.suite.Open(key, frame)
	if err != nil {
		return nil, secured, fmt.Errorf("device %s: %w", id, err)
	}
	return payload, secured, nil
}

// cleanup drops a command no handler accepts.
func (p *Pipeline) cleanup(req *Request) error {
	p.logger.Debug("unrecognized command", "device", req.Device, "tag", req.Tag, "secured", req.Secured, "size", len(req.Payload))
	if len(req.Payload) == 0 {
		return fmt.Errorf("%w: empty payload from %s", ErrUnrecognized, req.Device)
	}
	return fmt.Errorf("%w: 0x%02x (%s) from %s, secured=%t", ErrUnrecognized, uint8(req.Tag), req.Tag, req.Device, req.Secured)
}

// reply queues payload for the requesting device.
func (p *Pipeline) reply(ctx context.Context, req *Request, payload []byte) error {
	out := Outbound{
		Topic:   transport.DeviceTopic(req.Device),
		Device:  req.Device,
		Payload: payload,
		TraceID: req.TraceID,
	}
	if err := p.sink.Send(ctx, out); err != nil {
		return fmt.Errorf("reply to %s: %w", req.Device, err)
	}
	return nil
}

// relay queues payload for a relay topic, outside the envelope.
func (p *Pipeline) relay(ctx context.Context, req *Request, topic string, payload []byte) error {
	out := Outbound{Topic: topic, Payload: payload, TraceID: req.TraceID}
	if err := p.sink.Send(ctx, out); err != nil {
		return fmt.Errorf("relay to %s: %w", topic, err)
	}
	return nil
}

// replyError sends ERROR(diagnostic) and returns cause.
func (p *Pipeline) replyError(ctx context.Context, req *Request, diagnostic string, cause error) error {
	if err := p.reply(ctx, req, wire.AssembleError(diagnostic)); err != nil {
		return fmt.Errorf("%w (%w)", cause, err)
	}
	return cause
}

func (p *Pipeline) emit(event log.Event) {
	log.Stamp(p.trace, event)
}

func (p *Pipeline) finish(req *Request, took time.Duration, err error) {
	p.metrics.HandleTime(took)

	device := req.Message.Sender
	if req.Payload != nil {
		category := log.CategoryMessage
		if req.Tag == wire.TagKeepaliveAnswer {
			category = log.CategoryControl
		}
		p.emit(log.Event{
			TraceID:   req.TraceID,
			Direction: log.DirectionIn,
			Layer:     log.LayerDispatch,
			Category:  category,
			DeviceID:  device,
			Command: &log.CommandEvent{
				Tag:      uint8(req.Tag),
				Name:     req.Command(),
				Size:     len(req.Payload),
				Secured:  req.Secured,
				Duration: &took,
			},
		})
	}

	if err == nil {
		p.metrics.Inbound(req.Command())
		p.logger.Debug("handled", "device", device, "command", req.Command(), "took", took)
		return
	}

	reason := Reason(err)
	p.metrics.Dropped(reason)
	p.logger.Debug("dropped", "sender", device, "reason", reason, "error", err)

	layer := log.LayerDispatch
	if errors.Is(err, envelope.ErrCrypto) {
		layer = log.LayerEnvelope
	}
	p.emit(log.Event{
		TraceID:   req.TraceID,
		Direction: log.DirectionIn,
		Layer:     layer,
		Category:  log.CategoryError,
		DeviceID:  device,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Kind:    reason,
			Context: "processing " + req.Command(),
		},
	})
}
