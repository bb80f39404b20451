package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/connax-utim/uhost-go/pkg/envelope"
	"github.com/connax-utim/uhost-go/pkg/lifecycle"
	"github.com/connax-utim/uhost-go/pkg/log"
	"github.com/connax-utim/uhost-go/pkg/schedule"
	"github.com/connax-utim/uhost-go/pkg/session"
	"github.com/connax-utim/uhost-go/pkg/store"
	"github.com/connax-utim/uhost-go/pkg/tlv"
	"github.com/connax-utim/uhost-go/pkg/transport"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

var errRepeatLimit = errors.New("repeat limit reached")

// handleHello answers HELLO(A) with TRY(salt, B). A HELLO carrying a
// different A than the current session replaces the session wholesale; the
// same A is answered with the existing challenge.
func (p *Pipeline) handleHello(ctx context.Context, req *Request) error {
	if wait := p.tracker.Wait(req.Device); wait > 0 {
		return fmt.Errorf("%w: %s may retry in %s", ErrThrottled, req.Device, wait)
	}

	a, err := wire.ParseValue(req.Payload, wire.TagHello)
	if err != nil {
		return p.replyError(ctx, req, "hello invalid data", err)
	}

	// Only a retransmitted HELLO with the same A keeps the current session.
	sess, ok := p.sessions.Get(req.Device)
	if !ok || !bytes.Equal(sess.A, a) {
		if ok {
			p.sessions.Remove(req.Device)
			p.scheduler.CancelDevice(req.Device)
			p.traceSession(req, "", "DISCARDED", "new client value")
		}
		if sess, err = p.sessions.GetOrCreate(req.Device); err != nil {
			return fmt.Errorf("%w: session for %s: %w", ErrInternal, req.Device, err)
		}
	}

	// Same A: answer with the existing verifier's B.
	svr := sess.Server
	if svr == nil {
		if svr, err = p.params.NewVerifier(req.Device.Bytes(), sess.Salt, sess.Verifier, a); err != nil {
			return p.replyError(ctx, req, "hello no challenge", fmt.Errorf("device %s: %w", req.Device, err))
		}
		sess.A = bytes.Clone(a)
		sess.Server = svr
		p.sessions.Replace(sess)
		p.traceSession(req, "", "CHALLENGED", "HELLO")
	}

	salt, b := svr.Challenge()
	if err := p.reply(ctx, req, wire.AssembleTry(salt, b)); err != nil {
		return err
	}
	return p.devices.StartHandshake(ctx, req.Device)
}

// handleCheck verifies the client proof, persists the session key and
// answers INIT(HAMK). A rejected proof ends the session.
func (p *Pipeline) handleCheck(ctx context.Context, req *Request) error {
	m, err := wire.ParseValue(req.Payload, wire.TagCheck)
	if err != nil {
		return p.replyError(ctx, req, "check invalid data", err)
	}

	sess, ok := p.sessions.Get(req.Device)
	if !ok {
		return p.replyError(ctx, req, "check no session", fmt.Errorf("%w: %s", ErrNoSession, req.Device))
	}
	if sess.Server == nil {
		return p.replyError(ctx, req, "check svr none", fmt.Errorf("%w: %s sent no HELLO", ErrNoSession, req.Device))
	}

	hamk := sess.Server.VerifySession(m)
	if hamk == nil {
		p.tracker.RecordFailure(req.Device)
		p.sessions.Remove(req.Device)
		p.metrics.Handshake(false)
		p.traceSession(req, "CHALLENGED", "REJECTED", "bad proof")
		return p.replyError(ctx, req, "check hamk none", fmt.Errorf("%w: %s", ErrProofRejected, req.Device))
	}

	key, err := sess.Server.SessionKey()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInternal, req.Device, err)
	}
	if err := p.keys.SetSessionKey(ctx, req.Device, key); err != nil {
		return fmt.Errorf("store session key for %s: %w", req.Device, err)
	}
	p.sessions.Remove(req.Device)
	p.tracker.Reset(req.Device)
	p.metrics.Handshake(true)
	p.traceSession(req, "CHALLENGED", "AUTHENTICATED", "CHECK")

	if err := p.reply(ctx, req, wire.AssembleInit(hamk)); err != nil {
		return err
	}
	if err := p.devices.ResetKeepalive(ctx, req.Device); err != nil {
		p.logger.Warn("keepalive counter not reset", "device", req.Device, "error", err)
	}
	return nil
}

// handleTrusted completes onboarding once the device installed its key.
func (p *Pipeline) handleTrusted(ctx context.Context, req *Request) error {
	if _, err := wire.ParseValue(req.Payload, wire.TagTrusted); err != nil {
		return err
	}

	key, err := p.keys.SessionKey(ctx, req.Device)
	if err != nil {
		return fmt.Errorf("session key for %s: %w", req.Device, err)
	}
	if key == nil {
		return p.replyError(ctx, req, "trusted no Session Key",
			fmt.Errorf("%w: %s: %w", envelope.ErrCrypto, req.Device, envelope.ErrNoKey))
	}

	if err := p.devices.SetStatus(ctx, req.Device, lifecycle.StatusDone); err != nil {
		return err
	}
	return p.reply(ctx, req, wire.AssembleAuthentic())
}

// handleVerified records that the device passed the platform test.
func (p *Pipeline) handleVerified(ctx context.Context, req *Request) error {
	if _, err := wire.ParseValue(req.Payload, wire.TagVerified); err != nil {
		return err
	}

	err := p.sessions.Update(req.Device, func(s *session.Session) error {
		s.PlatformVerified = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: session for %s: %w", ErrInternal, req.Device, err)
	}
	_ = p.scheduler.Cancel(schedule.Key{Device: req.Device, Kind: schedule.KindRepeatStatus})

	if err := p.devices.SetStatus(ctx, req.Device, lifecycle.StatusDone); err != nil {
		return err
	}
	return p.reply(ctx, req, wire.AssembleAuthentic())
}

// handleConnectionString starts or repeats the platform test on SUCCESS. The
// command is processed again after the repeat delay until the device is
// verified, leaves TESTING or the repeat limit is reached.
func (p *Pipeline) handleConnectionString(ctx context.Context, req *Request) error {
	status, err := wire.ParseConnectionStatus(req.Payload)
	if err != nil {
		return err
	}

	switch status {
	case wire.ConnectionError:
		p.logger.Info("device reported platform connection error", "device", req.Device)
		return nil
	case wire.ConnectionSuccess:
	default:
		return fmt.Errorf("CONNECTION_STRING: %w: status 0x%02x", tlv.ErrFormat, uint8(status))
	}

	sess, err := p.sessions.GetOrCreate(req.Device)
	if err != nil {
		return fmt.Errorf("%w: session for %s: %w", ErrInternal, req.Device, err)
	}
	if sess.PlatformVerified {
		p.logger.Debug("platform already verified", "device", req.Device)
		return nil
	}

	if err := p.reply(ctx, req, wire.AssembleTestPlatformData(sess.TestData)); err != nil {
		return err
	}
	if err := p.devices.SetStatus(ctx, req.Device, lifecycle.StatusTesting); err != nil {
		return err
	}
	return p.scheduleRepeat(req)
}

func (p *Pipeline) scheduleRepeat(req *Request) error {
	err := p.sessions.Update(req.Device, func(s *session.Session) error {
		if s.Repeats >= p.repeatLimit {
			return errRepeatLimit
		}
		s.Repeats++
		return nil
	})
	if errors.Is(err, errRepeatLimit) {
		p.logger.Debug("platform test repeat limit reached", "device", req.Device, "limit", p.repeatLimit)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: session for %s: %w", ErrInternal, req.Device, err)
	}

	key := schedule.Key{Device: req.Device, Kind: schedule.KindRepeatStatus}
	if err := p.scheduler.Schedule(key, p.repeatDelay, req.Message); err != nil {
		return fmt.Errorf("schedule repeat for %s: %w", req.Device, err)
	}
	return nil
}

// handleKeepaliveAnswer resets the keepalive counter and checks for
// configuration drift.
func (p *Pipeline) handleKeepaliveAnswer(ctx context.Context, req *Request) error {
	if _, err := wire.ParseValue(req.Payload, wire.TagKeepaliveAnswer); err != nil {
		return err
	}

	cfg, err := p.registry.Configuration(ctx, req.Device)
	if err != nil {
		return fmt.Errorf("configuration of %s: %w", req.Device, err)
	}
	st, err := p.devices.ApplyConfigHash(ctx, req.Device, store.ConfigHash(cfg), store.NoConfigHash)
	if err != nil {
		return err
	}
	if st != req.Status {
		p.logger.Info("configuration changed", "device", req.Device, "status", st)
	}
	return nil
}

// handleSigned verifies SIGNED(message) || SIGNATURE(mac) with the device's
// session key and forwards the message to client applications.
func (p *Pipeline) handleSigned(ctx context.Context, req *Request) error {
	message, mac, err := wire.ParseSigned(req.Payload)
	if err != nil {
		return err
	}
	if len(mac) != p.suite.MACSize {
		return fmt.Errorf("SIGNED: %w: signature has %d bytes, want %d", tlv.ErrFormat, len(mac), p.suite.MACSize)
	}

	key, err := p.keys.SessionKey(ctx, req.Device)
	if err != nil {
		return fmt.Errorf("session key for %s: %w", req.Device, err)
	}
	if key == nil {
		return fmt.Errorf("%w: %s: %w", envelope.ErrCrypto, req.Device, envelope.ErrNoKey)
	}
	if !p.suite.Verify(key, message, mac) {
		return fmt.Errorf("%w: %s: %w", envelope.ErrCrypto, req.Device, envelope.ErrSignature)
	}

	return p.relay(ctx, req, transport.ToClientTopic(req.Device), bytes.Clone(message))
}

// handleForSignature signs a client message on behalf of a device and
// forwards it toward the device service.
func (p *Pipeline) handleForSignature(ctx context.Context, req *Request) error {
	req.relay = true
	req.Payload = req.Message.Payload

	id, ok := transport.ParseForSignature(req.Message.Sender)
	if !ok {
		return fmt.Errorf("%w: %w: relay sender %q", tlv.ErrFormat, wire.ErrInvalidDeviceID, req.Message.Sender)
	}
	req.Device = id
	if len(req.Payload) == 0 {
		return fmt.Errorf("%w: empty relay message for %s", tlv.ErrFormat, id)
	}

	key, err := p.keys.SessionKey(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if err != nil {
		return fmt.Errorf("session key for %s: %w", id, err)
	}
	if key == nil {
		return fmt.Errorf("%w: %s: %w", envelope.ErrCrypto, id, envelope.ErrNoKey)
	}

	mac, err := p.suite.Sign(key, req.Payload)
	if err != nil {
		return err
	}
	packet, err := wire.AssembleSigned(req.Payload, mac)
	if err != nil {
		return err
	}
	return p.relay(ctx, req, transport.ToDSTopic(id), packet)
}

func (p *Pipeline) traceSession(req *Request, from, to, reason string) {
	p.emit(log.Event{
		TraceID:   req.TraceID,
		Direction: log.DirectionIn,
		Layer:     log.LayerDispatch,
		Category:  log.CategoryState,
		DeviceID:  req.Device.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}
