package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/connax-utim/uhost-go/pkg/wire"
)

// ErrInvalidTransition is returned when a status change is not allowed from
// the device's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError describes a rejected status change.
type TransitionError struct {
	Device wire.DeviceID
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("device %s: %s -> %s: %v", e.Device, e.From, e.To, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Backend persists the per-device lifecycle fields. Each call must be atomic
// for its device; the Manager serializes read-modify-write sequences.
type Backend interface {
	Status(ctx context.Context, id wire.DeviceID) (Status, error)
	SetStatus(ctx context.Context, id wire.DeviceID, s Status) error
	KeepaliveCounter(ctx context.Context, id wire.DeviceID) (int, error)
	SetKeepaliveCounter(ctx context.Context, id wire.DeviceID, n int) error
	ConfigHash(ctx context.Context, id wire.DeviceID) (string, error)
	SetConfigHash(ctx context.Context, id wire.DeviceID, hash string) error
}

// ChangeFunc observes committed status changes.
type ChangeFunc func(id wire.DeviceID, from, to Status)

// Config configures a Manager.
type Config struct {
	// Logger for status changes. Nil disables logging.
	Logger *slog.Logger

	// OnChange is called after every committed status change, outside any
	// device lock.
	OnChange ChangeFunc
}

// SweepResult is the outcome of one keepalive step for a device.
type SweepResult uint8

const (
	// SweepSkipped means the device is not monitored in its status.
	SweepSkipped SweepResult = iota

	// SweepProbed means the counter was incremented and a probe is due.
	SweepProbed

	// SweepDead means the counter exceeded the threshold and the device was
	// marked DED.
	SweepDead
)

// String returns the result name.
func (r SweepResult) String() string {
	switch r {
	case SweepSkipped:
		return "SKIPPED"
	case SweepProbed:
		return "PROBED"
	case SweepDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Manager performs status and counter bookkeeping with per-device atomicity.
// Operations on different devices never block each other.
type Manager struct {
	backend  Backend
	logger   *slog.Logger
	onChange ChangeFunc

	mu    sync.Mutex
	locks map[wire.DeviceID]*deviceLock
}

type deviceLock struct {
	sync.Mutex
	refs int
}

// NewManager creates a Manager over backend.
func NewManager(backend Backend, cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		backend:  backend,
		logger:   logger,
		onChange: cfg.OnChange,
		locks:    make(map[wire.DeviceID]*deviceLock),
	}
}

// lock acquires the device lock and returns its release function.
func (m *Manager) lock(id wire.DeviceID) func() {
	m.mu.Lock()
	l := m.locks[id]
	if l == nil {
		l = &deviceLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

type change struct {
	from, to Status
	done     bool
}

func (m *Manager) notify(id wire.DeviceID, c change) {
	if !c.done || c.from == c.to {
		return
	}
	m.logger.Debug("status changed", "device", id, "from", c.from, "to", c.to)
	if m.onChange != nil {
		m.onChange(id, c.from, c.to)
	}
}

// transition validates and writes a status change. The device lock must be
// held.
func (m *Manager) transition(ctx context.Context, id wire.DeviceID, to Status) (change, error) {
	from, err := m.backend.Status(ctx, id)
	if err != nil {
		return change{}, err
	}
	if !CanTransition(from, to) {
		return change{}, &TransitionError{Device: id, From: from, To: to}
	}
	if err := m.backend.SetStatus(ctx, id, to); err != nil {
		return change{}, err
	}
	return change{from: from, to: to, done: true}, nil
}

// Status returns the device's current status.
func (m *Manager) Status(ctx context.Context, id wire.DeviceID) (Status, error) {
	return m.backend.Status(ctx, id)
}

// SetStatus moves the device to a new status if the transition is allowed.
func (m *Manager) SetStatus(ctx context.Context, id wire.DeviceID, to Status) error {
	unlock := m.lock(id)
	c, err := m.transition(ctx, id, to)
	unlock()
	m.notify(id, c)
	return err
}

// StartHandshake resets the keepalive counter and moves the device to SRP.
func (m *Manager) StartHandshake(ctx context.Context, id wire.DeviceID) error {
	unlock := m.lock(id)
	c, err := func() (change, error) {
		if err := m.backend.SetKeepaliveCounter(ctx, id, 0); err != nil {
			return change{}, err
		}
		return m.transition(ctx, id, StatusSRP)
	}()
	unlock()
	m.notify(id, c)
	return err
}

// KeepaliveCounter returns the number of unanswered probes.
func (m *Manager) KeepaliveCounter(ctx context.Context, id wire.DeviceID) (int, error) {
	return m.backend.KeepaliveCounter(ctx, id)
}

// ResetKeepalive sets the counter to zero.
func (m *Manager) ResetKeepalive(ctx context.Context, id wire.DeviceID) error {
	unlock := m.lock(id)
	defer unlock()
	return m.backend.SetKeepaliveCounter(ctx, id, 0)
}

// ConfigHash returns the last acknowledged configuration hash.
func (m *Manager) ConfigHash(ctx context.Context, id wire.DeviceID) (string, error) {
	return m.backend.ConfigHash(ctx, id)
}

// SetConfigHash stores a configuration hash.
func (m *Manager) SetConfigHash(ctx context.Context, id wire.DeviceID, hash string) error {
	unlock := m.lock(id)
	defer unlock()
	return m.backend.SetConfigHash(ctx, id, hash)
}

// Sweep performs one keepalive step for a monitored device: a device whose
// counter exceeds threshold becomes DED, any other has its counter
// incremented and is due a probe.
func (m *Manager) Sweep(ctx context.Context, id wire.DeviceID, threshold int) (SweepResult, error) {
	unlock := m.lock(id)
	res, c, err := func() (SweepResult, change, error) {
		st, err := m.backend.Status(ctx, id)
		if err != nil {
			return SweepSkipped, change{}, err
		}
		if !st.Monitored() {
			return SweepSkipped, change{}, nil
		}

		n, err := m.backend.KeepaliveCounter(ctx, id)
		if err != nil {
			return SweepSkipped, change{}, err
		}
		if n > threshold {
			c, err := m.transition(ctx, id, StatusDed)
			if err != nil {
				return SweepSkipped, change{}, err
			}
			return SweepDead, c, nil
		}
		if err := m.backend.SetKeepaliveCounter(ctx, id, n+1); err != nil {
			return SweepSkipped, change{}, err
		}
		return SweepProbed, change{}, nil
	}()
	unlock()
	m.notify(id, c)
	return res, err
}

// ApplyConfigHash handles a keepalive answer. It resets the counter and
// compares current against the stored hash. On a mismatch the device moves
// to NO_CONFIG when current is the no-configuration sentinel, storing it, and
// to CONFIGURING otherwise. The resulting status is returned.
func (m *Manager) ApplyConfigHash(ctx context.Context, id wire.DeviceID, current, noConfig string) (Status, error) {
	unlock := m.lock(id)
	st, c, err := func() (Status, change, error) {
		if err := m.backend.SetKeepaliveCounter(ctx, id, 0); err != nil {
			return 0, change{}, err
		}
		stored, err := m.backend.ConfigHash(ctx, id)
		if err != nil {
			return 0, change{}, err
		}
		if stored == current {
			st, err := m.backend.Status(ctx, id)
			return st, change{}, err
		}

		if current == noConfig {
			c, err := m.transition(ctx, id, StatusNoConfig)
			if err != nil {
				return 0, change{}, err
			}
			if err := m.backend.SetConfigHash(ctx, id, current); err != nil {
				return 0, c, err
			}
			return StatusNoConfig, c, nil
		}

		c, err := m.transition(ctx, id, StatusConfiguring)
		if err != nil {
			return 0, change{}, err
		}
		return StatusConfiguring, c, nil
	}()
	unlock()
	m.notify(id, c)
	return st, err
}

// AcknowledgeConfig records that the device applied the configuration with
// the given hash and moves a CONFIGURING device back to DONE.
func (m *Manager) AcknowledgeConfig(ctx context.Context, id wire.DeviceID, hash string) error {
	unlock := m.lock(id)
	c, err := func() (change, error) {
		if err := m.backend.SetConfigHash(ctx, id, hash); err != nil {
			return change{}, err
		}
		st, err := m.backend.Status(ctx, id)
		if err != nil || st != StatusConfiguring {
			return change{}, err
		}
		return m.transition(ctx, id, StatusDone)
	}()
	unlock()
	m.notify(id, c)
	return err
}
