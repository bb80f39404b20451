// Package keepalive implements the periodic device liveness sweep.
//
// Each pass visits every registered device. A device in DONE or NO_CONFIG
// whose keepalive counter has passed the threshold is declared DED;
// otherwise its counter is incremented and a KEEPALIVE is sent. Answers are
// handled by the dispatcher, which resets the counter.
package keepalive

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/connax-utim/uhost-go/pkg/lifecycle"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Sweep constants.
const (
	// DefaultInterval is the time between sweeps.
	DefaultInterval = 15 * time.Second

	// DefaultThreshold is the highest counter value a device may reach
	// before it is declared dead.
	DefaultThreshold = 4
)

// Devices lists the registered devices.
type Devices interface {
	DeviceIDs(ctx context.Context) ([]wire.DeviceID, error)
}

// Lifecycle runs the per-device sweep step.
type Lifecycle interface {
	Sweep(ctx context.Context, id wire.DeviceID, threshold int) (lifecycle.SweepResult, error)
}

// SessionSweeper drops expired handshake sessions.
type SessionSweeper interface {
	Sweep() int
}

// SendFunc queues a payload for a device.
type SendFunc func(ctx context.Context, id wire.DeviceID, payload []byte) error

// Config configures a Sweeper.
type Config struct {
	// Interval is the time between sweeps.
	Interval time.Duration

	// Threshold is the counter value above which a device is dead.
	Threshold int

	// Sessions, if set, is swept on every pass.
	Sessions SessionSweeper

	// Logger is used for operational logging. Nil disables logging.
	Logger *slog.Logger

	// OnSweep, if set, is called with the statistics of every pass.
	OnSweep func(Stats)
}

// DefaultConfig returns the default sweep configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  DefaultInterval,
		Threshold: DefaultThreshold,
	}
}

// Stats summarizes one sweep pass.
type Stats struct {
	At              time.Time
	Devices         int
	Probed          int
	Dead            int
	Skipped         int
	Errors          int
	ExpiredSessions int
}

// Sweeper runs keepalive sweeps.
type Sweeper struct {
	config    Config
	devices   Devices
	lifecycle Lifecycle
	send      SendFunc
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	last    Stats
}

// New creates a sweeper. Zero config fields take their defaults.
func New(devices Devices, lc Lifecycle, send SendFunc, cfg Config) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sweeper{
		config:    cfg,
		devices:   devices,
		lifecycle: lc,
		send:      send,
		logger:    logger,
	}
}

// SweepOnce runs a single pass over all devices.
func (s *Sweeper) SweepOnce(ctx context.Context) Stats {
	stats := Stats{At: time.Now()}

	if s.config.Sessions != nil {
		stats.ExpiredSessions = s.config.Sessions.Sweep()
	}

	ids, err := s.devices.DeviceIDs(ctx)
	if err != nil {
		s.logger.Error("keepalive: list devices", "error", err)
		stats.Errors++
		s.finish(stats)
		return stats
	}
	stats.Devices = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		result, err := s.lifecycle.Sweep(ctx, id, s.config.Threshold)
		if err != nil {
			s.logger.Warn("keepalive: sweep device", "device", id, "error", err)
			stats.Errors++
			continue
		}

		switch result {
		case lifecycle.SweepDead:
			s.logger.Info("keepalive: device is dead", "device", id)
			stats.Dead++
		case lifecycle.SweepProbed:
			if err := s.send(ctx, id, wire.AssembleKeepalive()); err != nil {
				s.logger.Warn("keepalive: send", "device", id, "error", err)
				stats.Errors++
				continue
			}
			s.logger.Debug("keepalive: probe sent", "device", id)
			stats.Probed++
		default:
			stats.Skipped++
		}
	}

	s.finish(stats)
	return stats
}

func (s *Sweeper) finish(stats Stats) {
	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()

	if s.config.OnSweep != nil {
		s.config.OnSweep(stats)
	}
}

// Start begins the periodic sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	go s.loop(ctx, stopCh, done)
}

// Stop stops the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	<-done
}

// Done returns a channel closed when the current loop exits. It is nil if
// the sweeper was never started.
func (s *Sweeper) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// IsRunning returns true if the loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastStats returns the statistics of the most recent pass.
func (s *Sweeper) LastStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sweeper) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}
