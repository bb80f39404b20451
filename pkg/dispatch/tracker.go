package dispatch

import (
	"sync"
	"time"

	"github.com/connax-utim/uhost-go/pkg/wire"
)

// DefaultProofTiers are the HELLO refusal windows by attempt number:
// [1-3, 4-6, 7-10, 11+].
var DefaultProofTiers = [4]time.Duration{0, 2 * time.Second, 10 * time.Second, time.Minute}

// ProofTracker counts consecutive failed CHECK proofs per device. After a
// failure the device's next HELLO is refused until the delay of its tier has
// passed since that failure. A successful proof resets the count.
type ProofTracker struct {
	mu      sync.Mutex
	tiers   [4]time.Duration
	now     func() time.Time
	devices map[wire.DeviceID]*proofRecord
}

type proofRecord struct {
	failures int
	last     time.Time
}

// NewProofTracker creates a tracker with the given tiers.
func NewProofTracker(tiers [4]time.Duration) *ProofTracker {
	return &ProofTracker{
		tiers:   tiers,
		now:     time.Now,
		devices: make(map[wire.DeviceID]*proofRecord),
	}
}

// tier returns the delay applied before the attempt that follows the given
// number of failures.
func (t *ProofTracker) tier(failures int) time.Duration {
	attempt := failures + 1
	switch {
	case attempt <= 3:
		return t.tiers[0]
	case attempt <= 6:
		return t.tiers[1]
	case attempt <= 10:
		return t.tiers[2]
	default:
		return t.tiers[3]
	}
}

// Wait returns how long the device must still wait before a new HELLO is
// accepted. Zero means it may proceed.
func (t *ProofTracker) Wait(id wire.DeviceID) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.devices[id]
	if !ok {
		return 0
	}
	remaining := rec.last.Add(t.tier(rec.failures)).Sub(t.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordFailure counts a rejected proof.
func (t *ProofTracker) RecordFailure(id wire.DeviceID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.devices[id]
	if !ok {
		rec = &proofRecord{}
		t.devices[id] = rec
	}
	rec.failures++
	rec.last = t.now()
}

// Reset forgets the device's failures.
func (t *ProofTracker) Reset(id wire.DeviceID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.devices, id)
}

// Failures returns the device's consecutive failure count.
func (t *ProofTracker) Failures(id wire.DeviceID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.devices[id]; ok {
		return rec.failures
	}
	return 0
}
