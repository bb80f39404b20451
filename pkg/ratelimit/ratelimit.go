// Package ratelimit throttles inbound traffic per device.
//
// Each device gets its own token bucket. Buckets idle for longer than the
// idle TTL are evicted periodically so a flood of spoofed ids cannot grow
// the table without bound.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Defaults.
const (
	DefaultIdleTTL = 10 * time.Minute

	// evictEvery is the number of Allow calls between eviction passes.
	evictEvery = 512
)

// Limiter applies a token bucket per device id. A nil *Limiter allows
// everything.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[wire.DeviceID]*entry
	hits  uint64
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter allowing rps messages per second with the given
// burst. It returns nil, meaning unlimited, if rps or burst is not positive.
func New(rps float64, burst int, idleTTL time.Duration) *Limiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byKey:   make(map[wire.DeviceID]*entry),
	}
}

// Allow reports whether one message from id may be processed at now.
func (l *Limiter) Allow(id wire.DeviceID, now time.Time) bool {
	if l == nil || id == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[id]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[id] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%evictEvery == 0 {
		l.evict(now)
	}
	return allowed
}

// evict drops idle buckets. The lock must be held.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for id, e := range l.byKey {
		if e.lastSeen.Before(cutoff) {
			delete(l.byKey, id)
		}
	}
}

// Len returns the number of tracked devices.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}
