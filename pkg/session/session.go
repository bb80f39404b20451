// Package session holds in-progress SRP handshakes.
//
// There is at most one session per device. Replace swaps a device's session
// wholesale under the table lock, so a HELLO with a new client value can
// never observe or leave behind parts of the previous exchange. Sessions
// expire after a TTL measured from their last replacement.
package session

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/connax-utim/uhost-go/pkg/srp"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

// DefaultTTL is how long an idle handshake is kept.
const DefaultTTL = 2 * time.Minute

// TestDataSize is the size of the platform liveness nonce.
const TestDataSize = 32

// Session is the handshake state of one device.
type Session struct {
	Device wire.DeviceID

	// Salt and Verifier are derived once per session from the device id and
	// the master secret.
	Salt     []byte
	Verifier []byte

	// A is the client public value of the current exchange, nil before HELLO.
	A []byte

	// Server is the SRP verifier state, nil before HELLO.
	Server *srp.Verifier

	// TestData is the platform liveness nonce.
	TestData []byte

	// PlatformVerified is set once the device reported VERIFIED.
	PlatformVerified bool

	// Repeats counts CONNECTION_STRING repeat-sends scheduled so far.
	Repeats int

	// Touched is when the session was created or last replaced.
	Touched time.Time
}

// Factory creates a fresh session for a device.
type Factory func(id wire.DeviceID) (*Session, error)

// NewFactory returns a Factory deriving salt and verifier with params from
// the device id and the master secret, and drawing a random nonce.
func NewFactory(params *srp.Params, masterKey []byte) Factory {
	return newFactory(params, masterKey, rand.Reader)
}

func newFactory(params *srp.Params, masterKey []byte, random io.Reader) Factory {
	return func(id wire.DeviceID) (*Session, error) {
		salt, verifier, err := params.CreateSaltedVerificationKey(id.Bytes(), masterKey)
		if err != nil {
			return nil, fmt.Errorf("verifier for %s: %w", id, err)
		}
		nonce := make([]byte, TestDataSize)
		if _, err := io.ReadFull(random, nonce); err != nil {
			return nil, fmt.Errorf("test data for %s: %w", id, err)
		}
		return &Session{
			Device:   id,
			Salt:     salt,
			Verifier: verifier,
			TestData: nonce,
		}, nil
	}
}

// Config configures a Table.
type Config struct {
	// TTL is the session lifetime. Zero disables expiry.
	TTL time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Table is a concurrency-safe map from device id to session.
type Table struct {
	mu       sync.Mutex
	sessions map[wire.DeviceID]*Session
	factory  Factory
	ttl      time.Duration
	now      func() time.Time
}

// NewTable creates an empty table using factory for lazy creation.
func NewTable(factory Factory, cfg Config) *Table {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Table{
		sessions: make(map[wire.DeviceID]*Session),
		factory:  factory,
		ttl:      cfg.TTL,
		now:      now,
	}
}

// expired reports whether s outlived the TTL. The lock must be held.
func (t *Table) expired(s *Session) bool {
	return t.ttl > 0 && t.now().Sub(s.Touched) > t.ttl
}

// lookup returns the live session for id, dropping an expired one. The lock
// must be held.
func (t *Table) lookup(id wire.DeviceID) *Session {
	s, ok := t.sessions[id]
	if !ok {
		return nil
	}
	if t.expired(s) {
		delete(t.sessions, id)
		return nil
	}
	return s
}

// Get returns a copy of the device's session.
func (t *Table) Get(id wire.DeviceID) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.lookup(id)
	if s == nil {
		return Session{}, false
	}
	return *s, true
}

// GetOrCreate returns a copy of the device's session, creating one if none
// is live.
func (t *Table) GetOrCreate(id wire.DeviceID) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.getOrCreate(id)
	if err != nil {
		return Session{}, err
	}
	return *s, nil
}

func (t *Table) getOrCreate(id wire.DeviceID) (*Session, error) {
	if s := t.lookup(id); s != nil {
		return s, nil
	}
	s, err := t.factory(id)
	if err != nil {
		return nil, err
	}
	s.Device = id
	s.Touched = t.now()
	t.sessions[id] = s
	return s, nil
}

// Replace installs s as the device's only session.
func (t *Table) Replace(s Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s.Touched = t.now()
	t.sessions[s.Device] = &s
}

// Update applies fn to the device's session under the table lock, creating
// the session first if needed. Changes made by fn are kept only if it
// returns nil.
func (t *Table) Update(id wire.DeviceID, fn func(s *Session) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, err := t.getOrCreate(id)
	if err != nil {
		return err
	}
	next := *cur
	if err := fn(&next); err != nil {
		return err
	}
	t.sessions[id] = &next
	return nil
}

// Remove deletes the device's session.
func (t *Table) Remove(id wire.DeviceID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sessions, id)
}

// Sweep removes every expired session and returns how many were removed.
func (t *Table) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, s := range t.sessions {
		if t.expired(s) {
			delete(t.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions, expired or not.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.sessions)
}
