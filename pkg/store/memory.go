package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/connax-utim/uhost-go/pkg/lifecycle"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	devices map[wire.DeviceID]*memRecord
	now     func() time.Time
}

type memRecord struct {
	name       string
	status     lifecycle.Status
	sessionKey []byte
	configHash string
	counter    int
	updated    time.Time
	config     *Configuration
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		devices: make(map[wire.DeviceID]*memRecord),
		now:     time.Now,
	}
}

// Compile-time interface satisfaction check.
var _ Store = (*Memory)(nil)

func (s *Memory) read(id wire.DeviceID, fn func(r *memRecord)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.devices[id]
	if !ok {
		return ErrNotFound
	}
	fn(r)
	return nil
}

func (s *Memory) write(id wire.DeviceID, fn func(r *memRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.devices[id]
	if !ok {
		return ErrNotFound
	}
	fn(r)
	r.updated = s.now()
	return nil
}

// RegisterDevice implements Store.
func (s *Memory) RegisterDevice(_ context.Context, id wire.DeviceID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[id]; ok {
		return ErrExists
	}
	s.devices[id] = &memRecord{name: name, status: lifecycle.StatusNewborn, updated: s.now()}
	return nil
}

// DeviceIDs implements Store. Ids are returned sorted.
func (s *Memory) DeviceIDs(_ context.Context) ([]wire.DeviceID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]wire.DeviceID, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Exists implements Store.
func (s *Memory) Exists(_ context.Context, id wire.DeviceID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.devices[id]
	return ok, nil
}

// SessionKey implements Store.
func (s *Memory) SessionKey(_ context.Context, id wire.DeviceID) ([]byte, error) {
	var key []byte
	err := s.read(id, func(r *memRecord) { key = bytes.Clone(r.sessionKey) })
	return key, err
}

// SetSessionKey implements Store.
func (s *Memory) SetSessionKey(_ context.Context, id wire.DeviceID, key []byte) error {
	return s.write(id, func(r *memRecord) { r.sessionKey = bytes.Clone(key) })
}

// Status implements lifecycle.Backend.
func (s *Memory) Status(_ context.Context, id wire.DeviceID) (lifecycle.Status, error) {
	var st lifecycle.Status
	err := s.read(id, func(r *memRecord) { st = r.status })
	return st, err
}

// SetStatus implements lifecycle.Backend.
func (s *Memory) SetStatus(_ context.Context, id wire.DeviceID, st lifecycle.Status) error {
	return s.write(id, func(r *memRecord) { r.status = st })
}

// KeepaliveCounter implements lifecycle.Backend.
func (s *Memory) KeepaliveCounter(_ context.Context, id wire.DeviceID) (int, error) {
	var n int
	err := s.read(id, func(r *memRecord) { n = r.counter })
	return n, err
}

// SetKeepaliveCounter implements lifecycle.Backend.
func (s *Memory) SetKeepaliveCounter(_ context.Context, id wire.DeviceID, n int) error {
	return s.write(id, func(r *memRecord) { r.counter = n })
}

// ConfigHash implements lifecycle.Backend.
func (s *Memory) ConfigHash(_ context.Context, id wire.DeviceID) (string, error) {
	var h string
	err := s.read(id, func(r *memRecord) { h = r.configHash })
	return h, err
}

// SetConfigHash implements lifecycle.Backend.
func (s *Memory) SetConfigHash(_ context.Context, id wire.DeviceID, hash string) error {
	return s.write(id, func(r *memRecord) { r.configHash = hash })
}

// Configuration implements Store.
func (s *Memory) Configuration(_ context.Context, id wire.DeviceID) (*Configuration, error) {
	var cfg *Configuration
	err := s.read(id, func(r *memRecord) {
		if r.config != nil {
			c := *r.config
			cfg = &c
		}
	})
	return cfg, err
}

// SetConfiguration implements Store.
func (s *Memory) SetConfiguration(_ context.Context, id wire.DeviceID, cfg *Configuration) error {
	return s.write(id, func(r *memRecord) {
		if cfg == nil {
			r.config = nil
			return
		}
		c := *cfg
		r.config = &c
	})
}

// Record implements Store.
func (s *Memory) Record(_ context.Context, id wire.DeviceID) (*Record, error) {
	var rec *Record
	err := s.read(id, func(r *memRecord) {
		rec = &Record{
			ID:               id,
			Name:             r.name,
			Status:           r.status,
			HasSessionKey:    r.sessionKey != nil,
			ConfigHash:       r.configHash,
			KeepaliveCounter: r.counter,
			Updated:          r.updated,
		}
		if r.config != nil {
			c := *r.config
			rec.Config = &c
		}
	})
	return rec, err
}

// Close implements Store.
func (s *Memory) Close() error {
	return nil
}
