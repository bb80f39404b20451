package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/connax-utim/uhost-go/pkg/wire"
)

const (
	dev1 = wire.DeviceID("0a0b0c0d0e0f101112131415")
	dev2 = wire.DeviceID("1a1b1c1d1e1f202122232425")
)

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		rps   float64
		burst int
	}{
		{0, 1},
		{-1, 1},
		{1, 0},
	}
	for _, tt := range tests {
		l := New(tt.rps, tt.burst, 0)
		if l != nil {
			t.Errorf("New(%v, %d) = %v, want nil", tt.rps, tt.burst, l)
		}
		if !l.Allow(dev1, time.Now()) {
			t.Error("nil limiter refused a message")
		}
		if l.Len() != 0 {
			t.Error("nil limiter tracks devices")
		}
	}
}

func TestBurstThenRefill(t *testing.T) {
	l := New(1, 3, time.Minute)
	now := time.Unix(1000, 0)

	for i := 0; i < 3; i++ {
		if !l.Allow(dev1, now) {
			t.Fatalf("message %d refused within burst", i)
		}
	}
	if l.Allow(dev1, now) {
		t.Fatal("message beyond burst allowed")
	}

	// Other devices have their own bucket.
	if !l.Allow(dev2, now) {
		t.Error("second device throttled by the first")
	}

	if !l.Allow(dev1, now.Add(time.Second)) {
		t.Error("bucket did not refill after one second")
	}
}

func TestEmptyIDAllowed(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Now()
	for i := 0; i < 5; i++ {
		if !l.Allow("", now) {
			t.Fatal("empty id throttled")
		}
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
}

func TestIdleEviction(t *testing.T) {
	l := New(100, 100, time.Minute)
	start := time.Unix(1000, 0)

	l.Allow(dev1, start)

	later := start.Add(2 * time.Minute)
	for i := 1; i < evictEvery; i++ {
		id := wire.DeviceID(fmt.Sprintf("%024x", i))
		l.Allow(id, later)
	}

	if l.Len() != evictEvery-1 {
		t.Errorf("Len() = %d, want %d (idle device evicted)", l.Len(), evictEvery-1)
	}
}
