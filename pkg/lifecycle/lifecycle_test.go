package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/connax-utim/uhost-go/pkg/wire"
)

const dev = wire.DeviceID("0a0b0c0d0e0f101112131415")

type record struct {
	status  Status
	counter int
	hash    string
}

type memBackend struct {
	mu      sync.Mutex
	devices map[wire.DeviceID]*record
}

func newMemBackend(ids ...wire.DeviceID) *memBackend {
	b := &memBackend{devices: make(map[wire.DeviceID]*record)}
	for _, id := range ids {
		b.devices[id] = &record{}
	}
	return b
}

var errMissing = errors.New("missing")

func (b *memBackend) get(id wire.DeviceID) (*record, error) {
	r, ok := b.devices[id]
	if !ok {
		return nil, errMissing
	}
	return r, nil
}

func (b *memBackend) Status(_ context.Context, id wire.DeviceID) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.get(id)
	if err != nil {
		return 0, err
	}
	return r.status, nil
}

func (b *memBackend) SetStatus(_ context.Context, id wire.DeviceID, s Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.get(id)
	if err != nil {
		return err
	}
	r.status = s
	return nil
}

func (b *memBackend) KeepaliveCounter(_ context.Context, id wire.DeviceID) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.get(id)
	if err != nil {
		return 0, err
	}
	return r.counter, nil
}

func (b *memBackend) SetKeepaliveCounter(_ context.Context, id wire.DeviceID, n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.get(id)
	if err != nil {
		return err
	}
	r.counter = n
	return nil
}

func (b *memBackend) ConfigHash(_ context.Context, id wire.DeviceID) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.get(id)
	if err != nil {
		return "", err
	}
	return r.hash, nil
}

func (b *memBackend) SetConfigHash(_ context.Context, id wire.DeviceID, hash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.get(id)
	if err != nil {
		return err
	}
	r.hash = hash
	return nil
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		name string
		code string
	}{
		{StatusNewborn, "NEWBORN", "STATUS_NEWBORN"},
		{StatusSRP, "SRP", "STATUS_SRP"},
		{StatusTesting, "TESTING", "STATUS_TESTING"},
		{StatusConfiguring, "CONFIGURING", "STATUS_CONFIGURING"},
		{StatusDone, "DONE", "STATUS_DONE"},
		{StatusNoConfig, "NO_CONFIG", "STATUS_NO_CONFIG"},
		{StatusDed, "DED", "STATUS_DED"},
	}

	for _, tt := range tests {
		if tt.s.String() != tt.name {
			t.Errorf("String() = %q, want %q", tt.s.String(), tt.name)
		}
		if tt.s.Code() != tt.code {
			t.Errorf("Code() = %q, want %q", tt.s.Code(), tt.code)
		}
		for _, in := range []string{tt.name, tt.code} {
			got, err := ParseStatus(in)
			if err != nil || got != tt.s {
				t.Errorf("ParseStatus(%q) = %v, %v", in, got, err)
			}
		}
	}

	if _, err := ParseStatus("ASLEEP"); err == nil {
		t.Error("ParseStatus accepted an unknown status")
	}
}

func TestDescribe(t *testing.T) {
	d := StatusSRP.Describe()
	if d.Provision != "Provisioning" || d.Network != "Connecting" || d.Security != "Securing connection" {
		t.Errorf("SRP description = %+v", d)
	}
	if StatusDone.Describe().Provision != "Working" {
		t.Errorf("DONE description = %+v", StatusDone.Describe())
	}
	if StatusDed.Describe().Network != "Offline" {
		t.Errorf("DED description = %+v", StatusDed.Describe())
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusNewborn, StatusSRP, true},
		{StatusNewborn, StatusDone, false},
		{StatusSRP, StatusTesting, true},
		{StatusSRP, StatusDone, true},
		{StatusTesting, StatusDone, true},
		{StatusDone, StatusConfiguring, true},
		{StatusNoConfig, StatusConfiguring, true},
		{StatusConfiguring, StatusNoConfig, true},
		{StatusDone, StatusDed, true},
		{StatusNoConfig, StatusDed, true},
		{StatusConfiguring, StatusDed, false},
		{StatusDed, StatusDone, false},
		{StatusDed, StatusSRP, true},
		{StatusTesting, StatusNewborn, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	for _, s := range AllStatuses {
		if !CanTransition(s, StatusSRP) {
			t.Errorf("%s cannot restart the handshake", s)
		}
	}
}

func TestSetStatusRejectsInvalid(t *testing.T) {
	b := newMemBackend(dev)
	m := NewManager(b, Config{})
	ctx := context.Background()

	err := m.SetStatus(ctx, dev, StatusDone)
	var te *TransitionError
	if !errors.As(err, &te) || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want TransitionError", err)
	}
	if te.From != StatusNewborn || te.To != StatusDone {
		t.Errorf("TransitionError = %+v", te)
	}

	if st, _ := m.Status(ctx, dev); st != StatusNewborn {
		t.Errorf("status after rejected transition = %s", st)
	}
}

func TestStartHandshake(t *testing.T) {
	b := newMemBackend(dev)
	b.devices[dev].status = StatusDed
	b.devices[dev].counter = 6

	var changes []Status
	m := NewManager(b, Config{OnChange: func(_ wire.DeviceID, from, to Status) {
		changes = append(changes, from, to)
	}})

	if err := m.StartHandshake(context.Background(), dev); err != nil {
		t.Fatalf("StartHandshake failed: %v", err)
	}
	if b.devices[dev].status != StatusSRP || b.devices[dev].counter != 0 {
		t.Errorf("record = %+v", b.devices[dev])
	}
	if len(changes) != 2 || changes[0] != StatusDed || changes[1] != StatusSRP {
		t.Errorf("changes = %v", changes)
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("unanswered probes end in DED", func(t *testing.T) {
		b := newMemBackend(dev)
		b.devices[dev].status = StatusDone
		m := NewManager(b, Config{})

		for i := 1; i <= 5; i++ {
			res, err := m.Sweep(ctx, dev, 4)
			if err != nil {
				t.Fatalf("sweep %d: %v", i, err)
			}
			if res != SweepProbed {
				t.Fatalf("sweep %d = %s, want PROBED", i, res)
			}
			if b.devices[dev].counter != i {
				t.Fatalf("counter after sweep %d = %d", i, b.devices[dev].counter)
			}
		}

		res, err := m.Sweep(ctx, dev, 4)
		if err != nil || res != SweepDead {
			t.Fatalf("sweep with counter 5 = %s, %v", res, err)
		}
		if b.devices[dev].status != StatusDed {
			t.Errorf("status = %s, want DED", b.devices[dev].status)
		}

		res, _ = m.Sweep(ctx, dev, 4)
		if res != SweepSkipped {
			t.Errorf("sweep of DED device = %s, want SKIPPED", res)
		}
	})

	t.Run("counter at threshold is probed", func(t *testing.T) {
		b := newMemBackend(dev)
		b.devices[dev].status = StatusNoConfig
		b.devices[dev].counter = 4
		m := NewManager(b, Config{})

		res, _ := m.Sweep(ctx, dev, 4)
		if res != SweepProbed || b.devices[dev].counter != 5 {
			t.Errorf("res = %s, counter = %d", res, b.devices[dev].counter)
		}
	})

	t.Run("unmonitored statuses are skipped", func(t *testing.T) {
		for _, st := range []Status{StatusNewborn, StatusSRP, StatusTesting, StatusConfiguring} {
			b := newMemBackend(dev)
			b.devices[dev].status = st
			b.devices[dev].counter = 9
			m := NewManager(b, Config{})

			res, _ := m.Sweep(ctx, dev, 4)
			if res != SweepSkipped || b.devices[dev].counter != 9 {
				t.Errorf("%s: res = %s, counter = %d", st, res, b.devices[dev].counter)
			}
		}
	})
}

func TestApplyConfigHash(t *testing.T) {
	ctx := context.Background()
	const nothing = "nothing"

	tests := []struct {
		name       string
		stored     string
		current    string
		wantStatus Status
		wantHash   string
	}{
		{"unchanged", "abc", "abc", StatusDone, "abc"},
		{"removed config", "abc", nothing, StatusNoConfig, nothing},
		{"never stored", "", nothing, StatusNoConfig, nothing},
		{"new config", nothing, "def", StatusConfiguring, nothing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newMemBackend(dev)
			b.devices[dev].status = StatusDone
			b.devices[dev].counter = 3
			b.devices[dev].hash = tt.stored
			m := NewManager(b, Config{})

			st, err := m.ApplyConfigHash(ctx, dev, tt.current, nothing)
			if err != nil {
				t.Fatalf("ApplyConfigHash failed: %v", err)
			}
			if st != tt.wantStatus || b.devices[dev].status != tt.wantStatus {
				t.Errorf("status = %s (stored %s), want %s", st, b.devices[dev].status, tt.wantStatus)
			}
			if b.devices[dev].hash != tt.wantHash {
				t.Errorf("hash = %q, want %q", b.devices[dev].hash, tt.wantHash)
			}
			if b.devices[dev].counter != 0 {
				t.Errorf("counter = %d, want 0", b.devices[dev].counter)
			}
		})
	}
}

func TestAcknowledgeConfig(t *testing.T) {
	b := newMemBackend(dev)
	b.devices[dev].status = StatusConfiguring
	m := NewManager(b, Config{})

	if err := m.AcknowledgeConfig(context.Background(), dev, "abc"); err != nil {
		t.Fatalf("AcknowledgeConfig failed: %v", err)
	}
	if b.devices[dev].status != StatusDone || b.devices[dev].hash != "abc" {
		t.Errorf("record = %+v", b.devices[dev])
	}
}

func TestConcurrentSweepAndAnswer(t *testing.T) {
	b := newMemBackend(dev)
	b.devices[dev].status = StatusDone
	m := NewManager(b, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = m.Sweep(ctx, dev, 1000)
		}()
		go func() {
			defer wg.Done()
			_, _ = m.ApplyConfigHash(ctx, dev, "", "nothing")
		}()
	}
	wg.Wait()

	if n := b.devices[dev].counter; n < 0 || n > 50 {
		t.Errorf("counter = %d out of range", n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.locks) != 0 {
		t.Errorf("%d device locks leaked", len(m.locks))
	}
}

func TestUnknownDevicePropagatesError(t *testing.T) {
	m := NewManager(newMemBackend(), Config{})
	if _, err := m.Sweep(context.Background(), dev, 4); !errors.Is(err, errMissing) {
		t.Errorf("err = %v, want backend error", err)
	}
}
