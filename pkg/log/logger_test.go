package log

import (
	"sync"
	"testing"
)

type captureLogger struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureLogger) Log(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureLogger) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestNoopLogger(t *testing.T) {
	var l NoopLogger
	l.Log(Event{})
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) is not a NoopLogger")
	}
	c := &captureLogger{}
	if OrNoop(c) != Logger(c) {
		t.Error("OrNoop replaced a non-nil logger")
	}
}

func TestStamp(t *testing.T) {
	c := &captureLogger{}
	Stamp(c, Event{TraceID: "t"})
	if c.len() != 1 || c.events[0].Timestamp.IsZero() {
		t.Errorf("events = %+v", c.events)
	}
}

func TestMultiLogger(t *testing.T) {
	a, b := &captureLogger{}, &captureLogger{}
	m := NewMultiLogger(a, nil, b)
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}

	m.Log(Event{TraceID: "x"})
	m.Log(Event{TraceID: "y"})

	if a.len() != 2 || b.len() != 2 {
		t.Errorf("a=%d b=%d events, want 2 each", a.len(), b.len())
	}
}

func TestMultiLoggerConcurrent(t *testing.T) {
	c := &captureLogger{}
	m := NewMultiLogger(c)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Log(Event{})
		}()
	}
	wg.Wait()

	if c.len() != 50 {
		t.Errorf("events = %d, want 50", c.len())
	}
}
