package log

import "time"

// Logger receives protocol trace events.
type Logger interface {
	// Log records an event. Implementations must be safe for concurrent use
	// and must not block for long.
	Log(event Event)
}

// NoopLogger discards all events. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}

// OrNoop returns l, or NoopLogger if l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// Stamp sets the event timestamp if it is unset and logs it.
func Stamp(l Logger, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	l.Log(event)
}
