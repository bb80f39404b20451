package connection

import "sync"

// State represents the broker connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates the client lost the connection and is
	// reconnecting on its own.
	StateReconnecting

	// StateClosed indicates the connection was shut down.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Tracker records the connection state and reports changes.
type Tracker struct {
	mu       sync.RWMutex
	state    State
	onChange func(old, new State)
}

// NewTracker creates a tracker in StateDisconnected.
func NewTracker(onChange func(old, new State)) *Tracker {
	return &Tracker{onChange: onChange}
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// IsConnected returns true if the state is StateConnected.
func (t *Tracker) IsConnected() bool {
	return t.State() == StateConnected
}

// Set moves to s. Closed is terminal: once closed, Set is ignored.
func (t *Tracker) Set(s State) {
	t.mu.Lock()
	old := t.state
	if old == s || old == StateClosed {
		t.mu.Unlock()
		return
	}
	t.state = s
	cb := t.onChange
	t.mu.Unlock()

	if cb != nil {
		cb(old, s)
	}
}
