package schedule

import (
	"errors"
	"sync"
	"time"

	"github.com/connax-utim/uhost-go/pkg/wire"
)

// Schedule errors.
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrInvalidDelay = errors.New("invalid delay")
	ErrStopped      = errors.New("scheduler stopped")
)

// MaxDelay is the longest delay a task may be scheduled with.
const MaxDelay = time.Hour

// Kind identifies what a task does.
type Kind uint8

const (
	// KindRepeatStatus re-injects a CONNECTION_STRING report.
	KindRepeatStatus Kind = iota + 1
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindRepeatStatus:
		return "REPEAT_STATUS"
	default:
		return "UNKNOWN"
	}
}

// Key uniquely identifies a task.
type Key struct {
	Device wire.DeviceID
	Kind   Kind
}

// Task is a pending delayed task.
type Task struct {
	Key Key

	// Scheduled is when the task was scheduled.
	Scheduled time.Time

	// Delay is how long after Scheduled the task fires.
	Delay time.Duration

	// Value is handed to the fire callback.
	Value any

	timer *time.Timer
}

// FiresAt returns when the task fires.
func (t *Task) FiresAt() time.Time {
	return t.Scheduled.Add(t.Delay)
}

// Remaining returns the time until the task fires.
func (t *Task) Remaining() time.Duration {
	remaining := t.Delay - time.Since(t.Scheduled)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Manager manages delayed tasks.
type Manager struct {
	mu      sync.RWMutex
	tasks   map[Key]*Task
	onFire  func(key Key, value any)
	stopped bool
}

// NewManager creates a new task manager.
func NewManager() *Manager {
	return &Manager{
		tasks: make(map[Key]*Task),
	}
}

// Schedule creates or replaces the task under key. The delay starts now.
func (m *Manager) Schedule(key Key, delay time.Duration, value any) error {
	if delay < 0 || delay > MaxDelay {
		return ErrInvalidDelay
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}

	if existing, ok := m.tasks[key]; ok {
		existing.timer.Stop()
	}

	task := &Task{
		Key:       key,
		Scheduled: time.Now(),
		Delay:     delay,
		Value:     value,
	}
	task.timer = time.AfterFunc(delay, func() {
		m.fire(task)
	})
	m.tasks[key] = task
	return nil
}

// Cancel cancels a task without firing it.
func (m *Manager) Cancel(key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[key]
	if !ok {
		return ErrTaskNotFound
	}
	task.timer.Stop()
	delete(m.tasks, key)
	return nil
}

// CancelDevice cancels every task for a device.
func (m *Manager) CancelDevice(id wire.DeviceID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, task := range m.tasks {
		if key.Device == id {
			task.timer.Stop()
			delete(m.tasks, key)
		}
	}
}

// Get returns a copy of the pending task under key, or nil.
func (m *Manager) Get(key Key) *Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[key]
	if !ok {
		return nil
	}
	return &Task{
		Key:       task.Key,
		Scheduled: task.Scheduled,
		Delay:     task.Delay,
		Value:     task.Value,
	}
}

// Count returns the number of pending tasks.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// OnFire sets the callback run when a task fires.
func (m *Manager) OnFire(fn func(key Key, value any)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFire = fn
}

// Stop cancels all pending tasks and rejects new ones.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	for key, task := range m.tasks {
		task.timer.Stop()
		delete(m.tasks, key)
	}
}

func (m *Manager) fire(task *Task) {
	m.mu.Lock()

	// A replaced or cancelled task may still have its timer goroutine racing.
	if m.tasks[task.Key] != task {
		m.mu.Unlock()
		return
	}
	delete(m.tasks, task.Key)
	callback := m.onFire

	m.mu.Unlock()

	if callback != nil {
		callback(task.Key, task.Value)
	}
}
