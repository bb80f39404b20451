package log

import (
	"fmt"
	"os"
	"sync"
)

// RotatedSuffix is appended to a trace file's name when it is rotated.
const RotatedSuffix = ".1"

// FileLogger appends trace records to a file. With a size limit the file is
// moved to path+RotatedSuffix once the next record would exceed it,
// replacing any earlier rotated file.
type FileLogger struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	file    *os.File
	size    int64
	closed  bool
	dropped int
	rotated int
}

// NewFileLogger opens path for appending with no size limit.
func NewFileLogger(path string) (*FileLogger, error) {
	return NewRotatingFileLogger(path, 0)
}

// NewRotatingFileLogger opens path for appending, rotating it at maxSize
// bytes. A maxSize of zero or less disables rotation.
func NewRotatingFileLogger(path string, maxSize int64) (*FileLogger, error) {
	l := &FileLogger{path: path, maxSize: maxSize}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

// open creates the file owner-only.
func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.size = info.Size()
	return nil
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(l.path, l.path+RotatedSuffix); err != nil {
		return fmt.Errorf("rotate trace file: %w", err)
	}
	l.rotated++
	return l.open()
}

// Log writes an event. Failures are counted, not returned.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if l.file == nil {
		l.dropped++
		return
	}
	rec, err := marshalEvent(event)
	if err != nil {
		l.dropped++
		return
	}
	if l.maxSize > 0 && l.size > 0 && l.size+int64(len(rec)) > l.maxSize {
		if err := l.rotate(); err != nil {
			l.file = nil
			l.dropped++
			return
		}
	}
	n, err := l.file.Write(rec)
	l.size += int64(n)
	if err != nil {
		l.dropped++
	}
}

// Dropped returns the number of events that could not be written.
func (l *FileLogger) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Rotations returns how often the file was rotated.
func (l *FileLogger) Rotations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotated
}

// Close closes the file. Later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
