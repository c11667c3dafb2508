package watcher

import (
	"sync"
	"time"
)

// Manual is a Watcher driven by explicit Fire calls instead of the file
// system. It backs tests and hosts that supply their own change
// notification primitive.
type Manual struct {
	mu     sync.Mutex
	files  map[string]bool
	events chan Event
	errors chan error
	closed bool
}

// NewManual creates a manual watcher.
func NewManual() *Manual {
	return &Manual{
		files:  make(map[string]bool),
		events: make(chan Event, 100),
		errors: make(chan error, 100),
	}
}

// Ensure Manual implements Watcher.
var _ Watcher = (*Manual)(nil)

// Watch starts watching a file.
func (m *Manual) Watch(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrWatcherClosed
	}
	if m.files[path] {
		return ErrAlreadyWatching
	}
	m.files[path] = true
	return nil
}

// Unwatch stops watching a file.
func (m *Manual) Unwatch(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrWatcherClosed
	}
	if !m.files[path] {
		return ErrNotWatching
	}
	delete(m.files, path)
	return nil
}

// Events returns the event channel.
func (m *Manual) Events() <-chan Event {
	return m.events
}

// Errors returns the error channel.
func (m *Manual) Errors() <-chan error {
	return m.errors
}

// IsWatching returns true if the path is being watched.
func (m *Manual) IsWatching(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[path]
}

// Close stops the watcher.
func (m *Manual) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.events)
	close(m.errors)
	return nil
}

// Fire emits an event for a watched path. Events for unwatched paths are
// dropped, matching the file-system watcher's filtering.
func (m *Manual) Fire(path string, op Op) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.files[path] {
		return
	}

	select {
	case m.events <- Event{Path: path, Op: op, Timestamp: time.Now()}:
	default:
	}
}

// FireError emits an error.
func (m *Manual) FireError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	select {
	case m.errors <- err:
	default:
	}
}
