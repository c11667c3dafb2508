// Package event provides a typed observer registry.
//
// Listeners subscribe and receive a disposable handle; cancelling the
// handle removes the listener, so removal cannot be forgotten. Notification
// is panic-safe: one faulty listener never prevents delivery to the others.
package event

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("event")

// Listener receives events of type T.
type Listener[T any] func(ev T)

// Subscription is the disposable handle returned by Subscribe.
type Subscription struct {
	cancel    func()
	cancelled atomic.Bool
}

// Cancel removes the listener. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.cancel()
	}
}

// Active returns true until Cancel is called.
func (s *Subscription) Active() bool {
	return !s.cancelled.Load()
}

// Registry fans events out to subscribed listeners.
// The zero value is not usable; create with NewRegistry.
type Registry[T any] struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener[T]
	nextID    uint64
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		listeners: make(map[uint64]Listener[T]),
	}
}

// Subscribe registers a listener and returns its handle.
func (r *Registry[T]) Subscribe(fn Listener[T]) *Subscription {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return &Subscription{
		cancel: func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		},
	}
}

// Len returns the number of active listeners.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Notify delivers ev to every listener. Listener panics are recovered and
// logged so delivery continues to the remaining listeners.
func (r *Registry[T]) Notify(ev T) {
	// Copy listeners to call outside of lock
	r.mu.RLock()
	listeners := make([]Listener[T], 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.RUnlock()

	for _, fn := range listeners {
		notifyOne(fn, ev)
	}
}

func notifyOne[T any](fn Listener[T], ev T) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("listener panic: %v\n%s", rec, debug.Stack())
		}
	}()
	fn(ev)
}
