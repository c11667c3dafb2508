// Package modetrack tracks per-document presentation modes.
//
// The tracker owns the mode state machine for every open document and
// preserves cursor and scroll position across a mode switch, so the next
// surface renders at the same logical position the user left.
package modetrack

import (
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"markmux/internal/docstore"
	"markmux/internal/document"
	"markmux/internal/event"
)

var log = commonlog.GetLogger("modetrack")

// ModeState records the tracked mode for one document.
type ModeState struct {
	DocumentID   document.ID
	Mode         document.Mode
	Cursor       document.Position
	Scroll       float64
	LastSwitched time.Time
}

// SwitchEvent describes one completed mode switch.
type SwitchEvent struct {
	ID   document.ID
	From document.Mode
	To   document.Mode
}

// Policy is a mode-specific hook applied after listeners are notified.
// External collaborators use it for side effects such as toolbar
// visibility. A failing policy is logged, never fatal.
type Policy func(ev SwitchEvent) error

// Tracker is the per-document presentation-mode state machine.
type Tracker struct {
	mu sync.RWMutex

	docs        *docstore.Store
	defaultMode document.Mode

	states    map[document.ID]*ModeState
	listeners *event.Registry[SwitchEvent]
	policies  []Policy

	closeSub *event.Subscription
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithDefaultMode sets the mode reported for untracked documents.
func WithDefaultMode(mode document.Mode) Option {
	return func(t *Tracker) {
		t.defaultMode = mode
	}
}

// WithPolicy registers a mode policy hook at construction time.
func WithPolicy(p Policy) Option {
	return func(t *Tracker) {
		t.policies = append(t.policies, p)
	}
}

// NewTracker creates a mode tracker bound to the document registry.
// Mode state is discarded automatically when its document closes.
func NewTracker(docs *docstore.Store, opts ...Option) *Tracker {
	t := &Tracker{
		docs:        docs,
		defaultMode: document.ModeEdit,
		states:      make(map[document.ID]*ModeState),
		listeners:   event.NewRegistry[SwitchEvent](),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.closeSub = docs.AddChangeListener(func(ev docstore.ChangeEvent) {
		if ev.Kind == docstore.ChangeClosed {
			t.Forget(ev.ID)
		}
	})

	return t
}

// Dispose releases the tracker's registry subscription.
func (t *Tracker) Dispose() {
	t.closeSub.Cancel()
}

// OnSwitch registers a mode-change listener and returns its handle.
func (t *Tracker) OnSwitch(fn func(SwitchEvent)) *event.Subscription {
	return t.listeners.Subscribe(fn)
}

// GetCurrentMode returns the tracked mode for a document, or the
// configured default if the document is untracked.
func (t *Tracker) GetCurrentMode(id document.ID) document.Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if st, ok := t.states[id]; ok {
		return st.Mode
	}
	return t.defaultMode
}

// State returns a copy of the tracked state for a document.
func (t *Tracker) State(id document.ID) (ModeState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[id]
	if !ok {
		return ModeState{}, false
	}
	return *st, true
}

// CanSwitchMode reports whether a switch is currently allowed.
// Unknown documents cannot switch; everything else can. This is the
// extension point for future blocking policy.
func (t *Tracker) CanSwitchMode(id document.ID, target document.Mode) bool {
	if !target.Valid() {
		return false
	}
	_, ok := t.docs.Get(id)
	return ok
}

// SwitchMode moves a document to the target mode.
//
// The ordering is deliberate: snapshot the current cursor/scroll, record
// the new state, set the document mode, notify listeners, apply policy,
// then push the snapshot back onto the document. Listeners therefore
// observe the new mode before restoration side effects, and the position
// snapshot survives even if restoration is skipped on error.
func (t *Tracker) SwitchMode(id document.ID, target document.Mode) {
	doc, ok := t.docs.Get(id)
	if !ok {
		log.Debugf("switch for unknown document %s ignored", id)
		return
	}
	if !target.Valid() {
		log.Warningf("switch %s to invalid mode %q ignored", id, target)
		return
	}

	from := doc.Mode()
	if from == target {
		return
	}

	// (1) snapshot position before anything changes
	cursor := doc.Cursor()
	scroll := doc.Scroll()

	// (2) record the new mode state
	t.mu.Lock()
	t.states[id] = &ModeState{
		DocumentID:   id,
		Mode:         target,
		Cursor:       cursor,
		Scroll:       scroll,
		LastSwitched: time.Now(),
	}
	t.mu.Unlock()

	// (3) the document now reports the new mode
	doc.SetMode(target)

	ev := SwitchEvent{ID: id, From: from, To: target}

	// (4) listeners observe the new mode first
	t.listeners.Notify(ev)

	// (5) mode-specific policy hooks
	t.mu.RLock()
	policies := make([]Policy, len(t.policies))
	copy(policies, t.policies)
	t.mu.RUnlock()
	for _, policy := range policies {
		if err := applyPolicy(policy, ev); err != nil {
			log.Errorf("mode policy for %s: %v", id, err)
		}
	}

	// (6) restore position so the next surface renders where the user was
	doc.SetCursor(cursor)
	doc.SetScroll(scroll)
}

// RegisterPolicy adds a mode policy hook.
func (t *Tracker) RegisterPolicy(p Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.policies = append(t.policies, p)
}

// Forget discards the tracked state for a document.
func (t *Tracker) Forget(id document.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, id)
}

func applyPolicy(p Policy, ev SwitchEvent) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("mode policy panic: %v", rec)
		}
	}()
	return p(ev)
}
