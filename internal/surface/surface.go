package surface

import (
	"sync"

	"markmux/internal/document"
	"markmux/internal/surface/transport"
)

// ID identifies one surface for the lifetime of the process.
type ID string

// Surface is one presentation of a document in one mode. It is owned
// exclusively by the Registry and holds only a best-known copy of the
// document content: the authoritative value lives in the document
// registry, and everything crosses a message channel.
type Surface struct {
	id       ID
	resource string
	doc      document.ID
	mode     document.Mode

	// ch is the registry end of the connection. client is the peer end
	// for in-process surfaces; surfaces attached over an external
	// transport have no client end here.
	ch     transport.Channel
	client transport.Channel

	mu       sync.RWMutex
	snapshot string
	ready    bool
	visible  bool
	focused  bool
}

// ID returns the surface identifier.
func (s *Surface) ID() ID {
	return s.id
}

// DocumentID returns the identifier of the bound document.
func (s *Surface) DocumentID() document.ID {
	return s.doc
}

// Resource returns the resource path the surface was created for.
func (s *Surface) Resource() string {
	return s.resource
}

// Mode returns the presentation mode the surface displays.
func (s *Surface) Mode() document.Mode {
	return s.mode
}

// Channel returns the surface end of an in-process connection, or nil
// for surfaces attached over an external transport.
func (s *Surface) Channel() transport.Channel {
	return s.client
}

// ContentSnapshot returns the surface's best-known copy of the document
// content. It may transiently lag the document registry's value.
func (s *Surface) ContentSnapshot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// IsReady reports whether the surface has announced readiness.
func (s *Surface) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// IsVisible reports whether the surface is visible.
func (s *Surface) IsVisible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible
}

// IsFocused reports whether the surface has focus.
func (s *Surface) IsFocused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focused
}

// SetVisible updates the surface visibility flag.
func (s *Surface) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = visible
}

func (s *Surface) setSnapshot(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = content
}

func (s *Surface) setReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
}

func (s *Surface) setFocused(focused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = focused
}
