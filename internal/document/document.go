// Package document provides the in-memory model of one open document.
//
// A Document is the authoritative representation of a file's content and
// editing state: content, presentation mode, dirty flag, cursor, scroll
// offset and selections. It is mutated only by the document registry and
// the mode tracker; presentation surfaces observe it through messages.
package document

import (
	"sync"
	"time"
)

// ID identifies a document. It is derived from the normalized absolute
// path of the underlying file.
type ID string

// Mode is the presentation variant a surface displays a document in.
type Mode string

const (
	// ModeEdit is the editable source view.
	ModeEdit Mode = "edit"
	// ModeRead is the read-only rendered view.
	ModeRead Mode = "read"
	// ModeSplit shows source and rendered views side by side.
	ModeSplit Mode = "split"
)

// Valid returns true for a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeEdit, ModeRead, ModeSplit:
		return true
	default:
		return false
	}
}

// Position is a 1-based line/column location.
type Position struct {
	Line   int
	Column int
}

// Selection is a range between two positions.
type Selection struct {
	Start Position
	End   Position
}

// Document is the in-memory model of one open file.
// It is safe for concurrent use.
type Document struct {
	mu sync.RWMutex

	id           ID
	content      string
	mode         Mode
	dirty        bool
	cursor       Position
	scroll       float64
	selections   []Selection
	lastModified time.Time
	diskModTime  time.Time
}

// New creates a Document with the given identity, content and mode.
func New(id ID, content string, mode Mode) *Document {
	return &Document{
		id:           id,
		content:      content,
		mode:         mode,
		cursor:       Position{Line: 1, Column: 1},
		lastModified: time.Now(),
	}
}

// ID returns the document identity.
func (d *Document) ID() ID {
	return d.id
}

// Content returns the current content.
func (d *Document) Content() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content
}

// UpdateContent sets the content and marks the document dirty.
// Setting the value it already holds is a no-op: content, dirty flag and
// timestamps are all left untouched. Returns true if the content changed.
func (d *Document) UpdateContent(content string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if content == d.content {
		return false
	}

	d.content = content
	d.dirty = true
	d.lastModified = time.Now()
	return true
}

// ReplaceContent overwrites the content and clears the dirty flag.
// Used when disk content becomes authoritative (open, refresh, reload).
func (d *Document) ReplaceContent(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.content = content
	d.dirty = false
	d.lastModified = time.Now()
}

// IsDirty returns true if the document has unsaved changes.
func (d *Document) IsDirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dirty
}

// MarkDirty marks the document as having unsaved changes.
func (d *Document) MarkDirty() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty = true
}

// MarkClean marks the document as in sync with disk.
func (d *Document) MarkClean() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty = false
}

// MarkSaved marks the document clean and records the disk modification
// time of the read or write that made it clean. The recorded time is
// what tells the watcher event a save itself produces apart from a
// genuine external change.
func (d *Document) MarkSaved(diskModTime time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty = false
	d.diskModTime = diskModTime
}

// DiskModTime returns the file's modification time as of the last
// successful read or write.
func (d *Document) DiskModTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.diskModTime
}

// HasExternalChanges reports whether the on-disk modification time
// differs from the one recorded at the last read or write.
func (d *Document) HasExternalChanges(currentDiskModTime time.Time) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !currentDiskModTime.Equal(d.diskModTime)
}

// Mode returns the current presentation mode.
func (d *Document) Mode() Mode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mode
}

// SetMode sets the presentation mode.
func (d *Document) SetMode(mode Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
}

// Cursor returns the cursor position.
func (d *Document) Cursor() Position {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cursor
}

// SetCursor sets the cursor position.
func (d *Document) SetCursor(pos Position) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursor = pos
}

// Scroll returns the scroll offset.
func (d *Document) Scroll() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scroll
}

// SetScroll sets the scroll offset.
func (d *Document) SetScroll(offset float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scroll = offset
}

// Selections returns a copy of the current selections.
func (d *Document) Selections() []Selection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return copySelections(d.selections)
}

// SetSelections replaces the current selections.
func (d *Document) SetSelections(sels []Selection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selections = copySelections(sels)
}

// LastModified returns the time of the last in-memory mutation.
func (d *Document) LastModified() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastModified
}

func copySelections(sels []Selection) []Selection {
	if sels == nil {
		return nil
	}
	out := make([]Selection, len(sels))
	copy(out, sels)
	return out
}
