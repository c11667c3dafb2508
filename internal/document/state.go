package document

import "time"

// State is a deep, independent copy of a Document's observable state.
// Mutating a State never affects the Document it came from, which makes
// it safe to hand across execution contexts.
type State struct {
	ID           ID
	Content      string
	Mode         Mode
	IsDirty      bool
	Cursor       Position
	Scroll       float64
	Selections   []Selection
	LastModified time.Time
}

// State returns a snapshot of the document.
func (d *Document) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return State{
		ID:           d.id,
		Content:      d.content,
		Mode:         d.mode,
		IsDirty:      d.dirty,
		Cursor:       d.cursor,
		Scroll:       d.scroll,
		Selections:   copySelections(d.selections),
		LastModified: d.lastModified,
	}
}
