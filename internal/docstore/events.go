package docstore

import "markmux/internal/document"

// ChangeKind classifies a change event.
type ChangeKind string

const (
	// ChangeContent is emitted when a document's content is (re)loaded or
	// edited through the registry.
	ChangeContent ChangeKind = "content"

	// ChangeState is emitted when bookkeeping state changes, e.g. the
	// dirty flag clearing after a save.
	ChangeState ChangeKind = "state"

	// ChangeExternal is emitted when disk content replaced in-memory
	// content because of an external modification.
	ChangeExternal ChangeKind = "external"

	// ChangeConflict is emitted when an external change collides with
	// unsaved local edits.
	ChangeConflict ChangeKind = "conflict"

	// ChangeClosed is emitted when a document is removed from the
	// registry, including closure caused by on-disk deletion.
	ChangeClosed ChangeKind = "closed"
)

// ChangeEvent describes one document change.
type ChangeEvent struct {
	Kind  ChangeKind
	ID    document.ID
	State document.State
}
