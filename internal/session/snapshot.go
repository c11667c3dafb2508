// Package session persists presentation-surface state across host
// restarts.
//
// Snapshots are stored as JSON documents in SQLite with an LRU read cache
// in front. Decoding is deliberately tolerant: a snapshot with missing
// required fields yields ErrIncompleteSnapshot so the caller can dispose
// the surface and show a "please reopen" placeholder instead of crashing.
package session

import (
	"errors"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"markmux/internal/document"
)

// Errors returned by snapshot handling.
var (
	// ErrIncompleteSnapshot indicates required fields are missing.
	ErrIncompleteSnapshot = errors.New("incomplete surface snapshot")

	// ErrNotFound indicates no snapshot is stored for the surface.
	ErrNotFound = errors.New("snapshot not found")
)

// Snapshot is the persisted state of one surface.
type Snapshot struct {
	DocumentID   document.ID
	Mode         document.Mode
	Content      string
	IsDirty      bool
	LastModified time.Time
	ResourceID   string
}

// Encode renders the snapshot as JSON.
func (s Snapshot) Encode() (string, error) {
	out := ""
	var err error
	for _, field := range []struct {
		path  string
		value any
	}{
		{"documentId", string(s.DocumentID)},
		{"mode", string(s.Mode)},
		{"content", s.Content},
		{"isDirty", s.IsDirty},
		{"lastModifiedIso", s.LastModified.UTC().Format(time.RFC3339Nano)},
		{"resourceId", s.ResourceID},
	} {
		out, err = sjson.Set(out, field.path, field.value)
		if err != nil {
			return "", err
		}
	}
	return out, nil
}

// Decode parses a snapshot, failing soft on structural problems.
func Decode(data string) (Snapshot, error) {
	if !gjson.Valid(data) {
		return Snapshot{}, ErrIncompleteSnapshot
	}

	docID := gjson.Get(data, "documentId")
	mode := gjson.Get(data, "mode")
	resource := gjson.Get(data, "resourceId")

	if !docID.Exists() || docID.String() == "" ||
		!mode.Exists() || !document.Mode(mode.String()).Valid() ||
		!resource.Exists() || resource.String() == "" {
		return Snapshot{}, ErrIncompleteSnapshot
	}

	snap := Snapshot{
		DocumentID: document.ID(docID.String()),
		Mode:       document.Mode(mode.String()),
		Content:    gjson.Get(data, "content").String(),
		IsDirty:    gjson.Get(data, "isDirty").Bool(),
		ResourceID: resource.String(),
	}

	if iso := gjson.Get(data, "lastModifiedIso"); iso.Exists() {
		if t, err := time.Parse(time.RFC3339Nano, iso.String()); err == nil {
			snap.LastModified = t
		}
	}

	return snap, nil
}
