package docstore

import (
	"context"

	dmp "github.com/sergi/go-diff/diffmatchpatch"

	"markmux/internal/document"
)

// ConflictState tracks where a document sits in the external-change state
// machine.
type ConflictState int

const (
	// StateClean means content matches disk and no conflict is pending.
	StateClean ConflictState = iota

	// StateDirtyLocal means the document has unsaved local edits.
	StateDirtyLocal

	// StateConflictPending means disk changed underneath unsaved local
	// edits and the user has not decided yet.
	StateConflictPending
)

// String returns a human-readable state name.
func (s ConflictState) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirtyLocal:
		return "dirty-local"
	case StateConflictPending:
		return "conflict-pending"
	default:
		return "unknown"
	}
}

// Resolution is the user's choice for a pending conflict.
type Resolution int

const (
	// ResolutionNone means the prompt was dismissed without an answer.
	// Treated as keep-local: the safe default is to do nothing.
	ResolutionNone Resolution = iota

	// ResolutionReload discards local edits and loads disk content.
	ResolutionReload

	// ResolutionKeepLocal keeps the local edits and discards the disk
	// event.
	ResolutionKeepLocal

	// ResolutionCompare defers the decision; the conflict stays pending
	// while a collaborator presents the diff.
	ResolutionCompare
)

// Conflict describes a pending conflict for presentation to the user.
type Conflict struct {
	ID           document.ID
	LocalContent string
	DiskContent  string

	// Diff is a line-oriented rendering of disk vs. local content for the
	// compare option.
	Diff string
}

// Prompter is the modal prompt collaborator that asks the user how to
// resolve a conflict. Implementations must tolerate being called from the
// registry's event goroutine.
type Prompter interface {
	ResolveConflict(ctx context.Context, c Conflict) Resolution
}

// keepLocalPrompter is the default when no prompter is wired: no answer,
// keep local.
type keepLocalPrompter struct{}

func (keepLocalPrompter) ResolveConflict(context.Context, Conflict) Resolution {
	return ResolutionNone
}

// renderDiff produces the text diff handed to the compare collaborator.
func renderDiff(local, disk string) string {
	differ := dmp.New()
	diffs := differ.DiffMain(local, disk, true)
	diffs = differ.DiffCleanupSemantic(diffs)
	return differ.DiffPrettyText(diffs)
}
