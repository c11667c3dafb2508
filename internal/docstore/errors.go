package docstore

import (
	"errors"
	"fmt"
)

// Standard errors returned by the document registry.
var (
	// ErrNotOpen indicates the document is not registered.
	ErrNotOpen = errors.New("document not open")

	// ErrStoreClosed indicates the registry has been shut down.
	ErrStoreClosed = errors.New("document store closed")

	// ErrNoConflict indicates a resolution was requested for a document
	// that has no pending conflict.
	ErrNoConflict = errors.New("no pending conflict")

	// ErrFileTooLarge indicates the file exceeds the configured size
	// limit.
	ErrFileTooLarge = errors.New("file too large")
)

// PathError represents an error associated with a document operation.
type PathError struct {
	Op   string // Operation that failed (open, save, refresh, ...)
	Path string // Resource path
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PathError) Unwrap() error {
	return e.Err
}
