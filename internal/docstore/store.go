// Package docstore provides the document registry.
//
// The registry owns all open documents, mediates disk reads and writes,
// watches for external file changes, runs the conflict-resolution policy
// and fans change events out to listeners. It is the single writer of
// document content: surfaces reach it only through messages.
package docstore

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"markmux/internal/document"
	"markmux/internal/event"
	"markmux/internal/vfs"
	"markmux/internal/watcher"
)

var log = commonlog.GetLogger("docstore")

// Store is the document registry.
type Store struct {
	mu sync.RWMutex

	fs       vfs.FS
	watch    watcher.Watcher
	prompter Prompter

	defaultMode document.Mode
	maxFileSize int64

	docs      map[document.ID]*document.Document
	conflicts map[document.ID]ConflictState

	listeners *event.Registry[ChangeEvent]

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithPrompter sets the conflict prompt collaborator.
func WithPrompter(p Prompter) Option {
	return func(s *Store) {
		s.prompter = p
	}
}

// WithDefaultMode sets the mode assigned to newly opened documents.
func WithDefaultMode(mode document.Mode) Option {
	return func(s *Store) {
		s.defaultMode = mode
	}
}

// WithMaxFileSize rejects opening files larger than limit bytes. Zero
// means unlimited.
func WithMaxFileSize(limit int64) Option {
	return func(s *Store) {
		s.maxFileSize = limit
	}
}

// NewStore creates a document registry backed by the given file system and
// watcher. The store takes ownership of the watcher and closes it on
// Shutdown.
func NewStore(filesystem vfs.FS, w watcher.Watcher, opts ...Option) *Store {
	s := &Store{
		fs:          filesystem,
		watch:       w,
		prompter:    keepLocalPrompter{},
		defaultMode: document.ModeEdit,
		docs:        make(map[document.ID]*document.Document),
		conflicts:   make(map[document.ID]ConflictState),
		listeners:   event.NewRegistry[ChangeEvent](),
		closeCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.watchLoop()

	return s
}

// AddChangeListener registers a change listener and returns its disposable
// handle. Listener failures are isolated and never break delivery to the
// other listeners.
func (s *Store) AddChangeListener(fn func(ChangeEvent)) *event.Subscription {
	return s.listeners.Subscribe(fn)
}

// Open returns the document for the given resource, registering it first
// if needed. Opening an already-open resource returns the existing
// document. A file that does not yet exist opens with empty content.
func (s *Store) Open(ctx context.Context, path string) (*document.Document, error) {
	abs, err := s.fs.Abs(path)
	if err != nil {
		return nil, &PathError{Op: "open", Path: path, Err: err}
	}
	id := document.ID(abs)

	s.mu.RLock()
	if doc, ok := s.docs[id]; ok {
		s.mu.RUnlock()
		return doc, nil
	}
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, &PathError{Op: "open", Path: path, Err: ErrStoreClosed}
	}

	content := ""
	data, err := s.fs.ReadFile(abs)
	switch {
	case err == nil:
		if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
			return nil, &PathError{Op: "open", Path: path, Err: ErrFileTooLarge}
		}
		content = string(data)
	case errors.Is(err, fs.ErrNotExist):
		// Not an error: the document starts empty and the file is
		// created on first save.
	default:
		return nil, &PathError{Op: "open", Path: path, Err: err}
	}

	doc := document.New(id, content, s.defaultMode)
	if info, err := s.fs.Stat(abs); err == nil {
		doc.MarkSaved(info.ModTime())
	}

	s.mu.Lock()
	if existing, ok := s.docs[id]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	if s.closed {
		s.mu.Unlock()
		return nil, &PathError{Op: "open", Path: path, Err: ErrStoreClosed}
	}
	s.docs[id] = doc
	s.conflicts[id] = StateClean
	s.mu.Unlock()

	if err := s.watch.Watch(abs); err != nil && !errors.Is(err, watcher.ErrAlreadyWatching) {
		log.Warningf("watch %s: %v", abs, err)
	}

	s.listeners.Notify(ChangeEvent{Kind: ChangeContent, ID: id, State: doc.State()})
	return doc, nil
}

// Get returns an open document.
func (s *Store) Get(id document.ID) (*document.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	return doc, ok
}

// Documents returns all open documents.
func (s *Store) Documents() []*document.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*document.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	return docs
}

// ConflictStateOf returns the conflict state for a document.
func (s *Store) ConflictStateOf(id document.ID) ConflictState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conflicts[id]
}

// UpdateContent writes surface-originated content into the document model.
// Identical content is a no-op and leaves the dirty flag alone.
func (s *Store) UpdateContent(id document.ID, content string) error {
	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()

	if !ok {
		return &PathError{Op: "update", Path: string(id), Err: ErrNotOpen}
	}

	if !doc.UpdateContent(content) {
		return nil
	}

	s.mu.Lock()
	if s.conflicts[id] == StateClean {
		s.conflicts[id] = StateDirtyLocal
	}
	s.mu.Unlock()

	s.listeners.Notify(ChangeEvent{Kind: ChangeContent, ID: id, State: doc.State()})
	return nil
}

// Save writes the document's content to disk. Clean documents are a no-op.
// On failure the document stays dirty and the error is returned to the
// caller.
func (s *Store) Save(ctx context.Context, id document.ID) error {
	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()

	if !ok {
		return &PathError{Op: "save", Path: string(id), Err: ErrNotOpen}
	}
	if !doc.IsDirty() {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return &PathError{Op: "save", Path: string(id), Err: err}
	}

	content := doc.Content()
	if err := s.fs.WriteFile(string(id), []byte(content), 0644); err != nil {
		return &PathError{Op: "save", Path: string(id), Err: err}
	}

	modTime := time.Now()
	if info, err := s.fs.Stat(string(id)); err == nil {
		modTime = info.ModTime()
	}

	// The document may have been closed while the write was in flight;
	// a stale completion must not resurrect its bookkeeping.
	s.mu.Lock()
	if current, ok := s.docs[id]; !ok || current != doc {
		s.mu.Unlock()
		return nil
	}
	s.conflicts[id] = StateClean
	s.mu.Unlock()

	doc.MarkSaved(modTime)
	s.listeners.Notify(ChangeEvent{Kind: ChangeState, ID: id, State: doc.State()})
	return nil
}

// SaveAll saves every dirty document. Failures are collected per document;
// one failing save never blocks the others.
func (s *Store) SaveAll(ctx context.Context) map[document.ID]error {
	s.mu.RLock()
	ids := make([]document.ID, 0, len(s.docs))
	for id, doc := range s.docs {
		if doc.IsDirty() {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	failures := make(map[document.ID]error)
	for _, id := range ids {
		if err := s.Save(ctx, id); err != nil {
			failures[id] = err
		}
	}
	return failures
}

// Refresh re-reads disk content, overwrites the document and marks it
// clean. Callers use it only when discarding local edits is safe.
func (s *Store) Refresh(ctx context.Context, id document.ID) error {
	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()

	if !ok {
		return &PathError{Op: "refresh", Path: string(id), Err: ErrNotOpen}
	}

	if err := ctx.Err(); err != nil {
		return &PathError{Op: "refresh", Path: string(id), Err: err}
	}

	content := ""
	data, err := s.fs.ReadFile(string(id))
	switch {
	case err == nil:
		content = string(data)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return &PathError{Op: "refresh", Path: string(id), Err: err}
	}

	s.mu.Lock()
	if current, ok := s.docs[id]; !ok || current != doc {
		s.mu.Unlock()
		return nil
	}
	s.conflicts[id] = StateClean
	s.mu.Unlock()

	doc.ReplaceContent(content)
	if info, err := s.fs.Stat(string(id)); err == nil {
		doc.MarkSaved(info.ModTime())
	}
	s.listeners.Notify(ChangeEvent{Kind: ChangeExternal, ID: id, State: doc.State()})
	return nil
}

// Resolve applies the user's decision for a pending conflict.
func (s *Store) Resolve(ctx context.Context, id document.ID, res Resolution) error {
	s.mu.Lock()
	if _, ok := s.docs[id]; !ok {
		s.mu.Unlock()
		return &PathError{Op: "resolve", Path: string(id), Err: ErrNotOpen}
	}
	if s.conflicts[id] != StateConflictPending {
		s.mu.Unlock()
		return &PathError{Op: "resolve", Path: string(id), Err: ErrNoConflict}
	}

	switch res {
	case ResolutionReload:
		s.mu.Unlock()
		return s.Refresh(ctx, id)

	case ResolutionKeepLocal, ResolutionNone:
		// Keep local edits; the disk event is discarded.
		s.conflicts[id] = StateDirtyLocal
		s.mu.Unlock()
		return nil

	case ResolutionCompare:
		// Still pending: a collaborator is presenting the diff and a
		// later Resolve call will settle it.
		s.mu.Unlock()
		return nil

	default:
		s.mu.Unlock()
		return nil
	}
}

// PendingConflict returns the conflict details for a document in
// StateConflictPending, for presentation to the user.
func (s *Store) PendingConflict(id document.ID) (Conflict, bool) {
	s.mu.RLock()
	doc, ok := s.docs[id]
	pending := s.conflicts[id] == StateConflictPending
	s.mu.RUnlock()

	if !ok || !pending {
		return Conflict{}, false
	}

	local := doc.Content()
	disk := ""
	if data, err := s.fs.ReadFile(string(id)); err == nil {
		disk = string(data)
	}

	return Conflict{
		ID:           id,
		LocalContent: local,
		DiskContent:  disk,
		Diff:         renderDiff(local, disk),
	}, true
}

// Close disposes the watch and removes the document from the registry.
func (s *Store) Close(id document.ID) error {
	s.mu.Lock()
	doc, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return &PathError{Op: "close", Path: string(id), Err: ErrNotOpen}
	}
	delete(s.docs, id)
	delete(s.conflicts, id)
	s.mu.Unlock()

	if err := s.watch.Unwatch(string(id)); err != nil && !errors.Is(err, watcher.ErrNotWatching) && !errors.Is(err, watcher.ErrWatcherClosed) {
		log.Warningf("unwatch %s: %v", id, err)
	}

	s.listeners.Notify(ChangeEvent{Kind: ChangeClosed, ID: id, State: doc.State()})
	return nil
}

// CloseAll removes every document from the registry.
func (s *Store) CloseAll() {
	s.mu.RLock()
	ids := make([]document.ID, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		_ = s.Close(id)
	}
}

// Shutdown stops the watch loop and closes the watcher. Open documents are
// left in place so dirty content remains inspectable by the host during
// teardown.
func (s *Store) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()

	_ = s.watch.Close()
	s.wg.Wait()
}

// watchLoop processes file change notifications sequentially. Sequential
// processing is what keeps "user typed", "disk changed" and "save
// completed" from racing each other.
func (s *Store) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closeCh:
			return

		case ev, ok := <-s.watch.Events():
			if !ok {
				return
			}
			s.handleFileEvent(ev)

		case err, ok := <-s.watch.Errors():
			if !ok {
				return
			}
			log.Errorf("watcher: %v", err)
		}
	}
}

// handleFileEvent runs the external-change state machine for one event.
func (s *Store) handleFileEvent(ev watcher.Event) {
	id := document.ID(ev.Path)

	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()

	if !ok {
		// The document can legitimately have been closed after the event
		// was queued.
		log.Debugf("event for unknown document %s ignored", id)
		return
	}

	// Deletion wins: no conflict prompt, dirty or not.
	if ev.Op.Has(watcher.OpRemove) || ev.Op.Has(watcher.OpRename) {
		if err := s.Close(id); err != nil {
			log.Warningf("close on delete %s: %v", id, err)
		}
		return
	}

	// A save produces a watcher event of its own. The mod time recorded
	// at the last read or write identifies it: only writes the registry
	// did not make run the conflict machine.
	if info, err := s.fs.Stat(ev.Path); err == nil && !doc.HasExternalChanges(info.ModTime()) {
		log.Debugf("own write event for %s ignored", id)
		return
	}

	if !doc.IsDirty() {
		// Clean document: auto-refresh, no prompt.
		if err := s.Refresh(context.Background(), id); err != nil {
			log.Errorf("auto refresh %s: %v", id, err)
		}
		return
	}

	// Dirty document: enter conflict-pending and ask the user.
	s.mu.Lock()
	s.conflicts[id] = StateConflictPending
	s.mu.Unlock()

	s.listeners.Notify(ChangeEvent{Kind: ChangeConflict, ID: id, State: doc.State()})

	conflict, ok := s.PendingConflict(id)
	if !ok {
		return
	}

	// The prompt is modal for the user but must not stall event
	// processing for other documents.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.prompter.ResolveConflict(context.Background(), conflict)
		if err := s.Resolve(context.Background(), id, res); err != nil &&
			!errors.Is(err, ErrNoConflict) && !errors.Is(err, ErrNotOpen) {
			log.Errorf("resolve %s: %v", id, err)
		}
	}()
}
