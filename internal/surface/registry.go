// Package surface provides the presentation-surface registry.
//
// The registry creates, reuses and disposes surfaces, maintains the
// document-to-surfaces mapping and drives the message protocol on each
// surface's channel. Surfaces never touch the document model directly:
// their edits arrive as messages, flow through the document registry, and
// the resulting content is fanned back out to every other surface bound
// to the same document.
package surface

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"markmux/internal/command"
	"markmux/internal/docstore"
	"markmux/internal/document"
	"markmux/internal/event"
	"markmux/internal/modetrack"
	"markmux/internal/session"
	"markmux/internal/surface/transport"
)

var log = commonlog.GetLogger("surface")

// Errors returned by registry operations.
var (
	// ErrUnknownSurface indicates the surface is not registered.
	ErrUnknownSurface = errors.New("unknown surface")

	// ErrRegistryClosed indicates the registry has been shut down.
	ErrRegistryClosed = errors.New("surface registry closed")
)

// Commands the registry interprets locally instead of forwarding.
const (
	cmdRefreshFromDisk = "refresh-from-disk"
	cmdSwitchMode      = "switch-mode"
	cmdValidate        = "validate-document"
)

// Notifier is the user-visible error channel. Failures that the user must
// see (a save that did not happen, a session that cannot be restored) go
// here; everything else is logged.
type Notifier interface {
	NotifyError(message string)
}

type logNotifier struct{}

func (logNotifier) NotifyError(message string) {
	log.Error(message)
}

// bindKey is the reuse key: at most one surface exists per document and
// mode.
type bindKey struct {
	doc  document.ID
	mode document.Mode
}

// Registry owns all live surfaces.
type Registry struct {
	mu sync.RWMutex

	docs     *docstore.Store
	modes    *modetrack.Tracker
	commands *command.Registry
	sessions *session.Store
	notifier Notifier

	surfaces map[ID]*Surface
	byKey    map[bindKey]ID

	docSub *event.Subscription

	closed bool
	wg     sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithNotifier sets the user-visible error collaborator.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) {
		r.notifier = n
	}
}

// WithSessions enables cross-restart surface persistence.
func WithSessions(s *session.Store) Option {
	return func(r *Registry) {
		r.sessions = s
	}
}

// NewRegistry creates a surface registry on top of the document registry,
// mode tracker and command dispatcher.
func NewRegistry(docs *docstore.Store, modes *modetrack.Tracker, commands *command.Registry, opts ...Option) *Registry {
	r := &Registry{
		docs:     docs,
		modes:    modes,
		commands: commands,
		notifier: logNotifier{},
		surfaces: make(map[ID]*Surface),
		byKey:    make(map[bindKey]ID),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.docSub = docs.AddChangeListener(r.onDocChange)
	return r
}

// Create returns the surface for (resource, mode), constructing it if
// needed. A surface that already exists for the pair is brought to focus
// and returned instead of duplicated. The surface's initial content is
// delivered only after it announces readiness on its channel.
func (r *Registry) Create(ctx context.Context, path string, mode document.Mode) (*Surface, error) {
	regEnd, surfEnd := transport.Pair()
	s, created, err := r.register(ctx, path, mode, regEnd, surfEnd)
	if err != nil {
		_ = regEnd.Close()
		return nil, err
	}
	if !created {
		_ = regEnd.Close()
	}
	return s, nil
}

// Attach registers a surface that communicates over an externally owned
// channel, such as a websocket connection. If a surface already exists
// for the pair the offered channel is closed and the existing surface
// returned.
func (r *Registry) Attach(ctx context.Context, path string, mode document.Mode, ch transport.Channel) (*Surface, error) {
	s, created, err := r.register(ctx, path, mode, ch, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if !created {
		_ = ch.Close()
	}
	return s, nil
}

func (r *Registry) register(ctx context.Context, path string, mode document.Mode, regEnd, client transport.Channel) (*Surface, bool, error) {
	doc, err := r.docs.Open(ctx, path)
	if err != nil {
		return nil, false, err
	}
	key := bindKey{doc: doc.ID(), mode: mode}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, ErrRegistryClosed
	}
	if id, ok := r.byKey[key]; ok {
		existing := r.surfaces[id]
		r.mu.Unlock()
		r.focus(existing)
		return existing, false, nil
	}

	s := &Surface{
		id:       ID(uuid.NewString()),
		resource: path,
		doc:      doc.ID(),
		mode:     mode,
		ch:       regEnd,
		client:   client,
		snapshot: doc.Content(),
		visible:  true,
	}
	r.surfaces[s.id] = s
	r.byKey[key] = s.id
	r.wg.Add(1)
	r.mu.Unlock()

	go r.serve(s)
	r.focus(s)
	return s, true, nil
}

// Get returns a registered surface.
func (r *Registry) Get(id ID) (*Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[id]
	return s, ok
}

// Surfaces returns all live surfaces.
func (r *Registry) Surfaces() []*Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Surface, 0, len(r.surfaces))
	for _, s := range r.surfaces {
		out = append(out, s)
	}
	return out
}

// SurfacesFor returns the surfaces bound to a document.
func (r *Registry) SurfacesFor(doc document.ID) []*Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.boundLocked(doc)
}

func (r *Registry) boundLocked(doc document.ID) []*Surface {
	var out []*Surface
	for _, s := range r.surfaces {
		if s.doc == doc {
			out = append(out, s)
		}
	}
	return out
}

// Dispose tears down a surface's channel and removes its bookkeeping.
// Disposing twice, or disposing an unknown surface, is a no-op.
func (r *Registry) Dispose(id ID) {
	r.mu.Lock()
	s, ok := r.surfaces[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.surfaces, id)
	delete(r.byKey, bindKey{doc: s.doc, mode: s.mode})
	r.mu.Unlock()

	_ = s.ch.Close()

	if r.sessions != nil {
		if err := r.sessions.Delete(string(id)); err != nil {
			log.Warningf("deleting session for %s: %v", id, err)
		}
	}
}

// UpdateSurfaceContent pushes content to a single surface and updates its
// local snapshot, for manual refresh pushes.
func (r *Registry) UpdateSurfaceContent(id ID, content string) error {
	r.mu.RLock()
	s, ok := r.surfaces[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSurface, id)
	}

	s.setSnapshot(content)
	return s.ch.Send(transport.Message{
		Type:    transport.TypeSetContent,
		Payload: transport.Payload{Content: transport.String(content)},
	})
}

// BroadcastDocumentUpdate pushes content to every surface bound to the
// document.
func (r *Registry) BroadcastDocumentUpdate(doc document.ID, content string) {
	r.broadcast(doc, content, false, "")
}

// broadcast fans content out to the document's surfaces, skipping the
// surface whose own edit produced it so it never sees its edit echoed
// back.
func (r *Registry) broadcast(doc document.ID, content string, fromFile bool, exclude ID) {
	r.mu.RLock()
	targets := r.boundLocked(doc)
	r.mu.RUnlock()

	msg := transport.Message{
		Type:    transport.TypeSetContent,
		Payload: transport.Payload{Content: transport.String(content)},
	}
	if fromFile {
		msg.Payload.FromFile = transport.Bool(true)
	}

	for _, s := range targets {
		if s.id == exclude {
			continue
		}
		// Hidden surfaces are not kept current; they catch up when they
		// become visible again.
		if !s.IsVisible() {
			continue
		}
		s.setSnapshot(content)
		if err := s.ch.Send(msg); err != nil {
			log.Warningf("broadcast to %s: %v", s.id, err)
		}
	}
}

// SetVisible updates a surface's visibility. Broadcasts skip hidden
// surfaces, so a surface becoming visible again is pushed the current
// document content to cover anything it missed.
func (r *Registry) SetVisible(id ID, visible bool) error {
	r.mu.RLock()
	s, ok := r.surfaces[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSurface, id)
	}

	wasVisible := s.IsVisible()
	s.SetVisible(visible)

	if visible && !wasVisible {
		if doc, open := r.docs.Get(s.doc); open {
			return r.UpdateSurfaceContent(id, doc.Content())
		}
	}
	return nil
}

// Focus gives one surface focus, taking it from all others.
func (r *Registry) Focus(id ID) error {
	r.mu.RLock()
	s, ok := r.surfaces[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSurface, id)
	}
	r.focus(s)
	return nil
}

func (r *Registry) focus(target *Surface) {
	r.mu.RLock()
	all := make([]*Surface, 0, len(r.surfaces))
	for _, s := range r.surfaces {
		all = append(all, s)
	}
	r.mu.RUnlock()

	for _, s := range all {
		s.setFocused(s == target)
	}
}

// serve drains one surface's channel, dispatching each message in order.
// FIFO processing per channel is what keeps a surface's own edits from
// racing each other.
func (r *Registry) serve(s *Surface) {
	defer r.wg.Done()

	for msg := range s.ch.Receive() {
		r.dispatch(s, msg)
	}

	// The peer closed the connection: drop the bookkeeping if Dispose
	// has not already done so.
	r.Dispose(s.id)
}

// dispatch wraps a message handler so one failing message degrades one
// operation, never the registry.
func (r *Registry) dispatch(s *Surface, msg transport.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("surface %s: %s handler panic: %v", s.id, msg.Type, rec)
		}
	}()

	if err := r.handle(s, msg); err != nil {
		log.Errorf("surface %s: %s: %v", s.id, msg.Type, err)
	}
}

func (r *Registry) handle(s *Surface, msg transport.Message) error {
	ctx := context.Background()

	switch msg.Type {
	case transport.TypeReady:
		return r.handleReady(s)
	case transport.TypeContentChanged:
		return r.handleContentChanged(s, msg)
	case transport.TypeSaveRequest:
		return r.handleSaveRequest(ctx, s, msg)
	case transport.TypeExecuteCommand:
		return r.handleExecuteCommand(ctx, s, msg)
	default:
		// The peer may speak a newer protocol; unknown messages are
		// dropped, not fatal.
		log.Warningf("surface %s: unknown message type %q", s.id, msg.Type)
		return nil
	}
}

// handleReady delivers the current content. Readiness is the only
// reliable synchronization point: until a surface announces it, nothing
// is pushed to it.
func (r *Registry) handleReady(s *Surface) error {
	s.setReady()

	doc, ok := r.docs.Get(s.doc)
	if !ok {
		// The document was closed while the surface was starting up.
		log.Warningf("surface %s: ready for closed document %s", s.id, s.doc)
		return nil
	}

	content := doc.Content()
	s.setSnapshot(content)
	return s.ch.Send(transport.Message{
		Type:    transport.TypeSetContent,
		Payload: transport.Payload{Content: transport.String(content)},
	})
}

func (r *Registry) handleContentChanged(s *Surface, msg transport.Message) error {
	if msg.Payload.Content == nil {
		return nil
	}
	content := *msg.Payload.Content

	s.setSnapshot(content)
	if err := r.docs.UpdateContent(s.doc, content); err != nil {
		if errors.Is(err, docstore.ErrNotOpen) {
			// The document can legitimately be gone by the time the
			// message is processed.
			log.Debugf("surface %s: edit for closed document %s dropped", s.id, s.doc)
			return nil
		}
		return err
	}

	if msg.Payload.IsDirty != nil {
		if doc, ok := r.docs.Get(s.doc); ok {
			if *msg.Payload.IsDirty {
				doc.MarkDirty()
			} else {
				doc.MarkClean()
			}
		}
	}

	r.broadcast(s.doc, content, false, s.id)
	return nil
}

// handleSaveRequest writes the surface's content into the document and
// persists it. The surface's dirty indicator is only cleared by the
// acknowledgment, so a failed save leaves it untouched.
func (r *Registry) handleSaveRequest(ctx context.Context, s *Surface, msg transport.Message) error {
	if msg.Payload.Content != nil {
		s.setSnapshot(*msg.Payload.Content)
		if err := r.docs.UpdateContent(s.doc, *msg.Payload.Content); err != nil && !errors.Is(err, docstore.ErrNotOpen) {
			return err
		}
	}

	if err := r.docs.Save(ctx, s.doc); err != nil {
		r.notifier.NotifyError(fmt.Sprintf("failed to save %s: %v", s.doc, err))
		return nil
	}

	r.send(s.id, transport.Message{
		Type: transport.TypeContentChanged,
		Payload: transport.Payload{
			IsDirty: transport.Bool(false),
			Saved:   transport.Bool(true),
		},
		RequestID: msg.RequestID,
	})
	return nil
}

// handleExecuteCommand interprets the small local command set and
// forwards everything else to the host dispatcher.
func (r *Registry) handleExecuteCommand(ctx context.Context, s *Surface, msg transport.Message) error {
	name := msg.Payload.Command
	if name == "" {
		return nil
	}

	switch name {
	case cmdRefreshFromDisk:
		return r.docs.Refresh(ctx, s.doc)

	case cmdSwitchMode:
		if len(msg.Payload.Args) == 0 {
			return fmt.Errorf("command %s: missing target mode", name)
		}
		target := document.Mode(msg.Payload.Args[0])
		if !target.Valid() {
			return fmt.Errorf("command %s: invalid mode %q", name, msg.Payload.Args[0])
		}
		if !r.modes.CanSwitchMode(s.doc, target) {
			return nil
		}
		r.modes.SwitchMode(s.doc, target)
		return nil

	case cmdValidate:
		doc, ok := r.docs.Get(s.doc)
		if !ok {
			return nil
		}
		result := doc.Validate()
		if !result.IsValid {
			var problems []string
			for _, e := range result.Errors {
				problems = append(problems, e.Message)
			}
			r.notifier.NotifyError(fmt.Sprintf("%s: %s", s.doc, strings.Join(problems, "; ")))
		}
		return nil

	default:
		return r.commands.Execute(ctx, name, msg.Payload.Args)
	}
}

// send delivers a message if the surface is still registered. A surface
// disposed while an operation was in flight silently absorbs the stale
// completion.
func (r *Registry) send(id ID, msg transport.Message) {
	r.mu.RLock()
	s, ok := r.surfaces[id]
	r.mu.RUnlock()

	if !ok {
		log.Debugf("dropping %s for disposed surface %s", msg.Type, id)
		return
	}
	if err := s.ch.Send(msg); err != nil {
		log.Warningf("send %s to %s: %v", msg.Type, id, err)
	}
}

// onDocChange reacts to document registry events: external refreshes are
// pushed to every bound surface and closed documents take their surfaces
// down with them.
func (r *Registry) onDocChange(ev docstore.ChangeEvent) {
	switch ev.Kind {
	case docstore.ChangeExternal:
		r.broadcast(ev.ID, ev.State.Content, true, "")

	case docstore.ChangeClosed:
		r.mu.RLock()
		bound := r.boundLocked(ev.ID)
		r.mu.RUnlock()
		for _, s := range bound {
			r.Dispose(s.id)
		}
	}
}

// GetState captures the surface's persistable state.
func (r *Registry) GetState(id ID) (session.Snapshot, error) {
	r.mu.RLock()
	s, ok := r.surfaces[id]
	r.mu.RUnlock()

	if !ok {
		return session.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSurface, id)
	}

	doc, open := r.docs.Get(s.doc)
	if !open {
		return session.Snapshot{}, fmt.Errorf("%w: %s", docstore.ErrNotOpen, s.doc)
	}

	st := doc.State()
	return session.Snapshot{
		DocumentID:   s.doc,
		Mode:         s.mode,
		Content:      st.Content,
		IsDirty:      st.IsDirty,
		LastModified: st.LastModified,
		ResourceID:   s.resource,
	}, nil
}

// SaveState persists one surface's snapshot.
func (r *Registry) SaveState(id ID) error {
	if r.sessions == nil {
		return nil
	}
	snap, err := r.GetState(id)
	if err != nil {
		return err
	}
	return r.sessions.Put(string(id), snap)
}

// PersistAll stores a snapshot for every live surface, for restoration
// after the next start.
func (r *Registry) PersistAll() {
	if r.sessions == nil {
		return
	}
	for _, s := range r.Surfaces() {
		if err := r.SaveState(s.id); err != nil {
			log.Warningf("persisting %s: %v", s.id, err)
		}
	}
}

// RestoreState reconstructs a surface from a persisted snapshot: the
// document is reopened, unsaved content is reapplied and the recorded
// mode is restored. A snapshot missing required fields is rejected with
// session.ErrIncompleteSnapshot.
func (r *Registry) RestoreState(ctx context.Context, snap session.Snapshot) (*Surface, error) {
	if snap.ResourceID == "" || snap.DocumentID == "" || !snap.Mode.Valid() {
		return nil, session.ErrIncompleteSnapshot
	}

	s, err := r.Create(ctx, snap.ResourceID, snap.Mode)
	if err != nil {
		return nil, err
	}

	if snap.IsDirty {
		if err := r.docs.UpdateContent(s.doc, snap.Content); err != nil {
			return nil, err
		}
		s.setSnapshot(snap.Content)
	}

	if r.modes.GetCurrentMode(s.doc) != snap.Mode {
		r.modes.SwitchMode(s.doc, snap.Mode)
	}
	return s, nil
}

// RestoreAll rebuilds surfaces from the session store. Restoration fails
// soft: a snapshot missing required fields is discarded and the user is
// asked to reopen the document instead of crashing the host.
func (r *Registry) RestoreAll(ctx context.Context) {
	if r.sessions == nil {
		return
	}

	ids, err := r.sessions.SurfaceIDs()
	if err != nil {
		log.Errorf("listing stored surfaces: %v", err)
		return
	}

	for _, old := range ids {
		snap, err := r.sessions.Get(old)
		if err != nil {
			r.notifier.NotifyError("stored surface state is incomplete; please reopen the document")
			_ = r.sessions.Delete(old)
			continue
		}

		if _, err := r.RestoreState(ctx, snap); errors.Is(err, session.ErrIncompleteSnapshot) {
			r.notifier.NotifyError("stored surface state is incomplete; please reopen the document")
		} else if err != nil {
			r.notifier.NotifyError(fmt.Sprintf("failed to restore %s: %v", snap.ResourceID, err))
		}

		// The restored surface carries a fresh id; the stored record is
		// superseded either way.
		_ = r.sessions.Delete(old)
	}
}

// Shutdown closes every surface channel and stops the serve loops. It
// does not touch the session store, so a PersistAll before Shutdown
// survives for the next start.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := make([]*Surface, 0, len(r.surfaces))
	for _, s := range r.surfaces {
		all = append(all, s)
	}
	r.surfaces = make(map[ID]*Surface)
	r.byKey = make(map[bindKey]ID)
	r.mu.Unlock()

	r.docSub.Cancel()

	for _, s := range all {
		_ = s.ch.Close()
	}
	r.wg.Wait()
}
