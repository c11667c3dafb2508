package surface

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"
	"time"

	"markmux/internal/command"
	"markmux/internal/docstore"
	"markmux/internal/document"
	"markmux/internal/modetrack"
	"markmux/internal/session"
	"markmux/internal/surface/transport"
	"markmux/internal/vfs"
	"markmux/internal/watcher"
)

type testEnv struct {
	registry *Registry
	docs     *docstore.Store
	modes    *modetrack.Tracker
	commands *command.Registry
	memfs    *vfs.MemFS
	manual   *watcher.Manual
	notifier *recordingNotifier
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) NotifyError(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// failWriteFS fails every write, for exercising failed saves.
type failWriteFS struct {
	*vfs.MemFS
}

func (f failWriteFS) WriteFile(string, []byte, fs.FileMode) error {
	return errors.New("disk full")
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	memfs := vfs.NewMemFS()
	return setupTestEnvFS(t, memfs, memfs)
}

// setupTestEnvFS builds the full stack on filesystem; memfs is the
// backing store used for seeding and inspection.
func setupTestEnvFS(t *testing.T, filesystem vfs.FS, memfs *vfs.MemFS) *testEnv {
	t.Helper()

	manual := watcher.NewManual()
	docs := docstore.NewStore(filesystem, manual)
	modes := modetrack.NewTracker(docs)
	commands := command.NewRegistry()
	notifier := &recordingNotifier{}
	registry := NewRegistry(docs, modes, commands, WithNotifier(notifier))

	t.Cleanup(func() {
		registry.Shutdown()
		modes.Dispose()
		docs.Shutdown()
	})

	return &testEnv{
		registry: registry,
		docs:     docs,
		modes:    modes,
		commands: commands,
		memfs:    memfs,
		manual:   manual,
		notifier: notifier,
	}
}

// ready announces readiness on the surface end and consumes the initial
// content push.
func ready(t *testing.T, s *Surface) transport.Message {
	t.Helper()
	if err := s.Channel().Send(transport.Message{Type: transport.TypeReady}); err != nil {
		t.Fatalf("sending ready: %v", err)
	}
	return expectMessage(t, s.Channel(), transport.TypeSetContent)
}

func expectMessage(t *testing.T, ch transport.Channel, typ transport.MessageType) transport.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-ch.Receive():
			if !ok {
				t.Fatalf("channel closed while waiting for %s", typ)
			}
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func expectNoMessage(t *testing.T, ch transport.Channel) {
	t.Helper()
	select {
	case msg, ok := <-ch.Receive():
		if ok {
			t.Fatalf("unexpected message %s %+v", msg.Type, msg.Payload)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRegistry_Create_Idempotent(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "x")

	s1, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	s2, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}

	if s1 != s2 {
		t.Error("duplicate create should return the existing surface")
	}
	if got := len(env.registry.Surfaces()); got != 1 {
		t.Errorf("surface count = %d, want 1", got)
	}
	if !s1.IsFocused() {
		t.Error("re-created surface should be focused")
	}
}

func TestRegistry_Create_DistinctModes(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "x")

	s1, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create edit failed: %v", err)
	}
	s2, err := env.registry.Create(context.Background(), "/note.md", document.ModeRead)
	if err != nil {
		t.Fatalf("Create read failed: %v", err)
	}

	if s1 == s2 {
		t.Error("distinct modes should produce distinct surfaces")
	}
	if got := len(env.registry.SurfacesFor(s1.DocumentID())); got != 2 {
		t.Errorf("bound surfaces = %d, want 2", got)
	}
}

func TestRegistry_ReadyGatesInitialContent(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "# Hi")

	s, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Nothing is pushed before the surface announces readiness.
	expectNoMessage(t, s.Channel())

	msg := ready(t, s)
	if msg.Payload.Content == nil || *msg.Payload.Content != "# Hi" {
		t.Errorf("initial content = %+v, want %q", msg.Payload.Content, "# Hi")
	}
}

func TestRegistry_FanOut(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "# Hi")

	edit, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create edit failed: %v", err)
	}
	read, err := env.registry.Create(context.Background(), "/note.md", document.ModeRead)
	if err != nil {
		t.Fatalf("Create read failed: %v", err)
	}
	ready(t, edit)
	ready(t, read)

	err = edit.Channel().Send(transport.Message{
		Type: transport.TypeContentChanged,
		Payload: transport.Payload{
			Content: transport.String("# Hi\n\nmore"),
			IsDirty: transport.Bool(true),
		},
	})
	if err != nil {
		t.Fatalf("sending edit: %v", err)
	}

	msg := expectMessage(t, read.Channel(), transport.TypeSetContent)
	if msg.Payload.Content == nil || *msg.Payload.Content != "# Hi\n\nmore" {
		t.Errorf("read surface content = %+v, want %q", msg.Payload.Content, "# Hi\n\nmore")
	}

	doc, ok := env.docs.Get(edit.DocumentID())
	if !ok {
		t.Fatal("document gone")
	}
	if !doc.IsDirty() {
		t.Error("document should be dirty after the edit")
	}

	// The originating surface never sees its own edit echoed back.
	expectNoMessage(t, edit.Channel())
}

func TestRegistry_SaveRequest_Acknowledged(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "old")

	s, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ready(t, s)

	err = s.Channel().Send(transport.Message{
		Type:      transport.TypeSaveRequest,
		Payload:   transport.Payload{Content: transport.String("new")},
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("sending save-request: %v", err)
	}

	ack := expectMessage(t, s.Channel(), transport.TypeContentChanged)
	if ack.Payload.Saved == nil || !*ack.Payload.Saved {
		t.Error("acknowledgment should carry saved=true")
	}
	if ack.Payload.IsDirty == nil || *ack.Payload.IsDirty {
		t.Error("acknowledgment should carry isDirty=false")
	}
	if ack.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want %q", ack.RequestID, "req-1")
	}

	data, err := env.memfs.ReadFile("/note.md")
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if string(data) != "new" {
		t.Errorf("disk content = %q, want %q", data, "new")
	}
}

func TestRegistry_SaveRequest_FailureReportedOnce(t *testing.T) {
	memfs := vfs.NewMemFS()
	memfs.AddFile("/note.md", "old")
	env := setupTestEnvFS(t, failWriteFS{memfs}, memfs)

	s, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ready(t, s)

	err = s.Channel().Send(transport.Message{
		Type:    transport.TypeSaveRequest,
		Payload: transport.Payload{Content: transport.String("X")},
	})
	if err != nil {
		t.Fatalf("sending save-request: %v", err)
	}

	// No saved=true acknowledgment arrives.
	expectNoMessage(t, s.Channel())

	doc, ok := env.docs.Get(s.DocumentID())
	if !ok {
		t.Fatal("document gone")
	}
	if !doc.IsDirty() {
		t.Error("document should stay dirty after a failed save")
	}
	if got := env.notifier.count(); got != 1 {
		t.Errorf("error reported %d times, want exactly once", got)
	}
}

func TestRegistry_Dispose_Idempotent(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "x")

	s, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	env.registry.Dispose(s.ID())
	env.registry.Dispose(s.ID())

	if _, ok := env.registry.Get(s.ID()); ok {
		t.Error("surface still registered after Dispose")
	}

	// The pair can be recreated after disposal.
	again, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("re-Create failed: %v", err)
	}
	if again.ID() == s.ID() {
		t.Error("re-created surface should carry a fresh id")
	}
}

func TestRegistry_ExternalChangePushed(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "v1")

	s, err := env.registry.Create(context.Background(), "/note.md", document.ModeRead)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ready(t, s)

	env.memfs.AddFile("/note.md", "v2")
	env.manual.Fire("/note.md", watcher.OpWrite)

	msg := expectMessage(t, s.Channel(), transport.TypeSetContent)
	if msg.Payload.Content == nil || *msg.Payload.Content != "v2" {
		t.Errorf("pushed content = %+v, want %q", msg.Payload.Content, "v2")
	}
	if msg.Payload.FromFile == nil || !*msg.Payload.FromFile {
		t.Error("external refresh should carry fromFile=true")
	}
}

func TestRegistry_DocumentDeletionDisposesSurfaces(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "x")

	s, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ready(t, s)

	env.manual.Fire("/note.md", watcher.OpRemove)

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := env.registry.Get(s.ID()); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("surface not disposed after document deletion")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRegistry_ExecuteCommand_Forwarded(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "x")

	called := make(chan []string, 1)
	env.commands.Register(command.Command{
		Name: "open-external",
		Handler: func(ctx context.Context, args []string) error {
			called <- args
			return nil
		},
	})

	s, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ready(t, s)

	err = s.Channel().Send(transport.Message{
		Type:    transport.TypeExecuteCommand,
		Payload: transport.Payload{Command: "open-external", Args: []string{"https://example.com"}},
	})
	if err != nil {
		t.Fatalf("sending execute-command: %v", err)
	}

	select {
	case args := <-called:
		if len(args) != 1 || args[0] != "https://example.com" {
			t.Errorf("args = %v", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never dispatched")
	}
}

func TestRegistry_ExecuteCommand_SwitchMode(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "x")

	s, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ready(t, s)

	switched := make(chan modetrack.SwitchEvent, 1)
	sub := env.modes.OnSwitch(func(ev modetrack.SwitchEvent) {
		switched <- ev
	})
	defer sub.Cancel()

	err = s.Channel().Send(transport.Message{
		Type:    transport.TypeExecuteCommand,
		Payload: transport.Payload{Command: "switch-mode", Args: []string{"read"}},
	})
	if err != nil {
		t.Fatalf("sending execute-command: %v", err)
	}

	select {
	case ev := <-switched:
		if ev.To != document.ModeRead {
			t.Errorf("switched to %s, want %s", ev.To, document.ModeRead)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mode never switched")
	}

	if got := env.modes.GetCurrentMode(s.DocumentID()); got != document.ModeRead {
		t.Errorf("mode = %s, want %s", got, document.ModeRead)
	}
}

func TestRegistry_ExecuteCommand_RefreshFromDisk(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "v1")

	s, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ready(t, s)

	env.memfs.AddFile("/note.md", "v2")
	err = s.Channel().Send(transport.Message{
		Type:    transport.TypeExecuteCommand,
		Payload: transport.Payload{Command: "refresh-from-disk"},
	})
	if err != nil {
		t.Fatalf("sending execute-command: %v", err)
	}

	msg := expectMessage(t, s.Channel(), transport.TypeSetContent)
	if msg.Payload.Content == nil || *msg.Payload.Content != "v2" {
		t.Errorf("refreshed content = %+v, want %q", msg.Payload.Content, "v2")
	}
}

func TestRegistry_PanicInHandlerIsContained(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "x")

	env.commands.Register(command.Command{
		Name: "boom",
		Handler: func(ctx context.Context, args []string) error {
			panic("handler exploded")
		},
	})

	s, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ready(t, s)

	err = s.Channel().Send(transport.Message{
		Type:    transport.TypeExecuteCommand,
		Payload: transport.Payload{Command: "boom"},
	})
	if err != nil {
		t.Fatalf("sending execute-command: %v", err)
	}

	// The registry survives: a later message is still processed.
	err = s.Channel().Send(transport.Message{
		Type:    transport.TypeContentChanged,
		Payload: transport.Payload{Content: transport.String("still alive")},
	})
	if err != nil {
		t.Fatalf("sending edit: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for s.ContentSnapshot() != "still alive" {
		select {
		case <-deadline:
			t.Fatal("registry stopped processing after a handler panic")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRegistry_UpdateSurfaceContent(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "x")

	s, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ready(t, s)

	if err := env.registry.UpdateSurfaceContent(s.ID(), "pushed"); err != nil {
		t.Fatalf("UpdateSurfaceContent failed: %v", err)
	}

	msg := expectMessage(t, s.Channel(), transport.TypeSetContent)
	if msg.Payload.Content == nil || *msg.Payload.Content != "pushed" {
		t.Errorf("content = %+v, want %q", msg.Payload.Content, "pushed")
	}
	if s.ContentSnapshot() != "pushed" {
		t.Errorf("snapshot = %q, want %q", s.ContentSnapshot(), "pushed")
	}

	if err := env.registry.UpdateSurfaceContent(ID("nope"), "x"); !errors.Is(err, ErrUnknownSurface) {
		t.Errorf("err = %v, want ErrUnknownSurface", err)
	}
}

func TestRegistry_HiddenSurfaceCatchesUpOnShow(t *testing.T) {
	env := setupTestEnv(t)
	env.memfs.AddFile("/note.md", "# Hi")

	edit, err := env.registry.Create(context.Background(), "/note.md", document.ModeEdit)
	if err != nil {
		t.Fatalf("Create edit failed: %v", err)
	}
	read, err := env.registry.Create(context.Background(), "/note.md", document.ModeRead)
	if err != nil {
		t.Fatalf("Create read failed: %v", err)
	}
	ready(t, edit)
	ready(t, read)

	if err := env.registry.SetVisible(read.ID(), false); err != nil {
		t.Fatalf("SetVisible failed: %v", err)
	}

	err = edit.Channel().Send(transport.Message{
		Type:    transport.TypeContentChanged,
		Payload: transport.Payload{Content: transport.String("# Hi\n\nmore")},
	})
	if err != nil {
		t.Fatalf("sending edit: %v", err)
	}

	// The hidden surface receives nothing while the edit lands.
	deadline := time.After(2 * time.Second)
	for edit.ContentSnapshot() != "# Hi\n\nmore" {
		select {
		case <-deadline:
			t.Fatal("edit never applied")
		case <-time.After(10 * time.Millisecond):
		}
	}
	expectNoMessage(t, read.Channel())

	// Becoming visible again pushes the current content.
	if err := env.registry.SetVisible(read.ID(), true); err != nil {
		t.Fatalf("SetVisible failed: %v", err)
	}
	msg := expectMessage(t, read.Channel(), transport.TypeSetContent)
	if msg.Payload.Content == nil || *msg.Payload.Content != "# Hi\n\nmore" {
		t.Errorf("content = %+v, want %q", msg.Payload.Content, "# Hi\n\nmore")
	}

	if err := env.registry.SetVisible(ID("nope"), true); !errors.Is(err, ErrUnknownSurface) {
		t.Errorf("err = %v, want ErrUnknownSurface", err)
	}
}

func TestRegistry_PersistAndRestore(t *testing.T) {
	sessions, err := session.NewStore(":memory:")
	if err != nil {
		t.Fatalf("opening session store: %v", err)
	}
	defer sessions.Close()

	memfs := vfs.NewMemFS()
	memfs.AddFile("/note.md", "# Hi")
	manual := watcher.NewManual()
	docs := docstore.NewStore(memfs, manual)
	defer docs.Shutdown()
	modes := modetrack.NewTracker(docs)
	defer modes.Dispose()
	commands := command.NewRegistry()

	registry := NewRegistry(docs, modes, commands, WithSessions(sessions))
	s, err := registry.Create(context.Background(), "/note.md", document.ModeRead)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ready(t, s)

	err = s.Channel().Send(transport.Message{
		Type:    transport.TypeContentChanged,
		Payload: transport.Payload{Content: transport.String("# Hi edited")},
	})
	if err != nil {
		t.Fatalf("sending edit: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for s.ContentSnapshot() != "# Hi edited" {
		select {
		case <-deadline:
			t.Fatal("edit never applied")
		case <-time.After(10 * time.Millisecond):
		}
	}

	registry.PersistAll()
	registry.Shutdown()
	docs.CloseAll()

	notifier := &recordingNotifier{}
	revived := NewRegistry(docs, modes, commands, WithSessions(sessions), WithNotifier(notifier))
	defer revived.Shutdown()

	revived.RestoreAll(context.Background())

	surfaces := revived.Surfaces()
	if len(surfaces) != 1 {
		t.Fatalf("restored %d surfaces, want 1", len(surfaces))
	}
	restored := surfaces[0]
	if restored.Mode() != document.ModeRead {
		t.Errorf("mode = %s, want %s", restored.Mode(), document.ModeRead)
	}

	doc, ok := docs.Get(restored.DocumentID())
	if !ok {
		t.Fatal("document not reopened")
	}
	if doc.Content() != "# Hi edited" {
		t.Errorf("content = %q, want %q", doc.Content(), "# Hi edited")
	}
	if !doc.IsDirty() {
		t.Error("unsaved edit should restore dirty")
	}
	if got := notifier.count(); got != 0 {
		t.Errorf("unexpected notifications: %d", got)
	}
}

func TestRegistry_Restore_FailsSoftOnIncompleteSnapshot(t *testing.T) {
	sessions, err := session.NewStore(":memory:")
	if err != nil {
		t.Fatalf("opening session store: %v", err)
	}
	defer sessions.Close()

	// A snapshot without a resource id encodes fine but cannot be
	// restored.
	if err := sessions.Put("ghost", session.Snapshot{DocumentID: "/gone.md", Mode: document.ModeEdit}); err != nil {
		t.Fatalf("storing snapshot: %v", err)
	}

	memfs := vfs.NewMemFS()
	manual := watcher.NewManual()
	docs := docstore.NewStore(memfs, manual)
	defer docs.Shutdown()
	modes := modetrack.NewTracker(docs)
	defer modes.Dispose()
	notifier := &recordingNotifier{}

	registry := NewRegistry(docs, modes, command.NewRegistry(), WithSessions(sessions), WithNotifier(notifier))
	defer registry.Shutdown()

	registry.RestoreAll(context.Background())

	if got := len(registry.Surfaces()); got != 0 {
		t.Errorf("restored %d surfaces, want 0", got)
	}
	if got := notifier.count(); got != 1 {
		t.Errorf("user notified %d times, want 1", got)
	}
	if _, err := sessions.Get("ghost"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("stale snapshot should be discarded, Get err = %v", err)
	}
}
