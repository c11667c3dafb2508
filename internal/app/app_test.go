package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"markmux/internal/document"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestNew_RejectsUnknownMode(t *testing.T) {
	if _, err := New(Options{Mode: "zen"}); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestApp_OpenAndShutdown(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "markmux.toml")
	writeFile(t, cfgPath, `
default_mode = "edit"

[session]
path = "`+filepath.Join(dir, "session.db")+`"
`)
	notePath := filepath.Join(dir, "note.md")
	writeFile(t, notePath, "# Hi")

	application, err := New(Options{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer application.Shutdown()

	s, err := application.Surfaces().Create(context.Background(), notePath, document.ModeRead)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.Mode() != document.ModeRead {
		t.Errorf("mode = %s, want %s", s.Mode(), document.ModeRead)
	}
	if s.ContentSnapshot() != "# Hi" {
		t.Errorf("snapshot = %q, want %q", s.ContentSnapshot(), "# Hi")
	}
}
