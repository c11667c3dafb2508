package session

import (
	"errors"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"markmux/internal/document"
)

func testSnapshot() Snapshot {
	return Snapshot{
		DocumentID:   "/notes/a.md",
		Mode:         document.ModeRead,
		Content:      "# Hi",
		IsDirty:      true,
		LastModified: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ResourceID:   "/notes/a.md",
	}
}

func TestSnapshot_EncodeFields(t *testing.T) {
	data, err := testSnapshot().Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if got := gjson.Get(data, "documentId").String(); got != "/notes/a.md" {
		t.Errorf("documentId = %q", got)
	}
	if got := gjson.Get(data, "mode").String(); got != "read" {
		t.Errorf("mode = %q", got)
	}
	if !gjson.Get(data, "isDirty").Bool() {
		t.Error("isDirty = false, want true")
	}
	if got := gjson.Get(data, "lastModifiedIso").String(); got != "2026-03-01T12:00:00Z" {
		t.Errorf("lastModifiedIso = %q", got)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	want := testSnapshot()
	data, err := want.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != want {
		t.Errorf("round trip changed snapshot:\n got %+v\nwant %+v", got, want)
	}
}

func TestDecode_FailSoft(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not json", "{{{"},
		{"missing documentId", `{"mode":"edit","resourceId":"/a.md"}`},
		{"missing resourceId", `{"documentId":"/a.md","mode":"edit"}`},
		{"invalid mode", `{"documentId":"/a.md","mode":"preview","resourceId":"/a.md"}`},
		{"empty documentId", `{"documentId":"","mode":"edit","resourceId":"/a.md"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, ErrIncompleteSnapshot) {
				t.Errorf("err = %v, want ErrIncompleteSnapshot", err)
			}
		})
	}
}

func TestDecode_OptionalFieldsDefault(t *testing.T) {
	snap, err := Decode(`{"documentId":"/a.md","mode":"edit","resourceId":"/a.md"}`)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if snap.Content != "" || snap.IsDirty {
		t.Errorf("optional fields not defaulted: %+v", snap)
	}
	if !snap.LastModified.IsZero() {
		t.Errorf("LastModified = %v, want zero", snap.LastModified)
	}
}

func setupStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_PutGet(t *testing.T) {
	store := setupStore(t)
	want := testSnapshot()

	if err := store.Put("surf-1", want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get("surf-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != want {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestStore_PutReplaces(t *testing.T) {
	store := setupStore(t)

	first := testSnapshot()
	_ = store.Put("surf-1", first)

	second := first
	second.Content = "updated"
	if err := store.Put("surf-1", second); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, _ := store.Get("surf-1")
	if got.Content != "updated" {
		t.Errorf("Content = %q, want %q", got.Content, "updated")
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := setupStore(t)

	_, err := store.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := setupStore(t)
	_ = store.Put("surf-1", testSnapshot())

	if err := store.Delete("surf-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get("surf-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	// Deleting again is a no-op.
	if err := store.Delete("surf-1"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestStore_SurfaceIDs(t *testing.T) {
	store := setupStore(t)
	_ = store.Put("surf-1", testSnapshot())
	_ = store.Put("surf-2", testSnapshot())

	ids, err := store.SurfaceIDs()
	if err != nil {
		t.Fatalf("SurfaceIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want 2 entries", ids)
	}
}
