package event

import "testing"

func TestRegistry_NotifyAll(t *testing.T) {
	reg := NewRegistry[int]()

	var a, b int
	reg.Subscribe(func(ev int) { a = ev })
	reg.Subscribe(func(ev int) { b = ev })

	reg.Notify(7)

	if a != 7 || b != 7 {
		t.Errorf("listeners got (%d, %d), want (7, 7)", a, b)
	}
}

func TestRegistry_CancelRemovesListener(t *testing.T) {
	reg := NewRegistry[string]()

	var got string
	sub := reg.Subscribe(func(ev string) { got = ev })

	sub.Cancel()
	reg.Notify("x")

	if got != "" {
		t.Errorf("cancelled listener was notified with %q", got)
	}
	if sub.Active() {
		t.Error("subscription still active after Cancel")
	}
	if reg.Len() != 0 {
		t.Errorf("Len = %d, want 0", reg.Len())
	}

	// Second cancel is a no-op
	sub.Cancel()
}

func TestRegistry_PanicIsolated(t *testing.T) {
	reg := NewRegistry[int]()

	reg.Subscribe(func(ev int) { panic("boom") })

	var got int
	reg.Subscribe(func(ev int) { got = ev })

	reg.Notify(3)

	if got != 3 {
		t.Errorf("second listener got %d, want 3; panic broke delivery", got)
	}
}

func TestRegistry_NotifyEmpty(t *testing.T) {
	reg := NewRegistry[int]()
	reg.Notify(1) // must not panic
}
