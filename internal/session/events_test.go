package session

import "testing"

func TestEmitter_DeliversInSubscriptionOrder(t *testing.T) {
	e := NewEmitter(nil)
	var order []string
	e.On("msg", func(data any) { order = append(order, "first") })
	e.On("msg", func(data any) { order = append(order, "second") })

	e.Emit("msg", nil)
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("delivery order: %v", order)
	}
}

func TestEmitter_OnceFiresOnce(t *testing.T) {
	e := NewEmitter(nil)
	count := 0
	e.Once("msg", func(data any) { count++ })

	e.Emit("msg", nil)
	e.Emit("msg", nil)
	if count != 1 {
		t.Fatalf("once handler fired %d times", count)
	}
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter(nil)
	count := 0
	off := e.On("msg", func(data any) { count++ })

	e.Emit("msg", nil)
	off()
	e.Emit("msg", nil)
	if count != 1 {
		t.Fatalf("unsubscribed handler fired, count = %d", count)
	}
}

func TestEmitter_RemoveAll(t *testing.T) {
	e := NewEmitter(nil)
	count := 0
	e.On("a", func(data any) { count++ })
	e.On("b", func(data any) { count++ })

	e.RemoveAll("a")
	e.Emit("a", nil)
	e.Emit("b", nil)
	if count != 1 {
		t.Fatalf("RemoveAll(a) left %d deliveries", count)
	}

	e.RemoveAll("")
	e.Emit("b", nil)
	if count != 1 {
		t.Fatalf("RemoveAll() left handlers live")
	}
}

func TestEmitter_PanicDoesNotStopDelivery(t *testing.T) {
	e := NewEmitter(nil)
	delivered := false
	e.On("msg", func(data any) { panic("bad handler") })
	e.On("msg", func(data any) { delivered = true })

	e.Emit("msg", nil)
	if !delivered {
		t.Fatal("panicking handler blocked the next one")
	}
}

func TestStore_AddGetRemove(t *testing.T) {
	store := NewStore()
	s := New(Options{URL: "http://upstream/v1", Model: "m"})

	store.Add(s)
	if got, ok := store.Get(s.ID); !ok || got != s {
		t.Fatalf("Get after Add failed")
	}
	if store.Len() != 1 {
		t.Fatalf("Len = %d", store.Len())
	}

	store.Remove(s.ID)
	if _, ok := store.Get(s.ID); ok {
		t.Fatalf("session still present after Remove")
	}
	if _, ok := store.Get("missing"); ok {
		t.Fatalf("unknown id resolved")
	}
}
