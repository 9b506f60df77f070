package session

import "testing"

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Len() != 0 {
		t.Fatalf("new registry should be empty")
	}

	c1 := &Client{id: "c1"}
	c2 := &Client{id: "c2"}
	r.Add(c1)
	r.Add(c2)

	if got, ok := r.Get("c1"); !ok || got != c1 {
		t.Fatalf("Get c1: got %v, %v", got, ok)
	}
	if _, ok := r.Get("stranger"); ok {
		t.Fatalf("unknown id should not resolve")
	}
	if r.Len() != 2 || len(r.All()) != 2 {
		t.Fatalf("expected 2 clients, got %d", r.Len())
	}

	r.Remove("c1")
	if _, ok := r.Get("c1"); ok {
		t.Fatalf("c1 should be gone after Remove")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 client, got %d", r.Len())
	}

	// Removing twice is a no-op.
	r.Remove("c1")
	if r.Len() != 1 {
		t.Fatalf("expected 1 client, got %d", r.Len())
	}
}
