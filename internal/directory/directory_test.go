package directory

import (
	"fmt"
	"testing"

	"courier/internal/wire"
)

func TestInsertGet(t *testing.T) {
	d := New(4)
	d.Insert(wire.Profile{Username: "alice", DisplayName: "Alice"})

	p, ok := d.Get("alice")
	if !ok || p.DisplayName != "Alice" {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
	if _, ok := d.Get("bob"); ok {
		t.Error("unexpected hit for bob")
	}
}

func TestUpdateKeepsPosition(t *testing.T) {
	d := New(2)
	d.Insert(wire.Profile{Username: "alice"})
	d.Insert(wire.Profile{Username: "bob"})
	d.Insert(wire.Profile{Username: "alice", DisplayName: "Alice v2"})

	if d.Len() != 2 {
		t.Fatalf("len = %d, want 2", d.Len())
	}
	p, _ := d.Get("alice")
	if p.DisplayName != "Alice v2" {
		t.Errorf("display name = %q, want Alice v2", p.DisplayName)
	}
}

func TestEvictsOldestAtCapacity(t *testing.T) {
	d := New(3)
	for i := 0; i < 5; i++ {
		d.Insert(wire.Profile{Username: fmt.Sprintf("user%d", i)})
	}

	if d.Len() != 3 {
		t.Fatalf("len = %d, want 3", d.Len())
	}
	if _, ok := d.Get("user0"); ok {
		t.Error("user0 should have been evicted")
	}
	if _, ok := d.Get("user4"); !ok {
		t.Error("user4 should be present")
	}
}

func TestIgnoresEmptyUsername(t *testing.T) {
	d := New(2)
	d.Insert(wire.Profile{DisplayName: "nameless"})
	if d.Len() != 0 {
		t.Errorf("len = %d, want 0", d.Len())
	}
}
