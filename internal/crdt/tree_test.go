package crdt

import (
	"bytes"
	"testing"
)

func treeDelta(t *testing.T, writer string, f Folder) []byte {
	t.Helper()
	d := NewTreeDoc("folders", writer)
	delta, err := d.UpsertUpdate(f)
	if err != nil {
		t.Fatalf("UpsertUpdate: %v", err)
	}
	return delta
}

func TestTreeUpsertAndList(t *testing.T) {
	d := NewTreeDoc("folders", "writerA")
	folders := []Folder{
		{ID: "f2", Name: "Work", Order: 2},
		{ID: "f1", Name: "inbox", Order: 1},
		{ID: "f3", Name: "Archive", Order: 2},
	}
	for _, f := range folders {
		delta, err := d.UpsertUpdate(f)
		if err != nil {
			t.Fatal(err)
		}
		if err := d.ApplyUpdate(delta); err != nil {
			t.Fatal(err)
		}
	}

	got := d.List("")
	// Ascending Order, ties case-insensitively by name.
	want := []string{"f1", "f3", "f2"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("List[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestTreeRemoveIsSoftDelete(t *testing.T) {
	d := NewTreeDoc("folders", "writerA")
	up, _ := d.UpsertUpdate(Folder{ID: "f1", Name: "Inbox"})
	if err := d.ApplyUpdate(up); err != nil {
		t.Fatal(err)
	}
	rm, err := d.RemoveUpdate("f1")
	if err != nil {
		t.Fatalf("RemoveUpdate: %v", err)
	}
	if err := d.ApplyUpdate(rm); err != nil {
		t.Fatal(err)
	}

	if got := d.List(""); len(got) != 0 {
		t.Errorf("deleted folder still listed: %v", got)
	}
	f, ok := d.Get("f1")
	if !ok || !f.Deleted {
		t.Error("entry should remain as a tombstone")
	}
}

func TestTreeMergeOrderIndependence(t *testing.T) {
	a := treeDelta(t, "writerA", Folder{ID: "f1", Name: "Inbox", Order: 1})
	b := treeDelta(t, "writerB", Folder{ID: "f2", Name: "Work", Order: 2})
	c := treeDelta(t, "writerC", Folder{ID: "f1", Name: "Inbox renamed", Order: 1})

	var want []byte
	for i, order := range [][][]byte{{a, b, c}, {c, a, b}, {b, c, a}} {
		d := NewTreeDoc("folders", "observer")
		for _, delta := range order {
			if err := d.ApplyUpdate(delta); err != nil {
				t.Fatal(err)
			}
		}
		state, err := d.EncodeStateAsUpdate()
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			want = state
			continue
		}
		if !bytes.Equal(state, want) {
			t.Fatalf("order %d produced different state bytes", i)
		}
	}
}

func TestTreeConcurrentRenameConverges(t *testing.T) {
	base := treeDelta(t, "writerA", Folder{ID: "f1", Name: "Original"})

	// Both writers rename from the same base state; the LWW tie-break must
	// pick one winner everywhere.
	left := NewTreeDoc("folders", "writerA")
	right := NewTreeDoc("folders", "writerB")
	for _, d := range []*TreeDoc{left, right} {
		if err := d.ApplyUpdate(base); err != nil {
			t.Fatal(err)
		}
	}
	renameA, _ := left.UpsertUpdate(Folder{ID: "f1", Name: "From A"})
	renameB, _ := right.UpsertUpdate(Folder{ID: "f1", Name: "From B"})

	for _, d := range []*TreeDoc{left, right} {
		if err := d.ApplyUpdate(renameA); err != nil {
			t.Fatal(err)
		}
		if err := d.ApplyUpdate(renameB); err != nil {
			t.Fatal(err)
		}
	}
	lf, _ := left.Get("f1")
	rf, _ := right.Get("f1")
	if lf.Name != rf.Name {
		t.Fatalf("instances diverged: %q vs %q", lf.Name, rf.Name)
	}
	if lf.Name != "From B" {
		t.Errorf("winner = %q, want the higher writer at equal lamport", lf.Name)
	}
}

func TestTreeRemoveUnknownFolder(t *testing.T) {
	d := NewTreeDoc("folders", "writerA")
	if _, err := d.RemoveUpdate("missing"); err == nil {
		t.Error("expected error for unknown folder")
	}
}
