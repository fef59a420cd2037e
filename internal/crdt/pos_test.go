package crdt

import (
	"strings"
	"testing"
)

func TestPosBetweenOrdering(t *testing.T) {
	first := PosBetween("", "")
	after := PosBetween(first, "")
	before := PosBetween("", first)
	mid := PosBetween(before, after)

	if !(before < first && first < after) {
		t.Fatalf("order violated: %q %q %q", before, first, after)
	}
	if !(before < mid && mid < after) {
		t.Fatalf("mid %q not strictly inside (%q, %q)", mid, before, after)
	}
}

func TestPosBetweenTightGap(t *testing.T) {
	// Adjacent digits force a descent into a longer key.
	got := PosBetween("i", "j")
	if !(got > "i" && got < "j") {
		t.Fatalf("PosBetween(i, j) = %q", got)
	}
}

func TestPosBetweenRepeatedFrontInsert(t *testing.T) {
	// Inserting at the front forever must keep producing strictly smaller,
	// non-empty keys.
	cur := PosBetween("", "")
	for i := 0; i < 64; i++ {
		next := PosBetween("", cur)
		if next == "" || next >= cur {
			t.Fatalf("iteration %d: %q is not strictly below %q", i, next, cur)
		}
		cur = next
	}
}

func TestPosBetweenRepeatedBackInsert(t *testing.T) {
	cur := PosBetween("", "")
	for i := 0; i < 64; i++ {
		next := PosBetween(cur, "")
		if next <= cur {
			t.Fatalf("iteration %d: %q is not strictly above %q", i, next, cur)
		}
		cur = next
	}
}

func TestPosBetweenNeverEndsInMinDigit(t *testing.T) {
	pairs := [][2]string{
		{"", ""},
		{"i", "j"},
		{"", "1"},
		{"0z", "1"},
		{"a", "a1"},
	}
	for _, p := range pairs {
		got := PosBetween(p[0], p[1])
		if strings.HasSuffix(got, "0") {
			t.Errorf("PosBetween(%q, %q) = %q ends in the minimum digit", p[0], p[1], got)
		}
	}
}
