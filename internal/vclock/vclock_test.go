package vclock

import "testing"

func TestShouldApply(t *testing.T) {
	c := New()
	if !c.ShouldApply("a", 1) {
		t.Error("fresh writer seq 1 should apply")
	}
	c.Update("a", 3)
	if c.ShouldApply("a", 2) {
		t.Error("seq 2 is dominated by 3")
	}
	if c.ShouldApply("a", 3) {
		t.Error("seq 3 is a duplicate")
	}
	if !c.ShouldApply("a", 4) {
		t.Error("seq 4 is new")
	}
	if !c.ShouldApply("b", 1) {
		t.Error("other writers are independent")
	}
}

func TestUpdateIsMonotonic(t *testing.T) {
	c := New()
	c.Update("a", 5)
	c.Update("a", 3)
	if c["a"] != 5 {
		t.Errorf("clock regressed to %d", c["a"])
	}
}

func TestMerge(t *testing.T) {
	a := Clock{"x": 3, "y": 1}
	b := Clock{"y": 4, "z": 2}
	a.Merge(b)
	want := Clock{"x": 3, "y": 4, "z": 2}
	for w, s := range want {
		if a[w] != s {
			t.Errorf("merged[%s] = %d, want %d", w, a[w], s)
		}
	}
}

func TestLessOrEqualAndDominates(t *testing.T) {
	small := Clock{"a": 2, "b": 1}
	big := Clock{"a": 3, "b": 1}
	other := Clock{"a": 1, "c": 5}

	if !small.LessOrEqual(big) {
		t.Error("small ≤ big")
	}
	if big.LessOrEqual(small) {
		t.Error("big should not be ≤ small")
	}
	if !big.Dominates(small) {
		t.Error("big dominates small")
	}
	if small.LessOrEqual(other) || other.LessOrEqual(small) {
		t.Error("concurrent clocks are incomparable")
	}
	if !small.LessOrEqual(small) {
		t.Error("reflexive")
	}
}

func TestCopyIsIndependent(t *testing.T) {
	c := Clock{"a": 1}
	cp := c.Copy()
	cp.Update("a", 9)
	if c["a"] != 1 {
		t.Error("copy mutated the original")
	}
}

func TestTotalSeq(t *testing.T) {
	c := Clock{"a": 3, "b": 4}
	if got := c.TotalSeq(); got != 7 {
		t.Errorf("TotalSeq = %d, want 7", got)
	}
	if got := New().TotalSeq(); got != 0 {
		t.Errorf("empty TotalSeq = %d", got)
	}
}
