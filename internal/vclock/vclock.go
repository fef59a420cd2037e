// Package vclock implements the per-writer sequence map used to skip
// already-incorporated updates.
//
// The clock is a pure optimization: CRDT merge is idempotent, so replaying
// a dominated update is harmless, just wasted work.
package vclock

// Clock maps a writer instance ID to the highest sequence incorporated
// from that writer. The zero value of a missing writer is 0.
type Clock map[string]uint64

// New returns an empty clock.
func New() Clock {
	return make(Clock)
}

// Copy returns an independent copy.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c))
	for w, s := range c {
		out[w] = s
	}
	return out
}

// Update raises the writer's entry to seq. It is monotonic: a smaller
// incoming sequence is a no-op, never a regression.
func (c Clock) Update(writer string, seq uint64) {
	if seq > c[writer] {
		c[writer] = seq
	}
}

// ShouldApply reports whether an update (writer, seq) carries anything the
// clock has not incorporated yet: true iff seq > c[writer].
func (c Clock) ShouldApply(writer string, seq uint64) bool {
	return seq > c[writer]
}

// Merge folds other into c entry-wise (monotonic on every writer).
func (c Clock) Merge(other Clock) {
	for w, s := range other {
		c.Update(w, s)
	}
}

// LessOrEqual reports whether every entry of c is ≤ the corresponding
// entry of target.
func (c Clock) LessOrEqual(target Clock) bool {
	for w, s := range c {
		if s > target[w] {
			return false
		}
	}
	return true
}

// Dominates reports whether c has incorporated at least everything other
// has.
func (c Clock) Dominates(other Clock) bool {
	return other.LessOrEqual(c)
}

// TotalSeq is the sum of all entries, used to rank otherwise eligible
// snapshots.
func (c Clock) TotalSeq() uint64 {
	var total uint64
	for _, s := range c {
		total += s
	}
	return total
}
