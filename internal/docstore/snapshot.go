package docstore

import (
	"github.com/starford/ansuz/internal/logfmt"
	"github.com/starford/ansuz/internal/vclock"
)

// SelectBestSnapshot picks the snapshot with the greatest total sequence
// sum whose clock is ≤ target, or nil if none qualifies. A snapshot "from
// the future" relative to the reader's view is never selected.
func SelectBestSnapshot(snapshots []*logfmt.Snapshot, target vclock.Clock) *logfmt.Snapshot {
	var best *logfmt.Snapshot
	var bestTotal uint64
	for _, s := range snapshots {
		clock := vclock.Clock(s.Clock)
		if !clock.LessOrEqual(target) {
			continue
		}
		if total := clock.TotalSeq(); best == nil || total > bestTotal {
			best = s
			bestTotal = total
		}
	}
	return best
}
