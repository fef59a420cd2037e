package compact

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/docstore"
	"github.com/starford/ansuz/internal/logfmt"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/vclock"
)

// GCConfig is the pure policy input for garbage collection.
type GCConfig struct {
	// KeepSnapshots is the number of newest snapshots retained per
	// document, at least 1.
	KeepSnapshots int `yaml:"keep_snapshots"`
	// MinAge protects recently written files: anything younger is never
	// deleted, whatever it is subsumed by.
	MinAge time.Duration `yaml:"min_age"`
	// DryRun plans without deleting.
	DryRun bool `yaml:"dry_run"`
}

// Validate validates the GC configuration.
func (c *GCConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.KeepSnapshots, validation.Required, validation.Min(1)),
		validation.Field(&c.MinAge, validation.Min(time.Duration(0))),
	)
}

// GCStats is the pure policy output: what a run reclaimed.
type GCStats struct {
	DirsScanned    int   `json:"dirs_scanned"`
	FilesDeleted   int   `json:"files_deleted"`
	BytesReclaimed int64 `json:"bytes_reclaimed"`
	FilesKept      int   `json:"files_kept"`
}

// SnapshotClock pairs a snapshot file with its decoded vector clock.
type SnapshotClock struct {
	Name  string
	Total uint64
	Clock vclock.Clock
}

// PlanDir decides which files in one log directory are provably subsumed.
// It is a pure function of the listing, the decoded snapshot clocks, the
// config, and the current time: running it twice with no intervening
// writes yields the same (now empty) answer. The newest snapshot and any
// update not yet covered by a snapshot or pack are never planned for
// deletion; unparseable names are not ours to touch.
func PlanDir(files []models.FileMeta, snapshots []SnapshotClock, cfg GCConfig, now time.Time) []models.FileMeta {
	keep := cfg.KeepSnapshots
	if keep < 1 {
		keep = 1
	}

	// Rank snapshots, most advanced first.
	ranked := make([]SnapshotClock, len(snapshots))
	copy(ranked, snapshots)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Total > ranked[j].Total })

	kept := make(map[string]bool, keep)
	for i := 0; i < len(ranked) && i < keep; i++ {
		kept[ranked[i].Name] = true
	}
	var ref vclock.Clock
	if len(ranked) > 0 {
		ref = ranked[0].Clock
	}

	// Pack coverage per writer: an update inside a pack's range is
	// subsumed even without a snapshot.
	type span struct{ start, end uint64 }
	packed := make(map[string][]span)
	for _, f := range files {
		info := logfmt.ParseFilename(path.Base(f.Path))
		if info != nil && info.Kind == logfmt.KindPack {
			packed[info.Writer] = append(packed[info.Writer], span{info.StartSeq, info.EndSeq})
		}
	}
	inPack := func(writer string, seq uint64) bool {
		for _, s := range packed[writer] {
			if seq >= s.start && seq <= s.end {
				return true
			}
		}
		return false
	}

	var plan []models.FileMeta
	for _, f := range files {
		info := logfmt.ParseFilename(path.Base(f.Path))
		if info == nil {
			continue
		}
		if now.Sub(f.UpdatedAt) < cfg.MinAge {
			continue
		}
		switch info.Kind {
		case logfmt.KindUpdate:
			subsumed := (ref != nil && info.Seq <= ref[info.Writer]) || inPack(info.Writer, info.Seq)
			if subsumed {
				plan = append(plan, f)
			}
		case logfmt.KindPack:
			if ref != nil && info.EndSeq <= ref[info.Writer] {
				plan = append(plan, f)
			}
		case logfmt.KindSnapshot:
			name := path.Base(f.Path)
			if kept[name] {
				continue
			}
			for _, s := range snapshots {
				if s.Name == name && ref != nil && ref.Dominates(s.Clock) {
					plan = append(plan, f)
					break
				}
			}
		}
	}
	return plan
}

// GC applies PlanDir across every log directory of a sync directory.
type GC struct {
	store  storage.Adapter
	logger *slog.Logger
}

// NewGC creates a garbage collector over one sync directory.
func NewGC(store storage.Adapter, logger *slog.Logger) *GC {
	return &GC{store: store, logger: logger}
}

// Run walks all log directories, plans, and deletes. Re-entrant: a second
// run with no intervening writes deletes nothing.
func (g *GC) Run(ctx context.Context, cfg GCConfig) (GCStats, error) {
	var stats GCStats
	if err := cfg.Validate(); err != nil {
		return stats, fmt.Errorf("compact: gc config: %w", err)
	}

	dirs := []string{docstore.LogDir(docstore.KindTree, "")}
	noteIDs, err := g.store.Dirs("notes")
	if err != nil {
		return stats, fmt.Errorf("compact: list notes: %w", err)
	}
	for _, id := range noteIDs {
		dirs = append(dirs, docstore.LogDir(docstore.KindNote, id))
	}

	now := time.Now()
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		files, err := g.store.List(dir, "")
		if err != nil {
			return stats, fmt.Errorf("compact: scan %s: %w", dir, err)
		}
		if len(files) == 0 {
			continue
		}
		stats.DirsScanned++

		snapshots := g.snapshotClocks(ctx, files)
		plan := PlanDir(files, snapshots, cfg, now)
		planned := make(map[string]bool, len(plan))
		for _, f := range plan {
			planned[f.Path] = true
			if cfg.DryRun {
				continue
			}
			if err := g.store.Delete(f.Path); err != nil {
				g.logger.Warn("gc: delete failed",
					slog.String("path", f.Path), slog.String("error", err.Error()))
				continue
			}
			stats.FilesDeleted++
			stats.BytesReclaimed += f.Size
		}
		for _, f := range files {
			if !planned[f.Path] {
				stats.FilesKept++
			}
		}
	}
	g.logger.Info("gc finished",
		slog.Int("dirs", stats.DirsScanned),
		slog.Int("deleted", stats.FilesDeleted),
		slog.Int64("bytes", stats.BytesReclaimed))
	return stats, nil
}

// snapshotClocks decodes the vector clock of every readable snapshot in
// the listing. Corrupt snapshots are not provably anything and are left
// alone.
func (g *GC) snapshotClocks(ctx context.Context, files []models.FileMeta) []SnapshotClock {
	var out []SnapshotClock
	for _, f := range files {
		if ctx.Err() != nil {
			return out
		}
		info := logfmt.ParseFilename(path.Base(f.Path))
		if info == nil || info.Kind != logfmt.KindSnapshot {
			continue
		}
		data, err := g.store.Read(f.Path)
		if err != nil {
			continue
		}
		s, err := logfmt.DecodeSnapshot(f.Path, data)
		if err != nil {
			g.logger.Warn("gc: unreadable snapshot ignored",
				slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		clock := vclock.Clock(s.Clock)
		out = append(out, SnapshotClock{
			Name:  path.Base(f.Path),
			Total: clock.TotalSeq(),
			Clock: clock,
		})
	}
	return out
}
