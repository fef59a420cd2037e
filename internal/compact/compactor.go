// Package compact bounds on-disk history growth: it materializes
// snapshots, rewrites update runs into packs, and garbage-collects files
// provably subsumed by them.
package compact

import (
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/starford/ansuz/internal/docstore"
	"github.com/starford/ansuz/internal/logfmt"
	"github.com/starford/ansuz/internal/storage"
)

// Policy decides when a document's log deserves a snapshot.
type Policy struct {
	// MinUpdates triggers compaction once at least this many raw update
	// files exist.
	MinUpdates int
	// MinInterval triggers compaction once the newest snapshot is older
	// than this and any raw updates exist.
	MinInterval time.Duration
}

// Compactor writes snapshots and packs for open documents.
type Compactor struct {
	store  storage.Adapter
	policy Policy
	logger *slog.Logger
}

// New creates a compactor.
func New(store storage.Adapter, policy Policy, logger *slog.Logger) *Compactor {
	return &Compactor{store: store, policy: policy, logger: logger}
}

// ShouldCompact inspects a document's log directory against the policy.
func (c *Compactor) ShouldCompact(doc *docstore.Document) (bool, error) {
	metas, err := c.store.List(doc.Dir(), "")
	if err != nil {
		return false, fmt.Errorf("compact: scan %s: %w", doc.Dir(), err)
	}
	updates := 0
	var newestSnap int64
	for _, m := range metas {
		info := logfmt.ParseFilename(path.Base(m.Path))
		if info == nil {
			continue
		}
		switch info.Kind {
		case logfmt.KindUpdate:
			updates++
		case logfmt.KindSnapshot:
			if info.Timestamp > newestSnap {
				newestSnap = info.Timestamp
			}
		}
	}
	if updates == 0 {
		return false, nil
	}
	if c.policy.MinUpdates > 0 && updates >= c.policy.MinUpdates {
		return true, nil
	}
	if c.policy.MinInterval > 0 {
		last := time.UnixMilli(newestSnap)
		if time.Since(last) >= c.policy.MinInterval {
			return true, nil
		}
	}
	return false, nil
}

// Snapshot materializes the document's full state plus vector clock as a
// new snapshot record. It returns the snapshot filename and the update and
// pack files the snapshot dominates. The compactor only reports
// eligibility; deletion is the garbage collector's job and must happen
// only after the snapshot write is durable, which the adapter's atomic
// write guarantees by the time Snapshot returns.
func (c *Compactor) Snapshot(doc *docstore.Document) (string, []string, error) {
	state, clock, err := doc.ExportState()
	if err != nil {
		return "", nil, err
	}
	now := time.Now().UnixMilli()
	rec := &logfmt.Snapshot{
		DocID:     doc.ID(),
		Writer:    doc.Writer(),
		Seq:       clock[doc.Writer()],
		Timestamp: now,
		Clock:     clock,
		State:     state,
	}
	data, err := logfmt.EncodeSnapshot(rec)
	if err != nil {
		return "", nil, err
	}
	name := logfmt.SnapshotFilename(doc.Writer(), rec.Seq, now)
	if err := c.store.AtomicWrite(path.Join(doc.Dir(), name), data); err != nil {
		return "", nil, fmt.Errorf("compact: write snapshot: %w", err)
	}
	c.logger.Info("snapshot written",
		slog.String("doc", doc.ID()), slog.String("file", name))

	metas, err := c.store.List(doc.Dir(), "")
	if err != nil {
		return name, nil, fmt.Errorf("compact: scan after snapshot: %w", err)
	}
	var eligible []string
	for _, m := range metas {
		info := logfmt.ParseFilename(path.Base(m.Path))
		if info == nil {
			continue
		}
		switch info.Kind {
		case logfmt.KindUpdate:
			if info.Seq <= clock[info.Writer] {
				eligible = append(eligible, m.Path)
			}
		case logfmt.KindPack:
			if info.EndSeq <= clock[info.Writer] {
				eligible = append(eligible, m.Path)
			}
		}
	}
	return name, eligible, nil
}
