package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/crdt"
	"github.com/starford/ansuz/internal/logfmt"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/vclock"
)

// State is the document lifecycle: Closed → Loading → Ready → Closed.
type State int

const (
	StateClosed State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "closed"
	}
}

// model is what the update manager needs from a CRDT document.
type model interface {
	ApplyUpdate([]byte) error
	ValidateUpdate([]byte) error
	EncodeStateAsUpdate() ([]byte, error)
	Close()
}

// Document is one open document: the in-memory CRDT instance plus the
// bookkeeping that maps it onto its on-disk log. It exclusively owns all
// file read/write decisions for its log directory while open.
//
// Methods are safe for concurrent use within one process; concurrent
// writers on other devices are coordinated purely through file content.
type Document struct {
	mu     sync.Mutex
	id     string
	kind   Kind
	dir    string
	writer string
	store  storage.Adapter
	logger *slog.Logger

	model model
	note  *crdt.NoteDoc
	tree  *crdt.TreeDoc

	clock    vclock.Clock
	state    State
	degraded bool
	skipped  []string
}

type scanEntry struct {
	info *logfmt.FileInfo
	path string
}

// open loads a document from its log directory: pick the best snapshot,
// then replay every non-dominated pack and update ordered by
// (writer, sequence). Timestamps are never trusted as primary order.
func open(ctx context.Context, store storage.Adapter, kind Kind, id, writer string, logger *slog.Logger) (*Document, error) {
	d := &Document{
		id:     id,
		kind:   kind,
		dir:    LogDir(kind, id),
		writer: writer,
		store:  store,
		logger: logger,
		clock:  vclock.New(),
		state:  StateLoading,
	}
	switch kind {
	case KindNote:
		d.note = crdt.NewNoteDoc(id, writer)
		d.model = d.note
	case KindTree:
		d.tree = crdt.NewTreeDoc(id, writer)
		d.model = d.tree
	default:
		return nil, fmt.Errorf("docstore: unknown document kind %d", kind)
	}

	metas, err := store.List(d.dir, "")
	if err != nil {
		return nil, fmt.Errorf("docstore: scan %s: %w", d.dir, err)
	}

	var updates, packs, snaps []scanEntry
	for _, m := range metas {
		info := logfmt.ParseFilename(path.Base(m.Path))
		if info == nil {
			continue // not a log file; replication substrates leave droppings
		}
		e := scanEntry{info: info, path: m.Path}
		switch info.Kind {
		case logfmt.KindUpdate:
			updates = append(updates, e)
		case logfmt.KindPack:
			packs = append(packs, e)
		case logfmt.KindSnapshot:
			snaps = append(snaps, e)
		}
	}
	candidates := len(updates) + len(packs) + len(snaps)

	snapshots := d.loadSnapshots(ctx, snaps)

	// The selection target is everything reachable in this directory:
	// update and pack ranges plus the clocks of readable snapshots.
	// Including snapshot clocks keeps a snapshot selectable after the
	// updates it subsumes have been garbage-collected.
	target := vclock.New()
	for _, e := range updates {
		target.Update(e.info.Writer, e.info.Seq)
	}
	for _, e := range packs {
		target.Update(e.info.Writer, e.info.EndSeq)
	}
	for _, s := range snapshots {
		target.Merge(vclock.Clock(s.Clock))
	}

	applied := d.applyBestSnapshot(snapshots, target)

	np, err := d.applyPacks(ctx, packs)
	if err != nil {
		return nil, err
	}
	nu, err := d.applyUpdates(ctx, updates)
	if err != nil {
		return nil, err
	}
	applied = applied || np > 0 || nu > 0

	if candidates > 0 && !applied {
		d.degraded = true
		logger.Warn("document degraded: no usable state reconstructed",
			slog.String("doc", id), slog.Int("files", candidates))
	}

	d.state = StateReady
	return d, nil
}

// loadSnapshots reads and decodes every snapshot file, skipping corrupt
// ones.
func (d *Document) loadSnapshots(ctx context.Context, entries []scanEntry) []*logfmt.Snapshot {
	var out []*logfmt.Snapshot
	for _, e := range entries {
		if ctx.Err() != nil {
			return out
		}
		data, err := d.store.Read(e.path)
		if err != nil {
			d.skip(e.path, err)
			continue
		}
		s, err := logfmt.DecodeSnapshot(e.path, data)
		if err != nil {
			d.skip(e.path, err)
			continue
		}
		if s.DocID != d.id {
			d.skip(e.path, apperr.Corrupt(e.path, "snapshot for foreign document", nil))
			continue
		}
		out = append(out, s)
	}
	return out
}

// applyBestSnapshot fast-forwards from the most advanced eligible
// snapshot. A snapshot whose state fails to merge is dropped and the next
// best one is tried.
func (d *Document) applyBestSnapshot(snapshots []*logfmt.Snapshot, target vclock.Clock) bool {
	for {
		best := SelectBestSnapshot(snapshots, target)
		if best == nil {
			return false
		}
		if err := d.model.ApplyUpdate(best.State); err != nil {
			name := logfmt.SnapshotFilename(best.Writer, best.Seq, best.Timestamp)
			d.skip(path.Join(d.dir, name), err)
			kept := snapshots[:0]
			for _, s := range snapshots {
				if s != best {
					kept = append(kept, s)
				}
			}
			snapshots = kept
			continue
		}
		d.clock = vclock.Clock(best.Clock).Copy()
		return true
	}
}

func (d *Document) applyPacks(ctx context.Context, entries []scanEntry) (int, error) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].info, entries[j].info
		if a.Writer != b.Writer {
			return a.Writer < b.Writer
		}
		return a.StartSeq < b.StartSeq
	})
	applied := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if !d.clock.ShouldApply(e.info.Writer, e.info.EndSeq) {
			continue // fully dominated, not worth reading
		}
		data, err := d.store.Read(e.path)
		if err != nil {
			d.skip(e.path, err)
			continue
		}
		p, err := logfmt.DecodePack(e.path, data)
		if err != nil {
			d.skip(e.path, err)
			continue
		}
		if p.DocID != d.id || p.Writer != e.info.Writer {
			d.skip(e.path, apperr.Corrupt(e.path, "pack metadata does not match filename", nil))
			continue
		}
		for _, u := range p.Updates {
			if !d.clock.ShouldApply(p.Writer, u.Seq) {
				continue
			}
			if err := d.model.ApplyUpdate(u.Payload); err != nil {
				d.skip(e.path, err)
				break
			}
			d.clock.Update(p.Writer, u.Seq)
			applied++
		}
	}
	return applied, nil
}

func (d *Document) applyUpdates(ctx context.Context, entries []scanEntry) (int, error) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].info, entries[j].info
		if a.Writer != b.Writer {
			return a.Writer < b.Writer
		}
		return a.Seq < b.Seq
	})
	applied := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if !d.clock.ShouldApply(e.info.Writer, e.info.Seq) {
			continue // dominated, skipped without reading
		}
		data, err := d.store.Read(e.path)
		if err != nil {
			d.skip(e.path, err)
			continue
		}
		u, err := logfmt.DecodeUpdate(e.path, data)
		if err != nil {
			d.skip(e.path, err)
			continue
		}
		if u.DocID != d.id || u.Writer != e.info.Writer || u.Seq != e.info.Seq {
			d.skip(e.path, apperr.Corrupt(e.path, "record metadata does not match filename", nil))
			continue
		}
		if err := d.model.ApplyUpdate(u.Payload); err != nil {
			d.skip(e.path, err)
			continue
		}
		d.clock.Update(u.Writer, u.Seq)
		applied++
	}
	return applied, nil
}

func (d *Document) skip(p string, err error) {
	d.skipped = append(d.skipped, path.Base(p))
	d.logger.Warn("skipping unreadable log file",
		slog.String("doc", d.id), slog.String("path", p), slog.String("error", err.Error()))
}

// AppendLocal assigns the next local sequence to payload, durably writes
// the update file, then merges it into memory. Write-then-merge keeps a
// crash between the two recoverable on the next open. Once the write has
// begun the append runs to completion; it is not cancellable.
func (d *Document) AppendLocal(payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.model.ValidateUpdate(payload); err != nil {
		return err
	}
	return d.appendLocalLocked(payload)
}

func (d *Document) appendLocalLocked(payload []byte) error {
	seq := d.clock[d.writer] + 1
	ts := time.Now().UnixMilli()
	rec := &logfmt.Update{DocID: d.id, Writer: d.writer, Seq: seq, Timestamp: ts, Payload: payload}
	data, err := logfmt.EncodeUpdate(rec)
	if err != nil {
		return err
	}
	name := logfmt.UpdateFilename(d.writer, seq, ts)
	if err := d.store.AtomicWrite(path.Join(d.dir, name), data); err != nil {
		return fmt.Errorf("docstore: append %s: %w", name, err)
	}
	if err := d.model.ApplyUpdate(payload); err != nil {
		// The file is already durable; reopening replays it.
		return err
	}
	d.clock.Update(d.writer, seq)
	return nil
}

// ApplyRemoteFile merges one replicated file discovered by a watcher into
// memory. It returns whether anything new was incorporated. Files written
// by this instance, dominated files, and non-log names are ignored;
// corrupt files are logged and skipped, never fatal.
func (d *Document) ApplyRemoteFile(name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return false, err
	}
	info := logfmt.ParseFilename(path.Base(name))
	if info == nil || info.Writer == d.writer {
		return false, nil
	}
	p := path.Join(d.dir, path.Base(name))

	switch info.Kind {
	case logfmt.KindUpdate:
		if !d.clock.ShouldApply(info.Writer, info.Seq) {
			return false, nil
		}
		data, err := d.store.Read(p)
		if err != nil {
			return false, fmt.Errorf("docstore: read remote update: %w", err)
		}
		u, err := logfmt.DecodeUpdate(p, data)
		if err != nil {
			d.skip(p, err)
			return false, nil
		}
		if u.DocID != d.id || u.Writer != info.Writer || u.Seq != info.Seq {
			d.skip(p, apperr.Corrupt(p, "record metadata does not match filename", nil))
			return false, nil
		}
		if err := d.model.ApplyUpdate(u.Payload); err != nil {
			d.skip(p, err)
			return false, nil
		}
		d.clock.Update(u.Writer, u.Seq)
		d.degraded = false
		return true, nil

	case logfmt.KindPack:
		if !d.clock.ShouldApply(info.Writer, info.EndSeq) {
			return false, nil
		}
		data, err := d.store.Read(p)
		if err != nil {
			return false, fmt.Errorf("docstore: read remote pack: %w", err)
		}
		pk, err := logfmt.DecodePack(p, data)
		if err != nil {
			d.skip(p, err)
			return false, nil
		}
		merged := false
		for _, u := range pk.Updates {
			if !d.clock.ShouldApply(pk.Writer, u.Seq) {
				continue
			}
			if err := d.model.ApplyUpdate(u.Payload); err != nil {
				d.skip(p, err)
				break
			}
			d.clock.Update(pk.Writer, u.Seq)
			merged = true
		}
		if merged {
			d.degraded = false
		}
		return merged, nil

	case logfmt.KindSnapshot:
		data, err := d.store.Read(p)
		if err != nil {
			return false, fmt.Errorf("docstore: read remote snapshot: %w", err)
		}
		s, err := logfmt.DecodeSnapshot(p, data)
		if err != nil {
			d.skip(p, err)
			return false, nil
		}
		clock := vclock.Clock(s.Clock)
		if s.DocID != d.id || d.clock.Dominates(clock) {
			return false, nil
		}
		if err := d.model.ApplyUpdate(s.State); err != nil {
			d.skip(p, err)
			return false, nil
		}
		d.clock.Merge(clock)
		d.degraded = false
		return true, nil
	}
	return false, nil
}

// ExportState atomically captures the full encoded state and a copy of the
// vector clock, the inputs a compactor needs for a snapshot.
func (d *Document) ExportState() ([]byte, vclock.Clock, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return nil, nil, err
	}
	state, err := d.model.EncodeStateAsUpdate()
	if err != nil {
		return nil, nil, err
	}
	return state, d.clock.Copy(), nil
}

// StateAsUpdate returns the full document state encoded as one update.
func (d *Document) StateAsUpdate() ([]byte, error) {
	state, _, err := d.ExportState()
	return state, err
}

// AppendBlock is a convenience for note documents: build an append-block
// delta and persist it as a local update.
func (d *Document) AppendBlock(tag, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if d.note == nil {
		return fmt.Errorf("docstore: %s is not a note document", d.id)
	}
	payload, err := d.note.AppendBlockUpdate(tag, text)
	if err != nil {
		return err
	}
	return d.appendLocalLocked(payload)
}

// UpsertFolder persists a folder create/rename/move as a local update.
func (d *Document) UpsertFolder(f crdt.Folder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if d.tree == nil {
		return fmt.Errorf("docstore: %s is not a folder-tree document", d.id)
	}
	payload, err := d.tree.UpsertUpdate(f)
	if err != nil {
		return err
	}
	return d.appendLocalLocked(payload)
}

// RemoveFolder persists a folder soft-delete as a local update.
func (d *Document) RemoveFolder(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if d.tree == nil {
		return fmt.Errorf("docstore: %s is not a folder-tree document", d.id)
	}
	payload, err := d.tree.RemoveUpdate(id)
	if err != nil {
		return err
	}
	return d.appendLocalLocked(payload)
}

// ListFolders returns the live children of parentID in defined order.
func (d *Document) ListFolders(parentID string) []crdt.FolderNode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tree == nil || d.state != StateReady {
		return nil
	}
	return d.tree.List(parentID)
}

// Title returns the note's title (its first text line).
func (d *Document) Title() (string, error) {
	return d.extract(func(n *crdt.NoteDoc) string { return n.Title() })
}

// Text returns the note's plain-text projection.
func (d *Document) Text() (string, error) {
	return d.extract(func(n *crdt.NoteDoc) string { return n.Text() })
}

func (d *Document) extract(fn func(*crdt.NoteDoc) string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return "", err
	}
	if d.note == nil {
		return "", fmt.Errorf("docstore: %s is not a note document", d.id)
	}
	if d.degraded {
		return "", apperr.ErrDegradedDocument
	}
	return fn(d.note), nil
}

// Blocks returns the note's live top-level block IDs in reading order.
func (d *Document) Blocks() []crdt.ItemID {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.note == nil || d.state != StateReady {
		return nil
	}
	return d.note.Blocks()
}

func (d *Document) ready() error {
	switch d.state {
	case StateReady:
		return nil
	case StateClosed:
		return apperr.ErrClosed
	default:
		return apperr.ErrNotReady
	}
}

// ID returns the stable document ID.
func (d *Document) ID() string { return d.id }

// DocKind returns the document kind.
func (d *Document) DocKind() Kind { return d.kind }

// Dir returns the log directory relative to the sync-directory root.
func (d *Document) Dir() string { return d.dir }

// Writer returns the local writer instance ID.
func (d *Document) Writer() string { return d.writer }

// Clock returns a copy of the document's vector clock.
func (d *Document) Clock() vclock.Clock {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock.Copy()
}

// Degraded reports whether open found files but reconstructed no usable
// state. The flag clears once a remote merge brings usable state in.
func (d *Document) Degraded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.degraded
}

// SkippedFiles returns the names of files skipped as corrupt or unreadable.
func (d *Document) SkippedFiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.skipped))
	copy(out, d.skipped)
	return out
}

// DocState returns the lifecycle state.
func (d *Document) DocState() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Close releases the in-memory CRDT instance. The document must not be
// used afterwards.
func (d *Document) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateClosed {
		return
	}
	d.model.Close()
	d.state = StateClosed
}
