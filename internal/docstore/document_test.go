package docstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"strings"
	"testing"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/crdt"
	"github.com/starford/ansuz/internal/logfmt"
	"github.com/starford/ansuz/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) storage.Adapter {
	t.Helper()
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func openNote(t *testing.T, store storage.Adapter, writer, id string) *Document {
	t.Helper()
	reg := NewRegistry(store, writer, testLogger())
	t.Cleanup(reg.CloseAll)
	doc, err := reg.OpenNote(context.Background(), id)
	if err != nil {
		t.Fatalf("open note: %v", err)
	}
	return doc
}

// noteDelta builds a standalone append-block payload attributed to writer.
func noteDelta(t *testing.T, writer, text string) []byte {
	t.Helper()
	return nextDelta(t, crdt.NewNoteDoc("n1", writer))(text)
}

// nextDelta returns a generator producing successive append-block payloads
// from one scratch document, so IDs and stamps advance like a real editor's.
func nextDelta(t *testing.T, d *crdt.NoteDoc) func(text string) []byte {
	t.Helper()
	return func(text string) []byte {
		delta, err := d.AppendBlockUpdate("p", text)
		if err != nil {
			t.Fatal(err)
		}
		if err := d.ApplyUpdate(delta); err != nil {
			t.Fatal(err)
		}
		return delta
	}
}

// writeUpdateFile drops an update record into the note's log directory the
// way the replication substrate would.
func writeUpdateFile(t *testing.T, store storage.Adapter, writer string, seq uint64, payload []byte) string {
	t.Helper()
	u := &logfmt.Update{DocID: "n1", Writer: writer, Seq: seq, Timestamp: int64(1700000000000 + seq), Payload: payload}
	data, err := logfmt.EncodeUpdate(u)
	if err != nil {
		t.Fatal(err)
	}
	name := logfmt.UpdateFilename(writer, seq, u.Timestamp)
	if err := store.AtomicWrite(path.Join(LogDir(KindNote, "n1"), name), data); err != nil {
		t.Fatal(err)
	}
	return name
}

func TestAppendLocalThenReopen(t *testing.T) {
	store := testStore(t)
	doc := openNote(t, store, "writerA", "n1")

	if err := doc.AppendBlock("p", "hello world"); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}
	if got := doc.Clock()["writerA"]; got != 1 {
		t.Errorf("clock = %d, want 1", got)
	}

	metas, err := store.List(LogDir(KindNote, "n1"), "*"+logfmt.ExtUpdate)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 1 {
		t.Fatalf("update files = %d, want 1", len(metas))
	}

	reopened := openNote(t, store, "writerA", "n1")
	text, err := reopened.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if text != "hello world" {
		t.Errorf("Text = %q", text)
	}
}

func TestTwoWritersConverge(t *testing.T) {
	store := testStore(t)

	a := openNote(t, store, "writerA", "n1")
	for _, text := range []string{"a1", "a2", "a3"} {
		if err := a.AppendBlock("p", text); err != nil {
			t.Fatal(err)
		}
	}
	b := openNote(t, store, "writerB", "n1")
	for _, text := range []string{"b1", "b2", "b3"} {
		if err := b.AppendBlock("p", text); err != nil {
			t.Fatal(err)
		}
	}

	observer := openNote(t, store, "writerC", "n1")
	clock := observer.Clock()
	if clock["writerA"] != 3 || clock["writerB"] != 3 {
		t.Errorf("clock = %v, want A:3 B:3", clock)
	}
	if got := len(observer.Blocks()); got != 6 {
		t.Errorf("blocks = %d, want 6", got)
	}
	if observer.Degraded() {
		t.Error("converged document reported degraded")
	}
}

func TestSnapshotFastForwardSkipsDominatedUpdates(t *testing.T) {
	store := testStore(t)
	dir := LogDir(KindNote, "n1")

	// Snapshot at clock {A:5, B:2}.
	scratchA := crdt.NewNoteDoc("n1", "writerA")
	deltaA := nextDelta(t, scratchA)
	deltaA("base")
	state, err := scratchA.EncodeStateAsUpdate()
	if err != nil {
		t.Fatal(err)
	}
	snap := &logfmt.Snapshot{
		DocID:     "n1",
		Writer:    "writerA",
		Seq:       5,
		Timestamp: 1700000000000,
		Clock:     map[string]uint64{"writerA": 5, "writerB": 2},
		State:     state,
	}
	data, err := logfmt.EncodeSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}
	name := logfmt.SnapshotFilename("writerA", 5, snap.Timestamp)
	if err := store.AtomicWrite(path.Join(dir, name), data); err != nil {
		t.Fatal(err)
	}

	// One dominated update that must not be replayed, three newer ones.
	// Subsumption is decided by the clock, not by content inspection.
	writeUpdateFile(t, store, "writerA", 4, deltaA("stale"))
	writeUpdateFile(t, store, "writerA", 6, deltaA("a6"))
	writeUpdateFile(t, store, "writerA", 7, deltaA("a7"))
	writeUpdateFile(t, store, "writerB", 3, noteDelta(t, "writerB", "b3"))

	doc := openNote(t, store, "writerC", "n1")
	clock := doc.Clock()
	if clock["writerA"] != 7 || clock["writerB"] != 3 {
		t.Errorf("clock = %v, want A:7 B:3", clock)
	}
	text, err := doc.Text()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"base", "a6", "a7", "b3"} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q is missing %q", text, want)
		}
	}
	if strings.Contains(text, "stale") {
		t.Errorf("dominated update was replayed: %q", text)
	}
}

func TestOneCorruptFileAmongTen(t *testing.T) {
	store := testStore(t)
	dir := LogDir(KindNote, "n1")

	deltaB := nextDelta(t, crdt.NewNoteDoc("n1", "writerB"))
	var corrupted string
	for seq := uint64(1); seq <= 10; seq++ {
		name := writeUpdateFile(t, store, "writerB", seq, deltaB("x"))
		if seq == 5 {
			corrupted = name
		}
	}
	// Truncate file five below the header length.
	if err := store.AtomicWrite(path.Join(dir, corrupted), []byte("AN")); err != nil {
		t.Fatal(err)
	}

	doc := openNote(t, store, "writerA", "n1")
	if doc.Degraded() {
		t.Error("nine good files should not leave the document degraded")
	}
	skipped := doc.SkippedFiles()
	if len(skipped) != 1 || skipped[0] != corrupted {
		t.Errorf("skipped = %v, want [%s]", skipped, corrupted)
	}
	if got := doc.Clock()["writerB"]; got != 10 {
		t.Errorf("clock = %d, want 10", got)
	}
	if got := len(doc.Blocks()); got != 9 {
		t.Errorf("blocks = %d, want 9", got)
	}
}

func TestDegradedWhenNothingUsable(t *testing.T) {
	store := testStore(t)
	dir := LogDir(KindNote, "n1")
	name := logfmt.UpdateFilename("writerB", 1, 1700000000000)
	if err := store.AtomicWrite(path.Join(dir, name), []byte("not a record")); err != nil {
		t.Fatal(err)
	}

	doc := openNote(t, store, "writerA", "n1")
	if !doc.Degraded() {
		t.Fatal("expected degraded document")
	}
	if _, err := doc.Text(); !errors.Is(err, apperr.ErrDegradedDocument) {
		t.Errorf("Text err = %v, want ErrDegradedDocument", err)
	}
	if _, err := doc.Title(); !errors.Is(err, apperr.ErrDegradedDocument) {
		t.Errorf("Title err = %v, want ErrDegradedDocument", err)
	}
	// Appending still works: edits must never be blocked by degradation.
	if err := doc.AppendBlock("p", "still writable"); err != nil {
		t.Errorf("AppendBlock on degraded doc: %v", err)
	}
}

func TestApplyRemoteFile(t *testing.T) {
	store := testStore(t)
	doc := openNote(t, store, "writerA", "n1")

	name := writeUpdateFile(t, store, "writerB", 1, noteDelta(t, "writerB", "remote"))

	merged, err := doc.ApplyRemoteFile(name)
	if err != nil {
		t.Fatalf("ApplyRemoteFile: %v", err)
	}
	if !merged {
		t.Fatal("first delivery should merge")
	}

	// Duplicate delivery is a no-op.
	merged, err = doc.ApplyRemoteFile(name)
	if err != nil {
		t.Fatal(err)
	}
	if merged {
		t.Error("duplicate delivery should not merge")
	}

	// Files written by this instance are ignored.
	if err := doc.AppendBlock("p", "mine"); err != nil {
		t.Fatal(err)
	}
	own := logfmt.UpdateFilename("writerA", 1, 0)
	merged, err = doc.ApplyRemoteFile(own)
	if err != nil || merged {
		t.Errorf("own file: merged=%v err=%v", merged, err)
	}

	// Non-log names are ignored without error.
	merged, err = doc.ApplyRemoteFile(".DS_Store")
	if err != nil || merged {
		t.Errorf("garbage name: merged=%v err=%v", merged, err)
	}
}

func TestAppendLocalValidatesPayload(t *testing.T) {
	store := testStore(t)
	doc := openNote(t, store, "writerA", "n1")

	if err := doc.AppendLocal([]byte("malformed")); err == nil {
		t.Fatal("expected validation error")
	}
	metas, err := store.List(LogDir(KindNote, "n1"), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 0 {
		t.Errorf("rejected payload left %d files on disk", len(metas))
	}
	if got := doc.Clock()["writerA"]; got != 0 {
		t.Errorf("clock advanced to %d on rejected payload", got)
	}
}

func TestClosedDocumentRejectsOperations(t *testing.T) {
	store := testStore(t)
	doc := openNote(t, store, "writerA", "n1")
	doc.Close()

	if err := doc.AppendBlock("p", "x"); !errors.Is(err, apperr.ErrClosed) {
		t.Errorf("AppendBlock err = %v, want ErrClosed", err)
	}
	if _, err := doc.ApplyRemoteFile("w-1-1.crdtlog"); !errors.Is(err, apperr.ErrClosed) {
		t.Errorf("ApplyRemoteFile err = %v, want ErrClosed", err)
	}
	// Close is idempotent.
	doc.Close()
}

func TestRegistryReusesOpenDocuments(t *testing.T) {
	store := testStore(t)
	reg := NewRegistry(store, "writerA", testLogger())
	t.Cleanup(reg.CloseAll)

	ctx := context.Background()
	first, err := reg.OpenNote(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := reg.OpenNote(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("same ID should return the same instance")
	}

	if _, ok := reg.Get("n1"); !ok {
		t.Error("Get should find the open document")
	}
	reg.Close("n1")
	if _, ok := reg.Get("n1"); ok {
		t.Error("closed document still registered")
	}
}

func TestTreeDocumentThroughRegistry(t *testing.T) {
	store := testStore(t)
	reg := NewRegistry(store, "writerA", testLogger())
	t.Cleanup(reg.CloseAll)

	tree, err := reg.OpenTree(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tree.ID() != TreeDocID || tree.DocKind() != KindTree {
		t.Fatalf("tree = %s/%v", tree.ID(), tree.DocKind())
	}
	if err := tree.UpsertFolder(crdt.Folder{ID: "f1", Name: "Inbox", Order: 1}); err != nil {
		t.Fatal(err)
	}
	if got := tree.ListFolders(""); len(got) != 1 || got[0].Name != "Inbox" {
		t.Errorf("folders = %v", got)
	}

	// The tree persists through its own log directory.
	reopened := NewRegistry(store, "writerA", testLogger())
	t.Cleanup(reopened.CloseAll)
	tree2, err := reopened.OpenTree(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := tree2.ListFolders(""); len(got) != 1 {
		t.Errorf("reopened folders = %d, want 1", len(got))
	}
}

func TestPackOnlyDirectoryIsNotDegraded(t *testing.T) {
	store := testStore(t)

	// A pack whose raw updates have since been garbage-collected is the
	// only file left; it alone must reconstruct full state.
	delta := nextDelta(t, crdt.NewNoteDoc("n1", "writerB"))
	var updates []*logfmt.Update
	for seq, text := range []string{"one", "two", "three"} {
		updates = append(updates, &logfmt.Update{
			DocID:     "n1",
			Writer:    "writerB",
			Seq:       uint64(seq + 1),
			Timestamp: int64(1700000000000 + seq),
			Payload:   delta(text),
		})
	}
	p, err := logfmt.BuildPack(updates)
	if err != nil {
		t.Fatal(err)
	}
	data, err := logfmt.EncodePack(p)
	if err != nil {
		t.Fatal(err)
	}
	name := logfmt.PackFilename("writerB", p.StartSeq, p.EndSeq)
	if err := store.AtomicWrite(path.Join(LogDir(KindNote, "n1"), name), data); err != nil {
		t.Fatal(err)
	}

	doc := openNote(t, store, "writerA", "n1")
	if doc.Degraded() {
		t.Fatal("pack-only directory flagged degraded")
	}
	if got := doc.Clock()["writerB"]; got != 3 {
		t.Errorf("clock = %d, want 3", got)
	}
	text, err := doc.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if text != "one two three" {
		t.Errorf("Text = %q", text)
	}
}

func TestRemoteMergeClearsDegraded(t *testing.T) {
	store := testStore(t)
	dir := LogDir(KindNote, "n1")
	bad := logfmt.UpdateFilename("writerB", 1, 1700000000000)
	if err := store.AtomicWrite(path.Join(dir, bad), []byte("not a record")); err != nil {
		t.Fatal(err)
	}

	doc := openNote(t, store, "writerA", "n1")
	if !doc.Degraded() {
		t.Fatal("expected degraded document")
	}

	name := writeUpdateFile(t, store, "writerC", 1, noteDelta(t, "writerC", "recovered"))
	merged, err := doc.ApplyRemoteFile(name)
	if err != nil || !merged {
		t.Fatalf("ApplyRemoteFile: merged=%v err=%v", merged, err)
	}

	if doc.Degraded() {
		t.Error("degraded flag survived a usable remote merge")
	}
	text, err := doc.Text()
	if err != nil {
		t.Fatalf("Text after merge: %v", err)
	}
	if text != "recovered" {
		t.Errorf("Text = %q", text)
	}
}

func TestOpenNoteRejectsInvalidIDs(t *testing.T) {
	store := testStore(t)
	reg := NewRegistry(store, "writerA", testLogger())
	t.Cleanup(reg.CloseAll)

	for _, id := range []string{"", ".", "..", "../folders", "a/b", TreeDocID} {
		if _, err := reg.OpenNote(context.Background(), id); !errors.Is(err, apperr.ErrInvalidDocID) {
			t.Errorf("OpenNote(%q) err = %v, want ErrInvalidDocID", id, err)
		}
	}

	// Nothing leaked outside notes/: the tree's log directory stays empty.
	if metas, _ := store.List(LogDir(KindTree, ""), ""); len(metas) != 0 {
		t.Errorf("folder tree log dir polluted: %v", metas)
	}
}
