// Package testutil provides shared test helpers for setting up sync
// directories and document registries.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path"
	"testing"

	"github.com/starford/ansuz/internal/docstore"
	"github.com/starford/ansuz/internal/logfmt"
	"github.com/starford/ansuz/internal/storage"
)

// Logger returns a discard logger for tests.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestSyncDir creates a temporary sync directory with a storage.Adapter.
func TestSyncDir(t *testing.T) (string, storage.Adapter) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// TestRegistry creates a registry over a fresh sync directory for the
// given writer ID.
func TestRegistry(t *testing.T, writer string) (*docstore.Registry, storage.Adapter) {
	t.Helper()
	_, store := TestSyncDir(t)
	reg := docstore.NewRegistry(store, writer, Logger())
	t.Cleanup(reg.CloseAll)
	return reg, store
}

// OpenNote opens a note document or fails the test.
func OpenNote(t *testing.T, reg *docstore.Registry, id string) *docstore.Document {
	t.Helper()
	doc, err := reg.OpenNote(context.Background(), id)
	if err != nil {
		t.Fatalf("open note %s: %v", id, err)
	}
	return doc
}

// WriteUpdate encodes an update record and drops it into a log directory
// the way the replication substrate would.
func WriteUpdate(t *testing.T, store storage.Adapter, dir string, u *logfmt.Update) string {
	t.Helper()
	data, err := logfmt.EncodeUpdate(u)
	if err != nil {
		t.Fatal(err)
	}
	name := logfmt.UpdateFilename(u.Writer, u.Seq, u.Timestamp)
	if err := store.AtomicWrite(path.Join(dir, name), data); err != nil {
		t.Fatal(err)
	}
	return name
}
