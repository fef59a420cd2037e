// Package storage defines the sync-directory file-system abstraction.
//
// The engine never touches the disk directly: every read and write goes
// through an Adapter so the same core runs against native I/O on desktop
// and host-callback I/O on embedded runtimes.
package storage

import "github.com/starford/ansuz/internal/models"

// Adapter is the interface for sync-directory file operations.
// All paths are relative to the sync-directory root.
type Adapter interface {
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// AtomicWrite writes content so that readers never observe a partial
	// file (temp file then rename, or the host's equivalent).
	AtomicWrite(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// List returns metadata for the files directly inside dir. A non-empty
	// glob filters by base name (path.Match syntax). Subdirectories are
	// not descended into.
	List(dir, glob string) ([]models.FileMeta, error)
	// Dirs returns the names of the immediate subdirectories of dir.
	Dirs(dir string) ([]string, error)
	// Exists reports whether a file or directory exists at path.
	Exists(path string) (bool, error)
	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string) error
}
