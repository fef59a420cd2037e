// Package docstore implements the update manager: it owns every read and
// write of a document's on-disk log and exposes the merged CRDT state.
package docstore

import (
	"fmt"
	"path"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
)

// Kind distinguishes the two document families sharing the log scheme.
type Kind int

const (
	// KindNote is a rich-text note document.
	KindNote Kind = iota + 1
	// KindTree is the folder-hierarchy document (one per sync directory).
	KindTree
)

func (k Kind) String() string {
	switch k {
	case KindNote:
		return "note"
	case KindTree:
		return "tree"
	default:
		return "unknown"
	}
}

// TreeDocID is the registry key and document ID of the folder tree.
const TreeDocID = "folders"

// ValidateDocID rejects note IDs that cannot name a log directory under
// notes/: empty strings, anything with path separators or dot components,
// and the reserved folder-tree ID. Minted IDs (uuid, ulid) always pass.
func ValidateDocID(id string) error {
	if id == "" || id == TreeDocID {
		return fmt.Errorf("docstore: document id %q: %w", id, apperr.ErrInvalidDocID)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_':
		default:
			return fmt.Errorf("docstore: document id %q: %w", id, apperr.ErrInvalidDocID)
		}
	}
	return nil
}

// LogDir returns the log directory for a document, relative to the sync
// directory root.
func LogDir(kind Kind, docID string) string {
	if kind == KindTree {
		return path.Join("folders", "logs")
	}
	return path.Join("notes", docID, "logs")
}

// LegacyDir returns the legacy one-file-per-update directory consumed only
// by migration.
func LegacyDir(kind Kind, docID string) string {
	if kind == KindTree {
		return path.Join("folders", "updates")
	}
	return path.Join("notes", docID, "updates")
}

// ParseLogPath maps a sync-directory-relative file path back to the
// document it belongs to. ok is false for paths outside any log directory.
func ParseLogPath(rel string) (kind Kind, docID, filename string, ok bool) {
	parts := strings.Split(path.Clean(rel), "/")
	switch {
	case len(parts) == 3 && parts[0] == "folders" && parts[1] == "logs":
		return KindTree, TreeDocID, parts[2], true
	case len(parts) == 4 && parts[0] == "notes" && parts[2] == "logs" && parts[1] != "":
		return KindNote, parts[1], parts[3], true
	default:
		return 0, "", "", false
	}
}
