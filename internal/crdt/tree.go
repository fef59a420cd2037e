package crdt

import (
	"sort"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
)

// Folder describes the mutable fields of one folder entry, as supplied by
// the embedding app when building a delta.
type Folder struct {
	ID       string
	Name     string
	ParentID string
	SDID     string
	Order    float64
}

// TreeDoc holds the folder-hierarchy CRDT: a flat LWW map of folder
// entries. Listing order is defined in the model (ascending Order, ties
// case-insensitively by name, then ID) so every instance renders the same
// tree.
type TreeDoc struct {
	id      string
	writer  string
	folders map[string]FolderNode
	lamport uint64
	closed  bool
}

// NewTreeDoc allocates empty folder-tree state. No I/O happens here.
func NewTreeDoc(id, writer string) *TreeDoc {
	return &TreeDoc{
		id:      id,
		writer:  writer,
		folders: make(map[string]FolderNode),
	}
}

// ID returns the stable document ID.
func (d *TreeDoc) ID() string { return d.id }

// Closed reports whether Close has been called.
func (d *TreeDoc) Closed() bool { return d.closed }

// Close frees the document state. The instance must not be reused.
func (d *TreeDoc) Close() {
	d.folders = nil
	d.closed = true
}

// ValidateUpdate checks that data is a well-formed tree delta without
// applying it.
func (d *TreeDoc) ValidateUpdate(data []byte) error {
	if d.closed {
		return apperr.ErrClosed
	}
	_, err := decodeEnvelope(data, payloadTree)
	return err
}

// ApplyUpdate merges a binary delta into the tree.
func (d *TreeDoc) ApplyUpdate(data []byte) error {
	if d.closed {
		return apperr.ErrClosed
	}
	env, err := decodeEnvelope(data, payloadTree)
	if err != nil {
		return err
	}
	for _, f := range env.Folders {
		d.merge(f)
	}
	return nil
}

func (d *TreeDoc) merge(f FolderNode) {
	if existing, ok := d.folders[f.ID]; !ok || f.Stamp.After(existing.Stamp) {
		d.folders[f.ID] = f
	}
	if f.Stamp.Lamport > d.lamport {
		d.lamport = f.Stamp.Lamport
	}
}

// EncodeStateAsUpdate returns the full state as one delta, sorted by
// folder ID for byte-deterministic output.
func (d *TreeDoc) EncodeStateAsUpdate() ([]byte, error) {
	if d.closed {
		return nil, apperr.ErrClosed
	}
	folders := make([]FolderNode, 0, len(d.folders))
	for _, f := range d.folders {
		folders = append(folders, f)
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].ID < folders[j].ID })
	return encodeEnvelope(&envelope{Kind: payloadTree, Folders: folders})
}

// UpsertUpdate builds a delta creating or rewriting a folder entry.
func (d *TreeDoc) UpsertUpdate(f Folder) ([]byte, error) {
	if d.closed {
		return nil, apperr.ErrClosed
	}
	node := FolderNode{
		ID:       f.ID,
		Name:     f.Name,
		ParentID: f.ParentID,
		SDID:     f.SDID,
		Order:    f.Order,
		Stamp:    Stamp{Lamport: d.lamport + 1, Writer: d.writer},
	}
	return encodeEnvelope(&envelope{Kind: payloadTree, Folders: []FolderNode{node}})
}

// RemoveUpdate builds a delta soft-deleting a folder. Entries are never
// hard-deleted from state.
func (d *TreeDoc) RemoveUpdate(id string) ([]byte, error) {
	if d.closed {
		return nil, apperr.ErrClosed
	}
	f, ok := d.folders[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	f.Deleted = true
	f.Stamp = Stamp{Lamport: d.lamport + 1, Writer: d.writer}
	return encodeEnvelope(&envelope{Kind: payloadTree, Folders: []FolderNode{f}})
}

// Get returns a folder entry, deleted or not.
func (d *TreeDoc) Get(id string) (FolderNode, bool) {
	f, ok := d.folders[id]
	return f, ok
}

// List returns the live children of parentID in defined listing order:
// ascending Order, ties case-insensitively by name, then by ID.
func (d *TreeDoc) List(parentID string) []FolderNode {
	var out []FolderNode
	for _, f := range d.folders {
		if f.ParentID == parentID && !f.Deleted {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if an != bn {
			return an < bn
		}
		return a.ID < b.ID
	})
	return out
}
