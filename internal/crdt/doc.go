package crdt

import (
	"sort"

	"github.com/starford/ansuz/internal/apperr"
)

// NoteDoc holds one note's CRDT state: a two-level tree of block elements
// and their text leaves under an implicit root (the zero ItemID).
//
// A NoteDoc is not safe for concurrent use; the update manager serializes
// access per document.
type NoteDoc struct {
	id      string
	writer  string
	nodes   map[ItemID]Node
	lamport uint64
	counter uint64
	closed  bool
}

// NewNoteDoc allocates empty state for the document. No I/O happens here.
func NewNoteDoc(id, writer string) *NoteDoc {
	return &NoteDoc{
		id:     id,
		writer: writer,
		nodes:  make(map[ItemID]Node),
	}
}

// ID returns the stable document ID.
func (d *NoteDoc) ID() string { return d.id }

// Closed reports whether Close has been called.
func (d *NoteDoc) Closed() bool { return d.closed }

// Close frees the document state. The instance must not be reused.
func (d *NoteDoc) Close() {
	d.nodes = nil
	d.closed = true
}

// ValidateUpdate checks that data is a well-formed note delta without
// applying it.
func (d *NoteDoc) ValidateUpdate(data []byte) error {
	if d.closed {
		return apperr.ErrClosed
	}
	_, err := decodeEnvelope(data, payloadNote)
	return err
}

// ApplyUpdate merges a binary delta into the document. Well-formed CRDT
// bytes never fail; malformed bytes return a corruption error.
func (d *NoteDoc) ApplyUpdate(data []byte) error {
	if d.closed {
		return apperr.ErrClosed
	}
	env, err := decodeEnvelope(data, payloadNote)
	if err != nil {
		return err
	}
	for _, n := range env.Nodes {
		d.merge(n)
	}
	return nil
}

// merge is the per-entry LWW join: the higher stamp wins, equal stamps
// keep the incumbent. It also advances the Lamport clock and, for nodes
// this writer created, the allocation counter, so a reopened document
// continues numbering where it left off.
func (d *NoteDoc) merge(n Node) {
	if existing, ok := d.nodes[n.ID]; !ok || n.Stamp.After(existing.Stamp) {
		d.nodes[n.ID] = n
	}
	if n.Stamp.Lamport > d.lamport {
		d.lamport = n.Stamp.Lamport
	}
	if n.ID.Writer == d.writer && n.ID.Counter >= d.counter {
		d.counter = n.ID.Counter + 1
	}
}

// EncodeStateAsUpdate returns the full state as one delta. The node list
// is sorted by ID, so equal states encode to identical bytes regardless of
// merge order.
func (d *NoteDoc) EncodeStateAsUpdate() ([]byte, error) {
	if d.closed {
		return nil, apperr.ErrClosed
	}
	nodes := make([]Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID.Less(nodes[j].ID) })
	return encodeEnvelope(&envelope{Kind: payloadNote, Nodes: nodes})
}

// AppendBlockUpdate builds a delta that appends a new block element with a
// single text leaf after the current last block. The delta is returned
// without being applied: the caller persists it first and merges after
// (write-then-merge).
func (d *NoteDoc) AppendBlockUpdate(tag, text string) ([]byte, error) {
	if d.closed {
		return nil, apperr.ErrClosed
	}
	lastPos := ""
	for _, id := range d.Blocks() {
		lastPos = d.nodes[id].Pos
	}
	stamp := Stamp{Lamport: d.lamport + 1, Writer: d.writer}
	block := Node{
		ID:    d.allocID(),
		Kind:  NodeElement,
		Tag:   tag,
		Pos:   PosBetween(lastPos, ""),
		Stamp: stamp,
	}
	leaf := Node{
		ID:     d.allocID(),
		Parent: block.ID,
		Kind:   NodeText,
		Text:   text,
		Pos:    PosBetween("", ""),
		Stamp:  stamp,
	}
	return encodeEnvelope(&envelope{Kind: payloadNote, Nodes: []Node{block, leaf}})
}

// SetBlockTextUpdate builds a delta replacing the text of a block's first
// text leaf.
func (d *NoteDoc) SetBlockTextUpdate(block ItemID, text string) ([]byte, error) {
	if d.closed {
		return nil, apperr.ErrClosed
	}
	for _, id := range d.childrenOf(block) {
		n := d.nodes[id]
		if n.Kind != NodeText {
			continue
		}
		n.Text = text
		n.Stamp = Stamp{Lamport: d.lamport + 1, Writer: d.writer}
		return encodeEnvelope(&envelope{Kind: payloadNote, Nodes: []Node{n}})
	}
	return nil, apperr.ErrNotFound
}

// DeleteBlockUpdate builds a delta tombstoning a block and its children.
// Nodes are never removed from state, only marked deleted.
func (d *NoteDoc) DeleteBlockUpdate(block ItemID) ([]byte, error) {
	if d.closed {
		return nil, apperr.ErrClosed
	}
	n, ok := d.nodes[block]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	stamp := Stamp{Lamport: d.lamport + 1, Writer: d.writer}
	n.Deleted = true
	n.Stamp = stamp
	out := []Node{n}
	for _, id := range d.childrenOf(block) {
		child := d.nodes[id]
		child.Deleted = true
		child.Stamp = stamp
		out = append(out, child)
	}
	return encodeEnvelope(&envelope{Kind: payloadNote, Nodes: out})
}

// Blocks returns the IDs of the live top-level blocks in reading order:
// ascending position key, ties by ItemID.
func (d *NoteDoc) Blocks() []ItemID {
	return d.childrenOf(ItemID{})
}

func (d *NoteDoc) childrenOf(parent ItemID) []ItemID {
	var out []ItemID
	for id, n := range d.nodes {
		if n.Parent == parent && !n.Deleted {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := d.nodes[out[i]], d.nodes[out[j]]
		if a.Pos != b.Pos {
			return a.Pos < b.Pos
		}
		return a.ID.Less(b.ID)
	})
	return out
}

func (d *NoteDoc) allocID() ItemID {
	id := ItemID{Writer: d.writer, Counter: d.counter}
	d.counter++
	return id
}
