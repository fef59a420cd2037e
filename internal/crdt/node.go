// Package crdt implements the conflict-free document models: NoteDoc for
// rich-text notes and TreeDoc for the folder hierarchy.
//
// Both models are state-based last-writer-wins sets keyed by globally
// unique IDs. Merge is a per-entry join on the Stamp total order, which
// makes it commutative, associative, and idempotent: replaying any subset,
// order, or repetition of updates converges to the same state.
package crdt

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/starford/ansuz/internal/apperr"
)

// ItemID uniquely identifies a content node: the writer that created it
// plus a counter local to that writer.
type ItemID struct {
	Writer  string `msgpack:"w"`
	Counter uint64 `msgpack:"c"`
}

// IsZero reports whether the ID is unset (used as the tree root).
func (id ItemID) IsZero() bool {
	return id.Writer == "" && id.Counter == 0
}

// Less orders IDs by (writer, counter); used for deterministic encoding.
func (id ItemID) Less(other ItemID) bool {
	if id.Writer != other.Writer {
		return id.Writer < other.Writer
	}
	return id.Counter < other.Counter
}

// Stamp is a Lamport timestamp with a writer tie-break, giving a total
// order across all mutations of one entry.
type Stamp struct {
	Lamport uint64 `msgpack:"l"`
	Writer  string `msgpack:"w"`
}

// After reports whether s wins over other in the LWW order.
func (s Stamp) After(other Stamp) bool {
	if s.Lamport != other.Lamport {
		return s.Lamport > other.Lamport
	}
	return s.Writer > other.Writer
}

// NodeKind is the closed set of content node variants.
type NodeKind uint8

const (
	// NodeElement is a container with a tag (paragraph, heading, ...).
	NodeElement NodeKind = 1
	// NodeText is a leaf carrying text.
	NodeText NodeKind = 2
)

// Node is one entry of a note document: an element or a text leaf,
// positioned among its siblings by a fractional key.
type Node struct {
	ID      ItemID   `msgpack:"id"`
	Parent  ItemID   `msgpack:"parent"`
	Kind    NodeKind `msgpack:"kind"`
	Tag     string   `msgpack:"tag,omitempty"`
	Text    string   `msgpack:"text,omitempty"`
	Pos     string   `msgpack:"pos"`
	Stamp   Stamp    `msgpack:"stamp"`
	Deleted bool     `msgpack:"deleted,omitempty"`
}

// FolderNode is one entry of the folder-tree document.
type FolderNode struct {
	ID       string  `msgpack:"id"`
	Name     string  `msgpack:"name"`
	ParentID string  `msgpack:"parent"`
	SDID     string  `msgpack:"sd"`
	Order    float64 `msgpack:"order"`
	Deleted  bool    `msgpack:"deleted,omitempty"`
	Stamp    Stamp   `msgpack:"stamp"`
}

type payloadKind uint8

const (
	payloadNote payloadKind = 1
	payloadTree payloadKind = 2
)

// envelope is the msgpack body of every update payload. Collections are
// sorted slices, never maps, so encoding is byte-deterministic.
type envelope struct {
	Kind    payloadKind  `msgpack:"kind"`
	Nodes   []Node       `msgpack:"nodes,omitempty"`
	Folders []FolderNode `msgpack:"folders,omitempty"`
}

func encodeEnvelope(env *envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEnvelope(data []byte, want payloadKind) (*envelope, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, apperr.Corrupt("", "decode crdt payload", err)
	}
	if env.Kind != want {
		return nil, apperr.Corrupt("", "crdt payload kind mismatch", nil)
	}
	return &env, nil
}
