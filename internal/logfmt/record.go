// Package logfmt implements the versioned on-disk encoding for update,
// snapshot, and pack records, plus the filename convention that lets a
// directory listing alone reconstruct replay order.
//
// Every file starts with a fixed header:
//
//	magic "ANSZ" | version u8 | record type u8 | body length u32be | CRC-32C u32be
//
// followed by a msgpack-encoded body. The CRC covers the body only, so a
// truncated or partially replicated file always fails closed.
package logfmt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/starford/ansuz/internal/apperr"
)

// Version1 is the only format version this build reads and writes.
const Version1 = 1

// Record types.
const (
	TypeUpdate   byte = 1
	TypeSnapshot byte = 2
	TypePack     byte = 3
)

var (
	magic        = []byte("ANSZ")
	castagnoli   = crc32.MakeTable(crc32.Castagnoli)
	headerLength = len(magic) + 1 + 1 + 4 + 4
)

// Update is one immutable CRDT delta produced by a single writer.
type Update struct {
	DocID     string `msgpack:"doc"`
	Writer    string `msgpack:"writer"`
	Seq       uint64 `msgpack:"seq"`
	Timestamp int64  `msgpack:"ts"` // unix milliseconds, diagnostic only
	Payload   []byte `msgpack:"payload"`
}

// Snapshot is the full encoded document state at a vector clock, used as a
// fast-forward base during open.
type Snapshot struct {
	DocID     string            `msgpack:"doc"`
	Writer    string            `msgpack:"writer"`
	Seq       uint64            `msgpack:"seq"` // writer's own sequence at snapshot time
	Timestamp int64             `msgpack:"ts"`
	Clock     map[string]uint64 `msgpack:"clock"`
	State     []byte            `msgpack:"state"`
}

// PackedUpdate is one member of a Pack.
type PackedUpdate struct {
	Seq       uint64 `msgpack:"seq"`
	Timestamp int64  `msgpack:"ts"`
	Payload   []byte `msgpack:"payload"`
}

// Pack bundles one writer's contiguous run of updates. It is logically
// equal to the concatenation of its members.
type Pack struct {
	DocID    string         `msgpack:"doc"`
	Writer   string         `msgpack:"writer"`
	StartSeq uint64         `msgpack:"start"`
	EndSeq   uint64         `msgpack:"end"`
	Updates  []PackedUpdate `msgpack:"updates"`
}

// Validate checks the pack invariant: one writer, sequence-contiguous
// members matching the declared range. A violation is a hard error because
// a pack atomically replaces the updates it subsumes.
func (p *Pack) Validate() error {
	if p.Writer == "" {
		return fmt.Errorf("logfmt: pack has no writer: %w", apperr.ErrInvalidPack)
	}
	if p.StartSeq == 0 || p.EndSeq < p.StartSeq {
		return fmt.Errorf("logfmt: pack range %d-%d: %w", p.StartSeq, p.EndSeq, apperr.ErrInvalidPack)
	}
	want := p.EndSeq - p.StartSeq + 1
	if uint64(len(p.Updates)) != want {
		return fmt.Errorf("logfmt: pack has %d members, range needs %d: %w",
			len(p.Updates), want, apperr.ErrInvalidPack)
	}
	for i, u := range p.Updates {
		if u.Seq != p.StartSeq+uint64(i) {
			return fmt.Errorf("logfmt: pack member %d has seq %d, want %d: %w",
				i, u.Seq, p.StartSeq+uint64(i), apperr.ErrInvalidPack)
		}
	}
	return nil
}

// BuildPack assembles a validated Pack from one writer's decoded updates.
// The updates must already be sorted by sequence.
func BuildPack(updates []*Update) (*Pack, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("logfmt: empty pack: %w", apperr.ErrInvalidPack)
	}
	p := &Pack{
		DocID:    updates[0].DocID,
		Writer:   updates[0].Writer,
		StartSeq: updates[0].Seq,
		EndSeq:   updates[len(updates)-1].Seq,
		Updates:  make([]PackedUpdate, 0, len(updates)),
	}
	for _, u := range updates {
		if u.Writer != p.Writer {
			return nil, fmt.Errorf("logfmt: pack mixes writers %s and %s: %w",
				p.Writer, u.Writer, apperr.ErrInvalidPack)
		}
		p.Updates = append(p.Updates, PackedUpdate{Seq: u.Seq, Timestamp: u.Timestamp, Payload: u.Payload})
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeUpdate serializes an update record.
func EncodeUpdate(u *Update) ([]byte, error) { return encode(TypeUpdate, u) }

// DecodeUpdate parses an update record. path is used for error context only.
func DecodeUpdate(path string, data []byte) (*Update, error) {
	var u Update
	if err := decode(path, TypeUpdate, data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// EncodeSnapshot serializes a snapshot record.
func EncodeSnapshot(s *Snapshot) ([]byte, error) { return encode(TypeSnapshot, s) }

// DecodeSnapshot parses a snapshot record.
func DecodeSnapshot(path string, data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := decode(path, TypeSnapshot, data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// EncodePack serializes a pack record after validating it.
func EncodePack(p *Pack) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return encode(TypePack, p)
}

// DecodePack parses and validates a pack record.
func DecodePack(path string, data []byte) (*Pack, error) {
	var p Pack
	if err := decode(path, TypePack, data, &p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, apperr.Corrupt(path, "pack invariant", err)
	}
	return &p, nil
}

func encode(recordType byte, body any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(body); err != nil {
		return nil, fmt.Errorf("logfmt: encode body: %w", err)
	}
	payload := buf.Bytes()

	out := make([]byte, 0, headerLength+len(payload))
	out = append(out, magic...)
	out = append(out, Version1, recordType)
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	out = binary.BigEndian.AppendUint32(out, crc32.Checksum(payload, castagnoli))
	out = append(out, payload...)
	return out, nil
}

func decode(path string, wantType byte, data []byte, body any) error {
	if len(data) < headerLength {
		return apperr.Corrupt(path, "truncated header", nil)
	}
	if !bytes.Equal(data[:len(magic)], magic) {
		return apperr.Corrupt(path, "not an ansuz record", apperr.ErrBadMagic)
	}
	version := data[len(magic)]
	if version != Version1 {
		return fmt.Errorf("logfmt: %s has version %d: %w", path, version, apperr.ErrUnsupportedVersion)
	}
	recordType := data[len(magic)+1]
	if recordType != wantType {
		return apperr.Corrupt(path, fmt.Sprintf("record type %d, want %d", recordType, wantType), nil)
	}
	length := binary.BigEndian.Uint32(data[len(magic)+2:])
	sum := binary.BigEndian.Uint32(data[len(magic)+6:])
	payload := data[headerLength:]
	if uint32(len(payload)) != length {
		return apperr.Corrupt(path, "body length mismatch", nil)
	}
	if crc32.Checksum(payload, castagnoli) != sum {
		return apperr.Corrupt(path, "checksum mismatch", nil)
	}
	if err := msgpack.Unmarshal(payload, body); err != nil {
		return apperr.Corrupt(path, "decode body", err)
	}
	return nil
}
