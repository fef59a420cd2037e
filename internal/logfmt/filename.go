package logfmt

import (
	"fmt"
	"strconv"
	"strings"
)

// File extensions. The extension family is the v1 filename format; the
// authoritative version byte lives in the record header.
const (
	ExtUpdate   = ".crdtlog"
	ExtSnapshot = ".snap"
	ExtPack     = ".pack"

	snapshotPrefix = "snapshot"
	packPrefix     = "pack"
)

// Kind classifies a parsed log filename.
type Kind int

const (
	KindUpdate Kind = iota + 1
	KindSnapshot
	KindPack
)

// FileInfo holds the metadata a log filename encodes. Directory listings
// alone are enough to reconstruct replay order from these fields.
type FileInfo struct {
	Kind    Kind
	Version int
	Writer  string

	// Update and snapshot fields.
	Seq       uint64
	Timestamp int64 // unix milliseconds

	// Pack fields.
	StartSeq uint64
	EndSeq   uint64
}

// UpdateFilename builds "<writer>-<seq>-<ts>.crdtlog".
func UpdateFilename(writer string, seq uint64, ts int64) string {
	return fmt.Sprintf("%s-%d-%d%s", writer, seq, ts, ExtUpdate)
}

// SnapshotFilename builds "snapshot-<writer>-<seq>-<ts>.snap".
func SnapshotFilename(writer string, seq uint64, ts int64) string {
	return fmt.Sprintf("%s-%s-%d-%d%s", snapshotPrefix, writer, seq, ts, ExtSnapshot)
}

// PackFilename builds "pack-<writer>-<start>-<end>.pack".
func PackFilename(writer string, start, end uint64) string {
	return fmt.Sprintf("%s-%s-%d-%d%s", packPrefix, writer, start, end, ExtPack)
}

// ParseFilename is the total inverse of the generators: it never fails
// loudly, returning nil for any name that is not a well-formed log file so
// a directory scan simply filters garbage.
func ParseFilename(name string) *FileInfo {
	switch {
	case strings.HasSuffix(name, ExtUpdate):
		return parseUpdateName(strings.TrimSuffix(name, ExtUpdate))
	case strings.HasSuffix(name, ExtSnapshot):
		return parseSnapshotName(strings.TrimSuffix(name, ExtSnapshot))
	case strings.HasSuffix(name, ExtPack):
		return parsePackName(strings.TrimSuffix(name, ExtPack))
	default:
		return nil
	}
}

func parseUpdateName(stem string) *FileInfo {
	parts := strings.Split(stem, "-")
	if len(parts) != 3 || !validWriter(parts[0]) {
		return nil
	}
	seq, ok1 := parseUint(parts[1])
	ts, ok2 := parseInt(parts[2])
	if !ok1 || !ok2 || seq == 0 {
		return nil
	}
	return &FileInfo{Kind: KindUpdate, Version: Version1, Writer: parts[0], Seq: seq, Timestamp: ts}
}

func parseSnapshotName(stem string) *FileInfo {
	parts := strings.Split(stem, "-")
	if len(parts) != 4 || parts[0] != snapshotPrefix || !validWriter(parts[1]) {
		return nil
	}
	seq, ok1 := parseUint(parts[2])
	ts, ok2 := parseInt(parts[3])
	if !ok1 || !ok2 {
		return nil
	}
	return &FileInfo{Kind: KindSnapshot, Version: Version1, Writer: parts[1], Seq: seq, Timestamp: ts}
}

func parsePackName(stem string) *FileInfo {
	parts := strings.Split(stem, "-")
	if len(parts) != 4 || parts[0] != packPrefix || !validWriter(parts[1]) {
		return nil
	}
	start, ok1 := parseUint(parts[2])
	end, ok2 := parseUint(parts[3])
	if !ok1 || !ok2 || start == 0 || end < start {
		return nil
	}
	return &FileInfo{Kind: KindPack, Version: Version1, Writer: parts[1], StartSeq: start, EndSeq: end}
}

// validWriter accepts alphanumeric writer IDs (ULIDs and the synthetic
// "legacy" writer). Dashes are the filename field separator and therefore
// forbidden inside IDs.
func validWriter(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}

func parseUint(s string) (uint64, bool) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseInt(s string) (int64, bool) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
