// Package apperr defines the error taxonomy shared across the engine.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrBadMagic marks a file that is not an ansuz log record at all.
	ErrBadMagic = errors.New("bad magic")
	// ErrUnsupportedVersion marks a record written by a newer format version.
	ErrUnsupportedVersion = errors.New("unsupported format version")
	// ErrCorruptRecord marks a record that fails length/checksum/decode checks.
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrInvalidPack marks a pack whose members are not one writer's
	// contiguous run.
	ErrInvalidPack = errors.New("invalid pack")
	// ErrDegradedDocument is surfaced when no usable state could be
	// reconstructed for a document.
	ErrDegradedDocument = errors.New("degraded document")
	// ErrClosed is returned by operations on a closed document.
	ErrClosed = errors.New("document closed")
	// ErrNotReady is returned by operations that require a loaded document.
	ErrNotReady = errors.New("document not ready")
	// ErrNotFound is returned when a document or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidDocID is returned for caller-supplied document IDs that
	// cannot name a log directory.
	ErrInvalidDocID = errors.New("invalid document id")
)

// CorruptRecordError carries the location and cause of a single unreadable
// record. It is always confined to one file: directory scans log it and
// keep going.
type CorruptRecordError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt record %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt record %s: %s", e.Path, e.Reason)
}

func (e *CorruptRecordError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrCorruptRecord
}

// Is lets errors.Is(err, ErrCorruptRecord) match regardless of cause.
func (e *CorruptRecordError) Is(target error) bool {
	return target == ErrCorruptRecord
}

// Corrupt wraps a per-file decode failure.
func Corrupt(path, reason string, err error) *CorruptRecordError {
	return &CorruptRecordError{Path: path, Reason: reason, Err: err}
}
