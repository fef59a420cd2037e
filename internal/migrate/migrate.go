// Package migrate converts the legacy one-file-per-update layout
// (updates/*.yjson) into the append-only log layout.
//
// Migration is idempotent and safe to run while not-yet-upgraded
// instances still write the legacy format into the same shared folder: it
// only reads legacy-named files, only writes new-format files, and never
// deletes anything itself. Cleanup is a separate, explicit step that
// removes only files a migration run has verifiably converted.
package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/ansuz/internal/docstore"
	"github.com/starford/ansuz/internal/logfmt"
	"github.com/starford/ansuz/internal/storage"
)

// LegacyExt is the extension of legacy per-update files.
const LegacyExt = ".yjson"

// legacyWriter is the synthetic writer ID for legacy files that do not
// name their client.
const legacyWriter = "legacy"

// legacyUpdate is the JSON body of one legacy file.
type legacyUpdate struct {
	Client string `json:"client,omitempty"`
	Seq    uint64 `json:"seq"`
	TS     int64  `json:"ts"`
	Update []byte `json:"update"`
}

// FileError records one legacy file that could not be converted.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Report accumulates the outcome of a migration run. Per-file failures
// are recorded here rather than thrown, so the caller can decide what a
// partial success means.
type Report struct {
	FilesProcessed int         `json:"files_processed"`
	FilesConverted int         `json:"files_converted"`
	FilesSkipped   int         `json:"files_skipped"` // target already exists
	Errors         []FileError `json:"errors,omitempty"`

	// Converted lists the legacy paths whose new-format counterpart is
	// confirmed on disk; only these are eligible for CleanupOldFiles.
	Converted []string `json:"converted,omitempty"`
}

func (r *Report) merge(other Report) {
	r.FilesProcessed += other.FilesProcessed
	r.FilesConverted += other.FilesConverted
	r.FilesSkipped += other.FilesSkipped
	r.Errors = append(r.Errors, other.Errors...)
	r.Converted = append(r.Converted, other.Converted...)
}

func (r *Report) fail(p string, err error) {
	r.Errors = append(r.Errors, FileError{Path: p, Error: err.Error()})
}

// CheckNeeded reports whether a document still has legacy update files.
func CheckNeeded(store storage.Adapter, kind docstore.Kind, docID string) (bool, error) {
	metas, err := store.List(docstore.LegacyDir(kind, docID), "*"+LegacyExt)
	if err != nil {
		return false, fmt.Errorf("migrate: scan legacy dir: %w", err)
	}
	return len(metas) > 0, nil
}

// MigrateDoc rewrites one document's legacy files as v1 update records in
// its log directory, ordered by (timestamp, sequence) parsed from the
// legacy filenames. One bad legacy file is recorded and skipped, not
// fatal.
func MigrateDoc(ctx context.Context, store storage.Adapter, kind docstore.Kind, docID string, logger *slog.Logger) (Report, error) {
	var report Report
	legacyDir := docstore.LegacyDir(kind, docID)
	logDir := docstore.LogDir(kind, docID)

	metas, err := store.List(legacyDir, "*"+LegacyExt)
	if err != nil {
		return report, fmt.Errorf("migrate: scan %s: %w", legacyDir, err)
	}
	if len(metas) == 0 {
		return report, nil
	}

	type legacyFile struct {
		path    string
		ts      int64
		seq     uint64
		ordered bool
	}
	files := make([]legacyFile, 0, len(metas))
	for _, m := range metas {
		ts, seq, ok := parseLegacyName(path.Base(m.Path))
		files = append(files, legacyFile{path: m.Path, ts: ts, seq: seq, ordered: ok})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].ts != files[j].ts {
			return files[i].ts < files[j].ts
		}
		return files[i].seq < files[j].seq
	})

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.FilesProcessed++

		data, err := store.Read(f.path)
		if err != nil {
			report.fail(f.path, err)
			continue
		}
		var legacy legacyUpdate
		if err := json.Unmarshal(data, &legacy); err != nil {
			report.fail(f.path, fmt.Errorf("parse legacy body: %w", err))
			continue
		}
		if legacy.Seq == 0 && f.ordered {
			legacy.Seq = f.seq
		}
		if legacy.TS == 0 && f.ordered {
			legacy.TS = f.ts
		}
		if legacy.Client == "" {
			legacy.Client = legacyWriter
		}
		if legacy.Seq == 0 || len(legacy.Update) == 0 {
			report.fail(f.path, fmt.Errorf("legacy file has no usable sequence or payload"))
			continue
		}

		target := path.Join(logDir, logfmt.UpdateFilename(legacy.Client, legacy.Seq, legacy.TS))
		exists, err := store.Exists(target)
		if err != nil {
			report.fail(f.path, err)
			continue
		}
		if exists {
			// Converted by a previous run; still safe to clean up.
			report.FilesSkipped++
			report.Converted = append(report.Converted, f.path)
			continue
		}

		rec := &logfmt.Update{
			DocID:     docID,
			Writer:    legacy.Client,
			Seq:       legacy.Seq,
			Timestamp: legacy.TS,
			Payload:   legacy.Update,
		}
		encoded, err := logfmt.EncodeUpdate(rec)
		if err != nil {
			report.fail(f.path, err)
			continue
		}
		if err := store.AtomicWrite(target, encoded); err != nil {
			report.fail(f.path, err)
			continue
		}
		report.FilesConverted++
		report.Converted = append(report.Converted, f.path)
		logger.Debug("migrated legacy update",
			slog.String("from", f.path), slog.String("to", target))
	}

	logger.Info("migration pass finished",
		slog.String("doc", docID),
		slog.Int("processed", report.FilesProcessed),
		slog.Int("converted", report.FilesConverted),
		slog.Int("skipped", report.FilesSkipped),
		slog.Int("errors", len(report.Errors)))
	return report, nil
}

// MigrateDirectory migrates the folder tree and every note under the sync
// directory, aggregating one report.
func MigrateDirectory(ctx context.Context, store storage.Adapter, logger *slog.Logger) (Report, error) {
	report, err := MigrateDoc(ctx, store, docstore.KindTree, docstore.TreeDocID, logger)
	if err != nil {
		return report, err
	}
	noteIDs, err := store.Dirs("notes")
	if err != nil {
		return report, fmt.Errorf("migrate: list notes: %w", err)
	}
	for _, id := range noteIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r, err := MigrateDoc(ctx, store, docstore.KindNote, id, logger)
		report.merge(r)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// CleanupOldFiles deletes the legacy files a migration report confirmed
// converted. It is explicit and never automatic: another not-yet-upgraded
// instance may still be writing the legacy format, so only verified
// conversions may go.
func CleanupOldFiles(store storage.Adapter, report Report) (int, error) {
	deleted := 0
	for _, p := range report.Converted {
		if err := store.Delete(p); err != nil {
			return deleted, fmt.Errorf("migrate: cleanup %s: %w", p, err)
		}
		deleted++
	}
	return deleted, nil
}

// parseLegacyName extracts (timestamp, sequence) from "<ts>-<seq>.yjson".
// ok is false for names that do not follow the convention; ordering then
// falls back to the JSON body.
func parseLegacyName(name string) (ts int64, seq uint64, ok bool) {
	stem := strings.TrimSuffix(name, LegacyExt)
	if stem == name {
		return 0, 0, false
	}
	parts := strings.Split(stem, "-")
	if len(parts) != 2 {
		return 0, 0, false
	}
	t, err1 := strconv.ParseInt(parts[0], 10, 64)
	s, err2 := strconv.ParseUint(parts[1], 10, 64)
	if err1 != nil || err2 != nil || t < 0 {
		return 0, 0, false
	}
	return t, s, true
}
