// Package watch discovers log files that the replication substrate drops
// into the sync directory and feeds them to the open documents.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/docstore"
)

// EventCallback is called after a remote file was merged into an open
// document.
type EventCallback func(docID, file string)

// Watch starts an fsnotify watcher on the sync directory root and merges
// newly replicated files into open documents until ctx is cancelled. It
// calls cb (if non-nil) after each successful merge.
//
// Cloud-storage clients materialize files with a temp-then-rename dance,
// so completed files arrive as Create events. Directories created at
// runtime (new notes from other devices) are added to the watch list.
// Files this instance wrote itself, dominated files, and anything that is
// not a well-formed log name are ignored; corrupt files are logged and
// skipped by the document itself.
func Watch(ctx context.Context, reg *docstore.Registry, sdRoot string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, sdRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", sdRoot))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			absPath := ev.Name

			// New directories: add to watcher and sweep for files that
			// landed before the watch was in place.
			if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
				if addErr := addDirsRecursive(w, absPath); addErr != nil {
					logger.Warn("watcher: add new dir failed",
						slog.String("path", absPath),
						slog.String("error", addErr.Error()))
					continue
				}
				sweepDir(reg, sdRoot, absPath, logger, cb)
				continue
			}

			handleFile(reg, sdRoot, absPath, logger, cb)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// handleFile routes one file event to the document owning its log
// directory, if that document is open.
func handleFile(reg *docstore.Registry, sdRoot, absPath string, logger *slog.Logger, cb EventCallback) {
	rel, err := filepath.Rel(sdRoot, absPath)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	_, docID, filename, ok := docstore.ParseLogPath(rel)
	if !ok {
		return
	}
	doc, open := reg.Get(docID)
	if !open {
		return
	}
	merged, err := doc.ApplyRemoteFile(filename)
	if err != nil {
		logger.Warn("watcher: merge failed",
			slog.String("doc", docID),
			slog.String("file", filename),
			slog.String("error", err.Error()))
		return
	}
	if merged {
		logger.Debug("watcher: merged remote file",
			slog.String("doc", docID), slog.String("file", filename))
		if cb != nil {
			cb(docID, filename)
		}
	}
}

// sweepDir feeds any log files already present in a newly watched
// directory through the same path as live events.
func sweepDir(reg *docstore.Registry, sdRoot, dirPath string, logger *slog.Logger, cb EventCallback) {
	_ = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		handleFile(reg, sdRoot, p, logger, cb)
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
