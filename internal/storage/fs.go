package storage

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

// FS implements Adapter backed by the local file system.
type FS struct {
	root string // absolute path to the sync directory
}

// NewFS creates a new FS adapter rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// safePath resolves a relative path against the sync-directory root and
// rejects any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	// Ensure the resolved path is still under root.
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes sync directory: %s", rel)
	}
	return abs, nil
}

// Read returns the raw bytes of a sync-directory file.
func (f *FS) Read(p string) ([]byte, error) {
	abs, err := f.safePath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

// AtomicWrite writes content: tmp file → fsync → rename.
func (f *FS) AtomicWrite(p string, content []byte) error {
	abs, err := f.safePath(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ansuz-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes a file from the sync directory.
func (f *FS) Delete(p string) error {
	abs, err := f.safePath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", p, err)
	}
	return nil
}

// List returns metadata for regular files directly inside dir, optionally
// filtered by a base-name glob. A missing dir yields an empty list: log
// directories appear lazily as instances write their first update.
func (f *FS) List(dir, glob string) ([]models.FileMeta, error) {
	abs, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list %s: %w", dir, err)
	}
	var out []models.FileMeta
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if glob != "" {
			ok, matchErr := path.Match(glob, e.Name())
			if matchErr != nil {
				return nil, fmt.Errorf("storage: bad glob %q: %w", glob, matchErr)
			}
			if !ok {
				continue
			}
		}
		info, infoErr := e.Info()
		if infoErr != nil {
			continue
		}
		out = append(out, models.FileMeta{
			Path:      path.Join(filepath.ToSlash(dir), e.Name()),
			Size:      info.Size(),
			UpdatedAt: info.ModTime(),
		})
	}
	return out, nil
}

// Dirs returns the immediate subdirectory names of dir.
func (f *FS) Dirs(dir string) ([]string, error) {
	abs, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: dirs %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// Exists reports whether path exists.
func (f *FS) Exists(p string) (bool, error) {
	abs, err := f.safePath(p)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat %s: %w", p, err)
	}
	return true, nil
}

// MkdirAll creates dir and any missing parents.
func (f *FS) MkdirAll(dir string) error {
	abs, err := f.safePath(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}
	return nil
}
