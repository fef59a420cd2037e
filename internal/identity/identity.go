// Package identity manages the stable writer-instance ID.
//
// Every running application copy signs its updates with one ULID, minted on
// first start and persisted outside the sync directory (the ID must never
// replicate to other devices). ULIDs are dash-free, which keeps log
// filenames unambiguous, and sort by creation time, which is occasionally
// handy when eyeballing a log directory.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
)

// LoadOrCreate returns the writer ID stored at path, minting and persisting
// a fresh one if the file does not exist yet.
func LoadOrCreate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := ulid.ParseStrict(id); parseErr != nil {
			return "", fmt.Errorf("identity: %s holds an invalid writer id: %w", path, parseErr)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("identity: read %s: %w", path, err)
	}

	id := ulid.Make().String()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("identity: mkdir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("identity: write %s: %w", path, err)
	}
	return id, nil
}
