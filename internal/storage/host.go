package storage

import (
	"fmt"

	"github.com/starford/ansuz/internal/models"
)

// HostFuncs holds the I/O callbacks supplied by an embedding runtime
// (mobile bridge, test harness). Every field is required.
type HostFuncs struct {
	Read        func(path string) ([]byte, error)
	AtomicWrite func(path string, content []byte) error
	Delete      func(path string) error
	List        func(dir, glob string) ([]models.FileMeta, error)
	Dirs        func(dir string) ([]string, error)
	Exists      func(path string) (bool, error)
	MkdirAll    func(dir string) error
}

// Host implements Adapter by delegating every call to host-provided
// functions. It is selected at composition time; the core never branches
// on the runtime it is embedded in.
type Host struct {
	fns HostFuncs
}

// NewHost creates a Host adapter. It fails if any callback is missing.
func NewHost(fns HostFuncs) (*Host, error) {
	switch {
	case fns.Read == nil, fns.AtomicWrite == nil, fns.Delete == nil,
		fns.List == nil, fns.Dirs == nil, fns.Exists == nil, fns.MkdirAll == nil:
		return nil, fmt.Errorf("storage: host adapter: all callbacks are required")
	}
	return &Host{fns: fns}, nil
}

func (h *Host) Read(path string) ([]byte, error) { return h.fns.Read(path) }

func (h *Host) AtomicWrite(path string, content []byte) error {
	return h.fns.AtomicWrite(path, content)
}

func (h *Host) Delete(path string) error { return h.fns.Delete(path) }

func (h *Host) List(dir, glob string) ([]models.FileMeta, error) {
	return h.fns.List(dir, glob)
}

func (h *Host) Dirs(dir string) ([]string, error) { return h.fns.Dirs(dir) }

func (h *Host) Exists(path string) (bool, error) { return h.fns.Exists(path) }

func (h *Host) MkdirAll(dir string) error { return h.fns.MkdirAll(dir) }

// Verify both implementations satisfy Adapter at compile time.
var (
	_ Adapter = (*FS)(nil)
	_ Adapter = (*Host)(nil)
)
