package storage

import (
	"fmt"
	"testing"

	"github.com/starford/ansuz/internal/models"
)

func fullHostFuncs() HostFuncs {
	files := map[string][]byte{}
	return HostFuncs{
		Read: func(path string) ([]byte, error) {
			data, ok := files[path]
			if !ok {
				return nil, fmt.Errorf("not found: %s", path)
			}
			return data, nil
		},
		AtomicWrite: func(path string, content []byte) error {
			files[path] = content
			return nil
		},
		Delete: func(path string) error {
			delete(files, path)
			return nil
		},
		List:     func(dir, glob string) ([]models.FileMeta, error) { return nil, nil },
		Dirs:     func(dir string) ([]string, error) { return nil, nil },
		Exists:   func(path string) (bool, error) { _, ok := files[path]; return ok, nil },
		MkdirAll: func(dir string) error { return nil },
	}
}

func TestHostDelegates(t *testing.T) {
	h, err := NewHost(fullHostFuncs())
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	if err := h.AtomicWrite("a.bin", []byte("x")); err != nil {
		t.Fatal(err)
	}
	got, err := h.Read("a.bin")
	if err != nil || string(got) != "x" {
		t.Errorf("Read = %q, %v", got, err)
	}
	ok, err := h.Exists("a.bin")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	if err := h.Delete("a.bin"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Read("a.bin"); err == nil {
		t.Error("expected error after delete")
	}
}

func TestNewHostRequiresAllCallbacks(t *testing.T) {
	fns := fullHostFuncs()
	fns.List = nil
	if _, err := NewHost(fns); err == nil {
		t.Error("expected error for missing callback")
	}
}
