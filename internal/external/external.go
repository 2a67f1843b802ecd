// Package external models a user-granted, revocable handle to a file outside
// the application's own storage. The store only ever reads and writes through
// the handle; it never reopens a path on its own.
package external

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

var (
	// ErrGrantDeclined is returned by a Granter when the user cancels.
	ErrGrantDeclined = errors.New("file access not granted")
	// ErrRevoked is returned by a handle after Revoke.
	ErrRevoked = errors.New("file handle revoked")
)

// Reader is the read half of a handle.
type Reader interface {
	Read() ([]byte, error)
}

// Handle is an opaque capability to read and write one external file.
type Handle interface {
	Reader
	Write(data []byte) error
	Name() string
}

// Granter obtains a handle through explicit user consent.
type Granter interface {
	Grant(ctx context.Context) (Handle, error)
}

// GranterFunc adapts a function to Granter.
type GranterFunc func(ctx context.Context) (Handle, error)

func (f GranterFunc) Grant(ctx context.Context) (Handle, error) { return f(ctx) }

// FileHandle is a Handle backed by a path on an afero filesystem.
type FileHandle struct {
	fs   afero.Fs
	path string

	mu      sync.Mutex
	revoked bool
}

// Open grants a handle for path. The file must already exist, mirroring a
// picker that only offers existing files.
func Open(fs afero.Fs, path string) (*FileHandle, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open %s: is a directory", path)
	}
	return &FileHandle{fs: fs, path: path}, nil
}

func (h *FileHandle) Name() string { return filepath.Base(h.path) }

// Path returns the full path the handle was granted for.
func (h *FileHandle) Path() string { return h.path }

func (h *FileHandle) Read() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return nil, ErrRevoked
	}
	return afero.ReadFile(h.fs, h.path)
}

// Write replaces the file contents. The data goes to a sibling temp file
// first and is renamed into place.
func (h *FileHandle) Write(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return ErrRevoked
	}

	tmp := h.path + ".tmp"
	if err := afero.WriteFile(h.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", h.Name(), err)
	}
	if err := h.fs.Rename(tmp, h.path); err != nil {
		_ = h.fs.Remove(tmp)
		return fmt.Errorf("replace %s: %w", h.Name(), err)
	}
	return nil
}

// Revoke withdraws the grant. Later reads and writes fail with ErrRevoked.
func (h *FileHandle) Revoke() {
	h.mu.Lock()
	h.revoked = true
	h.mu.Unlock()
}

// PathGranter grants a fixed path, or declines when the path is empty.
func PathGranter(fs afero.Fs, path string) Granter {
	return GranterFunc(func(ctx context.Context) (Handle, error) {
		if err := ctx.Err(); err != nil {
			return nil, ErrGrantDeclined
		}
		if path == "" {
			return nil, ErrGrantDeclined
		}
		return Open(fs, path)
	})
}

// FileReader reads a path that may not exist. Missing files read as
// os.ErrNotExist so callers can fall back.
type FileReader struct {
	FS   afero.Fs
	Path string
}

func (r FileReader) Read() ([]byte, error) {
	data, err := afero.ReadFile(r.FS, r.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}
		return nil, err
	}
	return data, nil
}
