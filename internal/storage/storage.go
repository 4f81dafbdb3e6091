// Package storage is the file access layer shared by the loader, the state
// store and the story board. It runs on afero so tests use an in-memory
// filesystem and the CLI uses the OS one.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
)

// TmpSuffix marks an in-flight atomic write.
const TmpSuffix = ".tmp"

// Storage is the read/write/list/mkdir abstraction the engine depends on.
type Storage interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile replaces path atomically, creating parent directories.
	WriteFile(ctx context.Context, path string, data []byte) error
	// List returns the sorted names of regular files directly inside dir.
	List(ctx context.Context, dir string) ([]string, error)
	MkdirAll(ctx context.Context, dir string) error
	Remove(ctx context.Context, path string) error
	Rename(ctx context.Context, from, to string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// FS implements Storage on an afero filesystem.
type FS struct {
	fs afero.Fs
}

// New wraps an afero filesystem.
func New(fsys afero.Fs) *FS {
	return &FS{fs: fsys}
}

// NewOS returns storage backed by the operating system filesystem.
func NewOS() *FS {
	return New(afero.NewOsFs())
}

// NewMemory returns storage backed by an in-memory filesystem.
func NewMemory() *FS {
	return New(afero.NewMemMapFs())
}

// Afero exposes the underlying filesystem.
func (s *FS) Afero() afero.Fs {
	return s.fs
}

// IsNotExist reports whether err means the path does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// ReadFile reads the whole file.
func (s *FS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if IsNotExist(err) {
			return nil, flowerrors.IOFileNotFound(path).WithCause(err)
		}
		return nil, flowerrors.IOReadError(path, err)
	}
	return data, nil
}

// WriteFile writes to <path>.tmp then renames over path.
func (s *FS) WriteFile(ctx context.Context, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return flowerrors.IOWriteError(dir, fmt.Errorf("creating directory: %w", err))
	}

	tmpPath := path + TmpSuffix
	f, err := s.fs.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return flowerrors.IOWriteError(tmpPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return flowerrors.IOWriteError(tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return flowerrors.IOWriteError(tmpPath, err)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmpPath)
		return flowerrors.IOWriteError(tmpPath, err)
	}

	if err := s.fs.Rename(tmpPath, path); err != nil {
		s.fs.Remove(tmpPath) // Clean up on failure
		return flowerrors.IOWriteError(path, fmt.Errorf("renaming temp file: %w", err))
	}
	return nil
}

// List returns the sorted names of regular files in dir. A missing
// directory lists as empty.
func (s *FS) List(ctx context.Context, dir string) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if IsNotExist(err) {
			return nil, nil
		}
		return nil, flowerrors.IOReadError(dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// MkdirAll creates dir and any parents.
func (s *FS) MkdirAll(ctx context.Context, dir string) error {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return flowerrors.IOWriteError(dir, err)
	}
	return nil
}

// Remove deletes path. Removing a missing path is not an error.
func (s *FS) Remove(ctx context.Context, path string) error {
	if err := s.fs.Remove(path); err != nil && !IsNotExist(err) {
		return flowerrors.IOWriteError(path, err)
	}
	return nil
}

// Rename moves from to to.
func (s *FS) Rename(ctx context.Context, from, to string) error {
	if err := s.fs.Rename(from, to); err != nil {
		return flowerrors.IOWriteError(to, err)
	}
	return nil
}

// Exists reports whether path exists.
func (s *FS) Exists(ctx context.Context, path string) (bool, error) {
	ok, err := afero.Exists(s.fs, path)
	if err != nil {
		return false, flowerrors.IOReadError(path, err)
	}
	return ok, nil
}

// Ensure FS implements Storage
var _ Storage = (*FS)(nil)
