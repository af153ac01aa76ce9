// Package tempfile provides uniquely named temporary files whose removal is
// tied to the scope that created them.
package tempfile

import (
	"errors"
	"fmt"
	"os"
)

// File is a temporary file on disk. The file is created empty and closed;
// callers write to it by path and must call Release when done.
type File struct {
	path     string
	released bool
}

// New creates an empty, uniquely named file in dir (os.TempDir when empty).
// The pattern follows os.CreateTemp.
func New(dir, pattern string) (*File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	return &File{path: path}, nil
}

// Path returns the file's location on disk.
func (f *File) Path() string {
	return f.path
}

// Release deletes the file. Calls after the first successful one are no-ops,
// and a file that was already removed by someone else is not an error.
func (f *File) Release() error {
	if f == nil || f.released {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove temp file %s: %w", f.path, err)
	}
	f.released = true
	return nil
}

// Released reports whether Release has completed.
func (f *File) Released() bool {
	return f.released
}
