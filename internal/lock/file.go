package lock

import (
	"fmt"
	"os"
	"path/filepath"
)

var _ Locker = (*File)(nil)

// File is an advisory lock on a file, usually next to the metadata database.
type File struct {
	path string
}

// NewFile creates a lock on path. The file is created on first use.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the lock file path.
func (l *File) Path() string { return l.path }

func (l *File) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}
