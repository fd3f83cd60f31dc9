package receipt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Archive keeps the original uploaded files
type Archive interface {
	// Put writes data under name, replacing any existing file.
	Put(name string, data []byte) error

	// Get returns ErrNotFound for unknown names.
	Get(name string) ([]byte, error)

	// Delete removes a file
	Delete(name string) error
}

// LocalArchive implements Archive on a local directory
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates the directory if it doesn't exist
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &LocalArchive{basePath: basePath}, nil
}

// path rejects names that would escape the archive directory.
func (l *LocalArchive) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid archive name %q", name)
	}
	return filepath.Join(l.basePath, name), nil
}

func (l *LocalArchive) Put(name string, data []byte) error {
	p, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

func (l *LocalArchive) Get(name string) ([]byte, error) {
	p, err := l.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: file %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

func (l *LocalArchive) Delete(name string) error {
	p, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
