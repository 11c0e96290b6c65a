package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir is a Source over a local directory of deck documents.
type Dir struct {
	root string
}

// NewDir creates a source rooted at dir. The directory must exist.
func NewDir(dir string) (*Dir, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("storage: not a directory: " + abs)
	}
	return &Dir{root: abs}, nil
}

func (d *Dir) resolve(ref string) string {
	return filepath.Join(d.root, filepath.FromSlash(ref))
}

// Open implements Source.
func (d *Dir) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	return os.Open(d.resolve(ref))
}

// Exists implements Source.
func (d *Dir) Exists(_ context.Context, ref string) (bool, error) {
	_, err := os.Stat(d.resolve(ref))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

var _ Source = (*Dir)(nil)
