// Package storage fetches presentation deck documents from wherever they
// live (local directory, S3-compatible object store, plain HTTP) and
// materializes them into a local cache so the PDF presenter can open them
// from disk.
//
// Deck references are forward-slash separated paths relative to a source
// root. Sources must be safe for concurrent use.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
)

// Source reads deck documents from one backend.
type Source interface {
	// Open opens the named deck for reading. The caller closes the
	// returned ReadCloser. A missing deck returns an error wrapping
	// os.ErrNotExist.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	// Exists reports whether the named deck exists.
	Exists(ctx context.Context, ref string) (bool, error)
}

// Cache materializes decks from a Source into a local directory. Cached
// copies are keyed by the reference, so the same deck is downloaded once.
type Cache struct {
	dir string
}

// NewCache creates a cache rooted at dir, creating it if needed.
func NewCache(dir string) (*Cache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: abs}, nil
}

// Materialize ensures the named deck is present on the local filesystem and
// returns its absolute path. An already-cached deck is not re-fetched.
func (c *Cache) Materialize(ctx context.Context, src Source, ref string) (string, error) {
	local := c.path(ref)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	r, err := src.Open(ctx, ref)
	if err != nil {
		return "", err
	}
	defer r.Close()

	// Download to a temp file first so a partial fetch never looks cached.
	tmp, err := os.CreateTemp(c.dir, ".fetch-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return "", err
	}
	return local, nil
}

// path maps a deck reference to its cache location. The reference is hashed
// so refs with path separators or odd characters stay flat on disk; the
// original extension is kept for the presenter's sake.
func (c *Cache) path(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])+path.Ext(ref))
}
