// Package fs stores blobs as files under a root directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lexbox/ledger/blob"
)

var _ blob.Bucket = (*Bucket)(nil)

// Bucket is a directory-backed blob.Bucket. Writes go to a temporary file
// in the destination directory, are fsynced, then renamed into place.
type Bucket struct {
	root string
}

// New creates root if needed and returns a Bucket rooted there.
func New(root string) (*Bucket, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob/fs: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("blob/fs: create root: %w", err)
	}
	return &Bucket{root: abs}, nil
}

// Root returns the absolute root directory.
func (b *Bucket) Root() string { return b.root }

func (b *Bucket) resolve(p string) (string, error) {
	clean, err := blob.CleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(clean)), nil
}

func (b *Bucket) Put(ctx context.Context, p string, r io.Reader) (n int64, err error) {
	full, err := b.resolve(p)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("blob/fs: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return 0, fmt.Errorf("blob/fs: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()           //nolint:errcheck // already failing
			_ = os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		}
	}()

	n, err = io.Copy(tmp, blob.ContextReader(ctx, r))
	if err != nil {
		return 0, fmt.Errorf("blob/fs: write %s: %w", p, err)
	}
	if err = tmp.Sync(); err != nil {
		return 0, fmt.Errorf("blob/fs: sync %s: %w", p, err)
	}
	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("blob/fs: close %s: %w", p, err)
	}
	if err = os.Rename(tmp.Name(), full); err != nil {
		return 0, fmt.Errorf("blob/fs: rename %s: %w", p, err)
	}
	syncDir(dir)
	return n, nil
}

func (b *Bucket) Get(_ context.Context, p string) (io.ReadCloser, error) {
	full, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("blob/fs: open %s: %w", p, err)
	}
	return f, nil
}

func (b *Bucket) Delete(_ context.Context, p string) error {
	full, err := b.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return blob.ErrNotFound
		}
		return fmt.Errorf("blob/fs: remove %s: %w", p, err)
	}
	return nil
}

// syncDir flushes a directory entry after a rename. Some platforms cannot
// open directories for sync; the rename itself has already succeeded.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()  //nolint:errcheck // best-effort
	_ = d.Close() //nolint:errcheck // read-only handle
}
