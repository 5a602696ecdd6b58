// Package memory provides an in-process blob.Bucket for tests.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/lexbox/ledger/blob"
)

var _ blob.Bucket = (*Bucket)(nil)

// Bucket keeps objects in a map.
type Bucket struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New returns an empty Bucket.
func New() *Bucket {
	return &Bucket{objects: make(map[string][]byte)}
}

func (b *Bucket) Put(ctx context.Context, p string, r io.Reader) (int64, error) {
	clean, err := blob.CleanPath(p)
	if err != nil {
		return 0, err
	}
	data, err := io.ReadAll(blob.ContextReader(ctx, r))
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	b.objects[clean] = data
	b.mu.Unlock()
	return int64(len(data)), nil
}

func (b *Bucket) Get(_ context.Context, p string) (io.ReadCloser, error) {
	clean, err := blob.CleanPath(p)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	data, ok := b.objects[clean]
	b.mu.RUnlock()
	if !ok {
		return nil, blob.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Bucket) Delete(_ context.Context, p string) error {
	clean, err := blob.CleanPath(p)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[clean]; !ok {
		return blob.ErrNotFound
	}
	delete(b.objects, clean)
	return nil
}

// Bytes returns a copy of the stored object, if any.
func (b *Bucket) Bytes(p string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[p]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Set replaces an object's bytes directly.
func (b *Bucket) Set(p string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[p] = append([]byte(nil), data...)
}

// Paths lists stored object paths in sorted order.
func (b *Bucket) Paths() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.objects))
	for p := range b.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
