// Package blob defines the object storage that holds document content.
// Objects are addressed by slash-separated relative paths and stored
// byte-exact.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when no object exists at a path.
var ErrNotFound = errors.New("blob: object not found")

// ErrInvalidPath is returned for empty or escaping object paths.
var ErrInvalidPath = errors.New("blob: invalid object path")

// Bucket stores opaque objects.
type Bucket interface {
	// Put writes r to p, replacing any existing object, and returns the
	// number of bytes stored. The object is visible only once Put returns
	// without error.
	Put(ctx context.Context, p string, r io.Reader) (int64, error)

	// Get opens the object at p. A missing object yields ErrNotFound.
	Get(ctx context.Context, p string) (io.ReadCloser, error)

	// Delete removes the object at p. A missing object yields ErrNotFound.
	Delete(ctx context.Context, p string) error
}

// CleanPath validates an object path and returns its canonical form.
func CleanPath(p string) (string, error) {
	if p == "" || strings.ContainsRune(p, 0) || strings.Contains(p, "\\") {
		return "", ErrInvalidPath
	}
	clean := path.Clean("/" + p)[1:]
	if clean == "" || clean != strings.TrimPrefix(p, "/") {
		return "", ErrInvalidPath
	}
	return clean, nil
}

// ContextReader stops reading once ctx is done.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
