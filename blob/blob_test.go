package blob_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/lexbox/ledger/blob"
	"github.com/lexbox/ledger/blob/fs"
	"github.com/lexbox/ledger/blob/memory"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"dossiers/c1/1700000000000-brief.pdf", "dossiers/c1/1700000000000-brief.pdf", false},
		{"/dossiers/c1/a.enc", "dossiers/c1/a.enc", false},
		{"", "", true},
		{"../etc/passwd", "", true},
		{"dossiers/../../x", "", true},
		{"a//b", "", true},
		{`a\b`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := blob.CleanPath(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CleanPath(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CleanPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func buckets(t *testing.T) map[string]blob.Bucket {
	t.Helper()
	fsb, err := fs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return map[string]blob.Bucket{
		"fs":     fsb,
		"memory": memory.New(),
	}
}

func TestBucketContract(t *testing.T) {
	ctx := context.Background()
	content := bytes.Repeat([]byte{0x00, 0xff, 0x10}, 5000)

	for name, b := range buckets(t) {
		t.Run(name, func(t *testing.T) {
			const p = "dossiers/case-1/1700000000000-scan.png"

			n, err := b.Put(ctx, p, bytes.NewReader(content))
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if n != int64(len(content)) {
				t.Errorf("Put wrote %d bytes, want %d", n, len(content))
			}

			rc, err := b.Get(ctx, p)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			got, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(got, content) {
				t.Error("content is not byte-exact")
			}

			if err := b.Delete(ctx, p); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := b.Get(ctx, p); !errors.Is(err, blob.ErrNotFound) {
				t.Errorf("Get after delete err = %v, want ErrNotFound", err)
			}
			if err := b.Delete(ctx, p); !errors.Is(err, blob.ErrNotFound) {
				t.Errorf("second Delete err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestBucketCancelledPut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, b := range buckets(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Put(ctx, "x/y.bin", bytes.NewReader([]byte("data")))
			if !errors.Is(err, context.Canceled) {
				t.Errorf("err = %v, want context.Canceled", err)
			}
			if _, err := b.Get(context.Background(), "x/y.bin"); !errors.Is(err, blob.ErrNotFound) {
				t.Error("cancelled Put left an object behind")
			}
		})
	}
}

func TestFSLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := fs.New(root)
	if err != nil {
		t.Fatal(err)
	}

	failing := io.MultiReader(bytes.NewReader([]byte("partial")), errReader{})
	if _, err := b.Put(ctx, "d/file.enc", failing); err == nil {
		t.Fatal("expected Put to fail")
	}

	entries, err := os.ReadDir(filepath.Join(root, "d"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("found %d leftover files after failed Put", len(entries))
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }
