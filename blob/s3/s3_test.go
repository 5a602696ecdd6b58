package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/lexbox/ledger/blob"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFake() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if aws.ToInt64(in.ContentLength) != int64(len(data)) {
		return nil, errors.New("content length mismatch")
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	_, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func TestBucketPrefixesKeys(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	b := New(fake, "vault", "prod/")

	n, err := b.Put(ctx, "dossiers/c1/1-a.pdf.enc", bytes.NewReader([]byte("ciphertext")))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != int64(len("ciphertext")) {
		t.Errorf("Put n = %d", n)
	}
	if _, ok := fake.objects["vault/prod/dossiers/c1/1-a.pdf.enc"]; !ok {
		t.Errorf("object not stored under prefixed key; have %v", fake.objects)
	}

	rc, err := b.Get(ctx, "dossiers/c1/1-a.pdf.enc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	if string(got) != "ciphertext" {
		t.Errorf("Get = %q", got)
	}
}

func TestBucketNotFound(t *testing.T) {
	ctx := context.Background()
	b := New(newFake(), "vault", "")

	if _, err := b.Get(ctx, "missing"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
	if err := b.Delete(ctx, "missing"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("Delete err = %v, want ErrNotFound", err)
	}
	if _, err := b.Put(ctx, "../escape", bytes.NewReader(nil)); !errors.Is(err, blob.ErrInvalidPath) {
		t.Errorf("Put err = %v, want ErrInvalidPath", err)
	}
}
