package ledger_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexbox/ledger"
	"github.com/lexbox/ledger/document"
	"github.com/lexbox/ledger/timeline"
	"github.com/lexbox/ledger/types"
	"github.com/lexbox/ledger/vault"
)

// pdf returns size bytes that sniff as a PDF.
func pdf(t *testing.T, size int) []byte {
	t.Helper()
	header := []byte("%PDF-1.7\n")
	body := make([]byte, size-len(header))
	_, err := rand.Read(body)
	require.NoError(t, err)
	return append(header, body...)
}

func (f *fixture) ingest(t *testing.T, name string, content []byte, enc document.Encryption) *document.Document {
	t.Helper()
	d, err := f.l.Ingest(context.Background(), ledger.IngestInput{
		CaseID:       "case-1",
		OriginalName: name,
		Content:      bytes.NewReader(content),
		Category:     document.CategoryEvidence,
		Encryption:   enc,
		Actor:        "alice",
	})
	require.NoError(t, err)
	return d
}

func readAll(t *testing.T, f *fixture, d *document.Document) ([]byte, error) {
	t.Helper()
	r, err := f.l.Retrieve(context.Background(), d.ID, "alice")
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func TestIngestEncryptedRoundTrip(t *testing.T) {
	f := newFixture(t)
	content := pdf(t, 10<<20)

	d := f.ingest(t, "Statement of claim.pdf", content, "")

	assert.Equal(t, document.EncryptionAES256, d.Encryption)
	assert.Equal(t, "application/pdf", d.MimeType)
	assert.Equal(t, int64(len(content)), d.PlainSize)
	assert.Equal(t, vault.SealedSize(int64(len(content)), vault.DefaultChunkSize), d.Size)
	assert.NotEqual(t, d.PlainSize, d.Size)
	assert.True(t, strings.HasPrefix(d.StoragePath, "dossiers/case-1/"))
	assert.True(t, strings.HasSuffix(d.StoragePath, "-Statement_of_claim.pdf.enc"))

	stored, ok := f.bucket.Bytes(d.StoragePath)
	require.True(t, ok)
	assert.Equal(t, d.Size, int64(len(stored)))
	assert.True(t, vault.IsSealed(stored))
	assert.False(t, bytes.Contains(stored[:4096], content[:64]), "ciphertext must not contain the plaintext")

	got, err := readAll(t, f, d)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
}

func TestIngestUnencrypted(t *testing.T) {
	f := newFixture(t)
	content := pdf(t, 4096)

	d := f.ingest(t, "engagement-letter.pdf", content, document.EncryptionNone)
	assert.Equal(t, d.PlainSize, d.Size)
	assert.False(t, strings.HasSuffix(d.StoragePath, ".enc"))

	stored, ok := f.bucket.Bytes(d.StoragePath)
	require.True(t, ok)
	assert.Equal(t, content, stored)

	got, err := readAll(t, f, d)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestIngestRecordsTimelineEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.ingest(t, "contract.pdf", pdf(t, 1024), "")
	require.False(t, d.EntryID.IsNil())

	e, err := f.l.GetEntry(ctx, d.EntryID)
	require.NoError(t, err)
	assert.Equal(t, timeline.KindDocument, e.Kind)
	assert.Equal(t, "Document uploaded: contract.pdf", e.Title)
	assert.Equal(t, d.ID, e.DocumentID)
	assert.False(t, e.IsBillable)

	skipped, err := f.l.Ingest(ctx, ledger.IngestInput{
		CaseID:            "case-1",
		OriginalName:      "contract.pdf",
		Content:           bytes.NewReader(pdf(t, 1024)),
		SkipTimelineEntry: true,
		Actor:             "alice",
	})
	require.NoError(t, err)
	assert.True(t, skipped.EntryID.IsNil())
	assert.Equal(t, document.CategoryOther, skipped.Category)
	assert.NotEqual(t, d.StoragePath, skipped.StoragePath, "same name in the same millisecond gets a new path")
	assert.Contains(t, skipped.StoragePath, skipped.ID.String())
}

func TestIngestStagedFile(t *testing.T) {
	f := newFixture(t)
	content := pdf(t, 200<<10)

	staged := filepath.Join(t.TempDir(), "upload-1")
	require.NoError(t, os.WriteFile(staged, content, 0o600))

	d, err := f.l.Ingest(context.Background(), ledger.IngestInput{
		CaseID:       "case-1",
		OriginalName: "scan.pdf",
		StagedPath:   staged,
		Actor:        "alice",
	})
	require.NoError(t, err)

	_, err = os.Stat(staged)
	assert.ErrorIs(t, err, os.ErrNotExist)

	got, err := readAll(t, f, d)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestIngestRejects(t *testing.T) {
	f := newFixture(t, ledger.WithMaxDocumentSize(64<<10))
	ctx := context.Background()

	tests := []struct {
		name string
		in   ledger.IngestInput
		want error
	}{
		{
			name: "unsupported type",
			in: ledger.IngestInput{
				CaseID: "case-1", OriginalName: "notes.txt", Actor: "alice",
				Content: strings.NewReader("plain text notes, not a document"),
			},
			want: ledger.ErrUnsupportedType,
		},
		{
			name: "declared type not allowed",
			in: ledger.IngestInput{
				CaseID: "case-1", OriginalName: "a.pdf", MimeType: "application/zip", Actor: "alice",
				Content: bytes.NewReader(pdf(t, 1024)),
			},
			want: ledger.ErrUnsupportedType,
		},
		{
			name: "too large",
			in: ledger.IngestInput{
				CaseID: "case-1", OriginalName: "big.pdf", Actor: "alice",
				Content: bytes.NewReader(pdf(t, 128<<10)),
			},
			want: ledger.ErrDocumentTooLarge,
		},
		{
			name: "no content",
			in:   ledger.IngestInput{CaseID: "case-1", OriginalName: "a.pdf", Actor: "alice"},
			want: ledger.ErrInvalidInput,
		},
		{
			name: "unknown category",
			in: ledger.IngestInput{
				CaseID: "case-1", OriginalName: "a.pdf", Category: "misc", Actor: "alice",
				Content: bytes.NewReader(pdf(t, 1024)),
			},
			want: ledger.ErrInvalidInput,
		},
		{
			name: "unknown case",
			in: ledger.IngestInput{
				CaseID: "case-9", OriginalName: "a.pdf", Actor: "alice",
				Content: bytes.NewReader(pdf(t, 1024)),
			},
			want: ledger.ErrCaseNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.l.Ingest(ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.bucket.Paths(), "failed uploads leave no objects behind")
	docs, err := f.l.ListDocuments(ctx, "case-1", document.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIngestWithoutKey(t *testing.T) {
	f := newFixture(t, ledger.WithKeyProvider(nil))

	d := f.ingest(t, "a.pdf", pdf(t, 1024), "")
	assert.Equal(t, document.EncryptionNone, d.Encryption)

	_, err := f.l.Ingest(context.Background(), ledger.IngestInput{
		CaseID: "case-1", OriginalName: "b.pdf", Encryption: document.EncryptionAES256, Actor: "alice",
		Content: bytes.NewReader(pdf(t, 1024)),
	})
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestRetrieveDetectsTampering(t *testing.T) {
	content := pdf(t, 300<<10)

	tests := []struct {
		name string
		// offset of the flipped byte from the start of the stored object
		offset int
		// whether Retrieve itself fails rather than a later Read
		eager bool
	}{
		{name: "first chunk", offset: vault.HeaderSize + 100, eager: true},
		{name: "later chunk", offset: 3*vault.DefaultChunkSize + 500, eager: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d := f.ingest(t, "evidence.pdf", content, "")

			stored, ok := f.bucket.Bytes(d.StoragePath)
			require.True(t, ok)
			stored[tt.offset] ^= 0x01
			f.bucket.Set(d.StoragePath, stored)

			r, err := f.l.Retrieve(context.Background(), d.ID, "alice")
			if tt.eager {
				require.ErrorIs(t, err, ledger.ErrIntegrity)
			} else {
				require.NoError(t, err)
				_, err = io.ReadAll(r)
				require.NoError(t, r.Close())
				require.ErrorIs(t, err, ledger.ErrIntegrity)
			}

			var ie *ledger.IntegrityError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, d.ID, ie.DocumentID)
			assert.Contains(t, f.events.seen(), "document.integrity_failure")
		})
	}
}

func TestRetrieveDetectsTruncation(t *testing.T) {
	f := newFixture(t)
	d := f.ingest(t, "evidence.pdf", pdf(t, 200<<10), "")

	stored, ok := f.bucket.Bytes(d.StoragePath)
	require.True(t, ok)
	f.bucket.Set(d.StoragePath, stored[:len(stored)-vault.DefaultChunkSize])

	_, err := readAll(t, f, d)
	require.ErrorIs(t, err, ledger.ErrIntegrity)
}

func TestRetrieveModeMismatch(t *testing.T) {
	f := newFixture(t)
	content := pdf(t, 2048)

	sealed := f.ingest(t, "sealed.pdf", content, document.EncryptionAES256)
	f.bucket.Set(sealed.StoragePath, content)
	_, err := f.l.Retrieve(context.Background(), sealed.ID, "alice")
	require.ErrorIs(t, err, ledger.ErrIntegrity)

	plain := f.ingest(t, "plain.pdf", content, document.EncryptionNone)
	sealedBytes, ok := f.bucket.Bytes(f.ingest(t, "again.pdf", content, document.EncryptionAES256).StoragePath)
	require.True(t, ok)
	f.bucket.Set(plain.StoragePath, sealedBytes)
	_, err = readAll(t, f, plain)
	require.ErrorIs(t, err, ledger.ErrIntegrity, "replaced bytes no longer match the recorded size")
}

func TestRetrieveUnencryptedLookingSealed(t *testing.T) {
	f := newFixture(t)
	content := append([]byte("LXV1"), pdf(t, 2048)...)

	d, err := f.l.Ingest(context.Background(), ledger.IngestInput{
		CaseID:       "case-1",
		OriginalName: "export.pdf",
		Content:      bytes.NewReader(content),
		MimeType:     "application/pdf",
		Encryption:   document.EncryptionNone,
		Actor:        "alice",
	})
	require.NoError(t, err)

	got, err := readAll(t, f, d)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestRetrieveMissingObject(t *testing.T) {
	f := newFixture(t)
	d := f.ingest(t, "gone.pdf", pdf(t, 1024), "")
	require.NoError(t, f.bucket.Delete(context.Background(), d.StoragePath))

	_, err := f.l.Retrieve(context.Background(), d.ID, "alice")
	require.ErrorIs(t, err, ledger.ErrObjectNotFound)
	assert.NotErrorIs(t, err, ledger.ErrIntegrity)
}

func TestRetrieveWithWrongKey(t *testing.T) {
	f := newFixture(t)
	d := f.ingest(t, "a.pdf", pdf(t, 1024), "")

	raw, err := vault.GenerateKey()
	require.NoError(t, err)
	key, err := vault.NewStaticKey(raw)
	require.NoError(t, err)

	other := ledger.New(f.store,
		ledger.WithDirectory(f.dir),
		ledger.WithBucket(f.bucket),
		ledger.WithKeyProvider(key),
	)
	_, err = other.Retrieve(context.Background(), d.ID, "alice")
	require.ErrorIs(t, err, ledger.ErrIntegrity)
}

type failingKeys struct{ err error }

func (k failingKeys) EncryptionKey(context.Context) ([]byte, error) { return nil, k.err }

func TestRetrieveWithoutKey(t *testing.T) {
	tests := []struct {
		name string
		keys vault.KeyProvider
	}{
		{"provider fails", failingKeys{err: errors.New("kms unavailable")}},
		{"no provider", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d := f.ingest(t, "a.pdf", pdf(t, 1024), document.EncryptionAES256)

			other := ledger.New(f.store,
				ledger.WithDirectory(f.dir),
				ledger.WithBucket(f.bucket),
				ledger.WithKeyProvider(tt.keys),
			)
			_, err := other.Retrieve(context.Background(), d.ID, "alice")
			require.ErrorIs(t, err, ledger.ErrIntegrity)

			var ie *ledger.IntegrityError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, d.ID, ie.DocumentID)

			out := other.Describe(err)
			assert.Equal(t, ledger.KindIntegrity, out.Kind)
			assert.NotContains(t, out.Message, "kms")
		})
	}
}

func TestConcurrentIngestSameName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contents := [][]byte{pdf(t, 64<<10), pdf(t, 64<<10)}

	var wg sync.WaitGroup
	docs := make([]*document.Document, len(contents))
	errs := make([]error, len(contents))
	for i := range contents {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			docs[i], errs[i] = f.l.Ingest(ctx, ledger.IngestInput{
				CaseID:       "case-1",
				OriginalName: "brief.pdf",
				Content:      bytes.NewReader(contents[i]),
				Actor:        "alice",
			})
		}(i)
	}
	wg.Wait()

	for i := range contents {
		require.NoError(t, errs[i])
	}
	assert.NotEqual(t, docs[0].StoragePath, docs[1].StoragePath)
	assert.Len(t, f.bucket.Paths(), 2)

	for i, d := range docs {
		got, err := readAll(t, f, d)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(contents[i], got), "document %d reads back its own bytes", i)
	}
}

func TestUpdateDocument(t *testing.T) {
	f := newFixture(t)
	d := f.ingest(t, "a.pdf", pdf(t, 1024), "")

	cat := document.CategoryCourtDocument
	confidential := true
	location := "Cabinet 4, drawer B"
	got, err := f.l.UpdateDocument(context.Background(), d.ID, document.Patch{
		Category:         &cat,
		Confidential:     &confidential,
		PhysicalLocation: &location,
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, cat, got.Category)
	assert.True(t, got.Confidential)
	assert.Equal(t, location, got.PhysicalLocation)
	assert.Equal(t, d.StoragePath, got.StoragePath)

	got, err = f.l.GetDocument(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	bad := document.Category("misc")
	_, err = f.l.UpdateDocument(context.Background(), d.ID, document.Patch{Category: &bad}, "alice")
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestConcurrentUpdateDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.ingest(t, "a.pdf", pdf(t, 1024), "")

	description := "Signed original"
	location := "Cabinet 4, drawer B"
	patches := []document.Patch{{Description: &description}, {PhysicalLocation: &location}}

	var wg sync.WaitGroup
	errs := make([]error, len(patches))
	for i := range patches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.l.UpdateDocument(ctx, d.ID, patches[i], "alice")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	got, err := f.l.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, description, got.Description)
	assert.Equal(t, location, got.PhysicalLocation)
	assert.Equal(t, int64(3), got.Version)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.ingest(t, "a.pdf", pdf(t, 1024), "")
	require.NoError(t, f.l.DeleteDocument(ctx, d.ID, "alice"))

	_, err := f.l.GetDocument(ctx, d.ID)
	require.ErrorIs(t, err, ledger.ErrDocumentNotFound)
	_, err = f.l.GetEntry(ctx, d.EntryID)
	require.ErrorIs(t, err, ledger.ErrEntryNotFound, "the upload entry goes with the document")
	assert.Empty(t, f.bucket.Paths())

	require.ErrorIs(t, f.l.DeleteDocument(ctx, d.ID, "alice"), ledger.ErrDocumentNotFound)
}

func TestDeleteDocumentWithBilledEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.ingest(t, "brief.pdf", pdf(t, 1024), "")
	e, err := f.l.RecordEntry(ctx, ledger.RecordEntryInput{
		CaseID:     "case-1",
		Title:      "Drafting brief",
		Hours:      150,
		Rate:       types.EUR(20000),
		IsBillable: true,
		DocumentID: d.ID,
		Actor:      "alice",
	})
	require.NoError(t, err)
	f.invoice(t, "case-1", e.ID)

	err = f.l.DeleteDocument(ctx, d.ID, "alice")
	require.ErrorIs(t, err, ledger.ErrImmutableEntry)

	_, err = f.l.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	_, err = f.l.GetEntry(ctx, d.EntryID)
	require.NoError(t, err, "a refused delete removes nothing")
	_, ok := f.bucket.Bytes(d.StoragePath)
	assert.True(t, ok)
}

func TestDocumentStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.ingest(t, "a.pdf", pdf(t, 1024), "")
	b := f.ingest(t, "b.pdf", pdf(t, 2048), document.EncryptionNone)

	confidential := true
	_, err := f.l.UpdateDocument(ctx, b.ID, document.Patch{Confidential: &confidential}, "alice")
	require.NoError(t, err)

	stats, err := f.l.DocumentStats(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, a.Size+b.Size, stats.TotalSize)
	assert.Equal(t, 2, stats.ByCategory[document.CategoryEvidence])
	assert.Equal(t, 1, stats.Confidential)
	assert.Equal(t, 1, stats.Encrypted)
}
