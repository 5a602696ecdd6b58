package ledger

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/lexbox/ledger/blob"
	"github.com/lexbox/ledger/directory"
	"github.com/lexbox/ledger/document"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/store"
	"github.com/lexbox/ledger/timeline"
	"github.com/lexbox/ledger/types"
	"github.com/lexbox/ledger/vault"
)

// sniffSize is how much of the content MIME detection looks at.
const sniffSize = 3072

// IngestInput describes an uploaded document. Exactly one of Content and
// StagedPath is set. A staged file is removed once its content is stored
// and the document row is committed.
type IngestInput struct {
	CaseID       string    `json:"case_id" validate:"required,max=64"`
	OriginalName string    `json:"original_name" validate:"required,max=255"`
	Content      io.Reader `json:"-"`
	StagedPath   string    `json:"staged_path"`
	// MimeType is detected from the content when empty.
	MimeType         string            `json:"mime_type" validate:"max=255"`
	Category         document.Category `json:"category"`
	PhysicalLocation string            `json:"physical_location" validate:"max=255"`
	Description      string            `json:"description" validate:"max=10000"`
	DocumentDate     *time.Time        `json:"document_date"`
	Confidential     bool              `json:"confidential"`
	// Encryption defaults to aes256 when a key provider is configured.
	Encryption        document.Encryption `json:"encryption"`
	SkipTimelineEntry bool                `json:"skip_timeline_entry"`
	Metadata          map[string]string   `json:"metadata"`
	Actor             string              `json:"actor" validate:"required"`
}

// Retrieved is an open document. Reads yield verified plaintext; a
// failed integrity check surfaces as an IntegrityError from Read.
type Retrieved struct {
	Document *document.Document
	r        io.Reader
	c        io.Closer
}

func (r *Retrieved) Read(p []byte) (int, error) { return r.r.Read(p) }

// Close releases the underlying object.
func (r *Retrieved) Close() error { return r.c.Close() }

// ──────────────────────────────────────────────────
// Document Vault
// ──────────────────────────────────────────────────

// Ingest stores a document. The content is written to the bucket first,
// encrypted when requested, and the document row and its timeline entry
// are then committed in one transaction. Any failure removes the object.
func (l *Ledger) Ingest(ctx context.Context, in IngestInput) (*document.Document, error) {
	if err := l.check(in); err != nil {
		return nil, err
	}
	if (in.Content == nil) == (in.StagedPath == "") {
		return nil, ValidationError{Field: "content", Message: "exactly one of content and staged_path is required"}
	}
	if in.Category == "" {
		in.Category = document.CategoryOther
	}
	if !in.Category.Valid() {
		return nil, ValidationError{Field: "category", Message: "unknown category " + string(in.Category)}
	}
	enc, err := l.encryptionFor(in.Encryption)
	if err != nil {
		return nil, err
	}
	if err := l.authorize(ctx, in.Actor, directory.CapDocumentsCreate); err != nil {
		return nil, err
	}
	if err := l.requireCase(ctx, in.CaseID); err != nil {
		return nil, err
	}
	if l.bucket == nil {
		return nil, ErrNoBucket
	}

	src, closeSrc, err := l.openSource(in)
	if err != nil {
		return nil, err
	}
	defer closeSrc()

	head, err := readHead(src)
	if err != nil {
		return nil, fmt.Errorf("ledger: read upload: %w", err)
	}
	mimeType, err := l.detectType(in.MimeType, head)
	if err != nil {
		return nil, err
	}

	plain := &limitReader{r: io.MultiReader(bytes.NewReader(head), src), max: l.maxDocumentSize}
	content, stop, err := l.sealer(ctx, enc, plain)
	if err != nil {
		return nil, err
	}
	defer stop()

	now := l.now()
	documentID := id.NewDocumentID()
	storagePath := document.StoragePathFor(in.CaseID, documentID, in.OriginalName, now, enc)

	written, err := l.bucket.Put(ctx, storagePath, content)
	if err != nil {
		l.discard(storagePath)
		return nil, fmt.Errorf("ledger: store document: %w", err)
	}
	if enc == document.EncryptionAES256 && written != vault.SealedSize(plain.n, vault.DefaultChunkSize) {
		l.discard(storagePath)
		return nil, fmt.Errorf("ledger: store document: wrote %d bytes for %d of plaintext", written, plain.n)
	}

	d := &document.Document{
		Entity:           types.Stamp(now),
		ID:               documentID,
		CaseID:           in.CaseID,
		OriginalName:     in.OriginalName,
		StoragePath:      storagePath,
		Size:             written,
		PlainSize:        plain.n,
		MimeType:         mimeType,
		Category:         in.Category,
		PhysicalLocation: in.PhysicalLocation,
		Description:      in.Description,
		DocumentDate:     in.DocumentDate,
		Confidential:     in.Confidential,
		Encryption:       enc,
		UploadedBy:       in.Actor,
		Metadata:         in.Metadata,
	}

	var entry *timeline.Entry
	if !in.SkipTimelineEntry {
		entry = l.uploadEntry(d, now)
		d.EntryID = entry.ID
	}

	err = l.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateDocument(ctx, d); err != nil {
			return err
		}
		if entry != nil {
			return tx.CreateEntry(ctx, entry)
		}
		return nil
	})
	if err != nil {
		l.discard(storagePath)
		return nil, err
	}

	if in.StagedPath != "" {
		closeSrc()
		if err := os.Remove(in.StagedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("staged upload not removed", "document_id", d.ID, "error", err)
		}
	}

	l.logger.Info("document ingested",
		"document_id", d.ID,
		"case_id", d.CaseID,
		"mime_type", d.MimeType,
		"size", d.Size,
		"encryption", d.Encryption,
	)
	l.plugins.EmitDocumentIngested(ctx, d)
	if entry != nil {
		l.plugins.EmitEntryRecorded(ctx, entry)
	}
	return d, nil
}

func (l *Ledger) encryptionFor(requested document.Encryption) (document.Encryption, error) {
	switch requested {
	case "":
		if l.keys != nil {
			return document.EncryptionAES256, nil
		}
		return document.EncryptionNone, nil
	case document.EncryptionNone:
		return requested, nil
	case document.EncryptionAES256:
		if l.keys == nil {
			return "", ValidationError{Field: "encryption", Message: "no encryption key is configured"}
		}
		return requested, nil
	default:
		return "", ValidationError{Field: "encryption", Message: "unknown mode " + string(requested)}
	}
}

// openSource returns the upload stream and an idempotent close func.
func (l *Ledger) openSource(in IngestInput) (io.Reader, func(), error) {
	if in.Content != nil {
		return in.Content, func() {}, nil
	}

	f, err := os.Open(in.StagedPath)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: open staged upload: %w", err)
	}
	closed := false
	closeFn := func() {
		if !closed {
			closed = true
			_ = f.Close() //nolint:errcheck // read-only handle
		}
	}
	if info, err := f.Stat(); err == nil && info.Size() > l.maxDocumentSize {
		closeFn()
		return nil, nil, ErrDocumentTooLarge
	}
	return f, closeFn, nil
}

func readHead(r io.Reader) ([]byte, error) {
	head := make([]byte, sniffSize)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return head[:n], nil
}

// detectType checks the declared or sniffed MIME type against the
// allowed list.
func (l *Ledger) detectType(declared string, head []byte) (string, error) {
	if declared != "" {
		base := baseMediaType(declared)
		if _, ok := l.allowedTypes[base]; !ok {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedType, base)
		}
		return base, nil
	}

	detected := mimetype.Detect(head)
	for m := detected; m != nil; m = m.Parent() {
		base := baseMediaType(m.String())
		if _, ok := l.allowedTypes[base]; ok {
			return base, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, baseMediaType(detected.String()))
}

func baseMediaType(s string) string {
	base, _, _ := strings.Cut(s, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// sealer returns the bytes to store. For aes256 the plaintext is encrypted
// through a pipe; stop tears the pipe down.
func (l *Ledger) sealer(ctx context.Context, enc document.Encryption, plain io.Reader) (io.Reader, func(), error) {
	if enc != document.EncryptionAES256 {
		return plain, func() {}, nil
	}

	key, err := l.keys.EncryptionKey(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: load encryption key: %w", err)
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w, err := vault.NewWriter(pw, key)
		if err == nil {
			_, err = io.Copy(w, plain)
			if err == nil {
				err = w.Close()
			}
		}
		_ = pw.CloseWithError(err) //nolint:errcheck // always nil
	}()

	stop := func() {
		_ = pr.CloseWithError(io.ErrClosedPipe) //nolint:errcheck // always nil
		<-done
	}
	return pr, stop, nil
}

// discard removes an object left behind by a failed ingest.
func (l *Ledger) discard(storagePath string) {
	err := l.bucket.Delete(context.Background(), storagePath)
	if err != nil && !errors.Is(err, blob.ErrNotFound) {
		l.logger.Error("orphaned document object not removed", "error", err)
	}
}

func (l *Ledger) uploadEntry(d *document.Document, now time.Time) *timeline.Entry {
	return &timeline.Entry{
		Entity:       types.Stamp(now),
		ID:           id.NewEntryID(),
		CaseID:       d.CaseID,
		Kind:         timeline.KindDocument,
		Title:        "Document uploaded: " + d.OriginalName,
		Status:       timeline.StatusCompleted,
		Priority:     timeline.PriorityMedium,
		ActivityDate: now,
		Rate:         types.Zero(l.currency),
		Amount:       types.Zero(l.currency),
		DocumentID:   d.ID,
		CreatedBy:    d.UploadedBy,
	}
}

// Retrieve opens a document for reading. An encrypted document must be
// stored sealed, its key must load and its first chunk must authenticate
// before Retrieve returns; later chunks and the stored size are verified as
// the content is read.
func (l *Ledger) Retrieve(ctx context.Context, documentID id.DocumentID, actor string) (*Retrieved, error) {
	if err := l.authorize(ctx, actor, directory.CapDocumentsRead); err != nil {
		return nil, err
	}
	if l.bucket == nil {
		return nil, ErrNoBucket
	}

	d, err := l.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	rc, err := l.bucket.Get(ctx, d.StoragePath)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%w: document %s", ErrObjectNotFound, d.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: open document: %w", err)
	}

	counted := &countReader{r: rc}
	raw := bufio.NewReaderSize(counted, 32*1024)
	head, err := raw.Peek(vault.HeaderSize)
	if err != nil && !errors.Is(err, io.EOF) {
		_ = rc.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("ledger: read document: %w", err)
	}

	var plain io.Reader = raw
	if d.IsEncrypted() {
		if !vault.IsSealed(head) {
			_ = rc.Close() //nolint:errcheck // already failing
			return nil, l.integrityFailure(ctx, d.ID, errors.New("stored object is not sealed"))
		}
		key, err := l.decryptionKey(ctx)
		if err != nil {
			_ = rc.Close() //nolint:errcheck // already failing
			return nil, l.integrityFailure(ctx, d.ID, err)
		}
		dec, err := vault.NewReader(raw, key)
		if err != nil {
			_ = rc.Close() //nolint:errcheck // already failing
			return nil, l.integrityFailure(ctx, d.ID, err)
		}
		plain = dec
	}

	verified := bufio.NewReader(&verifyReader{
		r:    plain,
		raw:  counted,
		want: d.Size,
		fail: func(cause error) error { return l.integrityFailure(ctx, d.ID, cause) },
	})
	if _, err := verified.Peek(1); err != nil && !errors.Is(err, io.EOF) {
		_ = rc.Close() //nolint:errcheck // already failing
		return nil, err
	}

	return &Retrieved{Document: d, r: verified, c: rc}, nil
}

// decryptionKey loads the vault key. An encrypted document cannot be read
// without it, so a missing provider counts as a decryption failure.
func (l *Ledger) decryptionKey(ctx context.Context) ([]byte, error) {
	if l.keys == nil {
		return nil, vault.ErrNoKey
	}
	key, err := l.keys.EncryptionKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	return key, nil
}

func (l *Ledger) integrityFailure(ctx context.Context, documentID id.DocumentID, cause error) error {
	l.logger.Error("document integrity check failed", "document_id", documentID, "error", cause)
	l.plugins.EmitIntegrityFailure(ctx, documentID, cause)
	return &IntegrityError{DocumentID: documentID, Err: cause}
}

// GetDocument retrieves document metadata by ID.
func (l *Ledger) GetDocument(ctx context.Context, documentID id.DocumentID) (*document.Document, error) {
	return l.store.GetDocument(ctx, documentID)
}

// ListDocuments lists the documents of a case.
func (l *Ledger) ListDocuments(ctx context.Context, caseID string, opts document.ListOpts) ([]*document.Document, error) {
	return l.store.ListDocuments(ctx, caseID, opts)
}

// UpdateDocument changes the descriptive fields of a document. A
// concurrent edit makes the update start over from a fresh read.
func (l *Ledger) UpdateDocument(ctx context.Context, documentID id.DocumentID, patch document.Patch, actor string) (*document.Document, error) {
	if err := l.authorize(ctx, actor, directory.CapDocumentsUpdate); err != nil {
		return nil, err
	}
	if patch.Category != nil && !patch.Category.Valid() {
		return nil, ValidationError{Field: "category", Message: "unknown category " + string(*patch.Category)}
	}

	return retry(ctx, l, "update_document", func() (*document.Document, error) {
		d, err := l.store.GetDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		patch.Apply(d)
		d.UpdatedBy = actor
		d.Touch(l.now())

		if err := l.store.UpdateDocument(ctx, d); err != nil {
			return nil, err
		}
		return d, nil
	})
}

// DeleteDocument removes a document and the unbilled timeline entries that
// reference it. A billed referencing entry blocks the delete. The object is
// removed after the rows are gone; a missing object is only logged.
func (l *Ledger) DeleteDocument(ctx context.Context, documentID id.DocumentID, actor string) error {
	if err := l.authorize(ctx, actor, directory.CapDocumentsDelete); err != nil {
		return err
	}

	var d *document.Document
	var removed []id.EntryID
	_, err := retry(ctx, l, "delete_document", func() (struct{}, error) {
		removed = removed[:0]
		err := l.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
			var err error
			d, err = tx.GetDocument(ctx, documentID)
			if err != nil {
				return err
			}
			linked, err := tx.ListEntriesByDocument(ctx, documentID)
			if err != nil {
				return err
			}
			for _, e := range linked {
				if e.IsBilled {
					return &ImmutableEntryError{EntryID: e.ID}
				}
				removed = append(removed, e.ID)
			}
			n, err := tx.DeleteEntriesByDocument(ctx, documentID)
			if err != nil {
				return err
			}
			if n != int64(len(removed)) {
				return ErrConcurrencyConflict
			}
			return tx.DeleteDocument(ctx, documentID)
		})
		return struct{}{}, err
	})
	if err != nil {
		return err
	}

	switch {
	case l.bucket == nil:
		l.logger.Warn("document deleted without object storage", "document_id", d.ID)
	default:
		err := l.bucket.Delete(ctx, d.StoragePath)
		switch {
		case errors.Is(err, blob.ErrNotFound):
			l.logger.Warn("document object already absent", "document_id", d.ID)
		case err != nil:
			l.logger.Error("document object not removed", "document_id", d.ID, "error", err)
		}
	}

	l.logger.Info("document deleted", "document_id", d.ID, "entries_removed", len(removed))
	l.plugins.EmitDocumentDeleted(ctx, d)
	for _, entryID := range removed {
		l.plugins.EmitEntryDeleted(ctx, entryID)
	}
	return nil
}

// DocumentStats summarizes the documents of a case.
func (l *Ledger) DocumentStats(ctx context.Context, caseID string) (*document.Stats, error) {
	stats := &document.Stats{ByCategory: make(map[document.Category]int)}
	for d, err := range l.scanDocuments(ctx, caseID) {
		if err != nil {
			return nil, err
		}
		stats.Add(d)
	}
	return stats, nil
}

func (l *Ledger) scanDocuments(ctx context.Context, caseID string) iter.Seq2[*document.Document, error] {
	return func(yield func(*document.Document, error) bool) {
		for offset := 0; ; offset += l.pageSize {
			list, err := l.store.ListDocuments(ctx, caseID, document.ListOpts{Limit: l.pageSize, Offset: offset})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, d := range list {
				if !yield(d, nil) {
					return
				}
			}
			if len(list) < l.pageSize {
				return
			}
		}
	}
}

// ──────────────────────────────────────────────────
// Readers
// ──────────────────────────────────────────────────

// limitReader fails with ErrDocumentTooLarge once more than max bytes
// have passed through.
type limitReader struct {
	r   io.Reader
	max int64
	n   int64
}

func (r *limitReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.n += int64(n)
	if r.n > r.max {
		return 0, ErrDocumentTooLarge
	}
	return n, err
}

type countReader struct {
	r io.Reader
	n int64
}

func (r *countReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.n += int64(n)
	return n, err
}

// verifyReader turns decryption failures and a stored size mismatch into
// integrity errors.
type verifyReader struct {
	r    io.Reader
	raw  *countReader
	want int64
	fail func(error) error
	err  error
}

func (v *verifyReader) Read(p []byte) (int, error) {
	if v.err != nil {
		return 0, v.err
	}
	n, err := v.r.Read(p)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if v.raw.n != v.want {
			v.err = v.fail(fmt.Errorf("stored size %d, expected %d", v.raw.n, v.want))
			return n, v.err
		}
		return n, io.EOF
	case errors.Is(err, vault.ErrAuthentication), errors.Is(err, vault.ErrTruncated), errors.Is(err, vault.ErrFormat):
		v.err = v.fail(err)
		return n, v.err
	default:
		return n, err
	}
}
