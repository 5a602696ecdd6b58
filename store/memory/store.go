// Package memory implements store.Store in process memory. Writers are
// serialized; a transaction keeps an undo log that is replayed on rollback.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/lexbox/ledger"
	"github.com/lexbox/ledger/document"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/payment"
	"github.com/lexbox/ledger/store"
	"github.com/lexbox/ledger/timeline"
)

var _ store.Store = (*Store)(nil)

type db struct {
	writer sync.Mutex
	mu     sync.RWMutex

	entries   map[string]*timeline.Entry
	invoices  map[string]*invoice.Invoice
	payments  map[string]*payment.Payment
	documents map[string]*document.Document
	seq       int64
}

type txLog struct {
	undo []func()
}

func (l *txLog) add(fn func()) {
	if l != nil {
		l.undo = append(l.undo, fn)
	}
}

// remember records how to restore m[key] to its current state.
func remember[V any](l *txLog, m map[string]V, key string) {
	if l == nil {
		return
	}
	prev, had := m[key]
	l.add(func() {
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

type Store struct {
	db *db
	tx *txLog
}

func New() *Store {
	return &Store{db: &db{
		entries:   make(map[string]*timeline.Entry),
		invoices:  make(map[string]*invoice.Invoice),
		payments:  make(map[string]*payment.Payment),
		documents: make(map[string]*document.Document),
	}}
}

// write runs fn under the data lock. Outside a transaction it also takes
// the writer lock, so a single call behaves like a one-statement
// transaction.
func (s *Store) write(fn func(d *db, l *txLog) error) error {
	if s.tx == nil {
		s.db.writer.Lock()
		defer s.db.writer.Unlock()
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return fn(s.db, s.tx)
}

func (s *Store) read(fn func(d *db) error) error {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return fn(s.db)
}

// ==================== Transactions ====================

func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) (err error) {
	if s.tx != nil {
		return fn(ctx, s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.db.writer.Lock()
	defer s.db.writer.Unlock()

	tx := &Store{db: s.db, tx: &txLog{}}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			tx.rollback()
		}
	}()

	return fn(ctx, tx)
}

func (s *Store) rollback() {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i := len(s.tx.undo) - 1; i >= 0; i-- {
		s.tx.undo[i]()
	}
	s.tx.undo = nil
}

// ==================== Timeline Store ====================

func (s *Store) CreateEntry(_ context.Context, e *timeline.Entry) error {
	return s.write(func(d *db, l *txLog) error {
		key := e.ID.String()
		if _, exists := d.entries[key]; exists {
			return fmt.Errorf("memory: entry %s already exists", key)
		}
		e.Version = 1
		remember(l, d.entries, key)
		d.entries[key] = cloneEntry(e)
		return nil
	})
}

func (s *Store) GetEntry(_ context.Context, entryID id.EntryID) (*timeline.Entry, error) {
	var out *timeline.Entry
	err := s.read(func(d *db) error {
		e, ok := d.entries[entryID.String()]
		if !ok {
			return ledger.ErrEntryNotFound
		}
		out = cloneEntry(e)
		return nil
	})
	return out, err
}

func (s *Store) UpdateEntry(_ context.Context, e *timeline.Entry) error {
	return s.write(func(d *db, l *txLog) error {
		key := e.ID.String()
		cur, ok := d.entries[key]
		if !ok {
			return ledger.ErrEntryNotFound
		}
		if cur.Version != e.Version {
			return ledger.ErrConcurrencyConflict
		}
		e.Version++
		remember(l, d.entries, key)
		d.entries[key] = cloneEntry(e)
		return nil
	})
}

func (s *Store) DeleteEntry(_ context.Context, entryID id.EntryID) error {
	return s.write(func(d *db, l *txLog) error {
		key := entryID.String()
		cur, ok := d.entries[key]
		if !ok {
			return ledger.ErrEntryNotFound
		}
		if cur.IsBilled {
			return ledger.ErrConcurrencyConflict
		}
		remember(l, d.entries, key)
		delete(d.entries, key)
		return nil
	})
}

func (s *Store) ListEntries(_ context.Context, caseID string, opts timeline.ListOpts) ([]*timeline.Entry, error) {
	var out []*timeline.Entry
	_ = s.read(func(d *db) error {
		for _, e := range d.entries {
			if e.CaseID == caseID && opts.Matches(e) {
				out = append(out, cloneEntry(e))
			}
		}
		return nil
	})
	sortEntries(out)
	return paginate(out, opts.Offset, opts.Limit), nil
}

func (s *Store) ListUnbilledEntries(_ context.Context, caseID string, after *timeline.Cursor, limit int) ([]*timeline.Entry, error) {
	var out []*timeline.Entry
	_ = s.read(func(d *db) error {
		for _, e := range d.entries {
			if e.CaseID != caseID || !e.Claimable() {
				continue
			}
			if after != nil && !after.After(e) {
				continue
			}
			out = append(out, cloneEntry(e))
		}
		return nil
	})
	sortEntries(out)
	return paginate(out, 0, limit), nil
}

func (s *Store) ListEntriesByCreator(_ context.Context, actor string, since time.Time, after *timeline.Cursor, limit int) ([]*timeline.Entry, error) {
	var out []*timeline.Entry
	_ = s.read(func(d *db) error {
		for _, e := range d.entries {
			if e.CreatedBy != actor || e.ActivityDate.Before(since) {
				continue
			}
			if after != nil && !after.After(e) {
				continue
			}
			out = append(out, cloneEntry(e))
		}
		return nil
	})
	sortEntries(out)
	return paginate(out, 0, limit), nil
}

func (s *Store) ClaimEntries(_ context.Context, caseID string, entryIDs []id.EntryID, invoiceID id.InvoiceID, actor string) (int64, error) {
	var n int64
	err := s.write(func(d *db, l *txLog) error {
		now := time.Now().UTC()
		for _, entryID := range entryIDs {
			key := entryID.String()
			cur, ok := d.entries[key]
			if !ok || cur.CaseID != caseID || !cur.Claimable() {
				continue
			}
			next := cloneEntry(cur)
			next.IsBilled = true
			next.InvoiceID = invoiceID
			next.UpdatedBy = actor
			next.UpdatedAt = now
			next.Version++
			remember(l, d.entries, key)
			d.entries[key] = next
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) ReleaseEntries(_ context.Context, invoiceID id.InvoiceID, actor string) (int64, error) {
	var n int64
	err := s.write(func(d *db, l *txLog) error {
		now := time.Now().UTC()
		for key, cur := range d.entries {
			if !cur.IsBilled || cur.InvoiceID != invoiceID {
				continue
			}
			next := cloneEntry(cur)
			next.IsBilled = false
			next.InvoiceID = id.Nil
			next.UpdatedBy = actor
			next.UpdatedAt = now
			next.Version++
			remember(l, d.entries, key)
			d.entries[key] = next
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) ListEntriesByInvoice(_ context.Context, invoiceID id.InvoiceID) ([]*timeline.Entry, error) {
	var out []*timeline.Entry
	_ = s.read(func(d *db) error {
		for _, e := range d.entries {
			if e.IsBilled && e.InvoiceID == invoiceID {
				out = append(out, cloneEntry(e))
			}
		}
		return nil
	})
	sortEntries(out)
	return out, nil
}

func (s *Store) ListEntriesByDocument(_ context.Context, documentID id.DocumentID) ([]*timeline.Entry, error) {
	var out []*timeline.Entry
	_ = s.read(func(d *db) error {
		for _, e := range d.entries {
			if e.DocumentID == documentID {
				out = append(out, cloneEntry(e))
			}
		}
		return nil
	})
	sortEntries(out)
	return out, nil
}

func (s *Store) DeleteEntriesByDocument(_ context.Context, documentID id.DocumentID) (int64, error) {
	var n int64
	err := s.write(func(d *db, l *txLog) error {
		for key, e := range d.entries {
			if e.DocumentID != documentID || e.IsBilled {
				continue
			}
			remember(l, d.entries, key)
			delete(d.entries, key)
			n++
		}
		return nil
	})
	return n, err
}

// ==================== Invoice Store ====================

func (s *Store) NextInvoiceNumber(_ context.Context) (int64, error) {
	var n int64
	// The counter is not rolled back: reserved numbers are never reused.
	err := s.write(func(d *db, _ *txLog) error {
		d.seq++
		n = d.seq
		return nil
	})
	return n, err
}

func (s *Store) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	return s.write(func(d *db, l *txLog) error {
		key := inv.ID.String()
		if _, exists := d.invoices[key]; exists {
			return fmt.Errorf("memory: invoice %s already exists", key)
		}
		for _, other := range d.invoices {
			if other.Number == inv.Number {
				return ledger.ErrConcurrencyConflict
			}
		}
		inv.Version = 1
		remember(l, d.invoices, key)
		d.invoices[key] = cloneInvoice(inv)
		return nil
	})
}

func (s *Store) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	var out *invoice.Invoice
	err := s.read(func(d *db) error {
		inv, ok := d.invoices[invID.String()]
		if !ok {
			return ledger.ErrInvoiceNotFound
		}
		out = cloneInvoice(inv)
		return nil
	})
	return out, err
}

// GetInvoiceForUpdate is GetInvoice: transactions already hold the writer lock.
func (s *Store) GetInvoiceForUpdate(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return s.GetInvoice(ctx, invID)
}

func (s *Store) GetInvoiceByNumber(_ context.Context, number string) (*invoice.Invoice, error) {
	var out *invoice.Invoice
	err := s.read(func(d *db) error {
		for _, inv := range d.invoices {
			if inv.Number == number {
				out = cloneInvoice(inv)
				return nil
			}
		}
		return ledger.ErrInvoiceNotFound
	})
	return out, err
}

func (s *Store) ListInvoices(_ context.Context, caseID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var out []*invoice.Invoice
	_ = s.read(func(d *db) error {
		for _, inv := range d.invoices {
			if inv.CaseID != caseID {
				continue
			}
			if opts.Status != "" && inv.Status != opts.Status {
				continue
			}
			out = append(out, cloneInvoice(inv))
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *invoice.Invoice) int {
		return cmp.Compare(a.Number, b.Number)
	})
	return paginate(out, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateInvoice(_ context.Context, inv *invoice.Invoice) error {
	return s.write(func(d *db, l *txLog) error {
		key := inv.ID.String()
		cur, ok := d.invoices[key]
		if !ok {
			return ledger.ErrInvoiceNotFound
		}
		if cur.Version != inv.Version {
			return ledger.ErrConcurrencyConflict
		}
		inv.Version++
		remember(l, d.invoices, key)
		d.invoices[key] = cloneInvoice(inv)
		return nil
	})
}

func (s *Store) MarkInvoicesOverdue(_ context.Context, asOf time.Time) (int64, error) {
	var n int64
	err := s.write(func(d *db, l *txLog) error {
		for key, cur := range d.invoices {
			if cur.Status != invoice.StatusSent || !cur.DueDate.Before(asOf) {
				continue
			}
			next := cloneInvoice(cur)
			next.Status = invoice.StatusOverdue
			next.UpdatedAt = time.Now().UTC()
			next.Version++
			remember(l, d.invoices, key)
			d.invoices[key] = next
			n++
		}
		return nil
	})
	return n, err
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(_ context.Context, p *payment.Payment) error {
	return s.write(func(d *db, l *txLog) error {
		key := p.ID.String()
		if _, exists := d.payments[key]; exists {
			return fmt.Errorf("memory: payment %s already exists", key)
		}
		c := *p
		remember(l, d.payments, key)
		d.payments[key] = &c
		return nil
	})
}

func (s *Store) GetPayment(_ context.Context, paymentID id.PaymentID) (*payment.Payment, error) {
	var out *payment.Payment
	err := s.read(func(d *db) error {
		p, ok := d.payments[paymentID.String()]
		if !ok {
			return ledger.ErrPaymentNotFound
		}
		c := *p
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) DeletePayment(_ context.Context, paymentID id.PaymentID) error {
	return s.write(func(d *db, l *txLog) error {
		key := paymentID.String()
		if _, ok := d.payments[key]; !ok {
			return ledger.ErrPaymentNotFound
		}
		remember(l, d.payments, key)
		delete(d.payments, key)
		return nil
	})
}

func (s *Store) ListPayments(_ context.Context, invoiceID id.InvoiceID) ([]*payment.Payment, error) {
	var out []*payment.Payment
	_ = s.read(func(d *db) error {
		for _, p := range d.payments {
			if p.InvoiceID == invoiceID {
				c := *p
				out = append(out, &c)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *payment.Payment) int {
		if c := a.PaidAt.Compare(b.PaidAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

// ==================== Document Store ====================

func (s *Store) CreateDocument(_ context.Context, doc *document.Document) error {
	return s.write(func(d *db, l *txLog) error {
		key := doc.ID.String()
		if _, exists := d.documents[key]; exists {
			return fmt.Errorf("memory: document %s already exists", key)
		}
		doc.Version = 1
		remember(l, d.documents, key)
		d.documents[key] = cloneDocument(doc)
		return nil
	})
}

func (s *Store) GetDocument(_ context.Context, docID id.DocumentID) (*document.Document, error) {
	var out *document.Document
	err := s.read(func(d *db) error {
		doc, ok := d.documents[docID.String()]
		if !ok {
			return ledger.ErrDocumentNotFound
		}
		out = cloneDocument(doc)
		return nil
	})
	return out, err
}

func (s *Store) UpdateDocument(_ context.Context, doc *document.Document) error {
	return s.write(func(d *db, l *txLog) error {
		key := doc.ID.String()
		cur, ok := d.documents[key]
		if !ok {
			return ledger.ErrDocumentNotFound
		}
		if cur.Version != doc.Version {
			return ledger.ErrConcurrencyConflict
		}
		doc.Version++
		remember(l, d.documents, key)
		d.documents[key] = cloneDocument(doc)
		return nil
	})
}

func (s *Store) DeleteDocument(_ context.Context, docID id.DocumentID) error {
	return s.write(func(d *db, l *txLog) error {
		key := docID.String()
		if _, ok := d.documents[key]; !ok {
			return ledger.ErrDocumentNotFound
		}
		remember(l, d.documents, key)
		delete(d.documents, key)
		return nil
	})
}

func (s *Store) ListDocuments(_ context.Context, caseID string, opts document.ListOpts) ([]*document.Document, error) {
	var out []*document.Document
	_ = s.read(func(d *db) error {
		for _, doc := range d.documents {
			if doc.CaseID == caseID && opts.Matches(doc) {
				out = append(out, cloneDocument(doc))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *document.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})
	return paginate(out, opts.Offset, opts.Limit), nil
}

// ==================== Core ====================

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// ==================== Helpers ====================

func cloneEntry(e *timeline.Entry) *timeline.Entry {
	c := *e
	c.Metadata = maps.Clone(e.Metadata)
	return &c
}

func cloneInvoice(inv *invoice.Invoice) *invoice.Invoice {
	c := *inv
	c.LineItems = slices.Clone(inv.LineItems)
	if inv.SentAt != nil {
		t := *inv.SentAt
		c.SentAt = &t
	}
	if inv.CancelledAt != nil {
		t := *inv.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

func cloneDocument(d *document.Document) *document.Document {
	c := *d
	c.Metadata = maps.Clone(d.Metadata)
	if d.DocumentDate != nil {
		t := *d.DocumentDate
		c.DocumentDate = &t
	}
	return &c
}

func sortEntries(entries []*timeline.Entry) {
	slices.SortFunc(entries, func(a, b *timeline.Entry) int {
		if c := a.ActivityDate.Compare(b.ActivityDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
