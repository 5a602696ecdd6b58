package store

import (
	"context"
	"time"

	"github.com/lexbox/ledger/document"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/payment"
	"github.com/lexbox/ledger/timeline"
)

// Store is the unified storage interface for all ledger records.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Timeline methods
	CreateEntry(ctx context.Context, e *timeline.Entry) error
	GetEntry(ctx context.Context, entryID id.EntryID) (*timeline.Entry, error)
	UpdateEntry(ctx context.Context, e *timeline.Entry) error
	DeleteEntry(ctx context.Context, entryID id.EntryID) error
	ListEntries(ctx context.Context, caseID string, opts timeline.ListOpts) ([]*timeline.Entry, error)
	ListUnbilledEntries(ctx context.Context, caseID string, after *timeline.Cursor, limit int) ([]*timeline.Entry, error)
	ListEntriesByCreator(ctx context.Context, actor string, since time.Time, after *timeline.Cursor, limit int) ([]*timeline.Entry, error)
	ClaimEntries(ctx context.Context, caseID string, entryIDs []id.EntryID, invoiceID id.InvoiceID, actor string) (int64, error)
	ReleaseEntries(ctx context.Context, invoiceID id.InvoiceID, actor string) (int64, error)
	ListEntriesByInvoice(ctx context.Context, invoiceID id.InvoiceID) ([]*timeline.Entry, error)
	ListEntriesByDocument(ctx context.Context, documentID id.DocumentID) ([]*timeline.Entry, error)
	DeleteEntriesByDocument(ctx context.Context, documentID id.DocumentID) (int64, error)

	// Invoice methods
	NextInvoiceNumber(ctx context.Context) (int64, error)
	CreateInvoice(ctx context.Context, inv *invoice.Invoice) error
	GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error)
	ListInvoices(ctx context.Context, caseID string, opts invoice.ListOpts) ([]*invoice.Invoice, error)
	UpdateInvoice(ctx context.Context, inv *invoice.Invoice) error
	MarkInvoicesOverdue(ctx context.Context, asOf time.Time) (int64, error)

	// Payment methods
	CreatePayment(ctx context.Context, p *payment.Payment) error
	GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Payment, error)
	DeletePayment(ctx context.Context, paymentID id.PaymentID) error
	ListPayments(ctx context.Context, invoiceID id.InvoiceID) ([]*payment.Payment, error)

	// Document methods
	CreateDocument(ctx context.Context, d *document.Document) error
	GetDocument(ctx context.Context, docID id.DocumentID) (*document.Document, error)
	UpdateDocument(ctx context.Context, d *document.Document) error
	DeleteDocument(ctx context.Context, docID id.DocumentID) error
	ListDocuments(ctx context.Context, caseID string, opts document.ListOpts) ([]*document.Document, error)

	// Transact runs fn inside a single storage transaction. fn receives a
	// Store bound to the transaction; returning an error, panicking or a
	// cancelled ctx rolls every write back. Calling Transact on a Store that
	// is already bound to a transaction runs fn in that transaction.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ timeline.Store = Store(nil)
	_ invoice.Store  = Store(nil)
	_ payment.Store  = Store(nil)
	_ document.Store = Store(nil)
)
