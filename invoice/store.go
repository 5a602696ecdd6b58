package invoice

import (
	"context"
	"time"

	"github.com/lexbox/ledger/id"
)

type Store interface {
	// NextInvoiceNumber reserves the next value of the invoice sequence. A
	// value used by a committed invoice is never handed out again.
	NextInvoiceNumber(ctx context.Context) (int64, error)
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, invID id.InvoiceID) (*Invoice, error)
	// GetInvoiceForUpdate reads the invoice and holds it against concurrent
	// writers until the surrounding transaction ends.
	GetInvoiceForUpdate(ctx context.Context, invID id.InvoiceID) (*Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*Invoice, error)
	ListInvoices(ctx context.Context, caseID string, opts ListOpts) ([]*Invoice, error)
	// UpdateInvoice writes inv if the stored version still equals
	// inv.Version and increments inv.Version on success.
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	// MarkInvoicesOverdue moves sent invoices whose due date is before asOf
	// to overdue and returns how many changed.
	MarkInvoicesOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
