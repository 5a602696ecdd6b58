package timeline

import (
	"context"
	"time"

	"github.com/lexbox/ledger/id"
)

type Store interface {
	CreateEntry(ctx context.Context, e *Entry) error
	GetEntry(ctx context.Context, entryID id.EntryID) (*Entry, error)
	// UpdateEntry writes e if the stored version still equals e.Version and
	// increments e.Version on success.
	UpdateEntry(ctx context.Context, e *Entry) error
	// DeleteEntry removes an unbilled entry.
	DeleteEntry(ctx context.Context, entryID id.EntryID) error
	ListEntries(ctx context.Context, caseID string, opts ListOpts) ([]*Entry, error)
	// ListUnbilledEntries returns up to limit billable, unbilled entries of a
	// case ordered by (activity date, id), starting strictly after the cursor.
	ListUnbilledEntries(ctx context.Context, caseID string, after *Cursor, limit int) ([]*Entry, error)
	// ListEntriesByCreator returns up to limit entries recorded by actor with
	// an activity date at or after since, across all cases, in cursor order.
	ListEntriesByCreator(ctx context.Context, actor string, since time.Time, after *Cursor, limit int) ([]*Entry, error)

	// ClaimEntries marks the given billable, unbilled entries of the case as
	// billed by invoiceID and returns how many rows it changed.
	ClaimEntries(ctx context.Context, caseID string, entryIDs []id.EntryID, invoiceID id.InvoiceID, actor string) (int64, error)
	// ReleaseEntries reverts every entry claimed by invoiceID to unbilled.
	ReleaseEntries(ctx context.Context, invoiceID id.InvoiceID, actor string) (int64, error)
	ListEntriesByInvoice(ctx context.Context, invoiceID id.InvoiceID) ([]*Entry, error)

	ListEntriesByDocument(ctx context.Context, documentID id.DocumentID) ([]*Entry, error)
	// DeleteEntriesByDocument removes the unbilled entries referencing a document.
	DeleteEntriesByDocument(ctx context.Context, documentID id.DocumentID) (int64, error)
}

type ListOpts struct {
	Kind     Kind
	Billable *bool
	Billed   *bool
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Matches applies the filter to a single entry. Stores without a query
// language use it directly.
func (o ListOpts) Matches(e *Entry) bool {
	if o.Kind != "" && e.Kind != o.Kind {
		return false
	}
	if o.Billable != nil && e.IsBillable != *o.Billable {
		return false
	}
	if o.Billed != nil && e.IsBilled != *o.Billed {
		return false
	}
	if !o.From.IsZero() && e.ActivityDate.Before(o.From) {
		return false
	}
	if !o.To.IsZero() && !e.ActivityDate.Before(o.To) {
		return false
	}
	return true
}
