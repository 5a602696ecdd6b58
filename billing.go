package ledger

import (
	"context"
	"iter"
	"slices"
	"time"

	"github.com/lexbox/ledger/directory"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/store"
	"github.com/lexbox/ledger/timeline"
	"github.com/lexbox/ledger/types"
)

// CreateInvoiceInput selects the work an invoice bills.
type CreateInvoiceInput struct {
	CaseID string `json:"case_id" validate:"required,max=64"`
	// EntryIDs names the entries to bill. Empty bills every unbilled
	// billable entry of the case.
	EntryIDs  []id.EntryID `json:"entry_ids"`
	IssueDate time.Time    `json:"issue_date"`
	// DueInDays defaults to the engine's due window.
	DueInDays int `json:"due_in_days" validate:"gte=0,lte=3650"`
	// TaxRate overrides the configured rate.
	TaxRate      *types.Percent `json:"tax_rate"`
	Notes        string         `json:"notes" validate:"max=10000"`
	PaymentTerms string         `json:"payment_terms" validate:"max=500"`
	Actor        string         `json:"actor" validate:"required"`
}

// BillingSummary totals the invoices and unbilled work of a case.
// Cancelled invoices are excluded.
type BillingSummary struct {
	CaseID           string      `json:"case_id"`
	Invoices         int         `json:"invoices"`
	Overdue          int         `json:"overdue"`
	TotalInvoiced    types.Money `json:"total_invoiced"`
	TotalPaid        types.Money `json:"total_paid"`
	TotalOutstanding types.Money `json:"total_outstanding"`
	TotalUnbilled    types.Money `json:"total_unbilled"`
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

// CreateInvoice bills a selection of timeline entries. The number is
// reserved, the entries are claimed and the invoice is written in one
// transaction; the amounts come from the claimed rows as read back inside
// that transaction.
func (l *Ledger) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*invoice.Invoice, error) {
	if err := l.check(in); err != nil {
		return nil, err
	}
	if in.TaxRate != nil && !in.TaxRate.Valid() {
		return nil, ValidationError{Field: "tax_rate", Message: "must be between 0% and 100%"}
	}
	if err := l.authorize(ctx, in.Actor, directory.CapBillingCreate); err != nil {
		return nil, err
	}
	if err := l.requireCase(ctx, in.CaseID); err != nil {
		return nil, err
	}

	inv, err := retry(ctx, l, "create_invoice", func() (*invoice.Invoice, error) {
		var inv *invoice.Invoice
		err := l.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
			var err error
			inv, err = l.createInvoiceTx(ctx, tx, in)
			return err
		})
		return inv, err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("invoice created",
		"invoice_id", inv.ID,
		"number", inv.Number,
		"case_id", inv.CaseID,
		"entries", len(inv.LineItems),
		"total", inv.Total.String(),
	)
	l.plugins.EmitInvoiceCreated(ctx, inv)
	return inv, nil
}

func (l *Ledger) createInvoiceTx(ctx context.Context, tx store.Store, in CreateInvoiceInput) (*invoice.Invoice, error) {
	explicit := len(in.EntryIDs) > 0

	var selected []id.EntryID
	var err error
	if explicit {
		selected, err = checkSelection(ctx, tx, in.CaseID, in.EntryIDs)
	} else {
		selected, err = l.unbilledIDs(ctx, tx, in.CaseID)
	}
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, ErrEmptySelection
	}

	seq, err := tx.NextInvoiceNumber(ctx)
	if err != nil {
		return nil, err
	}
	invID := id.NewInvoiceID()

	n, err := tx.ClaimEntries(ctx, in.CaseID, selected, invID, in.Actor)
	if err != nil {
		return nil, err
	}
	if n != int64(len(selected)) {
		if !explicit {
			return nil, ErrConcurrencyConflict
		}
		return nil, firstUnclaimed(ctx, tx, selected, invID)
	}

	claimed, err := tx.ListEntriesByInvoice(ctx, invID)
	if err != nil {
		return nil, err
	}
	if len(claimed) != len(selected) {
		return nil, ErrConcurrencyConflict
	}

	inv, err := l.buildInvoice(ctx, in, invID, seq, claimed)
	if err != nil {
		return nil, err
	}
	if err := tx.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// checkSelection deduplicates an explicit selection and rejects the first
// entry that cannot be billed.
func checkSelection(ctx context.Context, tx store.Store, caseID string, entryIDs []id.EntryID) ([]id.EntryID, error) {
	seen := make(map[string]struct{}, len(entryIDs))
	out := make([]id.EntryID, 0, len(entryIDs))
	for _, entryID := range entryIDs {
		if _, dup := seen[entryID.String()]; dup {
			continue
		}
		seen[entryID.String()] = struct{}{}

		e, err := tx.GetEntry(ctx, entryID)
		switch {
		case isEntryGone(err):
			return nil, &InvalidSelectionError{EntryID: entryID, Reason: "not found"}
		case err != nil:
			return nil, err
		case e.CaseID != caseID:
			return nil, &InvalidSelectionError{EntryID: entryID, Reason: "belongs to another case"}
		case !e.IsBillable:
			return nil, &InvalidSelectionError{EntryID: entryID, Reason: "not billable"}
		case e.IsBilled:
			return nil, &InvalidSelectionError{EntryID: entryID, Reason: "already billed"}
		}
		out = append(out, entryID)
	}
	return out, nil
}

func (l *Ledger) unbilledIDs(ctx context.Context, tx store.Store, caseID string) ([]id.EntryID, error) {
	var out []id.EntryID
	var after *timeline.Cursor
	for {
		page, err := tx.ListUnbilledEntries(ctx, caseID, after, l.pageSize)
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			out = append(out, e.ID)
		}
		if len(page) < l.pageSize {
			return out, nil
		}
		last := page[len(page)-1]
		after = &timeline.Cursor{ActivityDate: last.ActivityDate, ID: last.ID}
	}
}

// firstUnclaimed names the first selected entry the claim did not take.
func firstUnclaimed(ctx context.Context, tx store.Store, selected []id.EntryID, invID id.InvoiceID) error {
	for _, entryID := range selected {
		e, err := tx.GetEntry(ctx, entryID)
		if isEntryGone(err) {
			return &InvalidSelectionError{EntryID: entryID, Reason: "not found"}
		}
		if err != nil {
			return err
		}
		if e.InvoiceID != invID {
			return &InvalidSelectionError{EntryID: entryID, Reason: "already billed"}
		}
	}
	return ErrConcurrencyConflict
}

func (l *Ledger) buildInvoice(ctx context.Context, in CreateInvoiceInput, invID id.InvoiceID, seq int64, claimed []*timeline.Entry) (*invoice.Invoice, error) {
	currency := claimed[0].Amount.Currency
	items := make([]invoice.LineItem, 0, len(claimed))
	subtotal := types.Zero(currency)
	for _, e := range claimed {
		if e.Amount.Currency != currency {
			return nil, &InvalidSelectionError{EntryID: e.ID, Reason: "currency differs from " + currency}
		}
		subtotal = subtotal.Add(e.Amount)
		items = append(items, invoice.LineItem{
			EntryID:      e.ID,
			Title:        e.Title,
			ActivityDate: e.ActivityDate,
			Hours:        e.Hours,
			Rate:         e.Rate,
			Amount:       e.Amount,
		})
	}

	rate, err := l.resolveTaxRate(ctx, in, subtotal)
	if err != nil {
		return nil, err
	}
	tax := types.Tax(subtotal, rate)

	now := l.now()
	issue := in.IssueDate.UTC()
	if in.IssueDate.IsZero() {
		issue = now
	}
	days := in.DueInDays
	if days == 0 {
		days = l.dueDays
	}
	terms := in.PaymentTerms
	if terms == "" {
		terms = invoice.DefaultTerms(days)
	}

	return &invoice.Invoice{
		Entity:       types.Stamp(now),
		ID:           invID,
		CaseID:       in.CaseID,
		Number:       invoice.FormatNumber(seq),
		IssueDate:    issue,
		DueDate:      issue.AddDate(0, 0, days),
		Subtotal:     subtotal,
		TaxRate:      rate,
		TaxAmount:    tax,
		Total:        subtotal.Add(tax),
		AmountPaid:   types.Zero(currency),
		Status:       invoice.StatusDraft,
		Notes:        in.Notes,
		PaymentTerms: terms,
		LineItems:    items,
		CreatedBy:    in.Actor,
	}, nil
}

// resolveTaxRate prefers the caller's rate, then a plugin's, then the
// configured default.
func (l *Ledger) resolveTaxRate(ctx context.Context, in CreateInvoiceInput, subtotal types.Money) (types.Percent, error) {
	if in.TaxRate != nil {
		return *in.TaxRate, nil
	}
	rate, ok, err := l.plugins.TaxRate(ctx, in.CaseID, subtotal)
	if err != nil {
		return 0, err
	}
	if ok {
		if !rate.Valid() {
			return 0, ValidationError{Field: "tax_rate", Message: "plugin returned " + rate.String()}
		}
		return rate, nil
	}
	return l.taxRate, nil
}

// SendInvoice moves a draft invoice to sent.
func (l *Ledger) SendInvoice(ctx context.Context, invoiceID id.InvoiceID, actor string) (*invoice.Invoice, error) {
	if err := l.authorize(ctx, actor, directory.CapBillingUpdate); err != nil {
		return nil, err
	}

	inv, err := l.mutateInvoice(ctx, "send_invoice", invoiceID, func(ctx context.Context, tx store.Store, inv *invoice.Invoice) error {
		if inv.Status != invoice.StatusDraft {
			return &InvalidStateError{InvoiceID: inv.ID, Status: string(inv.Status), Action: "send"}
		}
		now := l.now()
		inv.SentAt = &now
		inv.Status = invoice.StatusSent
		inv.UpdatedBy = actor
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.plugins.EmitInvoiceSent(ctx, inv)
	inv.Refresh(l.now())
	return inv, nil
}

// CancelInvoice cancels an unpaid invoice and returns its entries to the
// unbilled pool.
func (l *Ledger) CancelInvoice(ctx context.Context, invoiceID id.InvoiceID, actor string) (*invoice.Invoice, error) {
	if err := l.authorize(ctx, actor, directory.CapBillingCancel); err != nil {
		return nil, err
	}

	var released int64
	inv, err := l.mutateInvoice(ctx, "cancel_invoice", invoiceID, func(ctx context.Context, tx store.Store, inv *invoice.Invoice) error {
		inv.Refresh(l.now())
		if !inv.Cancellable() {
			return &InvalidStateError{InvoiceID: inv.ID, Status: string(inv.Status), Action: "cancel"}
		}
		n, err := tx.ReleaseEntries(ctx, inv.ID, actor)
		if err != nil {
			return err
		}
		released = n

		now := l.now()
		inv.Status = invoice.StatusCancelled
		inv.CancelledAt = &now
		inv.UpdatedBy = actor
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("invoice cancelled",
		"invoice_id", inv.ID,
		"number", inv.Number,
		"released_entries", released,
	)
	l.plugins.EmitInvoiceCancelled(ctx, inv, released)
	return inv, nil
}

// mutateInvoice locks an invoice, applies fn and writes it back in one
// transaction, retrying lost races.
func (l *Ledger) mutateInvoice(ctx context.Context, op string, invoiceID id.InvoiceID,
	fn func(ctx context.Context, tx store.Store, inv *invoice.Invoice) error,
) (*invoice.Invoice, error) {
	return retry(ctx, l, op, func() (*invoice.Invoice, error) {
		var out *invoice.Invoice
		err := l.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
			inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
			if err != nil {
				return err
			}
			if err := fn(ctx, tx, inv); err != nil {
				return err
			}
			inv.Touch(l.now())
			if err := tx.UpdateInvoice(ctx, inv); err != nil {
				return err
			}
			out = inv
			return nil
		})
		return out, err
	})
}

// GetInvoice retrieves an invoice with its status derived as of now.
func (l *Ledger) GetInvoice(ctx context.Context, invoiceID id.InvoiceID) (*invoice.Invoice, error) {
	inv, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	inv.Refresh(l.now())
	return inv, nil
}

// GetInvoiceByNumber retrieves an invoice by its number.
func (l *Ledger) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	inv, err := l.store.GetInvoiceByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	inv.Refresh(l.now())
	return inv, nil
}

// ListInvoices lists the invoices of a case ordered by number. Filtering by
// sent or overdue uses the status derived as of now rather than the stored
// one.
func (l *Ledger) ListInvoices(ctx context.Context, caseID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	now := l.now()
	if opts.Status != invoice.StatusSent && opts.Status != invoice.StatusOverdue {
		list, err := l.store.ListInvoices(ctx, caseID, opts)
		if err != nil {
			return nil, err
		}
		for _, inv := range list {
			inv.Refresh(now)
		}
		return list, nil
	}

	var out []*invoice.Invoice
	for inv, err := range l.scanInvoices(ctx, caseID) {
		if err != nil {
			return nil, err
		}
		inv.Refresh(now)
		if inv.Status == opts.Status {
			out = append(out, inv)
		}
	}
	return paginate(out, opts.Offset, opts.Limit), nil
}

// InvoiceEntries lists the timeline entries an invoice currently claims.
func (l *Ledger) InvoiceEntries(ctx context.Context, invoiceID id.InvoiceID) ([]*timeline.Entry, error) {
	if _, err := l.store.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return l.store.ListEntriesByInvoice(ctx, invoiceID)
}

// SweepOverdue persists the overdue status of sent invoices past their due
// date and returns how many changed.
func (l *Ledger) SweepOverdue(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := l.store.MarkInvoicesOverdue(ctx, l.now())
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)

	if n > 0 {
		l.logger.Info("overdue invoices swept", "count", n, "elapsed", elapsed)
	}
	l.plugins.EmitOverdueSwept(ctx, n, elapsed)
	return n, nil
}

// BillingSummary totals a case in the engine currency. Amounts in other
// currencies are skipped.
func (l *Ledger) BillingSummary(ctx context.Context, caseID string) (*BillingSummary, error) {
	s := &BillingSummary{
		CaseID:           caseID,
		TotalInvoiced:    types.Zero(l.currency),
		TotalPaid:        types.Zero(l.currency),
		TotalOutstanding: types.Zero(l.currency),
	}

	now := l.now()
	for inv, err := range l.scanInvoices(ctx, caseID) {
		if err != nil {
			return nil, err
		}
		if inv.Status == invoice.StatusCancelled {
			continue
		}
		if inv.Total.Currency != l.currency {
			l.logger.Warn("skipping invoice in foreign currency",
				"invoice_id", inv.ID,
				"currency", inv.Total.Currency,
			)
			continue
		}
		inv.Refresh(now)
		s.Invoices++
		if inv.Status == invoice.StatusOverdue {
			s.Overdue++
		}
		s.TotalInvoiced = s.TotalInvoiced.Add(inv.Total)
		s.TotalPaid = s.TotalPaid.Add(inv.AmountPaid)
		s.TotalOutstanding = s.TotalOutstanding.Add(inv.Balance())
	}

	unbilled, err := l.unbilledTotal(ctx, caseID)
	if err != nil {
		return nil, err
	}
	s.TotalUnbilled = unbilled
	return s, nil
}

func (l *Ledger) scanInvoices(ctx context.Context, caseID string) iter.Seq2[*invoice.Invoice, error] {
	return func(yield func(*invoice.Invoice, error) bool) {
		for offset := 0; ; offset += l.pageSize {
			list, err := l.store.ListInvoices(ctx, caseID, invoice.ListOpts{Limit: l.pageSize, Offset: offset})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, inv := range list {
				if !yield(inv, nil) {
					return
				}
			}
			if len(list) < l.pageSize {
				return
			}
		}
	}
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return slices.Clip(items)
}
