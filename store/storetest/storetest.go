// Package storetest is a behavioural test suite shared by the store
// implementations.
package storetest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexbox/ledger"
	"github.com/lexbox/ledger/document"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/payment"
	"github.com/lexbox/ledger/store"
	"github.com/lexbox/ledger/timeline"
	"github.com/lexbox/ledger/types"
)

// Factory returns a migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Run exercises s against the behaviour the engine relies on.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EntryLifecycle", testEntryLifecycle},
		{"EntryVersionConflict", testEntryVersionConflict},
		{"ClaimAndRelease", testClaimAndRelease},
		{"UnbilledCursor", testUnbilledCursor},
		{"EntriesByCreator", testEntriesByCreator},
		{"InvoiceNumbers", testInvoiceNumbers},
		{"InvoiceLifecycle", testInvoiceLifecycle},
		{"MarkOverdue", testMarkOverdue},
		{"Payments", testPayments},
		{"Documents", testDocuments},
		{"TransactRollback", testTransactRollback},
		{"ConcurrentOverlappingInvoices", testConcurrentOverlappingInvoices},
		{"ConcurrentInvoiceNumbers", testConcurrentInvoiceNumbers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func newEntry(caseID string, at time.Time, hours types.Hours) *timeline.Entry {
	rate := types.EUR(15000)
	return &timeline.Entry{
		Entity:       types.Entity{CreatedAt: epoch, UpdatedAt: epoch},
		ID:           id.NewEntryID(),
		CaseID:       caseID,
		Kind:         timeline.KindActivity,
		Title:        "Drafting",
		ActivityType: timeline.ActivityDrafting,
		Status:       timeline.StatusCompleted,
		Priority:     timeline.PriorityMedium,
		ActivityDate: at,
		Hours:        hours,
		Rate:         rate,
		Amount:       types.BillingAmount(hours, rate),
		IsBillable:   true,
		CreatedBy:    "alice",
	}
}

func newInvoice(caseID string, seq int64, total int64) *invoice.Invoice {
	return &invoice.Invoice{
		Entity:     types.Entity{CreatedAt: epoch, UpdatedAt: epoch},
		ID:         id.NewInvoiceID(),
		CaseID:     caseID,
		Number:     invoice.FormatNumber(seq),
		IssueDate:  epoch,
		DueDate:    epoch.AddDate(0, 0, 30),
		Subtotal:   types.EUR(total),
		TaxAmount:  types.EUR(0),
		Total:      types.EUR(total),
		AmountPaid: types.EUR(0),
		Status:     invoice.StatusDraft,
		CreatedBy:  "alice",
	}
}

func testEntryLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newEntry("case-1", epoch, 350)
	e.Metadata = map[string]string{"court": "Amsterdam"}
	require.NoError(t, s.CreateEntry(ctx, e))

	got, err := s.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Title, got.Title)
	assert.Equal(t, types.Hours(350), got.Hours)
	assert.Equal(t, int64(52500), got.Amount.Amount)
	assert.True(t, got.ActivityDate.Equal(epoch))
	assert.Equal(t, "Amsterdam", got.Metadata["court"])
	assert.Equal(t, int64(1), got.Version)

	got.Title = "Drafting the statement of claim"
	require.NoError(t, s.UpdateEntry(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	list, err := s.ListEntries(ctx, "case-1", timeline.ListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Drafting the statement of claim", list[0].Title)

	require.NoError(t, s.DeleteEntry(ctx, e.ID))
	_, err = s.GetEntry(ctx, e.ID)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
	assert.ErrorIs(t, s.DeleteEntry(ctx, e.ID), ledger.ErrEntryNotFound)
}

func testEntryVersionConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newEntry("case-1", epoch, 100)
	require.NoError(t, s.CreateEntry(ctx, e))

	a, err := s.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	b, err := s.GetEntry(ctx, e.ID)
	require.NoError(t, err)

	a.Title = "first"
	require.NoError(t, s.UpdateEntry(ctx, a))
	b.Title = "second"
	assert.ErrorIs(t, s.UpdateEntry(ctx, b), ledger.ErrConcurrencyConflict)
}

func testClaimAndRelease(t *testing.T, s store.Store) {
	ctx := context.Background()
	billable := newEntry("case-1", epoch, 100)
	other := newEntry("case-2", epoch, 100)
	free := newEntry("case-1", epoch.Add(time.Hour), 100)
	free.IsBillable = false
	for _, e := range []*timeline.Entry{billable, other, free} {
		require.NoError(t, s.CreateEntry(ctx, e))
	}

	invID := id.NewInvoiceID()
	n, err := s.ClaimEntries(ctx, "case-1", []id.EntryID{billable.ID, other.ID, free.ID}, invID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the billable entry of the case is claimed")

	n, err = s.ClaimEntries(ctx, "case-1", []id.EntryID{billable.ID}, id.NewInvoiceID(), "bob")
	require.NoError(t, err)
	assert.Zero(t, n, "a billed entry cannot be claimed twice")

	got, err := s.GetEntry(ctx, billable.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBilled)
	assert.Equal(t, invID, got.InvoiceID)

	byInvoice, err := s.ListEntriesByInvoice(ctx, invID)
	require.NoError(t, err)
	require.Len(t, byInvoice, 1)

	err = s.DeleteEntry(ctx, billable.ID)
	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)

	n, err = s.ReleaseEntries(ctx, invID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = s.GetEntry(ctx, billable.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBilled)
	assert.True(t, got.InvoiceID.IsNil())
}

func testUnbilledCursor(t *testing.T, s store.Store) {
	ctx := context.Background()
	var want []id.EntryID
	for i := range 5 {
		e := newEntry("case-1", epoch.Add(time.Duration(i)*time.Hour), 100)
		require.NoError(t, s.CreateEntry(ctx, e))
		want = append(want, e.ID)
	}

	var got []id.EntryID
	var after *timeline.Cursor
	for {
		page, err := s.ListUnbilledEntries(ctx, "case-1", after, 2)
		require.NoError(t, err)
		for _, e := range page {
			got = append(got, e.ID)
		}
		if len(page) < 2 {
			break
		}
		last := page[len(page)-1]
		after = &timeline.Cursor{ActivityDate: last.ActivityDate, ID: last.ID}
	}
	assert.Equal(t, want, got)
}

func testEntriesByCreator(t *testing.T, s store.Store) {
	ctx := context.Background()
	var want []id.EntryID
	for i := range 3 {
		e := newEntry("case-1", epoch.Add(time.Duration(i)*time.Hour), 100)
		require.NoError(t, s.CreateEntry(ctx, e))
		want = append(want, e.ID)
	}
	e := newEntry("case-2", epoch.Add(5*time.Hour), 100)
	require.NoError(t, s.CreateEntry(ctx, e))
	want = append(want, e.ID)

	old := newEntry("case-1", epoch.AddDate(0, 0, -10), 100)
	require.NoError(t, s.CreateEntry(ctx, old))
	other := newEntry("case-1", epoch.Add(time.Hour), 100)
	other.CreatedBy = "bob"
	require.NoError(t, s.CreateEntry(ctx, other))

	var got []id.EntryID
	var after *timeline.Cursor
	for {
		page, err := s.ListEntriesByCreator(ctx, "alice", epoch, after, 2)
		require.NoError(t, err)
		for _, e := range page {
			assert.Equal(t, "alice", e.CreatedBy)
			got = append(got, e.ID)
		}
		if len(page) < 2 {
			break
		}
		last := page[len(page)-1]
		after = &timeline.Cursor{ActivityDate: last.ActivityDate, ID: last.ID}
	}
	assert.Equal(t, want, got)

	page, err := s.ListEntriesByCreator(ctx, "bob", epoch, nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, other.ID, page[0].ID)
}

func testInvoiceNumbers(t *testing.T, s store.Store) {
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		n, err := s.NextInvoiceNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func testInvoiceLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	inv := newInvoice("case-1", 1, 63000)
	inv.LineItems = []invoice.LineItem{{
		EntryID:      id.NewEntryID(),
		Title:        "Drafting",
		ActivityDate: epoch,
		Hours:        350,
		Rate:         types.EUR(15000),
		Amount:       types.EUR(52500),
	}}
	require.NoError(t, s.CreateInvoice(ctx, inv))

	dup := newInvoice("case-1", 1, 100)
	assert.ErrorIs(t, s.CreateInvoice(ctx, dup), ledger.ErrConcurrencyConflict)

	got, err := s.GetInvoiceByNumber(ctx, "INV-000001")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, int64(52500), got.LineItems[0].Amount.Amount)

	got.Status = invoice.StatusSent
	sentAt := epoch.Add(time.Hour)
	got.SentAt = &sentAt
	require.NoError(t, s.UpdateInvoice(ctx, got))

	stale, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	stale.Version = 1
	assert.ErrorIs(t, s.UpdateInvoice(ctx, stale), ledger.ErrConcurrencyConflict)

	sent, err := s.ListInvoices(ctx, "case-1", invoice.ListOpts{Status: invoice.StatusSent})
	require.NoError(t, err)
	assert.Len(t, sent, 1)

	_, err = s.GetInvoice(ctx, id.NewInvoiceID())
	assert.ErrorIs(t, err, ledger.ErrInvoiceNotFound)
}

func testMarkOverdue(t *testing.T, s store.Store) {
	ctx := context.Background()
	sentAt := epoch

	due := newInvoice("case-1", 1, 1000)
	due.Status = invoice.StatusSent
	due.SentAt = &sentAt

	draft := newInvoice("case-1", 2, 1000)

	later := newInvoice("case-1", 3, 1000)
	later.Status = invoice.StatusSent
	later.SentAt = &sentAt
	later.DueDate = epoch.AddDate(0, 0, 90)

	for _, inv := range []*invoice.Invoice{due, draft, later} {
		require.NoError(t, s.CreateInvoice(ctx, inv))
	}

	n, err := s.MarkInvoicesOverdue(ctx, epoch.AddDate(0, 0, 31))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetInvoice(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusOverdue, got.Status)
}

func testPayments(t *testing.T, s store.Store) {
	ctx := context.Background()
	inv := newInvoice("case-1", 1, 63000)
	require.NoError(t, s.CreateInvoice(ctx, inv))

	first := &payment.Payment{
		Entity:    types.Entity{CreatedAt: epoch, UpdatedAt: epoch},
		ID:        id.NewPaymentID(),
		InvoiceID: inv.ID,
		CaseID:    "case-1",
		Amount:    types.EUR(30000),
		PaidAt:    epoch,
		Method:    payment.MethodBankTransfer,
		Reference: "NL91ABNA0417164300",
		CreatedBy: "alice",
	}
	second := *first
	second.ID = id.NewPaymentID()
	second.Amount = types.EUR(33000)
	second.PaidAt = epoch.Add(24 * time.Hour)

	require.NoError(t, s.CreatePayment(ctx, first))
	require.NoError(t, s.CreatePayment(ctx, &second))

	list, err := s.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, s.DeletePayment(ctx, first.ID))
	_, err = s.GetPayment(ctx, first.ID)
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
	assert.ErrorIs(t, s.DeletePayment(ctx, first.ID), ledger.ErrPaymentNotFound)

	got, err := s.GetPayment(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.MethodBankTransfer, got.Method)
	assert.Equal(t, int64(33000), got.Amount.Amount)
}

func testDocuments(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := &document.Document{
		Entity:       types.Entity{CreatedAt: epoch, UpdatedAt: epoch},
		ID:           id.NewDocumentID(),
		CaseID:       "case-1",
		OriginalName: "Statement of claim.pdf",
		StoragePath:  "dossiers/case-1/20260302_090000_000-Statement_of_claim.pdf.enc",
		Size:         4096,
		PlainSize:    4000,
		MimeType:     "application/pdf",
		Category:     document.CategoryCourtDocument,
		Confidential: true,
		Encryption:   document.EncryptionAES256,
		UploadedBy:   "alice",
	}
	require.NoError(t, s.CreateDocument(ctx, d))

	got, err := s.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.StoragePath, got.StoragePath)
	assert.True(t, got.IsEncrypted())

	stale, err := s.GetDocument(ctx, d.ID)
	require.NoError(t, err)

	got.Description = "Filed with the district court"
	require.NoError(t, s.UpdateDocument(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	stale.PhysicalLocation = "Archive room B"
	assert.ErrorIs(t, s.UpdateDocument(ctx, stale), ledger.ErrConcurrencyConflict)

	confidential := true
	list, err := s.ListDocuments(ctx, "case-1", document.ListOpts{Confidential: &confidential})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Filed with the district court", list[0].Description)

	require.NoError(t, s.DeleteDocument(ctx, d.ID))
	_, err = s.GetDocument(ctx, d.ID)
	assert.ErrorIs(t, err, ledger.ErrDocumentNotFound)
}

func testTransactRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newEntry("case-1", epoch, 100)
	boom := errors.New("boom")

	err := s.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateEntry(ctx, e); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetEntry(ctx, e.ID)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)

	require.NoError(t, s.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.CreateEntry(ctx, e)
	}))
	_, err = s.GetEntry(ctx, e.ID)
	assert.NoError(t, err)
}

// engine runs the ledger on s. It is never stopped so the suite keeps
// ownership of the store.
func engine(s store.Store) *ledger.Ledger {
	return ledger.New(s,
		ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		ledger.WithClock(func() time.Time { return epoch }),
	)
}

// invoiceConcurrently runs one CreateInvoice per selection at the same time.
func invoiceConcurrently(l *ledger.Ledger, selections [][]id.EntryID) ([]*invoice.Invoice, []error) {
	invs := make([]*invoice.Invoice, len(selections))
	errs := make([]error, len(selections))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range selections {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			invs[i], errs[i] = l.CreateInvoice(context.Background(), ledger.CreateInvoiceInput{
				CaseID:   "case-1",
				EntryIDs: selections[i],
				Actor:    "alice",
			})
		}(i)
	}
	close(start)
	wg.Wait()
	return invs, errs
}

func testConcurrentOverlappingInvoices(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := newEntry("case-1", epoch, 100)
	b := newEntry("case-1", epoch.Add(time.Hour), 200)
	require.NoError(t, s.CreateEntry(ctx, a))
	require.NoError(t, s.CreateEntry(ctx, b))

	invs, errs := invoiceConcurrently(engine(s), [][]id.EntryID{{a.ID, b.ID}, {b.ID}})

	var winner *invoice.Invoice
	for i, err := range errs {
		if err == nil {
			require.Nil(t, winner, "both overlapping invoices succeeded")
			winner = invs[i]
			continue
		}
		assert.True(t, errors.Is(err, ledger.ErrInvalidSelection) || errors.Is(err, ledger.ErrConcurrencyConflict),
			"unexpected error: %v", err)
	}
	require.NotNil(t, winner)

	list, err := s.ListInvoices(ctx, "case-1", invoice.ListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	billed, err := s.ListEntriesByInvoice(ctx, winner.ID)
	require.NoError(t, err)
	assert.Len(t, billed, len(winner.LineItems))
	for _, e := range billed {
		assert.True(t, e.IsBilled)
	}
	if len(winner.LineItems) == 1 {
		got, err := s.GetEntry(ctx, a.ID)
		require.NoError(t, err)
		assert.False(t, got.IsBilled, "the entry outside the winning selection stays unbilled")
	}
}

func testConcurrentInvoiceNumbers(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 4
	selections := make([][]id.EntryID, n)
	for i := range selections {
		e := newEntry("case-1", epoch.Add(time.Duration(i)*time.Hour), 100)
		require.NoError(t, s.CreateEntry(ctx, e))
		selections[i] = []id.EntryID{e.ID}
	}

	invs, errs := invoiceConcurrently(engine(s), selections)

	numbers := make(map[string]bool, n)
	for i, err := range errs {
		require.NoError(t, err)
		assert.False(t, numbers[invs[i].Number], "duplicate invoice number %s", invs[i].Number)
		numbers[invs[i].Number] = true
	}
	assert.Len(t, numbers, n)
}
