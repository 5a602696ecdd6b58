package ledger_test

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
	blobmem "github.com/lexbox/ledger/blob/memory"
	"github.com/lexbox/ledger/directory"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/payment"
	"github.com/lexbox/ledger/store/memory"
	"github.com/lexbox/ledger/timeline"
	"github.com/lexbox/ledger/types"
	"github.com/lexbox/ledger/vault"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	l      *ledger.Ledger
	store  *memory.Store
	bucket *blobmem.Bucket
	dir    *directory.Static
	clock  *testClock
	events *recorder
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()

	raw, err := vault.GenerateKey()
	require.NoError(t, err)
	key, err := vault.NewStaticKey(raw)
	require.NoError(t, err)

	f := &fixture{
		store:  memory.New(),
		bucket: blobmem.New(),
		dir: directory.NewStatic().
			AddCase("case-1", "case-2").
			Grant("alice", "*").
			Grant("bob", directory.CapTimelineCreate, directory.CapBillingRead),
		clock:  &testClock{now: epoch},
		events: &recorder{},
	}

	base := []ledger.Option{
		ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		ledger.WithDirectory(f.dir),
		ledger.WithBucket(f.bucket),
		ledger.WithKeyProvider(key),
		ledger.WithClock(f.clock.Now),
		ledger.WithTaxRate(2000),
		ledger.WithPlugin(f.events),
	}
	f.l = ledger.New(f.store, append(base, opts...)...)

	require.NoError(t, f.l.Start(context.Background()))
	t.Cleanup(func() { _ = f.l.Stop() })
	return f
}

// work records a billable entry of hours (hundredths) at a rate in cents.
func (f *fixture) work(t *testing.T, caseID string, hours types.Hours, rate int64, at time.Time) *timeline.Entry {
	t.Helper()
	e, err := f.l.RecordEntry(context.Background(), ledger.RecordEntryInput{
		CaseID:       caseID,
		Title:        "Research",
		ActivityType: timeline.ActivityResearch,
		ActivityDate: at,
		Hours:        hours,
		Rate:         types.EUR(rate),
		IsBillable:   true,
		Actor:        "alice",
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) invoice(t *testing.T, caseID string, entryIDs ...id.EntryID) *invoice.Invoice {
	t.Helper()
	inv, err := f.l.CreateInvoice(context.Background(), ledger.CreateInvoiceInput{
		CaseID:   caseID,
		EntryIDs: entryIDs,
		Actor:    "alice",
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) pay(inv *invoice.Invoice, cents int64) (*payment.Payment, error) {
	return f.l.RecordPayment(context.Background(), ledger.RecordPaymentInput{
		InvoiceID: inv.ID,
		Amount:    types.EUR(cents),
		Method:    payment.MethodBankTransfer,
		Actor:     "alice",
	})
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) OnInvoiceCreated(context.Context, *invoice.Invoice) error {
	r.add("invoice.created")
	return nil
}

func (r *recorder) OnInvoicePaid(context.Context, *invoice.Invoice) error {
	r.add("invoice.paid")
	return nil
}

func (r *recorder) OnInvoiceCancelled(_ context.Context, _ *invoice.Invoice, released int64) error {
	r.add("invoice.cancelled")
	return nil
}

func (r *recorder) OnIntegrityFailure(context.Context, id.DocumentID, error) error {
	r.add("document.integrity_failure")
	return nil
}

// ──────────────────────────────────────────────────
// Timeline
// ──────────────────────────────────────────────────

func TestRecordEntryPricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("hours times rate", func(t *testing.T) {
		e := f.work(t, "case-1", 350, 15000, epoch)
		assert.Equal(t, types.EUR(52500), e.Amount)
		assert.False(t, e.AmountOverridden)
		assert.Equal(t, timeline.KindActivity, e.Kind)
		assert.Equal(t, timeline.StatusCompleted, e.Status)
		assert.Equal(t, "alice", e.CreatedBy)
	})

	t.Run("non-billable carries no amount", func(t *testing.T) {
		e, err := f.l.RecordEntry(ctx, ledger.RecordEntryInput{
			CaseID: "case-1",
			Title:  "Phone call with opposing counsel",
			Hours:  100,
			Rate:   types.EUR(15000),
			Actor:  "alice",
		})
		require.NoError(t, err)
		assert.True(t, e.Amount.IsZero())
	})

	t.Run("explicit amount overrides", func(t *testing.T) {
		fixed := types.EUR(20000)
		e, err := f.l.RecordEntry(ctx, ledger.RecordEntryInput{
			CaseID:     "case-1",
			Title:      "Flat fee filing",
			Hours:      50,
			Rate:       types.EUR(15000),
			Amount:     &fixed,
			IsBillable: true,
			Actor:      "alice",
		})
		require.NoError(t, err)
		assert.Equal(t, fixed, e.Amount)
		assert.True(t, e.AmountOverridden)
	})

	t.Run("rounds half to even", func(t *testing.T) {
		// 0.25 h at €0.10 is 2.5 cents.
		e := f.work(t, "case-2", 25, 10, epoch)
		assert.Equal(t, int64(2), e.Amount.Amount)
	})
}

func TestRecordEntryRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    ledger.RecordEntryInput
		field string
		want  error
	}{
		{
			name:  "negative rate",
			in:    ledger.RecordEntryInput{CaseID: "case-1", Title: "x", Rate: types.EUR(-1), IsBillable: true, Actor: "alice"},
			field: "rate",
			want:  ledger.ErrInvalidInput,
		},
		{
			name:  "negative hours",
			in:    ledger.RecordEntryInput{CaseID: "case-1", Title: "x", Hours: -5, Actor: "alice"},
			field: "hours",
			want:  ledger.ErrInvalidInput,
		},
		{
			name:  "too many hours",
			in:    ledger.RecordEntryInput{CaseID: "case-1", Title: "x", Hours: types.MaxHours + 1, Actor: "alice"},
			field: "hours",
			want:  ledger.ErrInvalidInput,
		},
		{
			name:  "missing title",
			in:    ledger.RecordEntryInput{CaseID: "case-1", Actor: "alice"},
			field: "title",
			want:  ledger.ErrInvalidInput,
		},
		{
			name:  "unknown kind",
			in:    ledger.RecordEntryInput{CaseID: "case-1", Title: "x", Kind: "party", Actor: "alice"},
			field: "kind",
			want:  ledger.ErrInvalidInput,
		},
		{
			name: "unknown case",
			in:   ledger.RecordEntryInput{CaseID: "case-404", Title: "x", Actor: "alice"},
			want: ledger.ErrCaseNotFound,
		},
		{
			name: "no capability",
			in:   ledger.RecordEntryInput{CaseID: "case-1", Title: "x", Actor: "mallory"},
			want: ledger.ErrPermissionDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.l.RecordEntry(ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
			if tt.field != "" {
				var ve ledger.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.field, ve.Field)
			}
		})
	}
}

func TestUpdateEntryReprices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.work(t, "case-1", 350, 15000, epoch)

	hours := types.Hours(200)
	got, err := f.l.UpdateEntry(ctx, e.ID, timeline.Patch{Hours: &hours}, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.EUR(30000), got.Amount)
	assert.Equal(t, "alice", got.UpdatedBy)

	off := false
	got, err = f.l.UpdateEntry(ctx, e.ID, timeline.Patch{IsBillable: &off}, "alice")
	require.NoError(t, err)
	assert.True(t, got.Amount.IsZero())

	on := true
	got, err = f.l.UpdateEntry(ctx, e.ID, timeline.Patch{IsBillable: &on}, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.EUR(30000), got.Amount)
}

func TestBilledEntryIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.work(t, "case-1", 350, 15000, epoch)
	inv := f.invoice(t, "case-1")

	rate := types.EUR(1)
	_, err := f.l.UpdateEntry(ctx, e.ID, timeline.Patch{Rate: &rate}, "alice")
	var ie *ledger.ImmutableEntryError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "rate", ie.Field)

	title := "Research on limitation periods"
	got, err := f.l.UpdateEntry(ctx, e.ID, timeline.Patch{Title: &title}, "alice")
	require.NoError(t, err, "descriptive fields stay editable")
	assert.Equal(t, title, got.Title)
	assert.Equal(t, types.EUR(52500), got.Amount)

	require.ErrorIs(t, f.l.DeleteEntry(ctx, e.ID, "alice"), ledger.ErrImmutableEntry)

	_, err = f.l.CancelInvoice(ctx, inv.ID, "alice")
	require.NoError(t, err)

	_, err = f.l.UpdateEntry(ctx, e.ID, timeline.Patch{Rate: &rate}, "alice")
	require.NoError(t, err, "cancelling releases the entry")
	require.NoError(t, f.l.DeleteEntry(ctx, e.ID, "alice"))

	_, err = f.l.GetEntry(ctx, e.ID)
	require.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestDeleteEntryNeedsCapability(t *testing.T) {
	f := newFixture(t)
	e := f.work(t, "case-1", 100, 10000, epoch)

	err := f.l.DeleteEntry(context.Background(), e.ID, "bob")
	var pe *ledger.PermissionDeniedError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, directory.CapTimelineDelete, pe.Capability)
}

func TestListUnbilledOrderAndPaging(t *testing.T) {
	f := newFixture(t, ledger.WithPageSize(2))
	ctx := context.Background()

	days := []int{4, 1, 3, 0, 2}
	for _, d := range days {
		f.work(t, "case-1", 100, 10000, epoch.AddDate(0, 0, -d))
	}
	f.work(t, "case-2", 100, 10000, epoch)

	collect := func() []time.Time {
		var out []time.Time
		for e, err := range f.l.ListUnbilled(ctx, "case-1") {
			require.NoError(t, err)
			out = append(out, e.ActivityDate)
		}
		return out
	}

	first := collect()
	require.Len(t, first, len(days))
	for i := 1; i < len(first); i++ {
		assert.True(t, first[i-1].Before(first[i]), "entries must come oldest first")
	}
	assert.Equal(t, first, collect(), "ranging again restarts the scan")

	n := 0
	for range f.l.ListUnbilled(ctx, "case-1") {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestCaseTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	billed := f.work(t, "case-1", 100, 10000, epoch)
	f.invoice(t, "case-1", billed.ID)
	f.work(t, "case-1", 250, 10000, epoch)
	_, err := f.l.RecordEntry(ctx, ledger.RecordEntryInput{CaseID: "case-1", Title: "Case opened", Kind: timeline.KindRegistration, Actor: "alice"})
	require.NoError(t, err)

	totals, err := f.l.CaseTotals(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, 3, totals.Entries)
	assert.Equal(t, types.Hours(350), totals.BillableHours)
	assert.Equal(t, types.EUR(35000), totals.BillableAmount)
	assert.Equal(t, types.EUR(10000), totals.BilledAmount)
	assert.Equal(t, types.EUR(25000), totals.UnbilledAmount)
}

func TestUserActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	billed := f.work(t, "case-1", 100, 10000, epoch)
	f.invoice(t, "case-1", billed.ID)
	f.work(t, "case-2", 250, 10000, epoch.AddDate(0, 0, -1))
	f.work(t, "case-1", 400, 10000, epoch.AddDate(0, 0, -40))
	_, err := f.l.RecordEntry(ctx, ledger.RecordEntryInput{CaseID: "case-1", Title: "Case opened", Kind: timeline.KindRegistration, Actor: "alice"})
	require.NoError(t, err)
	_, err = f.l.RecordEntry(ctx, ledger.RecordEntryInput{
		CaseID:       "case-1",
		Title:        "Client call",
		ActivityType: timeline.ActivityPhoneCall,
		Hours:        50,
		Actor:        "bob",
	})
	require.NoError(t, err)

	t.Run("default window", func(t *testing.T) {
		a, err := f.l.UserActivity(ctx, "alice", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, epoch.Add(-ledger.DefaultActivityWindow), a.Since)
		assert.Equal(t, 3, a.Entries)
		assert.Equal(t, 2, a.Cases)
		assert.Equal(t, 2, a.ByKind[timeline.KindActivity])
		assert.Equal(t, 1, a.ByKind[timeline.KindRegistration])
		assert.Equal(t, 2, a.ByActivityType[timeline.ActivityResearch])
		assert.Equal(t, types.Hours(350), a.BillableHours)
		assert.Equal(t, types.EUR(35000), a.BillableAmount)
		assert.Equal(t, types.EUR(10000), a.BilledAmount)
	})

	t.Run("explicit since", func(t *testing.T) {
		a, err := f.l.UserActivity(ctx, "alice", epoch.AddDate(0, 0, -60))
		require.NoError(t, err)
		assert.Equal(t, 4, a.Entries)
		assert.Equal(t, types.Hours(750), a.BillableHours)
	})

	t.Run("other user", func(t *testing.T) {
		a, err := f.l.UserActivity(ctx, "bob", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 1, a.Entries)
		assert.Equal(t, types.Hours(50), a.Hours)
		assert.Zero(t, a.BillableHours)
		assert.Equal(t, 1, a.ByActivityType[timeline.ActivityPhoneCall])
	})

	t.Run("pages through results", func(t *testing.T) {
		small := newFixture(t, ledger.WithPageSize(2))
		for i := range 5 {
			small.work(t, "case-1", 100, 10000, epoch.Add(-time.Duration(i)*time.Hour))
		}
		a, err := small.l.UserActivity(ctx, "alice", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 5, a.Entries)
		assert.Equal(t, types.EUR(50000), a.BillableAmount)
	})

	t.Run("requires a user", func(t *testing.T) {
		_, err := f.l.UserActivity(ctx, "", time.Time{})
		require.ErrorIs(t, err, ledger.ErrInvalidInput)
	})
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

func TestInvoiceArithmetic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.work(t, "case-1", 350, 15000, epoch)

	inv := f.invoice(t, "case-1")

	assert.Equal(t, "INV-000001", inv.Number)
	assert.Equal(t, invoice.StatusDraft, inv.Status)
	assert.Equal(t, types.EUR(52500), inv.Subtotal)
	assert.Equal(t, types.Percent(2000), inv.TaxRate)
	assert.Equal(t, types.EUR(10500), inv.TaxAmount)
	assert.Equal(t, types.EUR(63000), inv.Total)
	assert.Equal(t, inv.Subtotal.Add(inv.TaxAmount), inv.Total)
	assert.True(t, inv.AmountPaid.IsZero())
	assert.Equal(t, epoch.AddDate(0, 0, 30), inv.DueDate)
	assert.Equal(t, "Payment due within 30 days", inv.PaymentTerms)
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, e.ID, inv.LineItems[0].EntryID)

	got, err := f.l.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBilled)
	assert.Equal(t, inv.ID, got.InvoiceID)

	for _, err := range f.l.ListUnbilled(ctx, "case-1") {
		require.NoError(t, err)
		t.Fatal("billed entry still listed as unbilled")
	}

	entries, err := f.l.InvoiceEntries(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	byNumber, err := f.l.GetInvoiceByNumber(ctx, "INV-000001")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, byNumber.ID)

	assert.Contains(t, f.events.seen(), "invoice.created")
}

func TestCreateInvoiceOverrides(t *testing.T) {
	f := newFixture(t)
	f.work(t, "case-1", 100, 10000, epoch)

	rate := types.Percent(0)
	inv, err := f.l.CreateInvoice(context.Background(), ledger.CreateInvoiceInput{
		CaseID:       "case-1",
		DueInDays:    14,
		TaxRate:      &rate,
		PaymentTerms: "Net 14",
		Notes:        "Retainer top-up",
		Actor:        "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, types.EUR(10000), inv.Total)
	assert.Equal(t, epoch.AddDate(0, 0, 14), inv.DueDate)
	assert.Equal(t, "Net 14", inv.PaymentTerms)
}

type flatTax struct{ rate types.Percent }

func (flatTax) Name() string { return "flat-tax" }

func (p flatTax) TaxRate(context.Context, string, types.Money) (types.Percent, bool, error) {
	return p.rate, true, nil
}

func TestCreateInvoiceTaxFromPlugin(t *testing.T) {
	f := newFixture(t, ledger.WithPlugin(flatTax{rate: 700}))
	f.work(t, "case-1", 100, 10000, epoch)

	inv := f.invoice(t, "case-1")
	assert.Equal(t, types.Percent(700), inv.TaxRate)
	assert.Equal(t, types.EUR(700), inv.TaxAmount)
}

func TestCreateInvoiceSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	billable := f.work(t, "case-1", 100, 10000, epoch)
	other := f.work(t, "case-2", 100, 10000, epoch)
	note, err := f.l.RecordEntry(ctx, ledger.RecordEntryInput{CaseID: "case-1", Title: "Note", Actor: "alice"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		ids     []id.EntryID
		blamed  id.EntryID
		reason  string
		wantErr error
	}{
		{"not billable", []id.EntryID{billable.ID, note.ID}, note.ID, "not billable", ledger.ErrInvalidSelection},
		{"other case", []id.EntryID{other.ID}, other.ID, "belongs to another case", ledger.ErrInvalidSelection},
		{"unknown entry", []id.EntryID{id.NewEntryID()}, id.Nil, "not found", ledger.ErrInvalidSelection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.l.CreateInvoice(ctx, ledger.CreateInvoiceInput{CaseID: "case-1", EntryIDs: tt.ids, Actor: "alice"})
			require.ErrorIs(t, err, tt.wantErr)
			var se *ledger.InvalidSelectionError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.reason, se.Reason)
			if !tt.blamed.IsNil() {
				assert.Equal(t, tt.blamed, se.EntryID)
			}
		})
	}

	got, err := f.l.GetEntry(ctx, billable.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBilled, "a rejected selection claims nothing")

	f.invoice(t, "case-1")
	_, err = f.l.CreateInvoice(ctx, ledger.CreateInvoiceInput{CaseID: "case-1", Actor: "alice"})
	require.ErrorIs(t, err, ledger.ErrEmptySelection)

	_, err = f.l.CreateInvoice(ctx, ledger.CreateInvoiceInput{CaseID: "case-1", EntryIDs: []id.EntryID{billable.ID}, Actor: "alice"})
	var se *ledger.InvalidSelectionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "already billed", se.Reason)
}

func TestConcurrentCreateInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.work(t, "case-1", 100, 10000, epoch)
	b := f.work(t, "case-1", 200, 10000, epoch)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	selections := [][]id.EntryID{{a.ID, b.ID}, {b.ID}}
	for i := range selections {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.l.CreateInvoice(ctx, ledger.CreateInvoiceInput{
				CaseID:   "case-1",
				EntryIDs: selections[i],
				Actor:    "alice",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, ledger.ErrInvalidSelection) || errors.Is(err, ledger.ErrConcurrencyConflict),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	list, err := f.l.ListInvoices(ctx, "case-1", invoice.ListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	for _, item := range list[0].LineItems {
		e, err := f.l.GetEntry(ctx, item.EntryID)
		require.NoError(t, err)
		assert.Equal(t, list[0].ID, e.InvoiceID)
	}
}

func TestCancelInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.work(t, "case-1", 350, 15000, epoch)
	inv := f.invoice(t, "case-1")

	cancelled, err := f.l.CancelInvoice(ctx, inv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	got, err := f.l.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBilled)
	assert.True(t, got.InvoiceID.IsNil())

	_, err = f.l.CancelInvoice(ctx, inv.ID, "alice")
	var se *ledger.InvalidStateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "cancelled", se.Status)

	_, err = f.pay(inv, 100)
	require.ErrorIs(t, err, ledger.ErrTerminalInvoice)

	again := f.invoice(t, "case-1")
	assert.Equal(t, "INV-000002", again.Number, "numbers are never reused")
	assert.Equal(t, inv.Total, again.Total)
	assert.Contains(t, f.events.seen(), "invoice.cancelled")
}

func TestCancelInvoiceWithPayment(t *testing.T) {
	f := newFixture(t)
	f.work(t, "case-1", 350, 15000, epoch)
	inv := f.invoice(t, "case-1")

	_, err := f.pay(inv, 10000)
	require.NoError(t, err)

	_, err = f.l.CancelInvoice(context.Background(), inv.ID, "alice")
	require.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestSendInvoiceAndOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.work(t, "case-1", 350, 15000, epoch)
	inv := f.invoice(t, "case-1")

	sent, err := f.l.SendInvoice(ctx, inv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusSent, sent.Status)

	_, err = f.l.SendInvoice(ctx, inv.ID, "alice")
	require.ErrorIs(t, err, ledger.ErrInvalidState)

	f.clock.Advance(31 * 24 * time.Hour)

	got, err := f.l.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusOverdue, got.Status, "overdue is derived at read time")

	overdue, err := f.l.ListInvoices(ctx, "case-1", invoice.ListOpts{Status: invoice.StatusOverdue})
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	n, err := f.l.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := f.store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusOverdue, stored.Status)

	_, err = f.pay(inv, 30000)
	require.NoError(t, err)
	got, err = f.l.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPartial, got.Status, "partial wins over overdue")
}

func TestBillingSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.work(t, "case-1", 350, 15000, epoch)
	b := f.work(t, "case-1", 100, 10000, epoch)
	f.work(t, "case-1", 100, 5000, epoch)

	kept := f.invoice(t, "case-1", a.ID)
	dropped := f.invoice(t, "case-1", b.ID)
	_, err := f.l.CancelInvoice(ctx, dropped.ID, "alice")
	require.NoError(t, err)
	_, err = f.pay(kept, 30000)
	require.NoError(t, err)

	s, err := f.l.BillingSummary(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Invoices)
	assert.Equal(t, types.EUR(63000), s.TotalInvoiced)
	assert.Equal(t, types.EUR(30000), s.TotalPaid)
	assert.Equal(t, types.EUR(33000), s.TotalOutstanding)
	assert.Equal(t, types.EUR(15000), s.TotalUnbilled, "released and never-billed work")
}

// ──────────────────────────────────────────────────
// Payments
// ──────────────────────────────────────────────────

func TestFullPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.work(t, "case-1", 350, 15000, epoch)
	inv := f.invoice(t, "case-1")

	p, err := f.pay(inv, 63000)
	require.NoError(t, err)
	assert.Equal(t, inv.CaseID, p.CaseID)

	got, err := f.l.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, got.Status)
	assert.True(t, got.Balance().IsZero())
	assert.Contains(t, f.events.seen(), "invoice.paid")

	_, err = f.pay(inv, 1)
	var te *ledger.TerminalInvoiceError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "paid", te.Status)
}

func TestPartialPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.work(t, "case-1", 350, 15000, epoch)
	inv := f.invoice(t, "case-1")

	_, err := f.pay(inv, 30000)
	require.NoError(t, err)
	got, err := f.l.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPartial, got.Status)

	_, err = f.pay(inv, 33000)
	require.NoError(t, err)
	got, err = f.l.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, got.Status)

	payments, err := f.l.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	sum := types.Zero("eur")
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	assert.Equal(t, got.AmountPaid, sum)
}

func TestOverpaymentLeavesInvoiceUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.work(t, "case-1", 350, 15000, epoch)
	inv := f.invoice(t, "case-1")

	_, err := f.pay(inv, 70000)
	var oe *ledger.OverpaymentError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, types.EUR(63000), oe.Balance)

	got, err := f.l.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, got.AmountPaid.IsZero())
	assert.Equal(t, invoice.StatusDraft, got.Status)

	payments, err := f.l.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRecordPaymentRejects(t *testing.T) {
	f := newFixture(t)
	f.work(t, "case-1", 100, 10000, epoch)
	inv := f.invoice(t, "case-1")

	_, err := f.pay(inv, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = f.pay(inv, -500)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.l.RecordPayment(context.Background(), ledger.RecordPaymentInput{
		InvoiceID: inv.ID,
		Amount:    types.USD(100),
		Actor:     "alice",
	})
	require.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = f.l.RecordPayment(context.Background(), ledger.RecordPaymentInput{
		InvoiceID: inv.ID,
		Amount:    types.EUR(100),
		Actor:     "bob",
	})
	require.ErrorIs(t, err, ledger.ErrPermissionDenied)
}

func TestDeletePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.work(t, "case-1", 350, 15000, epoch)
	inv := f.invoice(t, "case-1")
	_, err := f.l.SendInvoice(ctx, inv.ID, "alice")
	require.NoError(t, err)

	first, err := f.pay(inv, 30000)
	require.NoError(t, err)
	second, err := f.pay(inv, 33000)
	require.NoError(t, err)

	require.NoError(t, f.l.DeletePayment(ctx, second.ID, "alice"))
	got, err := f.l.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPartial, got.Status)
	assert.Equal(t, types.EUR(30000), got.AmountPaid)

	require.NoError(t, f.l.DeletePayment(ctx, first.ID, "alice"))
	got, err = f.l.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusSent, got.Status)
	assert.True(t, got.AmountPaid.IsZero())

	require.ErrorIs(t, f.l.DeletePayment(ctx, first.ID, "alice"), ledger.ErrPaymentNotFound)
}
