package ledger

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/lexbox/ledger/directory"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/timeline"
	"github.com/lexbox/ledger/types"
)

// RecordEntryInput describes a new timeline entry.
type RecordEntryInput struct {
	CaseID       string                `json:"case_id" validate:"required,max=64"`
	Kind         timeline.Kind         `json:"kind"`
	Title        string                `json:"title" validate:"required,max=255"`
	Description  string                `json:"description" validate:"max=10000"`
	ActivityType timeline.ActivityType `json:"activity_type"`
	Status       timeline.Status       `json:"status"`
	Priority     timeline.Priority     `json:"priority"`
	ActivityDate time.Time             `json:"activity_date"`
	Hours        types.Hours           `json:"hours" validate:"gte=0,lte=99999"`
	Rate         types.Money           `json:"rate"`
	// Amount overrides the computed billing amount when set.
	Amount     *types.Money      `json:"amount"`
	IsBillable bool              `json:"is_billable"`
	DocumentID id.DocumentID     `json:"document_id"`
	Metadata   map[string]string `json:"metadata"`
	Actor      string            `json:"actor" validate:"required"`
}

// ──────────────────────────────────────────────────
// Timeline Entries
// ──────────────────────────────────────────────────

// RecordEntry adds an entry to a case timeline. Billable entries are
// charged hours × rate unless an explicit amount is given; non-billable
// entries carry no amount.
func (l *Ledger) RecordEntry(ctx context.Context, in RecordEntryInput) (*timeline.Entry, error) {
	if err := l.check(in); err != nil {
		return nil, err
	}
	if err := l.authorize(ctx, in.Actor, directory.CapTimelineCreate); err != nil {
		return nil, err
	}
	if err := l.requireCase(ctx, in.CaseID); err != nil {
		return nil, err
	}

	e := l.newEntry(in)
	if err := l.validateEntry(e); err != nil {
		return nil, err
	}
	if err := l.store.CreateEntry(ctx, e); err != nil {
		return nil, err
	}

	l.logger.Debug("timeline entry recorded",
		"entry_id", e.ID,
		"case_id", e.CaseID,
		"kind", e.Kind,
		"billable", e.IsBillable,
	)
	l.plugins.EmitEntryRecorded(ctx, e)
	return e, nil
}

func (l *Ledger) newEntry(in RecordEntryInput) *timeline.Entry {
	now := l.now()
	e := &timeline.Entry{
		Entity:       types.Stamp(now),
		ID:           id.NewEntryID(),
		CaseID:       in.CaseID,
		Kind:         in.Kind,
		Title:        in.Title,
		Description:  in.Description,
		ActivityType: in.ActivityType,
		Status:       in.Status,
		Priority:     in.Priority,
		ActivityDate: in.ActivityDate.UTC(),
		Hours:        in.Hours,
		Rate:         l.money(in.Rate),
		IsBillable:   in.IsBillable,
		DocumentID:   in.DocumentID,
		CreatedBy:    in.Actor,
		Metadata:     in.Metadata,
	}
	if e.Kind == "" {
		e.Kind = timeline.KindActivity
	}
	if e.Status == "" {
		e.Status = timeline.StatusCompleted
	}
	if e.Priority == "" {
		e.Priority = timeline.PriorityMedium
	}
	if in.ActivityDate.IsZero() {
		e.ActivityDate = now
	}
	if in.Amount != nil {
		e.Amount = l.money(*in.Amount)
		e.AmountOverridden = true
	}
	reprice(e)
	return e
}

// money fills in the engine currency on values that carry none.
func (l *Ledger) money(m types.Money) types.Money {
	if m.Currency == "" {
		m.Currency = l.currency
	}
	return m
}

// reprice restores the amount rules after any change to the monetary
// fields of an entry.
func reprice(e *timeline.Entry) {
	switch {
	case !e.IsBillable:
		e.Amount = types.Zero(e.Rate.Currency)
		e.AmountOverridden = false
	case !e.AmountOverridden:
		e.Amount = types.BillingAmount(e.Hours, e.Rate)
	}
}

func (l *Ledger) validateEntry(e *timeline.Entry) error {
	switch {
	case !e.Kind.Valid():
		return ValidationError{Field: "kind", Message: "unknown kind " + string(e.Kind)}
	case !e.ActivityType.Valid():
		return ValidationError{Field: "activity_type", Message: "unknown activity type " + string(e.ActivityType)}
	case !e.Status.Valid():
		return ValidationError{Field: "status", Message: "unknown status " + string(e.Status)}
	case !e.Priority.Valid():
		return ValidationError{Field: "priority", Message: "unknown priority " + string(e.Priority)}
	case !e.Hours.Valid():
		return ValidationError{Field: "hours", Message: "must be between 0 and " + types.MaxHours.String()}
	case e.Rate.IsNegative():
		return ValidationError{Field: "rate", Message: "must not be negative"}
	case e.Amount.IsNegative():
		return ValidationError{Field: "amount", Message: "must not be negative"}
	case e.Amount.Currency != e.Rate.Currency:
		return ValidationError{Field: "amount", Message: "currency must match the rate"}
	case e.Title == "":
		return ValidationError{Field: "title", Message: "is required"}
	}
	return nil
}

// GetEntry retrieves a timeline entry by ID.
func (l *Ledger) GetEntry(ctx context.Context, entryID id.EntryID) (*timeline.Entry, error) {
	return l.store.GetEntry(ctx, entryID)
}

// ListEntries lists the entries of a case in timeline order.
func (l *Ledger) ListEntries(ctx context.Context, caseID string, opts timeline.ListOpts) ([]*timeline.Entry, error) {
	return l.store.ListEntries(ctx, caseID, opts)
}

// UpdateEntry applies a partial update. Billed entries reject changes to
// hours, rate, amount and billability. A change to hours or rate reprices
// the entry unless the same patch sets an explicit amount.
func (l *Ledger) UpdateEntry(ctx context.Context, entryID id.EntryID, patch timeline.Patch, actor string) (*timeline.Entry, error) {
	if err := l.authorize(ctx, actor, directory.CapTimelineUpdate); err != nil {
		return nil, err
	}

	e, err := retry(ctx, l, "update_entry", func() (*timeline.Entry, error) {
		e, err := l.store.GetEntry(ctx, entryID)
		if err != nil {
			return nil, err
		}
		if field, touches := patch.TouchesBilling(); touches && e.IsBilled {
			return nil, &ImmutableEntryError{EntryID: e.ID, Field: field}
		}

		l.applyPatch(e, patch)
		if err := l.validateEntry(e); err != nil {
			return nil, err
		}
		e.UpdatedBy = actor
		e.Touch(l.now())

		if err := l.store.UpdateEntry(ctx, e); err != nil {
			return nil, err
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}

	l.plugins.EmitEntryUpdated(ctx, e)
	return e, nil
}

func (l *Ledger) applyPatch(e *timeline.Entry, p timeline.Patch) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Kind != nil {
		e.Kind = *p.Kind
	}
	if p.ActivityType != nil {
		e.ActivityType = *p.ActivityType
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Priority != nil {
		e.Priority = *p.Priority
	}
	if p.ActivityDate != nil {
		e.ActivityDate = p.ActivityDate.UTC()
	}
	if p.Metadata != nil {
		e.Metadata = p.Metadata
	}

	if p.Hours != nil {
		e.Hours = *p.Hours
		e.AmountOverridden = false
	}
	if p.Rate != nil {
		e.Rate = l.money(*p.Rate)
		e.AmountOverridden = false
	}
	if p.IsBillable != nil {
		e.IsBillable = *p.IsBillable
	}
	if p.Amount != nil {
		e.Amount = l.money(*p.Amount)
		e.AmountOverridden = true
	}
	reprice(e)
}

// DeleteEntry removes an unbilled entry. Billed entries are kept for the
// invoice that claimed them.
func (l *Ledger) DeleteEntry(ctx context.Context, entryID id.EntryID, actor string) error {
	if err := l.authorize(ctx, actor, directory.CapTimelineDelete); err != nil {
		return err
	}

	_, err := retry(ctx, l, "delete_entry", func() (struct{}, error) {
		e, err := l.store.GetEntry(ctx, entryID)
		if err != nil {
			return struct{}{}, err
		}
		if e.IsBilled {
			return struct{}{}, &ImmutableEntryError{EntryID: e.ID}
		}
		return struct{}{}, l.store.DeleteEntry(ctx, entryID)
	})
	if err != nil {
		return err
	}

	l.plugins.EmitEntryDeleted(ctx, entryID)
	return nil
}

// ListUnbilled yields the billable, unbilled entries of a case oldest
// first, reading one page at a time. Ranging over the sequence again
// starts a fresh scan.
func (l *Ledger) ListUnbilled(ctx context.Context, caseID string) iter.Seq2[*timeline.Entry, error] {
	return func(yield func(*timeline.Entry, error) bool) {
		var after *timeline.Cursor
		for {
			page, err := l.store.ListUnbilledEntries(ctx, caseID, after, l.pageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < l.pageSize {
				return
			}
			last := page[len(page)-1]
			after = &timeline.Cursor{ActivityDate: last.ActivityDate, ID: last.ID}
		}
	}
}

// CaseTotals sums hours and amounts over a case timeline.
func (l *Ledger) CaseTotals(ctx context.Context, caseID string) (*timeline.Totals, error) {
	t := &timeline.Totals{
		BillableAmount: types.Zero(l.currency),
		UnbilledAmount: types.Zero(l.currency),
		BilledAmount:   types.Zero(l.currency),
	}

	for e, err := range l.scanEntries(ctx, caseID) {
		if err != nil {
			return nil, err
		}
		t.Entries++
		if !e.IsBillable {
			continue
		}
		if e.Amount.Currency != l.currency {
			l.logger.Warn("skipping entry in foreign currency",
				"entry_id", e.ID,
				"currency", e.Amount.Currency,
			)
			continue
		}
		t.BillableHours += e.Hours
		t.BillableAmount = t.BillableAmount.Add(e.Amount)
		if e.IsBilled {
			t.BilledAmount = t.BilledAmount.Add(e.Amount)
		} else {
			t.UnbilledAmount = t.UnbilledAmount.Add(e.Amount)
		}
	}
	return t, nil
}

// DefaultActivityWindow is how far back UserActivity looks when since is zero.
const DefaultActivityWindow = 30 * 24 * time.Hour

// UserActivity summarizes the entries userID recorded across all cases with
// an activity date at or after since. A zero since covers the last
// DefaultActivityWindow.
func (l *Ledger) UserActivity(ctx context.Context, userID string, since time.Time) (*timeline.Activity, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "is required"}
	}
	if since.IsZero() {
		since = l.now().Add(-DefaultActivityWindow)
	}

	a := &timeline.Activity{
		Actor:          userID,
		Since:          since,
		ByKind:         make(map[timeline.Kind]int),
		ByActivityType: make(map[timeline.ActivityType]int),
		BillableAmount: types.Zero(l.currency),
		BilledAmount:   types.Zero(l.currency),
	}
	cases := make(map[string]struct{})

	var after *timeline.Cursor
	for {
		page, err := l.store.ListEntriesByCreator(ctx, userID, since, after, l.pageSize)
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			a.Entries++
			a.ByKind[e.Kind]++
			if e.ActivityType != "" {
				a.ByActivityType[e.ActivityType]++
			}
			cases[e.CaseID] = struct{}{}
			a.Hours += e.Hours
			if !e.IsBillable {
				continue
			}
			if e.Amount.Currency != l.currency {
				l.logger.Warn("skipping entry in foreign currency",
					"entry_id", e.ID,
					"currency", e.Amount.Currency,
				)
				continue
			}
			a.BillableHours += e.Hours
			a.BillableAmount = a.BillableAmount.Add(e.Amount)
			if e.IsBilled {
				a.BilledAmount = a.BilledAmount.Add(e.Amount)
			}
		}
		if len(page) < l.pageSize {
			break
		}
		last := page[len(page)-1]
		after = &timeline.Cursor{ActivityDate: last.ActivityDate, ID: last.ID}
	}
	a.Cases = len(cases)
	return a, nil
}

// scanEntries pages through every entry of a case.
func (l *Ledger) scanEntries(ctx context.Context, caseID string) iter.Seq2[*timeline.Entry, error] {
	return func(yield func(*timeline.Entry, error) bool) {
		for offset := 0; ; offset += l.pageSize {
			page, err := l.store.ListEntries(ctx, caseID, timeline.ListOpts{Limit: l.pageSize, Offset: offset})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < l.pageSize {
				return
			}
		}
	}
}

// unbilledTotal sums ListUnbilled in the engine currency.
func (l *Ledger) unbilledTotal(ctx context.Context, caseID string) (types.Money, error) {
	total := types.Zero(l.currency)
	for e, err := range l.ListUnbilled(ctx, caseID) {
		if err != nil {
			return types.Money{}, err
		}
		if e.Amount.Currency != l.currency {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total, nil
}

func isEntryGone(err error) bool {
	return errors.Is(err, ErrEntryNotFound)
}
