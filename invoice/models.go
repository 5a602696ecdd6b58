package invoice

import (
	"fmt"
	"time"

	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/types"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// DefaultDueDays is the payment window when an invoice does not name one.
const DefaultDueDays = 30

type Invoice struct {
	types.Entity
	ID           id.InvoiceID  `json:"id"`
	CaseID       string        `json:"case_id"`
	Number       string        `json:"number"`
	IssueDate    time.Time     `json:"issue_date"`
	DueDate      time.Time     `json:"due_date"`
	Subtotal     types.Money   `json:"subtotal"`
	TaxRate      types.Percent `json:"tax_rate"`
	TaxAmount    types.Money   `json:"tax_amount"`
	Total        types.Money   `json:"total"`
	AmountPaid   types.Money   `json:"amount_paid"`
	Status       Status        `json:"status"`
	SentAt       *time.Time    `json:"sent_at,omitempty"`
	CancelledAt  *time.Time    `json:"cancelled_at,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	PaymentTerms string        `json:"payment_terms,omitempty"`
	LineItems    []LineItem    `json:"line_items"`
	CreatedBy    string        `json:"created_by"`
	UpdatedBy    string        `json:"updated_by,omitempty"`
	Version      int64         `json:"version"`
}

// LineItem is the snapshot of a claimed timeline entry taken when the
// invoice was created.
type LineItem struct {
	EntryID      id.EntryID  `json:"entry_id"`
	Title        string      `json:"title"`
	ActivityDate time.Time   `json:"activity_date"`
	Hours        types.Hours `json:"hours"`
	Rate         types.Money `json:"rate"`
	Amount       types.Money `json:"amount"`
}

// FormatNumber renders a reserved sequence value as an invoice number.
func FormatNumber(seq int64) string {
	return fmt.Sprintf("INV-%06d", seq)
}

// DefaultTerms is the payment terms text for a due window.
func DefaultTerms(days int) string {
	return fmt.Sprintf("Payment due within %d days", days)
}

// Balance is the amount still owed.
func (inv *Invoice) Balance() types.Money {
	return inv.Total.Subtract(inv.AmountPaid)
}

// IsPaid reports whether the invoice is settled in full.
func (inv *Invoice) IsPaid() bool {
	return inv.Status == StatusPaid
}

// Cancellable reports whether the invoice may still be cancelled.
func (inv *Invoice) Cancellable() bool {
	switch inv.Status {
	case StatusDraft, StatusSent, StatusOverdue:
		return inv.AmountPaid.IsZero()
	default:
		return false
	}
}

// AcceptsPayments reports whether payments may still be recorded.
func (inv *Invoice) AcceptsPayments() bool {
	return inv.Status != StatusCancelled && inv.Status != StatusPaid
}

// Refresh re-derives the status as of now.
func (inv *Invoice) Refresh(now time.Time) {
	inv.Status = DeriveStatus(inv.AmountPaid, inv.Total, inv.DueDate,
		inv.SentAt != nil, inv.Status == StatusCancelled, now)
}

// DeriveStatus computes an invoice status from its payment state. The rules
// apply in order:
//
//	cancelled                  -> cancelled
//	paid > 0 and paid == total -> paid
//	0 < paid < total           -> partial
//	sent and now past due date -> overdue
//	sent                       -> sent
//	otherwise                  -> draft
func DeriveStatus(paid, total types.Money, due time.Time, sent, cancelled bool, now time.Time) Status {
	switch {
	case cancelled:
		return StatusCancelled
	case paid.IsPositive() && paid.Equal(total):
		return StatusPaid
	case paid.IsPositive() && paid.LessThan(total):
		return StatusPartial
	case sent && now.After(due):
		return StatusOverdue
	case sent:
		return StatusSent
	default:
		return StatusDraft
	}
}
