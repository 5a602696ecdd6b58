// Package timeline defines the case activity timeline: every recorded
// event of a case, a subset of which is billable work that invoices claim.
package timeline

import (
	"time"

	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/types"
)

// Kind classifies a timeline entry.
type Kind string

const (
	KindRegistration        Kind = "registration"
	KindLegalClassification Kind = "legal_classification"
	KindActivity            Kind = "activity"
	KindDocument            Kind = "document"
	KindMilestone           Kind = "milestone"
	KindBillingEvent        Kind = "billing_event"
)

// ActivityType narrows KindActivity entries.
type ActivityType string

const (
	ActivityConsultation   ActivityType = "consultation"
	ActivityCourtHearing   ActivityType = "court_hearing"
	ActivityDocumentFiling ActivityType = "document_filing"
	ActivityPhoneCall      ActivityType = "phone_call"
	ActivityEmail          ActivityType = "email"
	ActivityMeeting        ActivityType = "meeting"
	ActivityResearch       ActivityType = "research"
	ActivityDrafting       ActivityType = "drafting"
	ActivityReview         ActivityType = "review"
	ActivityNegotiation    ActivityType = "negotiation"
	ActivityOther          ActivityType = "other"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Entry is one timeline record. Billable entries carry hours, an hourly
// rate and the resulting amount; once an invoice claims an entry its
// monetary fields are frozen until the invoice is cancelled.
type Entry struct {
	types.Entity
	ID               id.EntryID        `json:"id"`
	CaseID           string            `json:"case_id"`
	Kind             Kind              `json:"kind"`
	Title            string            `json:"title"`
	Description      string            `json:"description,omitempty"`
	ActivityType     ActivityType      `json:"activity_type,omitempty"`
	Status           Status            `json:"status"`
	Priority         Priority          `json:"priority"`
	ActivityDate     time.Time         `json:"activity_date"`
	Hours            types.Hours       `json:"hours"`
	Rate             types.Money       `json:"rate"`
	Amount           types.Money       `json:"amount"`
	AmountOverridden bool              `json:"amount_overridden,omitempty"`
	IsBillable       bool              `json:"is_billable"`
	IsBilled         bool              `json:"is_billed"`
	InvoiceID        id.InvoiceID      `json:"invoice_id,omitzero"`
	DocumentID       id.DocumentID     `json:"document_id,omitzero"`
	CreatedBy        string            `json:"created_by"`
	UpdatedBy        string            `json:"updated_by,omitempty"`
	Version          int64             `json:"version"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Claimable reports whether an invoice may claim the entry.
func (e *Entry) Claimable() bool {
	return e.IsBillable && !e.IsBilled
}

// Color returns the presentation color of the entry's kind.
func (e *Entry) Color() string { return DefaultColor(e.Kind) }

// DefaultColor maps a kind to the color the timeline view uses for it.
func DefaultColor(k Kind) string {
	switch k {
	case KindRegistration:
		return "blue"
	case KindLegalClassification:
		return "purple"
	case KindActivity:
		return "green"
	case KindDocument:
		return "yellow"
	case KindMilestone:
		return "orange"
	case KindBillingEvent:
		return "red"
	default:
		return "gray"
	}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title        *string
	Description  *string
	Kind         *Kind
	ActivityType *ActivityType
	Status       *Status
	Priority     *Priority
	ActivityDate *time.Time
	Hours        *types.Hours
	Rate         *types.Money
	Amount       *types.Money
	IsBillable   *bool
	Metadata     map[string]string
}

// TouchesBilling reports whether the patch changes a monetary field.
// It returns the name of the first such field.
func (p Patch) TouchesBilling() (string, bool) {
	switch {
	case p.Hours != nil:
		return "hours", true
	case p.Rate != nil:
		return "rate", true
	case p.Amount != nil:
		return "amount", true
	case p.IsBillable != nil:
		return "is_billable", true
	default:
		return "", false
	}
}

// Cursor is a keyset position in the (activity date, id) ordering.
type Cursor struct {
	ActivityDate time.Time
	ID           id.EntryID
}

// After reports whether e sorts strictly after c.
func (c Cursor) After(e *Entry) bool {
	if !e.ActivityDate.Equal(c.ActivityDate) {
		return e.ActivityDate.After(c.ActivityDate)
	}
	return e.ID.String() > c.ID.String()
}

// Totals summarizes the monetary state of a case's timeline.
type Totals struct {
	Entries        int         `json:"entries"`
	BillableHours  types.Hours `json:"billable_hours"`
	BillableAmount types.Money `json:"billable_amount"`
	UnbilledAmount types.Money `json:"unbilled_amount"`
	BilledAmount   types.Money `json:"billed_amount"`
}

// Activity summarizes the entries one user recorded since a point in time.
type Activity struct {
	Actor          string               `json:"actor"`
	Since          time.Time            `json:"since"`
	Entries        int                  `json:"entries"`
	Cases          int                  `json:"cases"`
	ByKind         map[Kind]int         `json:"by_kind"`
	ByActivityType map[ActivityType]int `json:"by_activity_type,omitempty"`
	Hours          types.Hours          `json:"hours"`
	BillableHours  types.Hours          `json:"billable_hours"`
	BillableAmount types.Money          `json:"billable_amount"`
	BilledAmount   types.Money          `json:"billed_amount"`
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRegistration, KindLegalClassification, KindActivity,
		KindDocument, KindMilestone, KindBillingEvent:
		return true
	}
	return false
}

// Valid reports whether t is empty or a known activity type.
func (t ActivityType) Valid() bool {
	switch t {
	case "", ActivityConsultation, ActivityCourtHearing, ActivityDocumentFiling,
		ActivityPhoneCall, ActivityEmail, ActivityMeeting, ActivityResearch,
		ActivityDrafting, ActivityReview, ActivityNegotiation, ActivityOther:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
