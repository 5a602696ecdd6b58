// Package plugin provides an extensible plugin system for Ledger.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"

	"github.com/lexbox/ledger/document"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/payment"
	"github.com/lexbox/ledger/timeline"
	"github.com/lexbox/ledger/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Timeline hooks
// ──────────────────────────────────────────────────

// OnEntryRecorded is called after a timeline entry is committed.
type OnEntryRecorded interface {
	Plugin
	OnEntryRecorded(ctx context.Context, e *timeline.Entry) error
}

// OnEntryUpdated is called after a timeline entry update is committed.
type OnEntryUpdated interface {
	Plugin
	OnEntryUpdated(ctx context.Context, e *timeline.Entry) error
}

// OnEntryDeleted is called after a timeline entry is deleted.
type OnEntryDeleted interface {
	Plugin
	OnEntryDeleted(ctx context.Context, entryID id.EntryID) error
}

// ──────────────────────────────────────────────────
// Invoice lifecycle hooks
// ──────────────────────────────────────────────────

// OnInvoiceCreated is called when an invoice has claimed its entries.
type OnInvoiceCreated interface {
	Plugin
	OnInvoiceCreated(ctx context.Context, inv *invoice.Invoice) error
}

// OnInvoiceSent is called when a draft invoice is sent.
type OnInvoiceSent interface {
	Plugin
	OnInvoiceSent(ctx context.Context, inv *invoice.Invoice) error
}

// OnInvoiceCancelled is called when an invoice is cancelled and its
// entries released.
type OnInvoiceCancelled interface {
	Plugin
	OnInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, released int64) error
}

// OnInvoicePaid is called when a payment settles an invoice in full.
type OnInvoicePaid interface {
	Plugin
	OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error
}

// OnOverdueSwept is called after each overdue sweep.
type OnOverdueSwept interface {
	Plugin
	OnOverdueSwept(ctx context.Context, count int64, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentRecorded is called after a payment is committed. inv reflects
// the invoice after the payment.
type OnPaymentRecorded interface {
	Plugin
	OnPaymentRecorded(ctx context.Context, p *payment.Payment, inv *invoice.Invoice) error
}

// OnPaymentDeleted is called after a payment is removed. inv reflects the
// invoice after the removal.
type OnPaymentDeleted interface {
	Plugin
	OnPaymentDeleted(ctx context.Context, p *payment.Payment, inv *invoice.Invoice) error
}

// ──────────────────────────────────────────────────
// Vault hooks
// ──────────────────────────────────────────────────

// OnDocumentIngested is called after a document row and its object are
// both durable.
type OnDocumentIngested interface {
	Plugin
	OnDocumentIngested(ctx context.Context, d *document.Document) error
}

// OnDocumentDeleted is called after a document row is deleted.
type OnDocumentDeleted interface {
	Plugin
	OnDocumentDeleted(ctx context.Context, d *document.Document) error
}

// OnIntegrityFailure is called when a stored document fails verification.
type OnIntegrityFailure interface {
	Plugin
	OnIntegrityFailure(ctx context.Context, documentID id.DocumentID, err error) error
}

// ──────────────────────────────────────────────────
// Tax rates
// ──────────────────────────────────────────────────

// TaxRateProvider overrides the configured tax rate for a case. ok=false
// falls through to the next provider and finally to the engine default.
type TaxRateProvider interface {
	Plugin
	TaxRate(ctx context.Context, caseID string, subtotal types.Money) (rate types.Percent, ok bool, err error)
}
