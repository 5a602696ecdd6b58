// Package observability provides a metrics extension for Ledger that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/lexbox/ledger/document"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/payment"
	"github.com/lexbox/ledger/plugin"
	"github.com/lexbox/ledger/timeline"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin             = (*MetricsExtension)(nil)
	_ plugin.OnEntryRecorded    = (*MetricsExtension)(nil)
	_ plugin.OnEntryDeleted     = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceCreated   = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceSent      = (*MetricsExtension)(nil)
	_ plugin.OnInvoicePaid      = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceCancelled = (*MetricsExtension)(nil)
	_ plugin.OnOverdueSwept     = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRecorded  = (*MetricsExtension)(nil)
	_ plugin.OnPaymentDeleted   = (*MetricsExtension)(nil)
	_ plugin.OnDocumentIngested = (*MetricsExtension)(nil)
	_ plugin.OnDocumentDeleted  = (*MetricsExtension)(nil)
	_ plugin.OnIntegrityFailure = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Ledger plugin to track billing and vault activity.
type MetricsExtension struct {
	// Timeline metrics
	EntryRecorded    Counter
	EntryDeleted     Counter
	BillableRecorded Counter
	BillableHours    Histogram

	// Invoice metrics
	InvoiceCreated   Counter
	InvoiceSent      Counter
	InvoicePaid      Counter
	InvoiceCancelled Counter
	InvoiceTotal     Histogram
	EntriesReleased  Counter
	OverdueMarked    Counter
	SweepLatency     Histogram

	// Payment metrics
	PaymentRecorded Counter
	PaymentDeleted  Counter
	PaymentAmount   Histogram

	// Vault metrics
	DocumentIngested  Counter
	DocumentDeleted   Counter
	DocumentSize      Histogram
	IntegrityFailures Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		// Timeline metrics
		EntryRecorded:    factory.Counter("ledger.entry.recorded"),
		EntryDeleted:     factory.Counter("ledger.entry.deleted"),
		BillableRecorded: factory.Counter("ledger.entry.billable"),
		BillableHours:    factory.Histogram("ledger.entry.hours"),

		// Invoice metrics
		InvoiceCreated:   factory.Counter("ledger.invoice.created"),
		InvoiceSent:      factory.Counter("ledger.invoice.sent"),
		InvoicePaid:      factory.Counter("ledger.invoice.paid"),
		InvoiceCancelled: factory.Counter("ledger.invoice.cancelled"),
		InvoiceTotal:     factory.Histogram("ledger.invoice.total_amount"),
		EntriesReleased:  factory.Counter("ledger.invoice.entries_released"),
		OverdueMarked:    factory.Counter("ledger.invoice.overdue_marked"),
		SweepLatency:     factory.Histogram("ledger.invoice.sweep.latency_ms"),

		// Payment metrics
		PaymentRecorded: factory.Counter("ledger.payment.recorded"),
		PaymentDeleted:  factory.Counter("ledger.payment.deleted"),
		PaymentAmount:   factory.Histogram("ledger.payment.amount"),

		// Vault metrics
		DocumentIngested:  factory.Counter("ledger.document.ingested"),
		DocumentDeleted:   factory.Counter("ledger.document.deleted"),
		DocumentSize:      factory.Histogram("ledger.document.size_bytes"),
		IntegrityFailures: factory.Counter("ledger.document.integrity_failures"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Timeline hooks
// ──────────────────────────────────────────────────

// OnEntryRecorded implements plugin.OnEntryRecorded.
func (m *MetricsExtension) OnEntryRecorded(_ context.Context, e *timeline.Entry) error {
	m.EntryRecorded.Inc()
	if e.IsBillable {
		m.BillableRecorded.Inc()
		m.BillableHours.Observe(float64(e.Hours) / 100)
	}
	return nil
}

// OnEntryDeleted implements plugin.OnEntryDeleted.
func (m *MetricsExtension) OnEntryDeleted(_ context.Context, _ id.EntryID) error {
	m.EntryDeleted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceCreated implements plugin.OnInvoiceCreated. Totals are observed
// in major units.
func (m *MetricsExtension) OnInvoiceCreated(_ context.Context, inv *invoice.Invoice) error {
	m.InvoiceCreated.Inc()
	m.InvoiceTotal.Observe(float64(inv.Total.Amount) / 100)
	return nil
}

// OnInvoiceSent implements plugin.OnInvoiceSent.
func (m *MetricsExtension) OnInvoiceSent(_ context.Context, _ *invoice.Invoice) error {
	m.InvoiceSent.Inc()
	return nil
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (m *MetricsExtension) OnInvoicePaid(_ context.Context, _ *invoice.Invoice) error {
	m.InvoicePaid.Inc()
	return nil
}

// OnInvoiceCancelled implements plugin.OnInvoiceCancelled.
func (m *MetricsExtension) OnInvoiceCancelled(_ context.Context, _ *invoice.Invoice, released int64) error {
	m.InvoiceCancelled.Inc()
	m.EntriesReleased.Add(float64(released))
	return nil
}

// OnOverdueSwept implements plugin.OnOverdueSwept.
func (m *MetricsExtension) OnOverdueSwept(_ context.Context, count int64, elapsed time.Duration) error {
	m.OverdueMarked.Add(float64(count))
	m.SweepLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentRecorded implements plugin.OnPaymentRecorded.
func (m *MetricsExtension) OnPaymentRecorded(_ context.Context, p *payment.Payment, _ *invoice.Invoice) error {
	m.PaymentRecorded.Inc()
	m.PaymentAmount.Observe(float64(p.Amount.Amount) / 100)
	return nil
}

// OnPaymentDeleted implements plugin.OnPaymentDeleted.
func (m *MetricsExtension) OnPaymentDeleted(_ context.Context, _ *payment.Payment, _ *invoice.Invoice) error {
	m.PaymentDeleted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Vault hooks
// ──────────────────────────────────────────────────

// OnDocumentIngested implements plugin.OnDocumentIngested.
func (m *MetricsExtension) OnDocumentIngested(_ context.Context, d *document.Document) error {
	m.DocumentIngested.Inc()
	m.DocumentSize.Observe(float64(d.PlainSize))
	return nil
}

// OnDocumentDeleted implements plugin.OnDocumentDeleted.
func (m *MetricsExtension) OnDocumentDeleted(_ context.Context, _ *document.Document) error {
	m.DocumentDeleted.Inc()
	return nil
}

// OnIntegrityFailure implements plugin.OnIntegrityFailure.
func (m *MetricsExtension) OnIntegrityFailure(_ context.Context, _ id.DocumentID, _ error) error {
	m.IntegrityFailures.Inc()
	return nil
}
