// Package audithook bridges Ledger lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexbox/ledger/document"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/payment"
	"github.com/lexbox/ledger/plugin"
	"github.com/lexbox/ledger/timeline"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin             = (*Extension)(nil)
	_ plugin.OnEntryRecorded    = (*Extension)(nil)
	_ plugin.OnEntryUpdated     = (*Extension)(nil)
	_ plugin.OnEntryDeleted     = (*Extension)(nil)
	_ plugin.OnInvoiceCreated   = (*Extension)(nil)
	_ plugin.OnInvoiceSent      = (*Extension)(nil)
	_ plugin.OnInvoicePaid      = (*Extension)(nil)
	_ plugin.OnInvoiceCancelled = (*Extension)(nil)
	_ plugin.OnOverdueSwept     = (*Extension)(nil)
	_ plugin.OnPaymentRecorded  = (*Extension)(nil)
	_ plugin.OnPaymentDeleted   = (*Extension)(nil)
	_ plugin.OnDocumentIngested = (*Extension)(nil)
	_ plugin.OnDocumentDeleted  = (*Extension)(nil)
	_ plugin.OnIntegrityFailure = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a single audit trail record.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	CaseID     string         `json:"case_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Ledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	logger   *slog.Logger

	only       map[string]bool
	skip       map[string]bool
	categories map[string]bool
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// subject identifies what an audit event is about.
type subject struct {
	resource, id, caseID, actor, category string
}

// ──────────────────────────────────────────────────
// Timeline hooks
// ──────────────────────────────────────────────────

// OnEntryRecorded implements plugin.OnEntryRecorded.
func (e *Extension) OnEntryRecorded(ctx context.Context, entry *timeline.Entry) error {
	return e.record(ctx, ActionEntryRecorded, SeverityInfo, OutcomeSuccess, entrySubject(entry, entry.CreatedBy), nil,
		"kind", entry.Kind,
		"billable", entry.IsBillable,
		"amount", entry.Amount.String(),
	)
}

// OnEntryUpdated implements plugin.OnEntryUpdated.
func (e *Extension) OnEntryUpdated(ctx context.Context, entry *timeline.Entry) error {
	return e.record(ctx, ActionEntryUpdated, SeverityInfo, OutcomeSuccess, entrySubject(entry, entry.UpdatedBy), nil,
		"amount", entry.Amount.String(),
		"version", entry.Version,
	)
}

// OnEntryDeleted implements plugin.OnEntryDeleted.
func (e *Extension) OnEntryDeleted(ctx context.Context, entryID id.EntryID) error {
	return e.record(ctx, ActionEntryDeleted, SeverityWarning, OutcomeSuccess,
		subject{resource: ResourceEntry, id: entryID.String(), category: CategoryTimeline}, nil,
	)
}

func entrySubject(entry *timeline.Entry, actor string) subject {
	return subject{
		resource: ResourceEntry,
		id:       entry.ID.String(),
		caseID:   entry.CaseID,
		actor:    actor,
		category: CategoryTimeline,
	}
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceCreated implements plugin.OnInvoiceCreated.
func (e *Extension) OnInvoiceCreated(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoiceCreated, SeverityInfo, OutcomeSuccess, invoiceSubject(inv, inv.CreatedBy), nil,
		"number", inv.Number,
		"entries", len(inv.LineItems),
		"total", inv.Total.String(),
	)
}

// OnInvoiceSent implements plugin.OnInvoiceSent.
func (e *Extension) OnInvoiceSent(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoiceSent, SeverityInfo, OutcomeSuccess, invoiceSubject(inv, inv.UpdatedBy), nil,
		"number", inv.Number,
		"due_date", inv.DueDate.Format(time.DateOnly),
	)
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (e *Extension) OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoicePaid, SeverityInfo, OutcomeSuccess, invoiceSubject(inv, inv.UpdatedBy), nil,
		"number", inv.Number,
		"total", inv.Total.String(),
	)
}

// OnInvoiceCancelled implements plugin.OnInvoiceCancelled.
func (e *Extension) OnInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, released int64) error {
	return e.record(ctx, ActionInvoiceCancelled, SeverityWarning, OutcomeSuccess, invoiceSubject(inv, inv.UpdatedBy), nil,
		"number", inv.Number,
		"released_entries", released,
	)
}

// OnOverdueSwept implements plugin.OnOverdueSwept. Empty sweeps are not
// recorded.
func (e *Extension) OnOverdueSwept(ctx context.Context, count int64, elapsed time.Duration) error {
	if count == 0 {
		return nil
	}
	return e.record(ctx, ActionOverdueSwept, SeverityInfo, OutcomeSuccess,
		subject{resource: ResourceInvoice, category: CategoryBilling}, nil,
		"count", count,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

func invoiceSubject(inv *invoice.Invoice, actor string) subject {
	return subject{
		resource: ResourceInvoice,
		id:       inv.ID.String(),
		caseID:   inv.CaseID,
		actor:    actor,
		category: CategoryBilling,
	}
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentRecorded implements plugin.OnPaymentRecorded.
func (e *Extension) OnPaymentRecorded(ctx context.Context, p *payment.Payment, inv *invoice.Invoice) error {
	return e.record(ctx, ActionPaymentRecorded, SeverityInfo, OutcomeSuccess, paymentSubject(p, p.CreatedBy), nil,
		"invoice_id", inv.ID.String(),
		"amount", p.Amount.String(),
		"method", p.Method,
		"invoice_status", inv.Status,
	)
}

// OnPaymentDeleted implements plugin.OnPaymentDeleted.
func (e *Extension) OnPaymentDeleted(ctx context.Context, p *payment.Payment, inv *invoice.Invoice) error {
	return e.record(ctx, ActionPaymentDeleted, SeverityWarning, OutcomeSuccess, paymentSubject(p, inv.UpdatedBy), nil,
		"invoice_id", inv.ID.String(),
		"amount", p.Amount.String(),
		"invoice_status", inv.Status,
	)
}

func paymentSubject(p *payment.Payment, actor string) subject {
	return subject{
		resource: ResourcePayment,
		id:       p.ID.String(),
		caseID:   p.CaseID,
		actor:    actor,
		category: CategoryPayment,
	}
}

// ──────────────────────────────────────────────────
// Vault hooks
// ──────────────────────────────────────────────────

// OnDocumentIngested implements plugin.OnDocumentIngested.
func (e *Extension) OnDocumentIngested(ctx context.Context, d *document.Document) error {
	return e.record(ctx, ActionDocumentIngested, SeverityInfo, OutcomeSuccess, documentSubject(d, d.UploadedBy), nil,
		"name", d.OriginalName,
		"mime_type", d.MimeType,
		"size", d.Size,
		"encryption", d.Encryption,
	)
}

// OnDocumentDeleted implements plugin.OnDocumentDeleted.
func (e *Extension) OnDocumentDeleted(ctx context.Context, d *document.Document) error {
	return e.record(ctx, ActionDocumentDeleted, SeverityWarning, OutcomeSuccess, documentSubject(d, d.UpdatedBy), nil,
		"name", d.OriginalName,
	)
}

// OnIntegrityFailure implements plugin.OnIntegrityFailure.
func (e *Extension) OnIntegrityFailure(ctx context.Context, documentID id.DocumentID, cause error) error {
	return e.record(ctx, ActionIntegrityFailure, SeverityCritical, OutcomeFailure,
		subject{resource: ResourceDocument, id: documentID.String(), category: CategoryVault}, cause,
	)
}

func documentSubject(d *document.Document, actor string) subject {
	return subject{
		resource: ResourceDocument,
		id:       d.ID.String(),
		caseID:   d.CaseID,
		actor:    actor,
		category: CategoryVault,
	}
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event unless it is filtered out.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	s subject,
	err error,
	kvPairs ...any,
) error {
	if !e.audits(action, s.category) {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   s.resource,
		Category:   s.category,
		ResourceID: s.id,
		CaseID:     s.caseID,
		Actor:      s.actor,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", s.id,
			"error", recErr,
		)
	}
	return nil
}
