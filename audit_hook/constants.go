package audithook

// Action constants for audit events.
const (
	// Timeline actions
	ActionEntryRecorded = "entry.recorded"
	ActionEntryUpdated  = "entry.updated"
	ActionEntryDeleted  = "entry.deleted"

	// Invoice actions
	ActionInvoiceCreated   = "invoice.created"
	ActionInvoiceSent      = "invoice.sent"
	ActionInvoicePaid      = "invoice.paid"
	ActionInvoiceCancelled = "invoice.cancelled"
	ActionOverdueSwept     = "invoice.overdue_swept"

	// Payment actions
	ActionPaymentRecorded = "payment.recorded"
	ActionPaymentDeleted  = "payment.deleted"

	// Document actions
	ActionDocumentIngested = "document.ingested"
	ActionDocumentDeleted  = "document.deleted"
	ActionIntegrityFailure = "document.integrity_failure"
)

// Resource constants for audit events.
const (
	ResourceEntry    = "timeline_entry"
	ResourceInvoice  = "invoice"
	ResourcePayment  = "payment"
	ResourceDocument = "document"
)

// Category constants for audit events.
const (
	CategoryTimeline = "timeline"
	CategoryBilling  = "billing"
	CategoryPayment  = "payment"
	CategoryVault    = "vault"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
