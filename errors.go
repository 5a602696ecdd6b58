package ledger

import (
	"errors"
	"fmt"

	"github.com/lexbox/ledger/types"
)

// Sentinel errors for common failure scenarios. Every typed error below
// matches one of these through errors.Is.
var (
	// General errors
	ErrNotFound            = errors.New("ledger: not found")
	ErrInvalidInput        = errors.New("ledger: invalid input")
	ErrPermissionDenied    = errors.New("ledger: permission denied")
	ErrCaseNotFound        = errors.New("ledger: case not found")
	ErrStorageFailure      = errors.New("ledger: storage failure")
	ErrConcurrencyConflict = errors.New("ledger: concurrent modification")

	// Timeline errors
	ErrEntryNotFound  = errors.New("ledger: timeline entry not found")
	ErrImmutableEntry = errors.New("ledger: billed entry is immutable")

	// Invoice errors
	ErrInvoiceNotFound  = errors.New("ledger: invoice not found")
	ErrInvalidSelection = errors.New("ledger: invalid entry selection")
	ErrEmptySelection   = errors.New("ledger: no billable entries selected")
	ErrInvalidState     = errors.New("ledger: invalid invoice state")
	ErrTerminalInvoice  = errors.New("ledger: invoice is closed for payments")

	// Payment errors
	ErrPaymentNotFound = errors.New("ledger: payment not found")
	ErrInvalidAmount   = errors.New("ledger: payment amount must be positive")
	ErrOverpayment     = errors.New("ledger: payment exceeds invoice balance")

	// Vault errors
	ErrDocumentNotFound = errors.New("ledger: document not found")
	ErrObjectNotFound   = errors.New("ledger: stored object not found")
	ErrIntegrity        = errors.New("ledger: document integrity check failed")
	ErrUnsupportedType  = errors.New("ledger: unsupported document type")
	ErrDocumentTooLarge = errors.New("ledger: document exceeds size limit")
	ErrNoBucket         = errors.New("ledger: no document storage configured")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %s: %s", e.Field, e.Message)
}

// Is matches ErrInvalidInput.
func (e ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// PermissionDeniedError is returned when the directory refuses a capability.
type PermissionDeniedError struct {
	Actor      string
	Capability string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("ledger: %s lacks capability %s", e.Actor, e.Capability)
}

// Is matches ErrPermissionDenied.
func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// ImmutableEntryError names the billed entry a mutation tried to change.
type ImmutableEntryError struct {
	EntryID ID
	Field   string
}

func (e *ImmutableEntryError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("ledger: entry %s is billed and cannot be changed", e.EntryID)
	}
	return fmt.Sprintf("ledger: entry %s is billed; %s cannot be changed", e.EntryID, e.Field)
}

// Is matches ErrImmutableEntry.
func (e *ImmutableEntryError) Is(target error) bool { return target == ErrImmutableEntry }

// InvalidSelectionError names the first entry that cannot be invoiced.
type InvalidSelectionError struct {
	EntryID ID
	Reason  string
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("ledger: entry %s cannot be invoiced: %s", e.EntryID, e.Reason)
}

// Is matches ErrInvalidSelection.
func (e *InvalidSelectionError) Is(target error) bool { return target == ErrInvalidSelection }

// InvalidStateError reports an invoice transition that is not allowed from
// the invoice's current status.
type InvalidStateError struct {
	InvoiceID ID
	Status    string
	Action    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("ledger: cannot %s invoice %s in status %s", e.Action, e.InvoiceID, e.Status)
}

// Is matches ErrInvalidState.
func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// TerminalInvoiceError is returned for payment changes against a paid or
// cancelled invoice.
type TerminalInvoiceError struct {
	InvoiceID ID
	Status    string
}

func (e *TerminalInvoiceError) Error() string {
	return fmt.Sprintf("ledger: invoice %s is %s", e.InvoiceID, e.Status)
}

// Is matches ErrTerminalInvoice.
func (e *TerminalInvoiceError) Is(target error) bool { return target == ErrTerminalInvoice }

// OverpaymentError carries the balance the payment would have exceeded.
type OverpaymentError struct {
	InvoiceID ID
	Balance   types.Money
	Attempted types.Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("ledger: payment of %s exceeds balance %s on invoice %s",
		e.Attempted, e.Balance, e.InvoiceID)
}

// Is matches ErrOverpayment.
func (e *OverpaymentError) Is(target error) bool { return target == ErrOverpayment }

// IntegrityError wraps a failed authentication, format mismatch or size
// mismatch on a stored document.
type IntegrityError struct {
	DocumentID ID
	Err        error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger: integrity check failed for document %s: %v", e.DocumentID, e.Err)
}

// Is matches ErrIntegrity.
func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// Unwrap returns the underlying cause.
func (e *IntegrityError) Unwrap() error { return e.Err }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "ledger: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("ledger: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCaseNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrObjectNotFound)
}

// IsRetryable returns true if the operation lost a race and may be
// retried from scratch.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
