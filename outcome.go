package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// Kind classifies the outcome of a failed operation for callers that do
// not inspect Go errors, such as an HTTP or RPC layer.
type Kind string

const (
	KindOK               Kind = "ok"
	KindValidation       Kind = "validation"
	KindPermissionDenied Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindImmutableEntry   Kind = "immutable_entry"
	KindInvalidSelection Kind = "invalid_selection"
	KindEmptySelection   Kind = "empty_selection"
	KindInvalidState     Kind = "invalid_state"
	KindTerminalInvoice  Kind = "terminal_invoice"
	KindInvalidAmount    Kind = "invalid_amount"
	KindOverpayment      Kind = "overpayment"
	KindUnsupportedType  Kind = "unsupported_type"
	KindTooLarge         Kind = "too_large"
	KindConflict         Kind = "conflict"
	KindCancelled        Kind = "cancelled"
	KindIntegrity        Kind = "integrity"
	KindStorage          Kind = "storage"
)

// Outcome is a transport-neutral description of an error. Client-facing
// kinds carry the error text; integrity and storage failures carry a
// generic message and a correlation id that is also logged with the cause.
type Outcome struct {
	Kind          Kind   `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Describe maps err to an Outcome, logging internal failures to the
// default logger.
func Describe(err error) Outcome {
	return describe(err, slog.Default())
}

// Describe maps err to an Outcome, logging internal failures to the
// engine logger.
func (l *Ledger) Describe(err error) Outcome {
	return describe(err, l.logger)
}

func describe(err error, logger *slog.Logger) Outcome {
	if err == nil {
		return Outcome{Kind: KindOK}
	}

	kind, public := classify(err)
	if public {
		return Outcome{Kind: kind, Message: err.Error()}
	}

	correlationID := uuid.NewString()
	logger.Error("operation failed",
		"kind", kind,
		"correlation_id", correlationID,
		"error", err,
	)
	msg := "internal storage error"
	if kind == KindIntegrity {
		msg = "document failed its integrity check"
	}
	return Outcome{Kind: kind, Message: msg, CorrelationID: correlationID}
}

// classify returns the kind of err and whether its text is safe to show.
func classify(err error) (Kind, bool) {
	switch {
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity, false
	case errors.Is(err, ErrInvalidInput):
		return KindValidation, true
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied, true
	case IsNotFound(err):
		return KindNotFound, true
	case errors.Is(err, ErrImmutableEntry):
		return KindImmutableEntry, true
	case errors.Is(err, ErrInvalidSelection):
		return KindInvalidSelection, true
	case errors.Is(err, ErrEmptySelection):
		return KindEmptySelection, true
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState, true
	case errors.Is(err, ErrTerminalInvoice):
		return KindTerminalInvoice, true
	case errors.Is(err, ErrInvalidAmount):
		return KindInvalidAmount, true
	case errors.Is(err, ErrOverpayment):
		return KindOverpayment, true
	case errors.Is(err, ErrUnsupportedType):
		return KindUnsupportedType, true
	case errors.Is(err, ErrDocumentTooLarge):
		return KindTooLarge, true
	case IsRetryable(err):
		return KindConflict, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled, true
	default:
		return KindStorage, false
	}
}
