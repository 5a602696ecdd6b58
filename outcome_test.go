package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lexbox/ledger"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/types"
)

func TestDescribe(t *testing.T) {
	docID := id.NewDocumentID()

	tests := []struct {
		name    string
		err     error
		kind    ledger.Kind
		public  bool
		message string
	}{
		{"nil", nil, ledger.KindOK, true, ""},
		{"validation", ledger.ValidationError{Field: "hours", Message: "must not be negative"}, ledger.KindValidation, true, ""},
		{"permission", &ledger.PermissionDeniedError{Actor: "bob", Capability: "billing:cancel"}, ledger.KindPermissionDenied, true, ""},
		{"entry not found", ledger.ErrEntryNotFound, ledger.KindNotFound, true, ""},
		{"case not found", fmt.Errorf("%w: case-9", ledger.ErrCaseNotFound), ledger.KindNotFound, true, ""},
		{"immutable", &ledger.ImmutableEntryError{EntryID: id.NewEntryID(), Field: "rate"}, ledger.KindImmutableEntry, true, ""},
		{"selection", &ledger.InvalidSelectionError{EntryID: id.NewEntryID(), Reason: "not billable"}, ledger.KindInvalidSelection, true, ""},
		{"empty selection", ledger.ErrEmptySelection, ledger.KindEmptySelection, true, ""},
		{"invalid state", &ledger.InvalidStateError{InvoiceID: id.NewInvoiceID(), Status: "cancelled", Action: "cancel"}, ledger.KindInvalidState, true, ""},
		{"terminal", &ledger.TerminalInvoiceError{InvoiceID: id.NewInvoiceID(), Status: "paid"}, ledger.KindTerminalInvoice, true, ""},
		{"amount", ledger.ErrInvalidAmount, ledger.KindInvalidAmount, true, ""},
		{"overpayment", &ledger.OverpaymentError{InvoiceID: id.NewInvoiceID(), Balance: types.EUR(100), Attempted: types.EUR(200)}, ledger.KindOverpayment, true, ""},
		{"unsupported", fmt.Errorf("%w: text/plain", ledger.ErrUnsupportedType), ledger.KindUnsupportedType, true, ""},
		{"too large", ledger.ErrDocumentTooLarge, ledger.KindTooLarge, true, ""},
		{"conflict", ledger.ErrConcurrencyConflict, ledger.KindConflict, true, ""},
		{"cancelled", context.Canceled, ledger.KindCancelled, true, ""},
		{"integrity", &ledger.IntegrityError{DocumentID: docID, Err: errors.New("vault: authentication failed")}, ledger.KindIntegrity, false, "document failed its integrity check"},
		{"storage", errors.New("pq: connection refused"), ledger.KindStorage, false, "internal storage error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ledger.Describe(tt.err)
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %q, want %q", got.Kind, tt.kind)
			}
			if !tt.public {
				if got.Message != tt.message {
					t.Errorf("Message = %q, want %q", got.Message, tt.message)
				}
				if got.CorrelationID == "" {
					t.Error("internal failures need a correlation id")
				}
				return
			}
			if tt.err != nil && got.Message != tt.err.Error() {
				t.Errorf("Message = %q, want %q", got.Message, tt.err.Error())
			}
			if got.CorrelationID != "" {
				t.Errorf("CorrelationID = %q, want none", got.CorrelationID)
			}
		})
	}
}

func TestDescribeHidesCause(t *testing.T) {
	secret := errors.New("dial tcp 10.0.0.7:5432: connection refused")
	got := ledger.Describe(fmt.Errorf("ledger: list entries: %w", secret))
	if got.Message == secret.Error() {
		t.Fatal("storage cause leaked into the outcome")
	}

	other := ledger.Describe(secret)
	if other.CorrelationID == got.CorrelationID {
		t.Error("correlation ids must differ per failure")
	}
}
