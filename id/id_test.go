package id_test

import (
	"strings"
	"testing"

	"github.com/lexbox/ledger/id"
)

var constructors = []struct {
	name    string
	newFn   func() id.ID
	parseFn func(string) (id.ID, error)
	prefix  string
}{
	{"EntryID", id.NewEntryID, id.ParseEntryID, "tle_"},
	{"InvoiceID", id.NewInvoiceID, id.ParseInvoiceID, "inv_"},
	{"PaymentID", id.NewPaymentID, id.ParsePaymentID, "pay_"},
	{"DocumentID", id.NewDocumentID, id.ParseDocumentID, "doc_"},
}

func TestConstructorsCarryPrefix(t *testing.T) {
	for _, tt := range constructors {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, tt := range constructors {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestParseRejectsForeignPrefix(t *testing.T) {
	for i, tt := range constructors {
		other := constructors[(i+1)%len(constructors)]
		t.Run(tt.name, func(t *testing.T) {
			input := other.newFn().String()
			if _, err := tt.parseFn(input); err == nil {
				t.Errorf("expected error parsing %q as %s", input, tt.name)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestParseRejectsUnknownPrefix(t *testing.T) {
	if _, err := id.Parse("plan_01h2xcejqtf2nbrexx3vqjhp41"); err == nil {
		t.Error("expected error for a prefix outside the ledger")
	}
	if !id.PrefixInvoice.Known() || id.Prefix("plan").Known() {
		t.Error("Known disagrees with the ledger prefixes")
	}

	defer func() {
		if recover() == nil {
			t.Error("New should panic on an unknown prefix")
		}
	}()
	id.New("plan")
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestTextRoundTrip(t *testing.T) {
	original := id.NewDocumentID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if err := restored.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if restored.String() != original.String() {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	var empty id.ID
	if err := empty.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !empty.IsNil() {
		t.Error("expected nil ID from empty text")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewEntryID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	// Optional foreign keys (invoice_id on an unbilled entry) store NULL.
	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(original.String())); err != nil {
		t.Fatalf("Scan([]byte) failed: %v", err)
	}
	if fromBytes != scanned {
		t.Errorf("byte scan mismatch: %q != %q", fromBytes.String(), scanned.String())
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for range 100 {
		s := id.NewInvoiceID().String()
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate invoice id %q", s)
		}
		seen[s] = struct{}{}
	}
}
