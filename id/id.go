// Package id defines the identifiers of ledger records.
//
// Timeline entries, invoices, payments and documents are identified by a
// TypeID: a UUIDv7 suffix behind a short record prefix, such as
// "inv_01h2xcejqtf2nbrexx3vqjhp41". IDs sort by creation time and are safe
// in URLs and storage paths. Cases and actors are owned by the case
// directory and stay plain strings.
package id

import (
	"database/sql/driver"
	"fmt"
	"slices"

	"go.jetify.com/typeid/v2"
)

// Prefix names the record kind an ID belongs to.
type Prefix string

const (
	PrefixEntry    Prefix = "tle" // timeline entry
	PrefixInvoice  Prefix = "inv"
	PrefixPayment  Prefix = "pay"
	PrefixDocument Prefix = "doc" // vault document
)

var known = []Prefix{PrefixEntry, PrefixInvoice, PrefixPayment, PrefixDocument}

// Known reports whether p is the prefix of a ledger record kind.
func (p Prefix) Known() bool { return slices.Contains(known, p) }

// ID identifies a ledger record. The zero value is Nil and encodes as an
// empty string or SQL NULL.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the zero ID, used for optional references such as the invoice of
// an unbilled entry.
var Nil ID

type (
	EntryID    = ID
	InvoiceID  = ID
	PaymentID  = ID
	DocumentID = ID
)

// New returns a fresh ID for a known record kind. It panics on an unknown
// prefix.
func New(prefix Prefix) ID {
	if !prefix.Known() {
		panic(fmt.Sprintf("id: unknown prefix %q", prefix))
	}
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{tid: tid, set: true}
}

func NewEntryID() ID    { return New(PrefixEntry) }
func NewInvoiceID() ID  { return New(PrefixInvoice) }
func NewPaymentID() ID  { return New(PrefixPayment) }
func NewDocumentID() ID { return New(PrefixDocument) }

// Parse decodes s into an ID of any ledger record kind.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if p := Prefix(tid.Prefix()); !p.Known() {
		return Nil, fmt.Errorf("id: parse %q: unknown prefix %q", s, p)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseWithPrefix decodes s and checks it identifies a record of the
// expected kind.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != expected {
		return Nil, fmt.Errorf("id: %q is a %s id, want %s", s, got, expected)
	}
	return parsed, nil
}

func ParseEntryID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixEntry) }
func ParseInvoiceID(s string) (ID, error)  { return ParseWithPrefix(s, PrefixInvoice) }
func ParsePaymentID(s string) (ID, error)  { return ParseWithPrefix(s, PrefixPayment) }
func ParseDocumentID(s string) (ID, error) { return ParseWithPrefix(s, PrefixDocument) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the record kind, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.set }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	return i.decode(string(data))
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL column
	}
	return i.tid.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.decode(v)
	case []byte:
		return i.decode(string(v))
	}
	return fmt.Errorf("id: cannot scan %T into ID", src)
}

func (i *ID) decode(s string) error {
	if s == "" {
		*i = Nil
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
