package payment

import (
	"time"

	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/types"
)

type Method string

const (
	MethodCash         Method = "cash"
	MethodBankTransfer Method = "bank_transfer"
	MethodCreditCard   Method = "credit_card"
	MethodCheck        Method = "check"
	MethodOther        Method = "other"
)

type Payment struct {
	types.Entity
	ID        id.PaymentID `json:"id"`
	InvoiceID id.InvoiceID `json:"invoice_id"`
	CaseID    string       `json:"case_id"`
	Amount    types.Money  `json:"amount"`
	PaidAt    time.Time    `json:"paid_at"`
	Method    Method       `json:"method"`
	Reference string       `json:"reference,omitempty"`
	Notes     string       `json:"notes,omitempty"`
	CreatedBy string       `json:"created_by"`
}

// Valid reports whether m is a known payment method.
func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodCreditCard, MethodCheck, MethodOther:
		return true
	}
	return false
}
