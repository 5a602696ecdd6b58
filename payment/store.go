package payment

import (
	"context"

	"github.com/lexbox/ledger/id"
)

type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, paymentID id.PaymentID) (*Payment, error)
	DeletePayment(ctx context.Context, paymentID id.PaymentID) error
	ListPayments(ctx context.Context, invoiceID id.InvoiceID) ([]*Payment, error)
}
