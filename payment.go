package ledger

import (
	"context"
	"time"

	"github.com/lexbox/ledger/directory"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/payment"
	"github.com/lexbox/ledger/store"
	"github.com/lexbox/ledger/types"
)

// RecordPaymentInput describes a payment received against an invoice.
type RecordPaymentInput struct {
	InvoiceID id.InvoiceID   `json:"invoice_id"`
	Amount    types.Money    `json:"amount"`
	PaidAt    time.Time      `json:"paid_at"`
	Method    payment.Method `json:"method"`
	Reference string         `json:"reference" validate:"max=255"`
	Notes     string         `json:"notes" validate:"max=10000"`
	Actor     string         `json:"actor" validate:"required"`
}

// ──────────────────────────────────────────────────
// Payments
// ──────────────────────────────────────────────────

// RecordPayment applies a payment to an invoice. The invoice is locked
// while the payment is inserted and the paid amount and status are
// recomputed.
func (l *Ledger) RecordPayment(ctx context.Context, in RecordPaymentInput) (*payment.Payment, error) {
	if err := l.check(in); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if in.InvoiceID.IsNil() {
		return nil, ValidationError{Field: "invoice_id", Message: "is required"}
	}
	if in.Method == "" {
		in.Method = payment.MethodOther
	}
	if !in.Method.Valid() {
		return nil, ValidationError{Field: "method", Message: "unknown payment method " + string(in.Method)}
	}
	if err := l.authorize(ctx, in.Actor, directory.CapPaymentsCreate); err != nil {
		return nil, err
	}

	var p *payment.Payment
	inv, err := l.mutateInvoice(ctx, "record_payment", in.InvoiceID, func(ctx context.Context, tx store.Store, inv *invoice.Invoice) error {
		amount := in.Amount
		if amount.Currency == "" {
			amount.Currency = inv.Total.Currency
		}
		if amount.Currency != inv.Total.Currency {
			return ValidationError{Field: "amount", Message: "currency must match the invoice (" + inv.Total.Currency + ")"}
		}
		if !inv.AcceptsPayments() {
			return &TerminalInvoiceError{InvoiceID: inv.ID, Status: string(inv.Status)}
		}
		if inv.AmountPaid.Add(amount).GreaterThan(inv.Total) {
			return &OverpaymentError{InvoiceID: inv.ID, Balance: inv.Balance(), Attempted: amount}
		}

		now := l.now()
		paidAt := in.PaidAt.UTC()
		if in.PaidAt.IsZero() {
			paidAt = now
		}
		p = &payment.Payment{
			Entity:    types.Stamp(now),
			ID:        id.NewPaymentID(),
			InvoiceID: inv.ID,
			CaseID:    inv.CaseID,
			Amount:    amount,
			PaidAt:    paidAt,
			Method:    in.Method,
			Reference: in.Reference,
			Notes:     in.Notes,
			CreatedBy: in.Actor,
		}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}

		inv.AmountPaid = inv.AmountPaid.Add(amount)
		settle(inv)
		inv.UpdatedBy = in.Actor
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("payment recorded",
		"payment_id", p.ID,
		"invoice_id", inv.ID,
		"amount", p.Amount.String(),
		"status", inv.Status,
	)
	l.plugins.EmitPaymentRecorded(ctx, p, inv)
	if inv.IsPaid() {
		l.plugins.EmitInvoicePaid(ctx, inv)
	}
	return p, nil
}

// DeletePayment reverses a payment and re-derives the invoice status.
func (l *Ledger) DeletePayment(ctx context.Context, paymentID id.PaymentID, actor string) error {
	if err := l.authorize(ctx, actor, directory.CapPaymentsDelete); err != nil {
		return err
	}

	var p *payment.Payment
	inv, err := retry(ctx, l, "delete_payment", func() (*invoice.Invoice, error) {
		var out *invoice.Invoice
		err := l.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
			var err error
			p, err = tx.GetPayment(ctx, paymentID)
			if err != nil {
				return err
			}
			inv, err := tx.GetInvoiceForUpdate(ctx, p.InvoiceID)
			if err != nil {
				return err
			}
			if inv.Status == invoice.StatusCancelled {
				return &TerminalInvoiceError{InvoiceID: inv.ID, Status: string(inv.Status)}
			}
			if err := tx.DeletePayment(ctx, paymentID); err != nil {
				return err
			}

			inv.AmountPaid = inv.AmountPaid.Subtract(p.Amount)
			settle(inv)
			inv.UpdatedBy = actor
			inv.Touch(l.now())
			if err := tx.UpdateInvoice(ctx, inv); err != nil {
				return err
			}
			out = inv
			return nil
		})
		return out, err
	})
	if err != nil {
		return err
	}

	l.logger.Info("payment deleted",
		"payment_id", paymentID,
		"invoice_id", inv.ID,
		"status", inv.Status,
	)
	l.plugins.EmitPaymentDeleted(ctx, p, inv)
	return nil
}

// ListPayments lists the payments of an invoice.
func (l *Ledger) ListPayments(ctx context.Context, invoiceID id.InvoiceID) ([]*payment.Payment, error) {
	return l.store.ListPayments(ctx, invoiceID)
}

// settle re-derives the status after the paid amount changed. Overdue is
// left to reads and the sweep, so a reverted invoice drops back to sent.
func settle(inv *invoice.Invoice) {
	inv.Status = invoice.DeriveStatus(inv.AmountPaid, inv.Total, inv.DueDate,
		inv.SentAt != nil, inv.Status == invoice.StatusCancelled, time.Time{})
}
