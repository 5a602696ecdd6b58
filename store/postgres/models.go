package postgres

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/lexbox/ledger/document"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/payment"
	"github.com/lexbox/ledger/timeline"
	"github.com/lexbox/ledger/types"
)

// ==================== Timeline models ====================

type entryModel struct {
	grove.BaseModel `grove:"table:ledger_timeline_entries"`

	ID               string            `grove:"id,pk"`
	CaseID           string            `grove:"case_id"`
	Kind             string            `grove:"kind"`
	Title            string            `grove:"title"`
	Description      string            `grove:"description"`
	ActivityType     string            `grove:"activity_type"`
	Status           string            `grove:"status"`
	Priority         string            `grove:"priority"`
	ActivityDate     time.Time         `grove:"activity_date"`
	Hours            int64             `grove:"hours_hundredths"`
	RateAmountCents  int64             `grove:"rate_amount_cents"`
	AmountCents      int64             `grove:"amount_cents"`
	Currency         string            `grove:"currency"`
	AmountOverridden bool              `grove:"amount_overridden"`
	IsBillable       bool              `grove:"is_billable"`
	IsBilled         bool              `grove:"is_billed"`
	InvoiceID        string            `grove:"invoice_id"`
	DocumentID       string            `grove:"document_id"`
	CreatedBy        string            `grove:"created_by"`
	UpdatedBy        string            `grove:"updated_by"`
	Version          int64             `grove:"version"`
	Metadata         map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt        time.Time         `grove:"created_at"`
	UpdatedAt        time.Time         `grove:"updated_at"`
}

func toEntryModel(e *timeline.Entry) *entryModel {
	return &entryModel{
		ID:               e.ID.String(),
		CaseID:           e.CaseID,
		Kind:             string(e.Kind),
		Title:            e.Title,
		Description:      e.Description,
		ActivityType:     string(e.ActivityType),
		Status:           string(e.Status),
		Priority:         string(e.Priority),
		ActivityDate:     e.ActivityDate,
		Hours:            int64(e.Hours),
		RateAmountCents:  e.Rate.Amount,
		AmountCents:      e.Amount.Amount,
		Currency:         e.Amount.Currency,
		AmountOverridden: e.AmountOverridden,
		IsBillable:       e.IsBillable,
		IsBilled:         e.IsBilled,
		InvoiceID:        e.InvoiceID.String(),
		DocumentID:       e.DocumentID.String(),
		CreatedBy:        e.CreatedBy,
		UpdatedBy:        e.UpdatedBy,
		Version:          e.Version,
		Metadata:         e.Metadata,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func fromEntryModel(m *entryModel) (*timeline.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	invID, err := parseOptional(m.InvoiceID, id.PrefixInvoice)
	if err != nil {
		return nil, err
	}
	docID, err := parseOptional(m.DocumentID, id.PrefixDocument)
	if err != nil {
		return nil, err
	}

	return &timeline.Entry{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               entryID,
		CaseID:           m.CaseID,
		Kind:             timeline.Kind(m.Kind),
		Title:            m.Title,
		Description:      m.Description,
		ActivityType:     timeline.ActivityType(m.ActivityType),
		Status:           timeline.Status(m.Status),
		Priority:         timeline.Priority(m.Priority),
		ActivityDate:     m.ActivityDate,
		Hours:            types.Hours(m.Hours),
		Rate:             types.Money{Amount: m.RateAmountCents, Currency: m.Currency},
		Amount:           types.Money{Amount: m.AmountCents, Currency: m.Currency},
		AmountOverridden: m.AmountOverridden,
		IsBillable:       m.IsBillable,
		IsBilled:         m.IsBilled,
		InvoiceID:        invID,
		DocumentID:       docID,
		CreatedBy:        m.CreatedBy,
		UpdatedBy:        m.UpdatedBy,
		Version:          m.Version,
		Metadata:         m.Metadata,
	}, nil
}

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:ledger_invoices"`

	ID                  string          `grove:"id,pk"`
	CaseID              string          `grove:"case_id"`
	Number              string          `grove:"number"`
	IssueDate           time.Time       `grove:"issue_date"`
	DueDate             time.Time       `grove:"due_date"`
	Currency            string          `grove:"currency"`
	SubtotalAmountCents int64           `grove:"subtotal_amount_cents"`
	TaxRateBasisPoints  int64           `grove:"tax_rate_bp"`
	TaxAmountCents      int64           `grove:"tax_amount_cents"`
	TotalAmountCents    int64           `grove:"total_amount_cents"`
	PaidAmountCents     int64           `grove:"paid_amount_cents"`
	Status              string          `grove:"status"`
	SentAt              *time.Time      `grove:"sent_at"`
	CancelledAt         *time.Time      `grove:"cancelled_at"`
	Notes               string          `grove:"notes"`
	PaymentTerms        string          `grove:"payment_terms"`
	LineItems           json.RawMessage `grove:"line_items,type:jsonb"`
	CreatedBy           string          `grove:"created_by"`
	UpdatedBy           string          `grove:"updated_by"`
	Version             int64           `grove:"version"`
	CreatedAt           time.Time       `grove:"created_at"`
	UpdatedAt           time.Time       `grove:"updated_at"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	lineItems, _ := json.Marshal(inv.LineItems) //nolint:errcheck // plain value types always marshal

	return &invoiceModel{
		ID:                  inv.ID.String(),
		CaseID:              inv.CaseID,
		Number:              inv.Number,
		IssueDate:           inv.IssueDate,
		DueDate:             inv.DueDate,
		Currency:            inv.Total.Currency,
		SubtotalAmountCents: inv.Subtotal.Amount,
		TaxRateBasisPoints:  int64(inv.TaxRate),
		TaxAmountCents:      inv.TaxAmount.Amount,
		TotalAmountCents:    inv.Total.Amount,
		PaidAmountCents:     inv.AmountPaid.Amount,
		Status:              string(inv.Status),
		SentAt:              inv.SentAt,
		CancelledAt:         inv.CancelledAt,
		Notes:               inv.Notes,
		PaymentTerms:        inv.PaymentTerms,
		LineItems:           lineItems,
		CreatedBy:           inv.CreatedBy,
		UpdatedBy:           inv.UpdatedBy,
		Version:             inv.Version,
		CreatedAt:           inv.CreatedAt,
		UpdatedAt:           inv.UpdatedAt,
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}

	var lineItems []invoice.LineItem
	if len(m.LineItems) > 0 {
		if err := json.Unmarshal(m.LineItems, &lineItems); err != nil {
			return nil, err
		}
	}

	return &invoice.Invoice{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           invID,
		CaseID:       m.CaseID,
		Number:       m.Number,
		IssueDate:    m.IssueDate,
		DueDate:      m.DueDate,
		Subtotal:     types.Money{Amount: m.SubtotalAmountCents, Currency: m.Currency},
		TaxRate:      types.Percent(m.TaxRateBasisPoints),
		TaxAmount:    types.Money{Amount: m.TaxAmountCents, Currency: m.Currency},
		Total:        types.Money{Amount: m.TotalAmountCents, Currency: m.Currency},
		AmountPaid:   types.Money{Amount: m.PaidAmountCents, Currency: m.Currency},
		Status:       invoice.Status(m.Status),
		SentAt:       m.SentAt,
		CancelledAt:  m.CancelledAt,
		Notes:        m.Notes,
		PaymentTerms: m.PaymentTerms,
		LineItems:    lineItems,
		CreatedBy:    m.CreatedBy,
		UpdatedBy:    m.UpdatedBy,
		Version:      m.Version,
	}, nil
}

// ==================== Payment models ====================

type paymentModel struct {
	grove.BaseModel `grove:"table:ledger_payments"`

	ID          string    `grove:"id,pk"`
	InvoiceID   string    `grove:"invoice_id"`
	CaseID      string    `grove:"case_id"`
	AmountCents int64     `grove:"amount_cents"`
	Currency    string    `grove:"currency"`
	PaidAt      time.Time `grove:"paid_at"`
	Method      string    `grove:"method"`
	Reference   string    `grove:"reference"`
	Notes       string    `grove:"notes"`
	CreatedBy   string    `grove:"created_by"`
	CreatedAt   time.Time `grove:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"`
}

func toPaymentModel(p *payment.Payment) *paymentModel {
	return &paymentModel{
		ID:          p.ID.String(),
		InvoiceID:   p.InvoiceID.String(),
		CaseID:      p.CaseID,
		AmountCents: p.Amount.Amount,
		Currency:    p.Amount.Currency,
		PaidAt:      p.PaidAt,
		Method:      string(p.Method),
		Reference:   p.Reference,
		Notes:       p.Notes,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func fromPaymentModel(m *paymentModel) (*payment.Payment, error) {
	payID, err := id.ParsePaymentID(m.ID)
	if err != nil {
		return nil, err
	}
	invID, err := id.ParseInvoiceID(m.InvoiceID)
	if err != nil {
		return nil, err
	}

	return &payment.Payment{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        payID,
		InvoiceID: invID,
		CaseID:    m.CaseID,
		Amount:    types.Money{Amount: m.AmountCents, Currency: m.Currency},
		PaidAt:    m.PaidAt,
		Method:    payment.Method(m.Method),
		Reference: m.Reference,
		Notes:     m.Notes,
		CreatedBy: m.CreatedBy,
	}, nil
}

// ==================== Document models ====================

type documentModel struct {
	grove.BaseModel `grove:"table:ledger_documents"`

	ID               string            `grove:"id,pk"`
	CaseID           string            `grove:"case_id"`
	OriginalName     string            `grove:"original_name"`
	StoragePath      string            `grove:"storage_path"`
	Size             int64             `grove:"size_bytes"`
	PlainSize        int64             `grove:"plain_size_bytes"`
	MimeType         string            `grove:"mime_type"`
	Category         string            `grove:"category"`
	PhysicalLocation string            `grove:"physical_location"`
	Description      string            `grove:"description"`
	DocumentDate     *time.Time        `grove:"document_date"`
	Confidential     bool              `grove:"confidential"`
	Encryption       string            `grove:"encryption"`
	EntryID          string            `grove:"entry_id"`
	UploadedBy       string            `grove:"uploaded_by"`
	UpdatedBy        string            `grove:"updated_by"`
	Version          int64             `grove:"version"`
	Metadata         map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt        time.Time         `grove:"created_at"`
	UpdatedAt        time.Time         `grove:"updated_at"`
}

func toDocumentModel(d *document.Document) *documentModel {
	return &documentModel{
		ID:               d.ID.String(),
		CaseID:           d.CaseID,
		OriginalName:     d.OriginalName,
		StoragePath:      d.StoragePath,
		Size:             d.Size,
		PlainSize:        d.PlainSize,
		MimeType:         d.MimeType,
		Category:         string(d.Category),
		PhysicalLocation: d.PhysicalLocation,
		Description:      d.Description,
		DocumentDate:     d.DocumentDate,
		Confidential:     d.Confidential,
		Encryption:       string(d.Encryption),
		EntryID:          d.EntryID.String(),
		UploadedBy:       d.UploadedBy,
		UpdatedBy:        d.UpdatedBy,
		Version:          d.Version,
		Metadata:         d.Metadata,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func fromDocumentModel(m *documentModel) (*document.Document, error) {
	docID, err := id.ParseDocumentID(m.ID)
	if err != nil {
		return nil, err
	}
	entryID, err := parseOptional(m.EntryID, id.PrefixEntry)
	if err != nil {
		return nil, err
	}

	return &document.Document{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               docID,
		CaseID:           m.CaseID,
		OriginalName:     m.OriginalName,
		StoragePath:      m.StoragePath,
		Size:             m.Size,
		PlainSize:        m.PlainSize,
		MimeType:         m.MimeType,
		Category:         document.Category(m.Category),
		PhysicalLocation: m.PhysicalLocation,
		Description:      m.Description,
		DocumentDate:     m.DocumentDate,
		Confidential:     m.Confidential,
		Encryption:       document.Encryption(m.Encryption),
		EntryID:          entryID,
		UploadedBy:       m.UploadedBy,
		UpdatedBy:        m.UpdatedBy,
		Version:          m.Version,
		Metadata:         m.Metadata,
	}, nil
}

// parseOptional parses a nullable foreign key column.
func parseOptional(s string, prefix id.Prefix) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.ParseWithPrefix(s, prefix)
}
