package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	ledger "github.com/lexbox/ledger"
	"github.com/lexbox/ledger/document"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/payment"
	ledgerstore "github.com/lexbox/ledger/store"
	"github.com/lexbox/ledger/timeline"
)

// Collection name constants.
const (
	colEntries   = "ledger_timeline_entries"
	colInvoices  = "ledger_invoices"
	colPayments  = "ledger_payments"
	colDocuments = "ledger_documents"
	colCounters  = "ledger_counters"
)

const invoiceCounter = "invoice_number"

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// conn is the query surface shared by the client and a session transaction.
type conn interface {
	NewFind(model ...any) *mongodriver.FindQuery
	NewInsert(model any) *mongodriver.InsertQuery
	NewUpdate(model any) *mongodriver.UpdateQuery
	NewDelete(model any) *mongodriver.DeleteQuery
}

// Store implements store.Store using MongoDB via Grove ORM. Transact needs
// a replica set or sharded cluster.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
	q   conn
	tx  *mongodriver.MongoTx
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	mdb := mongodriver.Unwrap(db)
	return &Store{
		db:  db,
		mdb: mdb,
		q:   mdb,
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all ledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("ledger/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Transactions ====================

func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx ledgerstore.Store) error) (err error) {
	if s.tx != nil {
		return fn(ctx, s)
	}

	raw, err := s.mdb.GroveTx(ctx, 0, false)
	if err != nil {
		return fmt.Errorf("ledger/mongo: begin: %w", mapErr(err))
	}
	tx, ok := raw.(*mongodriver.MongoTx)
	if !ok {
		return fmt.Errorf("ledger/mongo: unexpected transaction type %T", raw)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback() //nolint:errcheck // re-panicking
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback() //nolint:errcheck // best-effort
		}
	}()

	if err = fn(ctx, &Store{db: s.db, mdb: s.mdb, q: tx, tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ledger/mongo: commit: %w", mapErr(err))
	}
	return nil
}

// ==================== Timeline Store ====================

func (s *Store) CreateEntry(ctx context.Context, e *timeline.Entry) error {
	e.Version = 1
	m := toEntryModel(e)
	_, err := s.q.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger/mongo: create entry: %w", mapErr(err))
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*timeline.Entry, error) {
	var m entryModel
	err := s.q.NewFind(&m).
		Filter(bson.M{"_id": entryID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrEntryNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get entry: %w", err)
	}
	return fromEntryModel(&m)
}

func (s *Store) UpdateEntry(ctx context.Context, e *timeline.Entry) error {
	m := toEntryModel(e)
	m.Version = e.Version + 1

	res, err := s.q.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": e.Version}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger/mongo: update entry: %w", mapErr(err))
	}
	if res.MatchedCount() == 0 {
		return s.missed(ctx, (*entryModel)(nil), e.ID, ledger.ErrEntryNotFound)
	}
	e.Version = m.Version
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, entryID id.EntryID) error {
	res, err := s.q.NewDelete((*entryModel)(nil)).
		Filter(bson.M{"_id": entryID.String(), "is_billed": false}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger/mongo: delete entry: %w", mapErr(err))
	}
	if res.DeletedCount() == 0 {
		return s.missed(ctx, (*entryModel)(nil), entryID, ledger.ErrEntryNotFound)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, caseID string, opts timeline.ListOpts) ([]*timeline.Entry, error) {
	var models []entryModel

	filter := bson.M{"case_id": caseID}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}
	if opts.Billable != nil {
		filter["is_billable"] = *opts.Billable
	}
	if opts.Billed != nil {
		filter["is_billed"] = *opts.Billed
	}
	if !opts.From.IsZero() || !opts.To.IsZero() {
		dateFilter := bson.M{}
		if !opts.From.IsZero() {
			dateFilter["$gte"] = opts.From
		}
		if !opts.To.IsZero() {
			dateFilter["$lt"] = opts.To
		}
		filter["activity_date"] = dateFilter
	}

	q := s.q.NewFind(&models).
		Filter(filter).
		Sort(entryOrder)

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("ledger/mongo: list entries: %w", err)
	}
	return entriesFromModels(models)
}

func (s *Store) ListUnbilledEntries(ctx context.Context, caseID string, after *timeline.Cursor, limit int) ([]*timeline.Entry, error) {
	var models []entryModel

	filter := bson.M{"case_id": caseID, "is_billable": true, "is_billed": false}
	if after != nil {
		filter["$or"] = bson.A{
			bson.M{"activity_date": bson.M{"$gt": after.ActivityDate}},
			bson.M{"activity_date": after.ActivityDate, "_id": bson.M{"$gt": after.ID.String()}},
		}
	}

	q := s.q.NewFind(&models).
		Filter(filter).
		Sort(entryOrder)
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("ledger/mongo: list unbilled entries: %w", err)
	}
	return entriesFromModels(models)
}

func (s *Store) ListEntriesByCreator(ctx context.Context, actor string, since time.Time, after *timeline.Cursor, limit int) ([]*timeline.Entry, error) {
	var models []entryModel

	filter := bson.M{"created_by": actor, "activity_date": bson.M{"$gte": since}}
	if after != nil {
		filter["$or"] = bson.A{
			bson.M{"activity_date": bson.M{"$gt": after.ActivityDate}},
			bson.M{"activity_date": after.ActivityDate, "_id": bson.M{"$gt": after.ID.String()}},
		}
	}

	q := s.q.NewFind(&models).
		Filter(filter).
		Sort(entryOrder)
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("ledger/mongo: list entries by creator: %w", err)
	}
	return entriesFromModels(models)
}

// ClaimEntries matches only entries that are still billable and unbilled,
// so a concurrent claim on the same entry makes the loser's count short.
func (s *Store) ClaimEntries(ctx context.Context, caseID string, entryIDs []id.EntryID, invoiceID id.InvoiceID, actor string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	res, err := s.q.NewUpdate((*entryModel)(nil)).
		Filter(bson.M{
			"_id":         bson.M{"$in": idStrings(entryIDs)},
			"case_id":     caseID,
			"is_billable": true,
			"is_billed":   false,
		}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"is_billed":  true,
				"invoice_id": invoiceID.String(),
				"updated_by": actor,
				"updated_at": now(),
			},
			"$inc": bson.M{"version": 1},
		}).
		Many().
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger/mongo: claim entries: %w", mapErr(err))
	}
	return res.ModifiedCount(), nil
}

func (s *Store) ReleaseEntries(ctx context.Context, invoiceID id.InvoiceID, actor string) (int64, error) {
	res, err := s.q.NewUpdate((*entryModel)(nil)).
		Filter(bson.M{"invoice_id": invoiceID.String(), "is_billed": true}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"is_billed":  false,
				"invoice_id": "",
				"updated_by": actor,
				"updated_at": now(),
			},
			"$inc": bson.M{"version": 1},
		}).
		Many().
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger/mongo: release entries: %w", mapErr(err))
	}
	return res.ModifiedCount(), nil
}

func (s *Store) ListEntriesByInvoice(ctx context.Context, invoiceID id.InvoiceID) ([]*timeline.Entry, error) {
	var models []entryModel
	err := s.q.NewFind(&models).
		Filter(bson.M{"invoice_id": invoiceID.String(), "is_billed": true}).
		Sort(entryOrder).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: list entries by invoice: %w", err)
	}
	return entriesFromModels(models)
}

func (s *Store) ListEntriesByDocument(ctx context.Context, documentID id.DocumentID) ([]*timeline.Entry, error) {
	var models []entryModel
	err := s.q.NewFind(&models).
		Filter(bson.M{"document_id": documentID.String()}).
		Sort(entryOrder).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: list entries by document: %w", err)
	}
	return entriesFromModels(models)
}

func (s *Store) DeleteEntriesByDocument(ctx context.Context, documentID id.DocumentID) (int64, error) {
	res, err := s.q.NewDelete((*entryModel)(nil)).
		Filter(bson.M{"document_id": documentID.String(), "is_billed": false}).
		Many().
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger/mongo: delete entries by document: %w", mapErr(err))
	}
	return res.DeletedCount(), nil
}

// ==================== Invoice Store ====================

// NextInvoiceNumber increments the counter document outside any session, so
// a reserved number survives a rolled back transaction.
func (s *Store) NextInvoiceNumber(ctx context.Context) (int64, error) {
	var c counterModel
	err := s.mdb.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": invoiceCounter},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&c)
	if err != nil {
		return 0, fmt.Errorf("ledger/mongo: next invoice number: %w", mapErr(err))
	}
	return c.Value, nil
}

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	inv.Version = 1
	m := toInvoiceModel(inv)
	_, err := s.q.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger/mongo: create invoice: %w", mapErr(err))
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	var m invoiceModel
	err := s.q.NewFind(&m).
		Filter(bson.M{"_id": invID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get invoice: %w", err)
	}
	return fromInvoiceModel(&m)
}

// GetInvoiceForUpdate reads the invoice. Inside a session transaction a
// concurrent writer to the same document aborts with a write conflict, and
// the versioned UpdateInvoice rejects stale reads outside one.
func (s *Store) GetInvoiceForUpdate(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return s.GetInvoice(ctx, invID)
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	var m invoiceModel
	err := s.q.NewFind(&m).
		Filter(bson.M{"number": number}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get invoice by number: %w", err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) ListInvoices(ctx context.Context, caseID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel

	filter := bson.M{"case_id": caseID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.q.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "number", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("ledger/mongo: list invoices: %w", err)
	}

	result := make([]*invoice.Invoice, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	m := toInvoiceModel(inv)
	m.Version = inv.Version + 1

	res, err := s.q.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": inv.Version}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger/mongo: update invoice: %w", mapErr(err))
	}
	if res.MatchedCount() == 0 {
		return s.missed(ctx, (*invoiceModel)(nil), inv.ID, ledger.ErrInvoiceNotFound)
	}
	inv.Version = m.Version
	return nil
}

func (s *Store) MarkInvoicesOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	res, err := s.q.NewUpdate((*invoiceModel)(nil)).
		Filter(bson.M{
			"status":   string(invoice.StatusSent),
			"due_date": bson.M{"$lt": asOf},
		}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"status":     string(invoice.StatusOverdue),
				"updated_at": now(),
			},
			"$inc": bson.M{"version": 1},
		}).
		Many().
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger/mongo: mark overdue: %w", mapErr(err))
	}
	return res.ModifiedCount(), nil
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	m := toPaymentModel(p)
	_, err := s.q.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger/mongo: create payment: %w", mapErr(err))
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Payment, error) {
	var m paymentModel
	err := s.q.NewFind(&m).
		Filter(bson.M{"_id": paymentID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get payment: %w", err)
	}
	return fromPaymentModel(&m)
}

func (s *Store) DeletePayment(ctx context.Context, paymentID id.PaymentID) error {
	res, err := s.q.NewDelete((*paymentModel)(nil)).
		Filter(bson.M{"_id": paymentID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger/mongo: delete payment: %w", mapErr(err))
	}
	if res.DeletedCount() == 0 {
		return ledger.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) ListPayments(ctx context.Context, invoiceID id.InvoiceID) ([]*payment.Payment, error) {
	var models []paymentModel
	err := s.q.NewFind(&models).
		Filter(bson.M{"invoice_id": invoiceID.String()}).
		Sort(bson.D{{Key: "paid_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: list payments: %w", err)
	}

	result := make([]*payment.Payment, len(models))
	for i := range models {
		p, err := fromPaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Document Store ====================

func (s *Store) CreateDocument(ctx context.Context, d *document.Document) error {
	d.Version = 1
	m := toDocumentModel(d)
	_, err := s.q.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger/mongo: create document: %w", mapErr(err))
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, docID id.DocumentID) (*document.Document, error) {
	var m documentModel
	err := s.q.NewFind(&m).
		Filter(bson.M{"_id": docID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get document: %w", err)
	}
	return fromDocumentModel(&m)
}

func (s *Store) UpdateDocument(ctx context.Context, d *document.Document) error {
	m := toDocumentModel(d)
	m.Version = d.Version + 1

	res, err := s.q.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": d.Version}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger/mongo: update document: %w", mapErr(err))
	}
	if res.MatchedCount() == 0 {
		return s.missed(ctx, (*documentModel)(nil), d.ID, ledger.ErrDocumentNotFound)
	}
	d.Version = m.Version
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, docID id.DocumentID) error {
	res, err := s.q.NewDelete((*documentModel)(nil)).
		Filter(bson.M{"_id": docID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ledger/mongo: delete document: %w", mapErr(err))
	}
	if res.DeletedCount() == 0 {
		return ledger.ErrDocumentNotFound
	}
	return nil
}

func (s *Store) ListDocuments(ctx context.Context, caseID string, opts document.ListOpts) ([]*document.Document, error) {
	var models []documentModel

	filter := bson.M{"case_id": caseID}
	if opts.Category != "" {
		filter["category"] = string(opts.Category)
	}
	if opts.Confidential != nil {
		filter["confidential"] = *opts.Confidential
	}

	q := s.q.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("ledger/mongo: list documents: %w", err)
	}

	result := make([]*document.Document, len(models))
	for i := range models {
		d, err := fromDocumentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

// ==================== Helpers ====================

var entryOrder = bson.D{{Key: "activity_date", Value: 1}, {Key: "_id", Value: 1}}

// missed resolves a conditional write that matched nothing.
func (s *Store) missed(ctx context.Context, model any, docID id.ID, notFound error) error {
	n, err := s.q.NewFind(model).
		Filter(bson.M{"_id": docID.String()}).
		Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return ledger.ErrConcurrencyConflict
}

func entriesFromModels(models []entryModel) ([]*timeline.Entry, error) {
	result := make([]*timeline.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func idStrings(ids []id.ID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

// mapErr turns duplicate keys and transient transaction failures (write
// conflicts) into ledger.ErrConcurrencyConflict.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ledger.ErrConcurrencyConflict, err.Error())
	}
	var le mongo.LabeledError
	if errors.As(err, &le) && le.HasErrorLabel("TransientTransactionError") {
		return fmt.Errorf("%w: %s", ledger.ErrConcurrencyConflict, err.Error())
	}
	return err
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all ledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colEntries: {
			{Keys: bson.D{{Key: "case_id", Value: 1}, {Key: "activity_date", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "case_id", Value: 1}, {Key: "is_billable", Value: 1}, {Key: "is_billed", Value: 1}}},
			{Keys: bson.D{{Key: "invoice_id", Value: 1}}},
			{Keys: bson.D{{Key: "document_id", Value: 1}}},
			{Keys: bson.D{{Key: "created_by", Value: 1}, {Key: "activity_date", Value: 1}}},
		},
		colInvoices: {
			{
				Keys:    bson.D{{Key: "number", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "case_id", Value: 1}, {Key: "number", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "due_date", Value: 1}}},
		},
		colPayments: {
			{Keys: bson.D{{Key: "invoice_id", Value: 1}, {Key: "paid_at", Value: 1}}},
		},
		colDocuments: {
			{
				Keys:    bson.D{{Key: "storage_path", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "case_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
}
