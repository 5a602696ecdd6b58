// Package sqlite implements store.Store on SQLite through grove's sqlite
// driver. Open the database with DSN so timestamps sort as text.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	ledger "github.com/lexbox/ledger"
	"github.com/lexbox/ledger/document"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/payment"
	ledgerstore "github.com/lexbox/ledger/store"
	"github.com/lexbox/ledger/timeline"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// conn is the query surface shared by the pool and a transaction.
type conn interface {
	NewSelect(model ...any) *sqlitedriver.SelectQuery
	NewInsert(model any) *sqlitedriver.InsertQuery
	NewUpdate(model any) *sqlitedriver.UpdateQuery
	NewDelete(model any) *sqlitedriver.DeleteQuery
	NewRaw(query string, args ...any) *sqlitedriver.RawQuery
}

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
	q   conn
	tx  *sqlitedriver.SqliteTx
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	sdb := sqlitedriver.Unwrap(db)
	return &Store{
		db:  db,
		sdb: sdb,
		q:   sdb,
	}
}

// DSN builds a modernc.org/sqlite data source name for a database file.
// Times are written in SQLite's own format so range filters compare
// correctly, and write transactions take the lock when they begin.
func DSN(path string) string {
	return "file:" + path + "?_time_format=sqlite&_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("ledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("ledger/sqlite: migration failed: %w", err)
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

// Transact runs fn in a transaction. SQLite admits one writer at a time;
// a writer that loses the race gets SQLITE_BUSY, which surfaces as
// ledger.ErrConcurrencyConflict.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx ledgerstore.Store) error) (err error) {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.sdb.BeginTxQuery(ctx, &driver.TxOptions{IsolationLevel: driver.LevelDefault})
	if err != nil {
		return fmt.Errorf("ledger/sqlite: begin: %w", mapErr(err))
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

	if err = fn(ctx, &Store{db: s.db, sdb: s.sdb, q: tx, tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ledger/sqlite: commit: %w", mapErr(err))
	}
	return nil
}

// ==================== Timeline Store ====================

func (s *Store) CreateEntry(ctx context.Context, e *timeline.Entry) error {
	e.Version = 1
	m := toEntryModel(e)
	_, err := s.q.NewInsert(m).Exec(ctx)
	return mapErr(err)
}

func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*timeline.Entry, error) {
	m := new(entryModel)
	err := s.q.NewSelect(m).
		Where("id = ?", entryID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledger.ErrEntryNotFound
		}
		return nil, err
	}
	return fromEntryModel(m)
}

func (s *Store) UpdateEntry(ctx context.Context, e *timeline.Entry) error {
	m := toEntryModel(e)
	m.Version = e.Version + 1
	res, err := s.q.NewUpdate(m).
		WherePK().
		Where("version = ?", e.Version).
		Exec(ctx)
	if err != nil {
		return mapErr(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missed(ctx, (*entryModel)(nil), e.ID, ledger.ErrEntryNotFound)
	}
	e.Version = m.Version
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, entryID id.EntryID) error {
	res, err := s.q.NewDelete((*entryModel)(nil)).
		Where("id = ?", entryID.String()).
		Where("NOT is_billed").
		Exec(ctx)
	if err != nil {
		return mapErr(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missed(ctx, (*entryModel)(nil), entryID, ledger.ErrEntryNotFound)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, caseID string, opts timeline.ListOpts) ([]*timeline.Entry, error) {
	var models []entryModel
	q := s.q.NewSelect(&models).Where("case_id = ?", caseID)

	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if opts.Billable != nil {
		q = q.Where("is_billable = ?", *opts.Billable)
	}
	if opts.Billed != nil {
		q = q.Where("is_billed = ?", *opts.Billed)
	}
	if !opts.From.IsZero() {
		q = q.Where("activity_date >= ?", opts.From)
	}
	if !opts.To.IsZero() {
		q = q.Where("activity_date < ?", opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("activity_date ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return entriesFromModels(models)
}

func (s *Store) ListUnbilledEntries(ctx context.Context, caseID string, after *timeline.Cursor, limit int) ([]*timeline.Entry, error) {
	var models []entryModel
	q := s.q.NewSelect(&models).
		Where("case_id = ?", caseID).
		Where("is_billable AND NOT is_billed")
	if after != nil {
		q = q.Where("(activity_date, id) > (?, ?)", after.ActivityDate, after.ID.String())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	q = q.OrderExpr("activity_date ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return entriesFromModels(models)
}

func (s *Store) ListEntriesByCreator(ctx context.Context, actor string, since time.Time, after *timeline.Cursor, limit int) ([]*timeline.Entry, error) {
	var models []entryModel
	q := s.q.NewSelect(&models).
		Where("created_by = ?", actor).
		Where("activity_date >= ?", since)
	if after != nil {
		q = q.Where("(activity_date, id) > (?, ?)", after.ActivityDate, after.ID.String())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	q = q.OrderExpr("activity_date ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return entriesFromModels(models)
}

// ClaimEntries flips the billing flag only on rows that are still billable
// and unbilled at write time, so two concurrent invoices can never claim
// the same entry: the loser sees fewer affected rows.
func (s *Store) ClaimEntries(ctx context.Context, caseID string, entryIDs []id.EntryID, invoiceID id.InvoiceID, actor string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	res, err := s.q.NewUpdate((*entryModel)(nil)).
		Set("is_billed = TRUE").
		Set("invoice_id = ?", invoiceID.String()).
		Set("updated_by = ?", actor).
		Set("updated_at = ?", now()).
		Set("version = version + 1").
		Where("case_id = ?", caseID).
		Where("is_billable AND NOT is_billed").
		Where("id IN ("+placeholders(len(entryIDs))+")", idArgs(entryIDs)...).
		Exec(ctx)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

func (s *Store) ReleaseEntries(ctx context.Context, invoiceID id.InvoiceID, actor string) (int64, error) {
	res, err := s.q.NewUpdate((*entryModel)(nil)).
		Set("is_billed = FALSE").
		Set("invoice_id = ''").
		Set("updated_by = ?", actor).
		Set("updated_at = ?", now()).
		Set("version = version + 1").
		Where("invoice_id = ?", invoiceID.String()).
		Where("is_billed").
		Exec(ctx)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

func (s *Store) ListEntriesByInvoice(ctx context.Context, invoiceID id.InvoiceID) ([]*timeline.Entry, error) {
	var models []entryModel
	err := s.q.NewSelect(&models).
		Where("invoice_id = ?", invoiceID.String()).
		Where("is_billed").
		OrderExpr("activity_date ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entriesFromModels(models)
}

func (s *Store) ListEntriesByDocument(ctx context.Context, documentID id.DocumentID) ([]*timeline.Entry, error) {
	var models []entryModel
	err := s.q.NewSelect(&models).
		Where("document_id = ?", documentID.String()).
		OrderExpr("activity_date ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entriesFromModels(models)
}

func (s *Store) DeleteEntriesByDocument(ctx context.Context, documentID id.DocumentID) (int64, error) {
	res, err := s.q.NewDelete((*entryModel)(nil)).
		Where("document_id = ?", documentID.String()).
		Where("NOT is_billed").
		Exec(ctx)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

// ==================== Invoice Store ====================

// NextInvoiceNumber bumps the counter row. Inside a transaction the bump
// rolls back with it; the unique index on number still rejects reuse.
func (s *Store) NextInvoiceNumber(ctx context.Context) (int64, error) {
	var n int64
	err := s.q.NewRaw(
		"UPDATE ledger_sequences SET value = value + 1 WHERE name = ? RETURNING value",
		"invoice_number",
	).Scan(ctx, &n)
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	inv.Version = 1
	m := toInvoiceModel(inv)
	_, err := s.q.NewInsert(m).Exec(ctx)
	return mapErr(err)
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.q.NewSelect(m).
		Where("id = ?", invID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledger.ErrInvoiceNotFound
		}
		return nil, mapErr(err)
	}
	return fromInvoiceModel(m)
}

// GetInvoiceForUpdate is GetInvoice: SQLite has no row locks, and the
// versioned UpdateInvoice rejects a write based on a stale read.
func (s *Store) GetInvoiceForUpdate(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return s.GetInvoice(ctx, invID)
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.q.NewSelect(m).
		Where("number = ?", number).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledger.ErrInvoiceNotFound
		}
		return nil, err
	}
	return fromInvoiceModel(m)
}

func (s *Store) ListInvoices(ctx context.Context, caseID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	q := s.q.NewSelect(&models).Where("case_id = ?", caseID)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("number ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
		WherePK().
		Where("version = ?", inv.Version).
		Exec(ctx)
	if err != nil {
		return mapErr(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missed(ctx, (*invoiceModel)(nil), inv.ID, ledger.ErrInvoiceNotFound)
	}
	inv.Version = m.Version
	return nil
}

func (s *Store) MarkInvoicesOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	res, err := s.q.NewUpdate((*invoiceModel)(nil)).
		Set("status = ?", string(invoice.StatusOverdue)).
		Set("updated_at = ?", now()).
		Set("version = version + 1").
		Where("status = ?", string(invoice.StatusSent)).
		Where("due_date < ?", asOf).
		Exec(ctx)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	m := toPaymentModel(p)
	_, err := s.q.NewInsert(m).Exec(ctx)
	return mapErr(err)
}

func (s *Store) GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Payment, error) {
	m := new(paymentModel)
	err := s.q.NewSelect(m).
		Where("id = ?", paymentID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledger.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromPaymentModel(m)
}

func (s *Store) DeletePayment(ctx context.Context, paymentID id.PaymentID) error {
	res, err := s.q.NewDelete((*paymentModel)(nil)).
		Where("id = ?", paymentID.String()).
		Exec(ctx)
	if err != nil {
		return mapErr(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ledger.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) ListPayments(ctx context.Context, invoiceID id.InvoiceID) ([]*payment.Payment, error) {
	var models []paymentModel
	err := s.q.NewSelect(&models).
		Where("invoice_id = ?", invoiceID.String()).
		OrderExpr("paid_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	return mapErr(err)
}

func (s *Store) GetDocument(ctx context.Context, docID id.DocumentID) (*document.Document, error) {
	m := new(documentModel)
	err := s.q.NewSelect(m).
		Where("id = ?", docID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ledger.ErrDocumentNotFound
		}
		return nil, err
	}
	return fromDocumentModel(m)
}

func (s *Store) UpdateDocument(ctx context.Context, d *document.Document) error {
	m := toDocumentModel(d)
	m.Version = d.Version + 1
	res, err := s.q.NewUpdate(m).
		WherePK().
		Where("version = ?", d.Version).
		Exec(ctx)
	if err != nil {
		return mapErr(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missed(ctx, (*documentModel)(nil), d.ID, ledger.ErrDocumentNotFound)
	}
	d.Version = m.Version
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, docID id.DocumentID) error {
	res, err := s.q.NewDelete((*documentModel)(nil)).
		Where("id = ?", docID.String()).
		Exec(ctx)
	if err != nil {
		return mapErr(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ledger.ErrDocumentNotFound
	}
	return nil
}

func (s *Store) ListDocuments(ctx context.Context, caseID string, opts document.ListOpts) ([]*document.Document, error) {
	var models []documentModel
	q := s.q.NewSelect(&models).Where("case_id = ?", caseID)

	if opts.Category != "" {
		q = q.Where("category = ?", string(opts.Category))
	}
	if opts.Confidential != nil {
		q = q.Where("confidential = ?", *opts.Confidential)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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

// missed resolves a conditional write that touched no rows: the row is
// either gone or was changed underneath the caller.
func (s *Store) missed(ctx context.Context, model any, rowID id.ID, notFound error) error {
	n, err := s.q.NewSelect(model).
		Where("id = ?", rowID.String()).
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

func idArgs(ids []id.ID) []any {
	out := make([]any, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// mapErr turns busy/locked databases and unique violations into
// ledger.ErrConcurrencyConflict so callers can retry.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var sqErr *msqlite.Error
	if errors.As(err, &sqErr) {
		code := sqErr.Code()
		switch {
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED,
			code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", ledger.ErrConcurrencyConflict, sqErr.Error())
		}
	}
	return err
}

func now() time.Time {
	return time.Now().UTC()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
