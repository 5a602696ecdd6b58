package postgres

import (
	"context"

	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the migration executor
	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Ledger store.
var Migrations = migrate.NewGroup("ledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_ledger_documents",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_documents (
    id                TEXT PRIMARY KEY,
    case_id           TEXT NOT NULL,
    original_name     TEXT NOT NULL DEFAULT '',
    storage_path      TEXT NOT NULL,
    size_bytes        BIGINT NOT NULL DEFAULT 0,
    plain_size_bytes  BIGINT NOT NULL DEFAULT 0,
    mime_type         TEXT NOT NULL DEFAULT '',
    category          TEXT NOT NULL DEFAULT 'other',
    physical_location TEXT NOT NULL DEFAULT '',
    description       TEXT NOT NULL DEFAULT '',
    document_date     TIMESTAMPTZ,
    confidential      BOOLEAN NOT NULL DEFAULT FALSE,
    encryption        TEXT NOT NULL DEFAULT 'none',
    entry_id          TEXT NOT NULL DEFAULT '',
    uploaded_by       TEXT NOT NULL DEFAULT '',
    updated_by        TEXT NOT NULL DEFAULT '',
    metadata          JSONB NOT NULL DEFAULT '{}',
    version           BIGINT NOT NULL DEFAULT 1,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_documents_path ON ledger_documents (storage_path);
CREATE INDEX IF NOT EXISTS idx_ledger_documents_case ON ledger_documents (case_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_documents_category ON ledger_documents (case_id, category);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_documents`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_invoices",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE SEQUENCE IF NOT EXISTS ledger_invoice_number_seq START 1;

CREATE TABLE IF NOT EXISTS ledger_invoices (
    id                    TEXT PRIMARY KEY,
    case_id               TEXT NOT NULL,
    number                TEXT NOT NULL,
    issue_date            TIMESTAMPTZ NOT NULL,
    due_date              TIMESTAMPTZ NOT NULL,
    currency              TEXT NOT NULL DEFAULT 'eur',
    subtotal_amount_cents BIGINT NOT NULL DEFAULT 0,
    tax_rate_bp           BIGINT NOT NULL DEFAULT 0,
    tax_amount_cents      BIGINT NOT NULL DEFAULT 0,
    total_amount_cents    BIGINT NOT NULL DEFAULT 0,
    paid_amount_cents     BIGINT NOT NULL DEFAULT 0,
    status                TEXT NOT NULL DEFAULT 'draft',
    sent_at               TIMESTAMPTZ,
    cancelled_at          TIMESTAMPTZ,
    notes                 TEXT NOT NULL DEFAULT '',
    payment_terms         TEXT NOT NULL DEFAULT '',
    line_items            JSONB NOT NULL DEFAULT '[]',
    created_by            TEXT NOT NULL DEFAULT '',
    updated_by            TEXT NOT NULL DEFAULT '',
    version               BIGINT NOT NULL DEFAULT 1,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (paid_amount_cents >= 0),
    CHECK (paid_amount_cents <= total_amount_cents)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_invoices_number ON ledger_invoices (number);
CREATE INDEX IF NOT EXISTS idx_ledger_invoices_case ON ledger_invoices (case_id, issue_date DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_invoices_due ON ledger_invoices (status, due_date);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS ledger_invoices;
DROP SEQUENCE IF EXISTS ledger_invoice_number_seq;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_timeline_entries",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_timeline_entries (
    id                TEXT PRIMARY KEY,
    case_id           TEXT NOT NULL,
    kind              TEXT NOT NULL,
    title             TEXT NOT NULL,
    description       TEXT NOT NULL DEFAULT '',
    activity_type     TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT '',
    priority          TEXT NOT NULL DEFAULT '',
    activity_date     TIMESTAMPTZ NOT NULL,
    hours_hundredths  BIGINT NOT NULL DEFAULT 0,
    rate_amount_cents BIGINT NOT NULL DEFAULT 0,
    amount_cents      BIGINT NOT NULL DEFAULT 0,
    currency          TEXT NOT NULL DEFAULT 'eur',
    amount_overridden BOOLEAN NOT NULL DEFAULT FALSE,
    is_billable       BOOLEAN NOT NULL DEFAULT FALSE,
    is_billed         BOOLEAN NOT NULL DEFAULT FALSE,
    invoice_id        TEXT NOT NULL DEFAULT '',
    document_id       TEXT NOT NULL DEFAULT '',
    created_by        TEXT NOT NULL DEFAULT '',
    updated_by        TEXT NOT NULL DEFAULT '',
    version           BIGINT NOT NULL DEFAULT 1,
    metadata          JSONB NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (amount_cents >= 0),
    CHECK (is_billed = (invoice_id <> ''))
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_case ON ledger_timeline_entries (case_id, activity_date, id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_unbilled ON ledger_timeline_entries (case_id, activity_date, id)
    WHERE is_billable AND NOT is_billed;
CREATE INDEX IF NOT EXISTS idx_ledger_entries_invoice ON ledger_timeline_entries (invoice_id) WHERE invoice_id <> '';
CREATE INDEX IF NOT EXISTS idx_ledger_entries_document ON ledger_timeline_entries (document_id) WHERE document_id <> '';
CREATE INDEX IF NOT EXISTS idx_ledger_entries_creator ON ledger_timeline_entries (created_by, activity_date, id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_timeline_entries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_payments",
			Version: "20250301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_payments (
    id           TEXT PRIMARY KEY,
    invoice_id   TEXT NOT NULL REFERENCES ledger_invoices (id),
    case_id      TEXT NOT NULL,
    amount_cents BIGINT NOT NULL,
    currency     TEXT NOT NULL DEFAULT 'eur',
    paid_at      TIMESTAMPTZ NOT NULL,
    method       TEXT NOT NULL DEFAULT 'other',
    reference    TEXT NOT NULL DEFAULT '',
    notes        TEXT NOT NULL DEFAULT '',
    created_by   TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (amount_cents > 0)
);

CREATE INDEX IF NOT EXISTS idx_ledger_payments_invoice ON ledger_payments (invoice_id, paid_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_payments`)
				return err
			},
		},
	)
}
