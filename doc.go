// Package ledger is the billing and document engine of a law-firm case
// management system.
//
// Ledger is designed as a library, not a service. It turns the work
// recorded on a case timeline into invoices and payments, and keeps the
// documents of a case encrypted at rest. It provides:
//
//   - A case timeline whose billable entries are priced in integer minor units
//   - Invoices that claim unbilled entries in a single transaction
//   - Payment reconciliation that keeps paid amounts and status consistent
//   - A document vault with streaming AES-256-GCM encryption
//   - Pluggable storage: memory, PostgreSQL, SQLite and MongoDB
//   - Object storage on the local filesystem or any S3-compatible bucket
//
// # Quick Start
//
//	import (
//	    "github.com/lexbox/ledger"
//	    "github.com/lexbox/ledger/blob/fs"
//	    "github.com/lexbox/ledger/store/memory"
//	    "github.com/lexbox/ledger/vault"
//	)
//
//	bucket, err := fs.New("/var/lib/lexledger/objects")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	key, err := vault.ParseKey(os.Getenv("LEDGER_VAULT_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l := ledger.New(memory.New(),
//	    ledger.WithBucket(bucket),
//	    ledger.WithKeyProvider(key),
//	    ledger.WithTaxRate(2000), // 20%
//	)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Core Concepts
//
// Timeline entries record the work done on a case. Billable entries are
// charged hours × rate, rounded half-to-even:
//
//	entry, err := l.RecordEntry(ctx, ledger.RecordEntryInput{
//	    CaseID:     "case-42",
//	    Title:      "Drafting the statement of claim",
//	    Hours:      350,              // 3.50 h
//	    Rate:       ledger.EUR(15000), // €150.00 per hour
//	    IsBillable: true,
//	    Actor:      "alice",
//	})
//
// Invoices claim unbilled entries. A claimed entry cannot be repriced or
// deleted until its invoice is cancelled:
//
//	inv, err := l.CreateInvoice(ctx, ledger.CreateInvoiceInput{
//	    CaseID: "case-42",
//	    Actor:  "alice",
//	})
//
// Payments settle invoices:
//
//	_, err = l.RecordPayment(ctx, ledger.RecordPaymentInput{
//	    InvoiceID: inv.ID,
//	    Amount:    inv.Total,
//	    Method:    payment.MethodBankTransfer,
//	    Actor:     "alice",
//	})
//
// # Errors
//
// Every failure matches a sentinel through errors.Is, and Describe maps
// any error to a transport-neutral Outcome.
//
// # TypeID
//
// All records use TypeID for globally unique, type-safe identifiers:
//
//	tle_01h2xcejqtf2nbrexx3vqjhp41  // Timeline entry ID
//	inv_01h455vb4pex5vsknk084sn02q  // Invoice ID
//	pay_01h455vb4pex5vsknk084sn02q  // Payment ID
//	doc_01h455vb4pex5vsknk084sn02q  // Document ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of records.
package ledger
