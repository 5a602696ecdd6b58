package extension

import (
	"time"

	ledger "github.com/lexbox/ledger"
	"github.com/lexbox/ledger/blob"
	"github.com/lexbox/ledger/directory"
	"github.com/lexbox/ledger/plugin"
	"github.com/lexbox/ledger/store"
	"github.com/lexbox/ledger/vault"
)

// Option configures the Ledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithBucket sets the document object storage, overriding document_root.
func WithBucket(b blob.Bucket) Option {
	return func(e *Extension) { e.bucket = b }
}

// WithKeyProvider sets the document encryption key source, overriding
// encryption_key.
func WithKeyProvider(k vault.KeyProvider) Option {
	return func(e *Extension) { e.keys = k }
}

// WithDirectory sets the case and capability directory.
func WithDirectory(d directory.Directory) Option {
	return func(e *Extension) { e.dir = d }
}

// WithMetrics exports ledger events as Prometheus metrics.
func WithMetrics() Option {
	return func(e *Extension) { e.config.Metrics = true }
}

// WithLedgerOption passes a ledger.Option through to the underlying engine.
func WithLedgerOption(opt ledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, ledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithCurrency sets the engine currency.
func WithCurrency(currency string) Option {
	return func(e *Extension) { e.config.Currency = currency }
}

// WithTaxRate sets the default tax percentage, e.g. "20".
func WithTaxRate(rate string) Option {
	return func(e *Extension) { e.config.TaxRate = rate }
}

// WithSweepInterval sets how often overdue invoices are swept.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SweepInterval = d }
}
