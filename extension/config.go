package extension

import "time"

// Config holds the Ledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.ledger" or "ledger" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// Currency is the engine currency (default: "eur").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// TaxRate is the default tax percentage, e.g. "20" or "7.5".
	TaxRate string `json:"tax_rate" mapstructure:"tax_rate" yaml:"tax_rate"`

	// DueDays is the default payment window of new invoices (default: 30).
	DueDays int `json:"due_days" mapstructure:"due_days" yaml:"due_days"`

	// SweepInterval is how often sent invoices past due are marked
	// overdue. Zero disables the background sweep (default: 1h).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// MaxDocumentSize caps uploads in bytes (default: 50 MiB).
	MaxDocumentSize int64 `json:"max_document_size" mapstructure:"max_document_size" yaml:"max_document_size"`

	// DocumentRoot is the directory documents are stored under. Empty
	// keeps documents in memory.
	DocumentRoot string `json:"document_root" mapstructure:"document_root" yaml:"document_root"`

	// EncryptionKey is a hex or base64 AES-256 key. When set, documents
	// are encrypted at rest.
	EncryptionKey string `json:"-" mapstructure:"encryption_key" yaml:"encryption_key"`

	// Metrics registers Prometheus counters for ledger events with the
	// default registerer.
	Metrics bool `json:"metrics" mapstructure:"metrics" yaml:"metrics"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Currency:        "eur",
		DueDays:         30,
		SweepInterval:   time.Hour,
		MaxDocumentSize: 50 << 20,
	}
}
