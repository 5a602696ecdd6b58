// Package extension provides the Forge extension adapter for Ledger.
//
// It implements the forge.Extension interface to integrate Ledger
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.ledger" or "ledger" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	ledger "github.com/lexbox/ledger"
	"github.com/lexbox/ledger/blob"
	"github.com/lexbox/ledger/blob/fs"
	blobmem "github.com/lexbox/ledger/blob/memory"
	"github.com/lexbox/ledger/directory"
	"github.com/lexbox/ledger/observability"
	"github.com/lexbox/ledger/store"
	"github.com/lexbox/ledger/store/memory"
	"github.com/lexbox/ledger/types"
	"github.com/lexbox/ledger/vault"
)

// configKeys are tried in order when reading configuration files.
var configKeys = []string{"extensions.ledger", "ledger"}

// ExtensionName is the name registered with Forge.
const ExtensionName = "ledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Case billing ledger and encrypted document vault"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *ledger.Ledger
	store      store.Store
	bucket     blob.Bucket
	keys       vault.KeyProvider
	dir        directory.Directory
	ledgerOpts []ledger.Option
}

// New creates a new Ledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
		config:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *ledger.Ledger { return e.engine }

// Register implements [forge.Extension]. It loads configuration, opens
// the document bucket, builds the engine and provides it to the DI
// container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Metadata and documents stay in memory unless configured otherwise.
	if e.store == nil {
		e.store = memory.New()
	}
	if e.bucket == nil {
		bucket, err := e.openBucket()
		if err != nil {
			return err
		}
		e.bucket = bucket
	}
	if e.keys == nil && e.config.EncryptionKey != "" {
		keys, err := vault.ParseKey(e.config.EncryptionKey)
		if err != nil {
			return fmt.Errorf("ledger: encryption_key: %w", err)
		}
		e.keys = keys
	}

	opts, err := e.buildLedgerOpts()
	if err != nil {
		return err
	}
	e.engine = ledger.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*ledger.Ledger, error) {
		return e.engine, nil
	})
}

func (e *Extension) openBucket() (blob.Bucket, error) {
	if e.config.DocumentRoot == "" {
		e.Logger().Warn("ledger: no document_root configured, documents are kept in memory")
		return blobmem.New(), nil
	}
	bucket, err := fs.New(e.config.DocumentRoot)
	if err != nil {
		return nil, fmt.Errorf("ledger: document_root: %w", err)
	}
	return bucket, nil
}

// Start implements [forge.Extension]. It migrates the store unless
// migrations are disabled and starts the overdue sweeper.
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("ledger: extension not initialized")
	}
	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension]. It reports the metadata store;
// object storage is checked on first use.
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("ledger: store not initialized")
	}
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("ledger: store: %w", err)
	}
	return nil
}

// buildLedgerOpts constructs ledger.Option values from the resolved config.
// Pass-through options come last and win.
func (e *Extension) buildLedgerOpts() ([]ledger.Option, error) {
	opts := make([]ledger.Option, 0, len(e.ledgerOpts)+10)

	opts = append(opts,
		ledger.WithAutoMigrate(!e.config.DisableMigrate),
		ledger.WithBucket(e.bucket),
		ledger.WithCurrency(e.config.Currency),
		ledger.WithDueDays(e.config.DueDays),
		ledger.WithSweepInterval(e.config.SweepInterval),
		ledger.WithMaxDocumentSize(e.config.MaxDocumentSize),
	)
	if e.config.TaxRate != "" {
		rate, err := types.ParsePercent(e.config.TaxRate)
		if err != nil {
			return nil, fmt.Errorf("ledger: tax_rate: %w", err)
		}
		opts = append(opts, ledger.WithTaxRate(rate))
	}
	if e.keys != nil {
		opts = append(opts, ledger.WithKeyProvider(e.keys))
	}
	if e.dir != nil {
		opts = append(opts, ledger.WithDirectory(e.dir))
	}
	if e.config.Metrics {
		factory := observability.NewPrometheusFactory(nil)
		opts = append(opts, ledger.WithPlugin(observability.NewMetricsExtension(factory)))
	}

	opts = append(opts, e.ledgerOpts...)

	return opts, nil
}

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("ledger: configuration is required but not found in config files; " +
				"ensure 'extensions.ledger' or 'ledger' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("ledger: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("currency", e.config.Currency),
		forge.F("tax_rate", e.config.TaxRate),
		forge.F("due_days", e.config.DueDays),
		forge.F("sweep_interval", e.config.SweepInterval),
		forge.F("document_root", e.config.DocumentRoot),
		forge.F("encryption", e.config.EncryptionKey != "" || e.keys != nil),
		forge.F("metrics", e.config.Metrics),
	)

	return nil
}

// tryLoadFromConfigFile binds the first configured key in configKeys.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range configKeys {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("ledger: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("ledger: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults. A zero sweep
// interval is kept: it disables the sweep.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.DueDays == 0 {
		cfg.DueDays = defaults.DueDays
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = defaults.MaxDocumentSize
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	yamlConfig.DisableMigrate = yamlConfig.DisableMigrate || programmaticConfig.DisableMigrate
	yamlConfig.Metrics = yamlConfig.Metrics || programmaticConfig.Metrics

	// String fields: YAML takes precedence.
	if yamlConfig.Currency == "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}
	if yamlConfig.TaxRate == "" {
		yamlConfig.TaxRate = programmaticConfig.TaxRate
	}
	if yamlConfig.DocumentRoot == "" {
		yamlConfig.DocumentRoot = programmaticConfig.DocumentRoot
	}
	if yamlConfig.EncryptionKey == "" {
		yamlConfig.EncryptionKey = programmaticConfig.EncryptionKey
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.DueDays == 0 {
		yamlConfig.DueDays = programmaticConfig.DueDays
	}
	if yamlConfig.SweepInterval == 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}
	if yamlConfig.MaxDocumentSize == 0 {
		yamlConfig.MaxDocumentSize = programmaticConfig.MaxDocumentSize
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
