package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lexbox/ledger/blob"
	"github.com/lexbox/ledger/directory"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/plugin"
	"github.com/lexbox/ledger/store"
	"github.com/lexbox/ledger/types"
	"github.com/lexbox/ledger/vault"
)

// Defaults applied by New.
const (
	DefaultMaxRetries      = 3
	DefaultPageSize        = 200
	DefaultMaxDocumentSize = 50 << 20
)

// DefaultAllowedTypes are the document MIME types accepted by Ingest.
var DefaultAllowedTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"image/jpeg",
	"image/png",
	"image/tiff",
}

// Ledger is the billing and document engine of a case management system.
type Ledger struct {
	store    store.Store
	dir      directory.Directory
	bucket   blob.Bucket
	keys     vault.KeyProvider
	plugins  *plugin.Registry
	logger   *slog.Logger
	validate *validator.Validate
	clock    func() time.Time

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	currency        string
	taxRate         types.Percent
	dueDays         int
	maxRetries      int
	pageSize        int
	sweepInterval   time.Duration
	maxDocumentSize int64
	allowedTypes    map[string]struct{}
	autoMigrate     bool
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:           s,
		dir:             directory.AllowAll{},
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		validate:        newValidator(),
		clock:           func() time.Time { return time.Now().UTC() },
		stopChan:        make(chan struct{}),
		currency:        types.DefaultCurrency,
		dueDays:         invoice.DefaultDueDays,
		maxRetries:      DefaultMaxRetries,
		pageSize:        DefaultPageSize,
		maxDocumentSize: DefaultMaxDocumentSize,
		autoMigrate:     true,
	}
	WithAllowedTypes(DefaultAllowedTypes...)(l)

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithDirectory sets the case and capability directory. Without one every
// case exists and every actor holds every capability.
func WithDirectory(d directory.Directory) Option {
	return func(l *Ledger) { l.dir = d }
}

// WithBucket sets the object storage for document content.
func WithBucket(b blob.Bucket) Option {
	return func(l *Ledger) { l.bucket = b }
}

// WithKeyProvider enables at-rest encryption of ingested documents.
func WithKeyProvider(k vault.KeyProvider) Option {
	return func(l *Ledger) { l.keys = k }
}

// WithCurrency sets the currency of new entries and summaries.
func WithCurrency(currency string) Option {
	return func(l *Ledger) { l.currency = strings.ToLower(currency) }
}

// WithTaxRate sets the tax rate applied to invoices that do not name one.
func WithTaxRate(rate types.Percent) Option {
	return func(l *Ledger) { l.taxRate = rate }
}

// WithDueDays sets the default payment window of new invoices.
func WithDueDays(days int) Option {
	return func(l *Ledger) {
		if days > 0 {
			l.dueDays = days
		}
	}
}

// WithMaxRetries bounds how often an operation that lost a concurrent
// race is retried.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

// WithPageSize sets the page size of keyset scans.
func WithPageSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

// WithSweepInterval runs the overdue sweep in the background at the given
// interval. Zero disables the sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Ledger) { l.sweepInterval = d }
}

// WithMaxDocumentSize sets the largest accepted upload in bytes.
func WithMaxDocumentSize(n int64) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxDocumentSize = n
		}
	}
}

// WithAllowedTypes replaces the accepted document MIME types.
func WithAllowedTypes(mimeTypes ...string) Option {
	return func(l *Ledger) {
		l.allowedTypes = make(map[string]struct{}, len(mimeTypes))
		for _, t := range mimeTypes {
			l.allowedTypes[strings.ToLower(t)] = struct{}{}
		}
	}
}

// WithAutoMigrate controls whether Start migrates the store. It is on by
// default.
func WithAutoMigrate(enabled bool) Option {
	return func(l *Ledger) { l.autoMigrate = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = func() time.Time { return now().UTC() }
	}
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Start migrates the store unless auto-migration is off, initializes
// plugins and starts the overdue sweeper when one is configured.
func (l *Ledger) Start(ctx context.Context) error {
	if l.autoMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return err
		}
	}

	// Initialize plugins
	l.plugins.EmitInit(ctx, l)

	if l.sweepInterval > 0 {
		l.wg.Add(1)
		go l.overdueSweeper(context.WithoutCancel(ctx))
	}

	l.logger.Info("ledger started",
		"currency", l.currency,
		"tax_rate", l.taxRate.String(),
		"due_days", l.dueDays,
		"sweep_interval", l.sweepInterval,
		"encryption", l.keys != nil,
	)

	return nil
}

// Stop shuts down the Ledger.
func (l *Ledger) Stop() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// ──────────────────────────────────────────────────
// Background Workers
// ──────────────────────────────────────────────────

func (l *Ledger) overdueSweeper(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			if _, err := l.SweepOverdue(ctx); err != nil {
				l.logger.Error("overdue sweep failed", "error", err)
			}
		}
	}
}

// ──────────────────────────────────────────────────
// Helper Methods
// ──────────────────────────────────────────────────

func (l *Ledger) now() time.Time { return l.clock() }

// authorize checks that actor holds capability.
func (l *Ledger) authorize(ctx context.Context, actor, capability string) error {
	if actor == "" {
		return ValidationError{Field: "actor", Message: "is required"}
	}
	ok, err := l.dir.UserHasCapability(ctx, actor, capability)
	if err != nil {
		return fmt.Errorf("ledger: check capability %s: %w", capability, err)
	}
	if !ok {
		return &PermissionDeniedError{Actor: actor, Capability: capability}
	}
	return nil
}

// requireCase checks that the case exists.
func (l *Ledger) requireCase(ctx context.Context, caseID string) error {
	if caseID == "" {
		return ValidationError{Field: "case_id", Message: "is required"}
	}
	ok, err := l.dir.CaseExists(ctx, caseID)
	if err != nil {
		return fmt.Errorf("ledger: look up case %s: %w", caseID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
	}
	return nil
}
