package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/lexbox/ledger/document"
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/payment"
	"github.com/lexbox/ledger/timeline"
	"github.com/lexbox/ledger/types"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit             []OnInit
	onShutdown         []OnShutdown
	onEntryRecorded    []OnEntryRecorded
	onEntryUpdated     []OnEntryUpdated
	onEntryDeleted     []OnEntryDeleted
	onInvoiceCreated   []OnInvoiceCreated
	onInvoiceSent      []OnInvoiceSent
	onInvoiceCancelled []OnInvoiceCancelled
	onInvoicePaid      []OnInvoicePaid
	onOverdueSwept     []OnOverdueSwept
	onPaymentRecorded  []OnPaymentRecorded
	onPaymentDeleted   []OnPaymentDeleted
	onDocumentIngested []OnDocumentIngested
	onDocumentDeleted  []OnDocumentDeleted
	onIntegrityFailure []OnIntegrityFailure
	taxRateProviders   []TaxRateProvider
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnEntryRecorded); ok {
		r.onEntryRecorded = append(r.onEntryRecorded, v)
	}
	if v, ok := p.(OnEntryUpdated); ok {
		r.onEntryUpdated = append(r.onEntryUpdated, v)
	}
	if v, ok := p.(OnEntryDeleted); ok {
		r.onEntryDeleted = append(r.onEntryDeleted, v)
	}
	if v, ok := p.(OnInvoiceCreated); ok {
		r.onInvoiceCreated = append(r.onInvoiceCreated, v)
	}
	if v, ok := p.(OnInvoiceSent); ok {
		r.onInvoiceSent = append(r.onInvoiceSent, v)
	}
	if v, ok := p.(OnInvoiceCancelled); ok {
		r.onInvoiceCancelled = append(r.onInvoiceCancelled, v)
	}
	if v, ok := p.(OnInvoicePaid); ok {
		r.onInvoicePaid = append(r.onInvoicePaid, v)
	}
	if v, ok := p.(OnOverdueSwept); ok {
		r.onOverdueSwept = append(r.onOverdueSwept, v)
	}
	if v, ok := p.(OnPaymentRecorded); ok {
		r.onPaymentRecorded = append(r.onPaymentRecorded, v)
	}
	if v, ok := p.(OnPaymentDeleted); ok {
		r.onPaymentDeleted = append(r.onPaymentDeleted, v)
	}
	if v, ok := p.(OnDocumentIngested); ok {
		r.onDocumentIngested = append(r.onDocumentIngested, v)
	}
	if v, ok := p.(OnDocumentDeleted); ok {
		r.onDocumentDeleted = append(r.onDocumentDeleted, v)
	}
	if v, ok := p.(OnIntegrityFailure); ok {
		r.onIntegrityFailure = append(r.onIntegrityFailure, v)
	}
	if v, ok := p.(TaxRateProvider); ok {
		r.taxRateProviders = append(r.taxRateProviders, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnEntryRecorded)(nil)).Elem(), "OnEntryRecorded")
	checkInterface(reflect.TypeOf((*OnInvoiceCreated)(nil)).Elem(), "OnInvoiceCreated")
	checkInterface(reflect.TypeOf((*OnInvoiceCancelled)(nil)).Elem(), "OnInvoiceCancelled")
	checkInterface(reflect.TypeOf((*OnPaymentRecorded)(nil)).Elem(), "OnPaymentRecorded")
	checkInterface(reflect.TypeOf((*OnDocumentIngested)(nil)).Elem(), "OnDocumentIngested")
	checkInterface(reflect.TypeOf((*OnIntegrityFailure)(nil)).Elem(), "OnIntegrityFailure")
	checkInterface(reflect.TypeOf((*TaxRateProvider)(nil)).Elem(), "TaxRateProvider")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInit", func() error {
			return p.OnInit(ctx, ledger)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnShutdown", func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitEntryRecorded emits an entry recorded event.
func (r *Registry) EmitEntryRecorded(ctx context.Context, e *timeline.Entry) {
	r.mu.RLock()
	plugins := r.onEntryRecorded
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnEntryRecorded", func() error {
			return p.OnEntryRecorded(ctx, e)
		})
	}
}

// EmitEntryUpdated emits an entry updated event.
func (r *Registry) EmitEntryUpdated(ctx context.Context, e *timeline.Entry) {
	r.mu.RLock()
	plugins := r.onEntryUpdated
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnEntryUpdated", func() error {
			return p.OnEntryUpdated(ctx, e)
		})
	}
}

// EmitEntryDeleted emits an entry deleted event.
func (r *Registry) EmitEntryDeleted(ctx context.Context, entryID id.EntryID) {
	r.mu.RLock()
	plugins := r.onEntryDeleted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnEntryDeleted", func() error {
			return p.OnEntryDeleted(ctx, entryID)
		})
	}
}

// EmitInvoiceCreated emits an invoice created event.
func (r *Registry) EmitInvoiceCreated(ctx context.Context, inv *invoice.Invoice) {
	r.mu.RLock()
	plugins := r.onInvoiceCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInvoiceCreated", func() error {
			return p.OnInvoiceCreated(ctx, inv)
		})
	}
}

// EmitInvoiceSent emits an invoice sent event.
func (r *Registry) EmitInvoiceSent(ctx context.Context, inv *invoice.Invoice) {
	r.mu.RLock()
	plugins := r.onInvoiceSent
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInvoiceSent", func() error {
			return p.OnInvoiceSent(ctx, inv)
		})
	}
}

// EmitInvoiceCancelled emits an invoice cancelled event.
func (r *Registry) EmitInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, released int64) {
	r.mu.RLock()
	plugins := r.onInvoiceCancelled
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInvoiceCancelled", func() error {
			return p.OnInvoiceCancelled(ctx, inv, released)
		})
	}
}

// EmitInvoicePaid emits an invoice paid event.
func (r *Registry) EmitInvoicePaid(ctx context.Context, inv *invoice.Invoice) {
	r.mu.RLock()
	plugins := r.onInvoicePaid
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInvoicePaid", func() error {
			return p.OnInvoicePaid(ctx, inv)
		})
	}
}

// EmitOverdueSwept emits the result of an overdue sweep.
func (r *Registry) EmitOverdueSwept(ctx context.Context, count int64, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onOverdueSwept
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnOverdueSwept", func() error {
			return p.OnOverdueSwept(ctx, count, elapsed)
		})
	}
}

// EmitPaymentRecorded emits a payment recorded event.
func (r *Registry) EmitPaymentRecorded(ctx context.Context, pay *payment.Payment, inv *invoice.Invoice) {
	r.mu.RLock()
	plugins := r.onPaymentRecorded
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnPaymentRecorded", func() error {
			return p.OnPaymentRecorded(ctx, pay, inv)
		})
	}
}

// EmitPaymentDeleted emits a payment deleted event.
func (r *Registry) EmitPaymentDeleted(ctx context.Context, pay *payment.Payment, inv *invoice.Invoice) {
	r.mu.RLock()
	plugins := r.onPaymentDeleted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnPaymentDeleted", func() error {
			return p.OnPaymentDeleted(ctx, pay, inv)
		})
	}
}

// EmitDocumentIngested emits a document ingested event.
func (r *Registry) EmitDocumentIngested(ctx context.Context, d *document.Document) {
	r.mu.RLock()
	plugins := r.onDocumentIngested
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnDocumentIngested", func() error {
			return p.OnDocumentIngested(ctx, d)
		})
	}
}

// EmitDocumentDeleted emits a document deleted event.
func (r *Registry) EmitDocumentDeleted(ctx context.Context, d *document.Document) {
	r.mu.RLock()
	plugins := r.onDocumentDeleted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnDocumentDeleted", func() error {
			return p.OnDocumentDeleted(ctx, d)
		})
	}
}

// EmitIntegrityFailure emits an integrity failure event.
func (r *Registry) EmitIntegrityFailure(ctx context.Context, documentID id.DocumentID, cause error) {
	r.mu.RLock()
	plugins := r.onIntegrityFailure
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnIntegrityFailure", func() error {
			return p.OnIntegrityFailure(ctx, documentID, cause)
		})
	}
}

// TaxRate asks the registered providers, in registration order, for a
// case-specific tax rate. It returns ok=false when none applies.
func (r *Registry) TaxRate(ctx context.Context, caseID string, subtotal types.Money) (types.Percent, bool, error) {
	r.mu.RLock()
	providers := r.taxRateProviders
	r.mu.RUnlock()

	for _, p := range providers {
		rate, ok, err := p.TaxRate(ctx, caseID, subtotal)
		if err != nil {
			return 0, false, fmt.Errorf("plugin %s: tax rate: %w", p.Name(), err)
		}
		if ok {
			return rate, true, nil
		}
	}
	return 0, false, nil
}

// dispatch runs a hook and logs its failure. Hook errors never fail the
// operation that emitted the event.
func (r *Registry) dispatch(ctx context.Context, pluginName, hook string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
