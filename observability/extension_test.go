package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lexbox/ledger/invoice"
	"github.com/lexbox/ledger/timeline"
	"github.com/lexbox/ledger/types"
)

func TestMetricsExtensionCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsExtension(NewPrometheusFactory(reg))
	ctx := context.Background()

	_ = m.OnEntryRecorded(ctx, &timeline.Entry{IsBillable: true, Hours: 350})
	_ = m.OnEntryRecorded(ctx, &timeline.Entry{})
	_ = m.OnInvoiceCreated(ctx, &invoice.Invoice{Total: types.EUR(63000)})
	_ = m.OnInvoiceCancelled(ctx, &invoice.Invoice{}, 4)
	_ = m.OnOverdueSwept(ctx, 2, 15*time.Millisecond)

	tests := []struct {
		name string
		c    Counter
		want float64
	}{
		{"entries", m.EntryRecorded, 2},
		{"billable", m.BillableRecorded, 1},
		{"invoices", m.InvoiceCreated, 1},
		{"released", m.EntriesReleased, 4},
		{"overdue", m.OverdueMarked, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testutil.ToFloat64(tt.c.(prometheus.Counter))
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrometheusFactoryReuse(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := NewPrometheusFactory(reg)

	a := f.Counter("ledger.invoice.paid")
	b := f.Counter("ledger.invoice.paid")
	a.Inc()
	b.Inc()

	if got := testutil.ToFloat64(a.(prometheus.Counter)); got != 2 {
		t.Errorf("got %v, want 2", got)
	}

	// A second factory on the same registry shares the collector.
	c := NewPrometheusFactory(reg).Counter("ledger.invoice.paid")
	c.Inc()
	if got := testutil.ToFloat64(a.(prometheus.Counter)); got != 3 {
		t.Errorf("got %v, want 3", got)
	}

	n, err := testutil.GatherAndCount(reg, "ledger_invoice_paid_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("registered %d series, want 1", n)
	}
}
