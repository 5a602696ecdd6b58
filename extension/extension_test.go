package extension

import (
	"testing"
	"time"
)

func TestMergeConfigurations(t *testing.T) {
	e := New()

	file := Config{Currency: "usd", TaxRate: "21"}
	programmatic := Config{
		Currency:      "eur",
		TaxRate:       "20",
		DueDays:       14,
		DocumentRoot:  "/var/lib/ledger",
		Metrics:       true,
		SweepInterval: 10 * time.Minute,
	}

	got := e.mergeConfigurations(file, programmatic)

	if got.Currency != "usd" || got.TaxRate != "21" {
		t.Errorf("file values should win, got %s/%s", got.Currency, got.TaxRate)
	}
	if got.DueDays != 14 || got.DocumentRoot != "/var/lib/ledger" {
		t.Errorf("programmatic values should fill gaps, got %d/%s", got.DueDays, got.DocumentRoot)
	}
	if !got.Metrics {
		t.Error("programmatic metrics flag lost")
	}
	if got.SweepInterval != 10*time.Minute {
		t.Errorf("sweep interval = %v", got.SweepInterval)
	}
	if got.MaxDocumentSize != DefaultConfig().MaxDocumentSize {
		t.Errorf("max document size = %d, want default", got.MaxDocumentSize)
	}
}

func TestMergeWithDefaultsKeepsZeroSweep(t *testing.T) {
	got := New().mergeWithDefaults(Config{})
	if got.Currency != "eur" || got.DueDays != 30 {
		t.Errorf("defaults not applied: %+v", got)
	}
	if got.SweepInterval != 0 {
		t.Errorf("zero sweep interval should disable the sweep, got %v", got.SweepInterval)
	}
}

func TestBuildLedgerOpts(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{"defaults", nil, false},
		{"tax rate", []Option{WithTaxRate("20")}, false},
		{"bad tax rate", []Option{WithTaxRate("twenty")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...).buildLedgerOpts()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
