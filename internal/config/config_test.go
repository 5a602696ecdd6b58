package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Blob.Backend != "fs" {
		t.Errorf("driver/backend = %s/%s", cfg.Store.Driver, cfg.Blob.Backend)
	}
	if cfg.Ledger.Currency != "eur" || cfg.Ledger.DueDays != 30 {
		t.Errorf("currency/due = %s/%d", cfg.Ledger.Currency, cfg.Ledger.DueDays)
	}
	if cfg.Ledger.SweepInterval != time.Hour {
		t.Errorf("sweep interval = %v", cfg.Ledger.SweepInterval)
	}
	if cfg.Ledger.MaxDocumentSize != 50<<20 {
		t.Errorf("max document size = %d", cfg.Ledger.MaxDocumentSize)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexledger.yaml")
	body := `
store:
  driver: postgres
  dsn: postgres://ledger@localhost/ledger
ledger:
  tax_rate: "19"
  sweep_interval: 15m
directory:
  cases: [case-1, case-2]
  grants:
    alice: ["*"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LEDGER_LEDGER_TAX_RATE", "20.5")
	t.Setenv("LEDGER_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("driver = %s", cfg.Store.Driver)
	}
	if cfg.Ledger.TaxRate != "20.5" {
		t.Errorf("tax rate = %s, want env override", cfg.Ledger.TaxRate)
	}
	if cfg.Ledger.SweepInterval != 15*time.Minute {
		t.Errorf("sweep interval = %v", cfg.Ledger.SweepInterval)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %s", cfg.Redis.Addr)
	}
	if len(cfg.Directory.Cases) != 2 || len(cfg.Directory.Grants["alice"]) != 1 {
		t.Errorf("directory = %+v", cfg.Directory)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Log:    LogConfig{Level: "info"},
			Store:  StoreConfig{Driver: "memory"},
			Blob:   BlobConfig{Backend: "fs", Root: "objects"},
			Ledger: LedgerConfig{TaxRate: "0"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "oracle" }, "unknown store driver"},
		{"dsn required", func(c *Config) { c.Store.Driver = "sqlite" }, "store.dsn is required"},
		{"unknown backend", func(c *Config) { c.Blob.Backend = "gcs" }, "unknown blob backend"},
		{"fs root", func(c *Config) { c.Blob.Root = "" }, "blob.root"},
		{"s3 bucket", func(c *Config) { c.Blob.Backend = "s3" }, "blob.s3.bucket"},
		{"two keys", func(c *Config) {
			c.Vault.Key = "00"
			c.Vault.Passphrase = "secret"
		}, "not both"},
		{"tax rate", func(c *Config) { c.Ledger.TaxRate = "abc" }, "tax_rate"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Log: LogConfig{Level: "debug", Format: "json"}}
	cfg.Logger(&buf).Debug("hello", slog.String("k", "v"))
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected json output, got %q", buf.String())
	}
}
