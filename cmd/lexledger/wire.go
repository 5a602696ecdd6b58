package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/lexbox/ledger"
	"github.com/lexbox/ledger/blob"
	"github.com/lexbox/ledger/blob/fs"
	"github.com/lexbox/ledger/blob/s3"
	"github.com/lexbox/ledger/directory"
	"github.com/lexbox/ledger/internal/config"
	"github.com/lexbox/ledger/store"
	"github.com/lexbox/ledger/store/memory"
	"github.com/lexbox/ledger/store/mongo"
	"github.com/lexbox/ledger/store/postgres"
	"github.com/lexbox/ledger/store/sqlite"
	"github.com/lexbox/ledger/types"
	"github.com/lexbox/ledger/vault"
)

// openStore connects the configured metadata store. The caller owns the
// returned store and closes it, directly or through Ledger.Stop.
func openStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	switch c.Driver {
	case "memory":
		return memory.New(), nil

	case "postgres":
		drv := pgdriver.New()
		if err := drv.Open(ctx, c.DSN); err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return postgres.New(db), nil

	case "sqlite":
		dsn := c.DSN
		if !strings.HasPrefix(dsn, "file:") {
			dsn = sqlite.DSN(dsn)
		}
		drv := sqlitedriver.New()
		if err := drv.Open(ctx, dsn); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sqlite.New(db), nil

	case "mongo":
		drv := mongodriver.New()
		var opts []mongodriver.MongoOption
		if c.Database != "" {
			opts = append(opts, mongodriver.WithDatabase(c.Database))
		}
		if err := drv.Open(ctx, c.DSN, opts...); err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		return mongo.New(db), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", c.Driver)
}

func openBucket(ctx context.Context, c config.BlobConfig) (blob.Bucket, error) {
	switch c.Backend {
	case "fs":
		return fs.New(c.Root)
	case "s3":
		return s3.Open(ctx, c.S3)
	}
	return nil, fmt.Errorf("unknown blob backend %q", c.Backend)
}

// keyProvider returns nil when no key material is configured, which
// leaves new documents unencrypted.
func keyProvider(c config.VaultConfig) (vault.KeyProvider, error) {
	switch {
	case c.Key != "":
		return vault.ParseKey(c.Key)
	case c.Passphrase != "":
		salt, err := base64.StdEncoding.DecodeString(c.Salt)
		if err != nil {
			return nil, fmt.Errorf("vault.salt: %w", err)
		}
		return vault.NewPassphraseKey(c.Passphrase, salt)
	}
	return nil, nil
}

// newDirectory builds the case directory from configuration. With neither
// cases nor grants configured every case and capability is allowed. The
// operator actor always holds every capability.
func newDirectory(c *config.Config) (directory.Directory, func()) {
	var dir directory.Directory = directory.AllowAll{}
	if len(c.Directory.Cases) > 0 || len(c.Directory.Grants) > 0 {
		static := directory.NewStatic().AddCase(c.Directory.Cases...)
		for actor, caps := range c.Directory.Grants {
			static.Grant(actor, caps...)
		}
		static.Grant(c.Directory.Actor, "*")
		dir = static
	}

	if c.Redis.Addr == "" {
		return dir, func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	cached := directory.NewCached(dir, rdb,
		directory.WithTTL(c.Redis.TTL),
		directory.WithLogger(logger),
	)
	return cached, func() { _ = rdb.Close() }
}

// newLedger wires a Ledger from the loaded configuration. The returned
// cleanup releases everything newLedger opened except the store, which
// Ledger.Stop closes.
func newLedger(ctx context.Context, extra ...ledger.Option) (*ledger.Ledger, func(), error) {
	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	bucket, err := openBucket(ctx, cfg.Blob)
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	keys, err := keyProvider(cfg.Vault)
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	taxRate, err := types.ParsePercent(cfg.Ledger.TaxRate)
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	dir, closeDir := newDirectory(cfg)

	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithDirectory(dir),
		ledger.WithBucket(bucket),
		ledger.WithKeyProvider(keys),
		ledger.WithCurrency(cfg.Ledger.Currency),
		ledger.WithTaxRate(taxRate),
		ledger.WithDueDays(cfg.Ledger.DueDays),
		ledger.WithMaxDocumentSize(cfg.Ledger.MaxDocumentSize),
		ledger.WithPageSize(cfg.Ledger.PageSize),
		ledger.WithMaxRetries(cfg.Ledger.MaxRetries),
	}
	return ledger.New(s, append(opts, extra...)...), closeDir, nil
}
