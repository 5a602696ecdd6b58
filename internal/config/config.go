// Package config loads the lexledger command configuration from an
// optional config file, a .env file and LEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lexbox/ledger/blob/s3"
	"github.com/lexbox/ledger/types"
)

// EnvPrefix is prepended to every environment override, so store.dsn is
// read from LEDGER_STORE_DSN.
const EnvPrefix = "LEDGER"

// Config is the full command configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects the metadata store. Driver is one of memory,
// postgres, sqlite or mongo. For sqlite DSN may be a plain file path.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"`
}

// BlobConfig selects the object store. Backend is fs or s3.
type BlobConfig struct {
	Backend string    `mapstructure:"backend"`
	Root    string    `mapstructure:"root"`
	S3      s3.Config `mapstructure:"s3"`
}

// VaultConfig holds the encryption key: either a hex or base64 key, or a
// passphrase with a base64 salt.
type VaultConfig struct {
	Key        string `mapstructure:"key"`
	Passphrase string `mapstructure:"passphrase"`
	Salt       string `mapstructure:"salt"`
}

// RedisConfig enables the directory cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// DirectoryConfig is a static directory for operator use. With no cases
// listed every case is accepted.
type DirectoryConfig struct {
	Actor  string              `mapstructure:"actor"`
	Cases  []string            `mapstructure:"cases"`
	Grants map[string][]string `mapstructure:"grants"`
}

type LedgerConfig struct {
	Currency        string        `mapstructure:"currency"`
	TaxRate         string        `mapstructure:"tax_rate"`
	DueDays         int           `mapstructure:"due_days"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	MaxDocumentSize int64         `mapstructure:"max_document_size"`
	PageSize        int           `mapstructure:"page_size"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "lexledger.db")
	v.SetDefault("store.database", "")

	v.SetDefault("blob.backend", "fs")
	v.SetDefault("blob.root", "./objects")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.prefix", "")
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("blob.s3.use_path_style", false)

	v.SetDefault("vault.key", "")
	v.SetDefault("vault.passphrase", "")
	v.SetDefault("vault.salt", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("directory.actor", "lexledger")
	v.SetDefault("directory.cases", []string{})

	v.SetDefault("ledger.currency", types.DefaultCurrency)
	v.SetDefault("ledger.tax_rate", "0")
	v.SetDefault("ledger.due_days", 30)
	v.SetDefault("ledger.sweep_interval", time.Hour)
	v.SetDefault("ledger.max_document_size", 50<<20)
	v.SetDefault("ledger.page_size", 200)
	v.SetDefault("ledger.max_retries", 3)
}

// Load reads configuration. A .env file in the working directory is
// loaded first when present; path names an optional YAML, TOML or JSON
// file. Environment variables override both.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "postgres", "sqlite", "mongo":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("config: store.dsn is required for %s", c.Store.Driver)
	}

	switch c.Blob.Backend {
	case "fs":
		if c.Blob.Root == "" {
			return errors.New("config: blob.root is required")
		}
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return errors.New("config: blob.s3.bucket is required")
		}
	default:
		return fmt.Errorf("config: unknown blob backend %q", c.Blob.Backend)
	}

	if c.Vault.Key != "" && c.Vault.Passphrase != "" {
		return errors.New("config: set vault.key or vault.passphrase, not both")
	}
	if _, err := types.ParsePercent(c.Ledger.TaxRate); err != nil {
		return fmt.Errorf("config: ledger.tax_rate: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses log.level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return level, nil
}

// Logger builds the command logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
