package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is how long a directory answer is reused.
const DefaultCacheTTL = 30 * time.Second

// Cached decorates a Directory with a redis read-through cache. Redis
// failures degrade to the wrapped directory.
type Cached struct {
	next   Directory
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

var _ Directory = (*Cached)(nil)

// CacheOption configures a Cached directory.
type CacheOption func(*Cached)

// WithTTL sets the cache lifetime of an answer.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cached) { c.ttl = ttl }
}

// WithKeyPrefix namespaces the cache keys.
func WithKeyPrefix(prefix string) CacheOption {
	return func(c *Cached) { c.prefix = prefix }
}

// WithLogger sets the logger used for cache failures.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cached) { c.logger = logger }
}

// NewCached wraps next with a cache stored in rdb.
func NewCached(next Directory, rdb redis.Cmdable, opts ...CacheOption) *Cached {
	c := &Cached{
		next:   next,
		rdb:    rdb,
		ttl:    DefaultCacheTTL,
		prefix: "ledger:dir:",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cached) CaseExists(ctx context.Context, caseID string) (bool, error) {
	return c.lookup(ctx, c.prefix+"case:"+caseID, func() (bool, error) {
		return c.next.CaseExists(ctx, caseID)
	})
}

func (c *Cached) UserHasCapability(ctx context.Context, actor, capability string) (bool, error) {
	return c.lookup(ctx, c.prefix+"cap:"+actor+":"+capability, func() (bool, error) {
		return c.next.UserHasCapability(ctx, actor, capability)
	})
}

// Invalidate drops the cached answers for an actor's capabilities.
func (c *Cached) Invalidate(ctx context.Context, actor string, capabilities ...string) error {
	if len(capabilities) == 0 {
		return nil
	}
	keys := make([]string, len(capabilities))
	for i, capability := range capabilities {
		keys[i] = c.prefix + "cap:" + actor + ":" + capability
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Cached) lookup(ctx context.Context, key string, load func() (bool, error)) (bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return val == "1", nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("directory cache read failed", "key", key, "error", err)
	}

	ok, err := load()
	if err != nil {
		return false, err
	}

	v := "0"
	if ok {
		v = "1"
	}
	if err := c.rdb.Set(ctx, key, v, c.ttl).Err(); err != nil {
		c.logger.Warn("directory cache write failed", "key", key, "error", err)
	}
	return ok, nil
}
