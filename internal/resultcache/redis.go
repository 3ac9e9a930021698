package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosight/funnel/internal/config"
)

// Cache stores rendered API responses in Redis. Keys embed the source
// signature, so a changed source never serves stale entries. A nil *Cache
// is a valid, disabled cache.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// New connects to Redis. It returns nil, nil when no address is configured.
func New(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return NewWithClient(rdb, ttl), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{redis: rdb, ttl: ttl}
}

// Key builds the cache key for a query against a source version.
func Key(signature, query string) string {
	sum := sha256.Sum256([]byte(query))
	return "funnel:" + signature + ":" + hex.EncodeToString(sum[:16])
}

// Get returns the cached body. ok is false on a miss or any Redis error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	b, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("Result cache read failed")
		}
		return nil, false
	}
	return b, true
}

// Set stores body under key. Failures are logged and otherwise ignored.
func (c *Cache) Set(ctx context.Context, key string, body []byte) {
	if c == nil {
		return
	}
	if err := c.redis.Set(ctx, key, body, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Result cache write failed")
	}
}

// Close closes the client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.redis.Close()
}
