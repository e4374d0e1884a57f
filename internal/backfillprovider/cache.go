package backfillprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sawpanic/marketwatch/internal/config"
	"github.com/sawpanic/marketwatch/internal/domain"
)

// CachedProvider wraps an upstream HistoricalProvider with a Redis-backed
// cache keyed by symbol/range/granularity, so repeated backfill requests
// (a redo after a prior partial failure, or overlapping date ranges across
// two requests) don't re-pay the upstream rate-limited round trip.
//
// Grounded on the teacher's src/infrastructure/datafacade/cache.RedisCache:
// the same Get/Set-with-TTL shape and prefixed-key construction, upgraded
// from go-redis/v8 to the already-vendored github.com/redis/go-redis/v9.
type CachedProvider struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	upstream Upstream
	log      zerolog.Logger
}

// Upstream is the narrow interface CachedProvider wraps; satisfied by
// *Client.
type Upstream interface {
	GetBars(ctx context.Context, symbol domain.Symbol, from, to time.Time, granularity domain.Granularity) ([]domain.AggregateBar, error)
}

// NewCachedProvider constructs a CachedProvider. It does not ping Redis at
// construction time; a connectivity problem surfaces as a cache-miss-then-
// upstream-fetch on first use rather than a startup failure, since the
// cache is an optimization the backfill path can run without.
func NewCachedProvider(cfg config.CacheConfig, upstream Upstream, log zerolog.Logger) *CachedProvider {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "marketwatch"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	return &CachedProvider{client: client, prefix: prefix, ttl: ttl, upstream: upstream, log: log}
}

func (c *CachedProvider) key(symbol domain.Symbol, from, to time.Time, granularity domain.Granularity) string {
	return fmt.Sprintf("%s:bars:%s:%s:%s:%s", c.prefix, symbol, granularity,
		from.UTC().Format("20060102"), to.UTC().Format("20060102"))
}

// GetBars serves from cache on a hit; on a miss (or a cache read error, so
// a degraded Redis never blocks backfill progress) it fetches from
// upstream and best-effort populates the cache for next time.
func (c *CachedProvider) GetBars(ctx context.Context, symbol domain.Symbol, from, to time.Time, granularity domain.Granularity) ([]domain.AggregateBar, error) {
	key := c.key(symbol, from, to, granularity)

	if bars, ok := c.getCached(ctx, key); ok {
		return bars, nil
	}

	bars, err := c.upstream.GetBars(ctx, symbol, from, to, granularity)
	if err != nil {
		return nil, err
	}

	c.setCached(ctx, key, bars)
	return bars, nil
}

func (c *CachedProvider) getCached(ctx context.Context, key string) ([]domain.AggregateBar, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("key", key).Msg("backfill cache read failed, falling back to upstream")
		}
		return nil, false
	}
	var bars []domain.AggregateBar
	if err := json.Unmarshal(raw, &bars); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("backfill cache entry corrupt, falling back to upstream")
		return nil, false
	}
	return bars, true
}

func (c *CachedProvider) setCached(ctx context.Context, key string, bars []domain.AggregateBar) {
	raw, err := json.Marshal(bars)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("failed to marshal bars for cache")
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("failed to write backfill cache entry")
	}
}

// Invalidate removes a cached entry, used when a downstream consumer knows
// a range needs to be refetched regardless of TTL.
func (c *CachedProvider) Invalidate(ctx context.Context, symbol domain.Symbol, from, to time.Time, granularity domain.Granularity) error {
	return c.client.Del(ctx, c.key(symbol, from, to, granularity)).Err()
}

// Close releases the underlying Redis connection pool.
func (c *CachedProvider) Close() error {
	return c.client.Close()
}
