package infra

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisResponseCache implementa domain.ResponseCache.
//
// Esquema de chaves:
//
//	{prefix}:response:{fingerprint}  -> CachedResponse em JSON, com TTL
//	{prefix}:stats                   -> hash {hits, misses}, cumulativo
type RedisResponseCache struct {
	rdb      *redis.Client
	prefix   string
	scanSize int64
}

var _ domain.ResponseCache = (*RedisResponseCache)(nil)

type RedisCacheOption func(*RedisResponseCache)

func WithCachePrefix(prefix string) RedisCacheOption {
	return func(c *RedisResponseCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

func WithScanSize(n int64) RedisCacheOption {
	return func(c *RedisResponseCache) { c.scanSize = n }
}

func NewRedisResponseCache(rdb *redis.Client, opts ...RedisCacheOption) *RedisResponseCache {
	c := &RedisResponseCache{rdb: rdb, prefix: "dedup", scanSize: 512}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisResponseCache) Get(ctx context.Context, fingerprint string) (*domain.CachedResponse, bool, error) {
	raw, err := c.rdb.Get(ctx, c.entryKey(fingerprint)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "get cached response")
	}

	var entry domain.CachedResponse
	if err := json.Unmarshal(raw, &entry); err != nil {
		// entrada corrompida conta como miss; o TTL eventualmente remove
		return nil, false, errors.Wrap(err, "decode cached response")
	}
	return &entry, true, nil
}

func (c *RedisResponseCache) Set(ctx context.Context, fingerprint string, entry *domain.CachedResponse, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encode cached response")
	}
	return errors.Wrap(c.rdb.Set(ctx, c.entryKey(fingerprint), raw, ttl).Err(), "set cached response")
}

func (c *RedisResponseCache) Record(ctx context.Context, hit bool) error {
	field := "misses"
	if hit {
		field = "hits"
	}
	return errors.Wrap(c.rdb.HIncrBy(ctx, c.statsKey(), field, 1).Err(), "record cache stats")
}

// Invalidate varre e apaga em lotes todas as entradas sob o prefixo.
// SCAN em vez de KEYS para não travar o redis compartilhado.
func (c *RedisResponseCache) Invalidate(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	pattern := c.prefix + ":response:*"

	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, c.scanSize).Result()
		if err != nil {
			return removed, errors.Wrap(err, "scan cache keys")
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			removed += n
			if err != nil {
				return removed, errors.Wrap(err, "delete cache keys")
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Stats deriva tudo do próprio store: contagem aproximada via SCAN e
// hit/miss do hash cumulativo. Nenhuma instância rastreia nada localmente.
func (c *RedisResponseCache) Stats(ctx context.Context) (domain.CacheStats, error) {
	var stats domain.CacheStats

	var cursor uint64
	pattern := c.prefix + ":response:*"
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, c.scanSize).Result()
		if err != nil {
			return stats, errors.Wrap(err, "scan cache keys")
		}
		stats.Entries += int64(len(keys))
		cursor = next
		if cursor == 0 {
			break
		}
	}

	fields, err := c.rdb.HGetAll(ctx, c.statsKey()).Result()
	if err != nil {
		return stats, errors.Wrap(err, "read cache stats")
	}
	stats.Hits = parseCounter(fields["hits"])
	stats.Misses = parseCounter(fields["misses"])
	return stats, nil
}

// Ping valida a conectividade (usado pelo health check e pela subida).
func (c *RedisResponseCache) Ping(ctx context.Context) error {
	return errors.Wrap(c.rdb.Ping(ctx).Err(), "ping redis")
}

func (c *RedisResponseCache) entryKey(fingerprint string) string {
	return c.prefix + ":response:" + fingerprint
}

func (c *RedisResponseCache) statsKey() string {
	return c.prefix + ":stats"
}

func parseCounter(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
