package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache memoizes adapter results so repeated searches for the same target
// do not hammer the sources.
type Cache interface {
	Get(ctx context.Context, key string) ([]Candidate, bool)
	Set(ctx context.Context, key string, candidates []Candidate)
}

// CacheKey builds a stable key for one adapter query.
func CacheKey(source, kind, artist, title, album string, limit int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s|%d",
		source, kind, NormalizeText(artist), NormalizeText(title), NormalizeText(album), limit)))
	return "tubevault:search:" + hex.EncodeToString(sum[:16])
}

// NoopCache disables caching when no redis address is configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]Candidate, bool) { return nil, false }
func (NoopCache) Set(context.Context, string, []Candidate)        {}

// RedisCache stores candidate lists as JSON with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache connects to redis. TTL of zero falls back to one hour.
func NewRedisCache(addr string, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		logger: logger,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]Candidate, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Search cache read failed", "error", err)
		}
		return nil, false
	}
	var candidates []Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		c.logger.Warn("Search cache entry corrupt, dropping", "key", key, "error", err)
		c.client.Del(ctx, key)
		return nil, false
	}
	return candidates, true
}

func (c *RedisCache) Set(ctx context.Context, key string, candidates []Candidate) {
	data, err := json.Marshal(candidates)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Search cache write failed", "error", err)
	}
}
