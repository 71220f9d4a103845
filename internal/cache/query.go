package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueryCache is the distributed counterpart to EmbeddingCache: where
// EmbeddingCache only helps a single process avoid re-embedding a query it
// has already seen, RedisQueryCache lets every cmd/worker process in a
// deployment share one cache of chunk-text embeddings, keyed by a hash of
// the chunk's own content rather than by query — two documents that share
// a paragraph (a boilerplate header, a repeated disclaimer) embed it once.
type RedisQueryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisQueryCache wraps an already-connected client. The caller owns
// the client's lifecycle (Close).
func NewRedisQueryCache(client *redis.Client, ttl time.Duration) *RedisQueryCache {
	return &RedisQueryCache{client: client, ttl: ttl}
}

// ContentHash returns a deterministic cache key for a chunk's text, stable
// across documents and across worker processes.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embed:%x", h)
}

// GetEmbedding returns the cached vector for contentHash, if present. A
// Redis connection error is returned rather than treated as a cache miss,
// so callers can choose to fall through to the embedder, but can also tell
// the difference in their logs.
func (c *RedisQueryCache) GetEmbedding(ctx context.Context, contentHash string) ([]float32, bool, error) {
	raw, err := c.client.Get(ctx, contentHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache.RedisQueryCache.GetEmbedding: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, fmt.Errorf("cache.RedisQueryCache.GetEmbedding: decode: %w", err)
	}
	slog.Debug("redis embedding cache hit", "key", contentHash)
	return vec, true, nil
}

// SetEmbedding stores vec under contentHash with the cache's configured TTL.
func (c *RedisQueryCache) SetEmbedding(ctx context.Context, contentHash string, vec []float32) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("cache.RedisQueryCache.SetEmbedding: encode: %w", err)
	}
	if err := c.client.Set(ctx, contentHash, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache.RedisQueryCache.SetEmbedding: %w", err)
	}
	return nil
}
