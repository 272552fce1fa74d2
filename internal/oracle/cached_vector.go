package oracle

import (
	"context"
	"time"

	"github.com/connexus-ai/personal-vault/internal/cache"
)

// CachedEncoder wraps a VectorEncoder with a short-lived in-memory cache of
// query -> vector, avoiding a redundant embedding call for a repeated
// question within the cache TTL. Batch encoding (used at ingest time, where
// repeats are rare) passes through uncached.
type CachedEncoder struct {
	inner VectorEncoder
	cache *cache.EmbeddingCache
}

// NewCachedEncoder wraps inner with an embedding cache of the given TTL.
func NewCachedEncoder(inner VectorEncoder, ttl time.Duration) *CachedEncoder {
	return &CachedEncoder{inner: inner, cache: cache.NewEmbeddingCache(ttl)}
}

// Cache exposes the underlying embedding cache so callers can attach a
// Redis second tier (see cache.EmbeddingCache.UseRedis) after construction.
func (e *CachedEncoder) Cache() *cache.EmbeddingCache { return e.cache }

func (e *CachedEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	hash := cache.EmbeddingQueryHash(text)
	if vec, ok := e.cache.Get(hash); ok {
		return vec, nil
	}
	vec, err := e.inner.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(hash, vec)
	return vec, nil
}

func (e *CachedEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.inner.EncodeBatch(ctx, texts)
}

func (e *CachedEncoder) Dimensions() int { return e.inner.Dimensions() }
