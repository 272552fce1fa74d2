package retrieval

import (
	"context"

	"github.com/connexus-ai/personal-vault/internal/cache"
	"github.com/connexus-ai/personal-vault/internal/model"
)

// Searcher is the subset of Retriever's surface a cache decorator needs.
type Searcher interface {
	Retrieve(ctx context.Context, question string, sources []model.Source, topK int) ([]model.ChunkWithDocument, error)
}

// CachedRetriever wraps a Searcher with a short-lived in-memory cache of
// (question, source filters, topK) -> chunks, so repeated or near-repeated asks
// against the same evidence scope skip re-scoring entirely.
type CachedRetriever struct {
	inner Searcher
	cache *cache.QueryCache
}

// NewCached wraps inner with a query cache of the given TTL.
func NewCached(inner Searcher, c *cache.QueryCache) *CachedRetriever {
	return &CachedRetriever{inner: inner, cache: c}
}

func (c *CachedRetriever) Retrieve(ctx context.Context, question string, sources []model.Source, topK int) ([]model.ChunkWithDocument, error) {
	if chunks, ok := c.cache.Get(question, sources, topK); ok {
		return chunks, nil
	}

	chunks, err := c.inner.Retrieve(ctx, question, sources, topK)
	if err != nil {
		return nil, err
	}
	c.cache.Set(question, sources, topK, chunks)
	return chunks, nil
}

// InvalidateAll clears the cache. Callers should invoke this after a sync
// pass indexes new documents, since previously cached results may be stale.
func (c *CachedRetriever) InvalidateAll() {
	c.cache.InvalidateAll()
}
