// Package cache provides in-process caching for the RAG pipeline, with an
// optional Redis-backed second tier so a hit survives a process restart and
// is shared across however many API replicas front the same database.
//
// EmbeddingCache stores query→vector mappings to avoid redundant embedding
// calls for repeated or similar queries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmbeddingCache caches query embedding vectors keyed by normalized query hash.
// Thread-safe via sync.RWMutex. Entries auto-expire after TTL. When a Redis
// client is attached via UseRedis, lookups that miss the in-process map fall
// through to Redis before reporting a miss, and writes populate both tiers.
type EmbeddingCache struct {
	mu      sync.RWMutex
	entries map[string]*embeddingEntry
	ttl     time.Duration
	stopCh  chan struct{}

	redis       *redis.Client
	redisPrefix string
}

type embeddingEntry struct {
	vec       []float32
	createdAt time.Time
	expiresAt time.Time
}

// DefaultEmbeddingTTL is 15 minutes unless overridden by EMBEDDING_CACHE_TTL env var.
func DefaultEmbeddingTTL() time.Duration {
	if v := os.Getenv("EMBEDDING_CACHE_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 15 * time.Minute
}

// NewEmbeddingCache creates an EmbeddingCache with the given TTL and starts background cleanup.
func NewEmbeddingCache(ttl time.Duration) *EmbeddingCache {
	c := &EmbeddingCache{
		entries: make(map[string]*embeddingEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// UseRedis attaches a second-tier Redis cache. Safe to call once, before the
// cache is shared across goroutines.
func (c *EmbeddingCache) UseRedis(client *redis.Client, keyPrefix string) {
	c.redis = client
	c.redisPrefix = keyPrefix
}

// Get returns a cached embedding vector if present and not expired.
func (c *EmbeddingCache) Get(queryHash string) ([]float32, bool) {
	c.mu.RLock()
	entry, ok := c.entries[queryHash]
	c.mu.RUnlock()

	if ok {
		if time.Now().After(entry.expiresAt) {
			c.mu.Lock()
			delete(c.entries, queryHash)
			c.mu.Unlock()
		} else {
			slog.Info("[EMBED-CACHE] hit",
				"query_hash", queryHash,
				"age_ms", time.Since(entry.createdAt).Milliseconds(),
			)
			return entry.vec, true
		}
	}

	if vec, ok := c.getRedis(queryHash); ok {
		c.mu.Lock()
		c.entries[queryHash] = &embeddingEntry{vec: vec, createdAt: time.Now(), expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()
		slog.Info("[EMBED-CACHE] redis hit", "query_hash", queryHash)
		return vec, true
	}
	return nil, false
}

// Set stores an embedding vector in the cache.
func (c *EmbeddingCache) Set(queryHash string, vec []float32) {
	now := time.Now()
	c.mu.Lock()
	c.entries[queryHash] = &embeddingEntry{
		vec:       vec,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()

	slog.Info("[EMBED-CACHE] set",
		"query_hash", queryHash,
		"vec_dim", len(vec),
		"ttl_s", int(c.ttl.Seconds()),
	)
	c.setRedis(queryHash, vec)
}

// getRedis looks up a vector in the Redis tier. Any Redis error (including
// a miss) is treated as a cache miss; Redis is an optimization, never a
// dependency the ask/ingest paths can fail on.
func (c *EmbeddingCache) getRedis(queryHash string) ([]float32, bool) {
	if c.redis == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	raw, err := c.redis.Get(ctx, c.redisPrefix+queryHash).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *EmbeddingCache) setRedis(queryHash string, vec []float32) {
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.redis.Set(ctx, c.redisPrefix+queryHash, raw, c.ttl).Err(); err != nil {
		slog.Warn("[EMBED-CACHE] redis set failed", "error", err)
	}
}

// Len returns the number of entries in the cache.
func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop halts the background cleanup goroutine.
func (c *EmbeddingCache) Stop() {
	close(c.stopCh)
}

// cleanup removes expired entries every 5 minutes.
func (c *EmbeddingCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			before := len(c.entries)
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			after := len(c.entries)
			c.mu.Unlock()
			if before != after {
				slog.Info("[EMBED-CACHE] cleanup", "removed", before-after, "remaining", after)
			}
		case <-c.stopCh:
			return
		}
	}
}

// EmbeddingQueryHash returns a deterministic cache key for a query string.
// Normalizes by lowercasing and trimming whitespace before hashing.
func EmbeddingQueryHash(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("emb:%x", h[:16])
}
