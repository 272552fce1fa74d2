// Package cache provides in-process query result caching for the retrieval
// pipeline, with an optional Redis-backed second tier (see UseRedis).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/personal-vault/internal/model"
)

// QueryCache caches retrieved chunks by (question, source filters, topK).
// Thread-safe via sync.RWMutex. Entries auto-expire after TTL.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	stopCh  chan struct{}

	redis       *redis.Client
	redisPrefix string
}

type cacheEntry struct {
	chunks    []model.ChunkWithDocument
	createdAt time.Time
	expiresAt time.Time
}

// New creates a QueryCache with the given TTL and starts background cleanup.
func New(ttl time.Duration) *QueryCache {
	c := &QueryCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// UseRedis attaches a second-tier Redis cache. Safe to call once, before the
// cache is shared across goroutines.
func (c *QueryCache) UseRedis(client *redis.Client, keyPrefix string) {
	c.redis = client
	c.redisPrefix = keyPrefix
}

// Get returns cached retrieval results if present and not expired.
func (c *QueryCache) Get(question string, sources []model.Source, topK int) ([]model.ChunkWithDocument, bool) {
	key := cacheKey(question, sources, topK)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		if time.Now().After(entry.expiresAt) {
			c.mu.Lock()
			delete(c.entries, key)
			c.mu.Unlock()
		} else {
			slog.Info("[CACHE] hit",
				"query_hash", key[strings.LastIndex(key, ":")+1:],
				"age_ms", time.Since(entry.createdAt).Milliseconds(),
			)
			return entry.chunks, true
		}
	}

	if chunks, ok := c.getRedis(key); ok {
		c.mu.Lock()
		c.entries[key] = &cacheEntry{chunks: chunks, createdAt: time.Now(), expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()
		slog.Info("[CACHE] redis hit", "query_hash", key[strings.LastIndex(key, ":")+1:])
		return chunks, true
	}
	return nil, false
}

// Set stores retrieval results in the cache.
func (c *QueryCache) Set(question string, sources []model.Source, topK int, chunks []model.ChunkWithDocument) {
	key := cacheKey(question, sources, topK)
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		chunks:    chunks,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()

	slog.Info("[CACHE] set",
		"query_hash", key[strings.LastIndex(key, ":")+1:],
		"ttl_s", int(c.ttl.Seconds()),
		"total_entries", c.Len(),
	)
	c.setRedis(key, chunks)
}

// getRedis looks up chunks in the Redis tier; any error is a miss. Redis is
// an optimization the retrieval path never depends on for correctness.
func (c *QueryCache) getRedis(key string) ([]model.ChunkWithDocument, bool) {
	if c.redis == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	raw, err := c.redis.Get(ctx, c.redisPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var chunks []model.ChunkWithDocument
	if err := json.Unmarshal(raw, &chunks); err != nil {
		return nil, false
	}
	return chunks, true
}

func (c *QueryCache) setRedis(key string, chunks []model.ChunkWithDocument) {
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(chunks)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.redis.Set(ctx, c.redisPrefix+key, raw, c.ttl).Err(); err != nil {
		slog.Warn("[CACHE] redis set failed", "error", err)
	}
}

// InvalidateAll clears every cached entry. Call this after a sync pass
// indexes new documents, since previously cached results may now be stale.
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	count := len(c.entries)
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	if count > 0 {
		slog.Info("[CACHE] invalidated all", "entries_removed", count)
	}
}

// Len returns the number of entries in the cache.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop halts the background cleanup goroutine.
func (c *QueryCache) Stop() {
	close(c.stopCh)
}

// cleanup removes expired entries every 5 minutes.
func (c *QueryCache) cleanup() {
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
				slog.Info("[CACHE] cleanup", "removed", before-after, "remaining", after)
			}
		case <-c.stopCh:
			return
		}
	}
}

// cacheKey builds a deterministic key: "qc:{sources}:{topK}:{sha256(question)}"
func cacheKey(question string, sources []model.Source, topK int) string {
	raw := make([]string, len(sources))
	for i, s := range sources {
		raw[i] = string(s)
	}
	sourceKey := strings.Join(raw, ",")
	h := sha256.Sum256([]byte(question))
	return fmt.Sprintf("qc:%s:%d:%x", sourceKey, topK, h[:8])
}
