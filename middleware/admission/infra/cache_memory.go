package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// MemoryResponseCache é o substituto em memória do cache de respostas, com a
// mesma semântica de TTL do redis. Para testes e instância única.
type MemoryResponseCache struct {
	mu      sync.Mutex
	entries map[string]memoryCacheEntry
	hits    int64
	misses  int64

	// Now é hook de relógio para testes. Se nil, usa time.Now.
	Now func() time.Time
}

type memoryCacheEntry struct {
	value     domain.CachedResponse
	expiresAt time.Time
}

var _ domain.ResponseCache = (*MemoryResponseCache)(nil)

func NewMemoryResponseCache() *MemoryResponseCache {
	return &MemoryResponseCache{entries: make(map[string]memoryCacheEntry)}
}

func (c *MemoryResponseCache) Get(_ context.Context, fingerprint string) (*domain.CachedResponse, bool, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok || !e.expiresAt.After(now) {
		delete(c.entries, fingerprint)
		return nil, false, nil
	}

	out := e.value
	return &out, true, nil
}

func (c *MemoryResponseCache) Set(_ context.Context, fingerprint string, entry *domain.CachedResponse, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = memoryCacheEntry{value: *entry, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryResponseCache) Record(_ context.Context, hit bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	return nil
}

func (c *MemoryResponseCache) Invalidate(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := int64(len(c.entries))
	c.entries = make(map[string]memoryCacheEntry)
	return n, nil
}

func (c *MemoryResponseCache) Stats(context.Context) (domain.CacheStats, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var live int64
	for _, e := range c.entries {
		if e.expiresAt.After(now) {
			live++
		}
	}
	return domain.CacheStats{Entries: live, Hits: c.hits, Misses: c.misses}, nil
}

func (c *MemoryResponseCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
