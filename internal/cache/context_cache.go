package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/triagestack/triage-engine/internal/metrics"
)

// Fetcher loads a value on cache miss or expiry.
type Fetcher func(ctx context.Context) ([]byte, error)

type entry struct {
	data      []byte
	fetchedAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.After(e.fetchedAt.Add(e.ttl))
}

// ContextCache memoises expensive, slowly-changing lookups. Concurrent
// callers for the same missing key share one underlying fetch. Entries
// past their TTL are refetched, never served stale. An optional remote
// Provider acts as a second tier shared between processes.
type ContextCache struct {
	mu       sync.Mutex
	entries  map[string]entry
	entryCap int
	remote   Provider
	group    singleflight.Group
	now      func() time.Time
}

// NewContextCache builds a cache bounded to entryCap entries. A nil remote
// provider disables the second tier.
func NewContextCache(entryCap int, remote Provider) *ContextCache {
	if entryCap <= 0 {
		entryCap = 512
	}
	return &ContextCache{
		entries:  make(map[string]entry),
		entryCap: entryCap,
		remote:   remote,
		now:      time.Now,
	}
}

// GetOrFetch returns the cached value for key, calling fetch exactly once
// per key across concurrent callers when the entry is missing or expired.
func (c *ContextCache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch Fetcher) ([]byte, error) {
	if data, ok := c.lookup(key); ok {
		metrics.ObserveCacheLookup(true)
		return data, nil
	}
	metrics.ObserveCacheLookup(false)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent flight may have populated the entry while this
		// caller was waiting on the group.
		if data, ok := c.lookup(key); ok {
			return data, nil
		}

		if c.remote != nil {
			if data, err := c.remote.Get(ctx, key); err == nil {
				c.store(key, data, ttl)
				return data, nil
			}
		}

		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, data, ttl)
		if c.remote != nil {
			_ = c.remote.Set(ctx, key, data, ttl)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops a key from both tiers.
func (c *ContextCache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.remote != nil {
		_ = c.remote.Del(ctx, key)
	}
}

// Len reports the current number of in-process entries.
func (c *ContextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ContextCache) lookup(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	return e.data, true
}

func (c *ContextCache) store(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{data: data, fetchedAt: c.now(), ttl: ttl}
	if len(c.entries) > c.entryCap {
		c.evictOldest()
	}
}

// evictOldest drops the least-recently-fetched entry. Caller holds c.mu.
func (c *ContextCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.fetchedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.fetchedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
