// Package cache provides a two tier cache for search results: a bounded
// in-memory L1 and an optional shared L2 (Redis).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/yt_downloader/internal/logctx"
	"github.com/italolelis/yt_downloader/internal/telemetry"
)

// Store is a remote cache tier.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options configures a Cache. A zero TTL disables caching.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	L2         Store
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Cache is safe for concurrent use. A nil *Cache never hits.
type Cache struct {
	mu  sync.Mutex
	l1  map[string]*entry
	l2  Store
	ttl time.Duration
	max int
	now func() time.Time

	telemetry *telemetry.Telemetry
}

// New creates a cache.
func New(opts Options, tel *telemetry.Telemetry) *Cache {
	return &Cache{
		l1:        make(map[string]*entry),
		l2:        opts.L2,
		ttl:       opts.TTL,
		max:       opts.MaxEntries,
		now:       time.Now,
		telemetry: tel,
	}
}

// Key builds a deterministic cache key from parts.
func Key(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))

	return fmt.Sprintf("ytd:%x", hash[:12])
}

// Get tries L1, then L2. An L2 hit populates L1.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}

	c.mu.Lock()
	e, ok := c.l1[key]
	if ok && c.now().After(e.expiresAt) {
		delete(c.l1, key)
		ok = false
	}
	c.mu.Unlock()

	c.telemetry.RecordCacheLookup(ctx, "l1", ok)

	if ok {
		return e.data, true
	}

	if c.l2 == nil {
		return nil, false
	}

	data, err := c.l2.Get(ctx, key)
	hit := err == nil && data != nil

	c.telemetry.RecordCacheLookup(ctx, "l2", hit)

	if err != nil {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "cache L2 get failed", "err", err)
	}

	if !hit {
		return nil, false
	}

	c.storeL1(key, data)

	return data, true
}

// Set stores value in both tiers. L2 failures are logged and ignored.
func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	if c == nil || c.ttl <= 0 {
		return
	}

	c.storeL1(key, value)

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, c.ttl); err != nil {
			logctx.LoggerFromContext(ctx).DebugContext(ctx, "cache L2 set failed", "err", err)
		}
	}
}

// Len reports the number of L1 entries, expired ones included.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.l1)
}

func (c *Cache) storeL1(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.l1[key]; !exists {
		c.evictLocked()
	}

	c.l1[key] = &entry{data: data, expiresAt: c.now().Add(c.ttl)}
}

// evictLocked makes room for one entry: expired entries go first, then the
// ones closest to expiry.
func (c *Cache) evictLocked() {
	if c.max <= 0 || len(c.l1) < c.max {
		return
	}

	now := c.now()
	for k, e := range c.l1 {
		if now.After(e.expiresAt) {
			delete(c.l1, k)
		}
	}

	for len(c.l1) >= c.max {
		var (
			oldestKey string
			oldestAt  time.Time
		)

		for k, e := range c.l1 {
			if oldestKey == "" || e.expiresAt.Before(oldestAt) {
				oldestKey, oldestAt = k, e.expiresAt
			}
		}

		delete(c.l1, oldestKey)
	}
}

// GetJSON decodes a cached value of type T. Decode errors count as a miss.
func GetJSON[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var out T

	data, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}

	if err := json.Unmarshal(data, &out); err != nil {
		var zero T

		return zero, false
	}

	return out, true
}

// SetJSON encodes v and stores it.
func SetJSON[T any](ctx context.Context, c *Cache, key string, v T) {
	if c == nil || c.ttl <= 0 {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "cache encode failed", "err", err)

		return
	}

	c.Set(ctx, key, data)
}
