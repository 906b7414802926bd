package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Cache types accepted by New.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeNone   = "none"
)

// DateCache remembers publication dates extracted from article pages, keyed
// by canonical article URL.
type DateCache interface {
	Get(ctx context.Context, key string) (time.Time, bool, error)
	Set(ctx context.Context, key string, t time.Time) error
}

// Options configure New.
type Options struct {
	Type     string
	Addr     string
	Capacity int
	TTL      time.Duration
}

// New returns the cache selected by opts.Type. An empty type is memory;
// "none" disables caching and returns nil.
func New(opts Options) (DateCache, error) {
	switch opts.Type {
	case "", TypeMemory:
		return NewMemoryCache(opts.Capacity, opts.TTL), nil
	case TypeRedis:
		if opts.Addr == "" {
			return nil, fmt.Errorf("redis cache requires an address")
		}
		return NewRedisCache(opts.Addr, opts.TTL), nil
	case TypeNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", opts.Type)
	}
}

type entry struct {
	key string
	ts  time.Time
}

type item struct {
	value    time.Time
	storedAt time.Time
}

// MemoryCache keeps a fixed number of recent dates in process memory.
type MemoryCache struct {
	mu       sync.Mutex
	items    map[string]item
	order    []entry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryCache creates a cache with the provided capacity and ttl.
func NewMemoryCache(capacity int, ttl time.Duration) *MemoryCache {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryCache{
		items:    make(map[string]item, capacity),
		order:    make([]entry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the cached date for key when it was stored inside the ttl
// window.
func (c *MemoryCache) Get(_ context.Context, key string) (time.Time, bool, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok && now.Sub(it.storedAt) <= c.ttl {
		return it.value, true, nil
	}
	return time.Time{}, false, nil
}

// Set records the date for key.
func (c *MemoryCache) Set(_ context.Context, key string, t time.Time) error {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = item{value: t.UTC(), storedAt: now}
	c.order = append(c.order, entry{key: key, ts: now})
	c.compact(now)
	return nil
}

// Len returns the number of cached keys.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *MemoryCache) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.order) > 0 && (len(c.items) > c.capacity || c.order[0].ts.Before(cutoff)) {
		oldest := c.order[0]
		c.order = c.order[1:]

		if it, ok := c.items[oldest.key]; ok {
			if it.storedAt.Equal(oldest.ts) {
				delete(c.items, oldest.key)
			}
		}
	}
}
