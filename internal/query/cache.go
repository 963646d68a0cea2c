// Package query provides a small read-through cache for backend queries.
// Values stay fresh for a configurable stale time, concurrent fetches of the
// same key share one call, and mutations invalidate keys so the next read
// fetches again.
package query

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultStaleTime = 30 * time.Second

type entry struct {
	value     any
	fetchedAt time.Time
	stale     bool
}

// Cache is safe for concurrent use.
type Cache struct {
	staleTime time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	gen     uint64 // bumped by every invalidation

	group singleflight.Group
}

// NewCache creates a cache. A zero staleTime uses DefaultStaleTime; a negative
// one makes every read fetch.
func NewCache(staleTime time.Duration) *Cache {
	if staleTime == 0 {
		staleTime = DefaultStaleTime
	}
	if staleTime < 0 {
		staleTime = 0
	}
	return &Cache{
		staleTime: staleTime,
		now:       time.Now,
		entries:   make(map[string]entry),
	}
}

// Get returns the cached value for key if it is still fresh.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.freshLocked(key)
}

func (c *Cache) freshLocked(key string) (any, bool) {
	e, ok := c.entries[key]
	if !ok || e.stale || c.now().Sub(e.fetchedAt) >= c.staleTime {
		return nil, false
	}
	return e.value, true
}

// Fetch returns the fresh cached value for key, or calls fn and caches its
// result. Callers asking for the same key while fn runs wait for that call.
// Errors are returned to every waiter and not cached.
//
// A result is dropped instead of cached when the cache was invalidated while
// fn was running, so a mutation is never hidden behind an older read.
func (c *Cache) Fetch(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	c.mu.RLock()
	if v, ok := c.freshLocked(key); ok {
		c.mu.RUnlock()
		return v, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	flight := fmt.Sprintf("%s@%d", key, gen)
	ch := c.group.DoChan(flight, func() (any, error) {
		v, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.entries[key] = entry{value: v, fetchedAt: c.now()}
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate marks keys stale. The cached values are kept but the next Fetch
// calls the backend again.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			e.stale = true
			c.entries[k] = e
		}
	}
}

// InvalidatePrefix marks every key starting with prefix stale.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for k, e := range c.entries {
		if strings.HasPrefix(k, prefix) {
			e.stale = true
			c.entries[k] = e
		}
	}
}

// Remove evicts keys.
func (c *Cache) Remove(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// RemovePrefix evicts every key starting with prefix.
func (c *Cache) RemovePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Clear evicts everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = make(map[string]entry)
}

// Query is a typed wrapper around Cache.Fetch.
func Query[T any](ctx context.Context, c *Cache, key string, fn func(context.Context) (T, error)) (T, error) {
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if v == nil {
		var zero T
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cached value for %q has type %T", key, v)
	}
	return t, nil
}
