package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"
	"golang.org/x/sync/singleflight"
)

// CredentialCache memoises successful credential lookups for a short TTL.
// Concurrent misses for the same key share one load. Failed loads are not cached.
type CredentialCache[V any] struct {
	cache otter.Cache[string, V]
	group singleflight.Group
	on    bool
}

// NewCredentialCache builds a cache holding up to capacity entries.
// A non-positive ttl or capacity disables caching.
func NewCredentialCache[V any](capacity int, ttl time.Duration) (*CredentialCache[V], error) {
	c := &CredentialCache[V]{}
	if capacity <= 0 || ttl <= 0 {
		return c, nil
	}

	cache, err := otter.MustBuilder[string, V](capacity).
		Cost(func(string, V) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build credential cache: %w", err)
	}
	c.cache = cache
	c.on = true
	return c, nil
}

func (c *CredentialCache[V]) enabled() bool {
	return c != nil && c.on
}

// GetOrLoad returns the cached value for key, or runs load and caches its result.
func (c *CredentialCache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if !c.enabled() {
		return load(ctx)
	}
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.cache.Set(key, v)
		return v, nil
	})
	v, _ := res.(V)
	return v, err
}

// Invalidate drops key, e.g. after a key is revoked through the admin API.
func (c *CredentialCache[V]) Invalidate(key string) {
	if c.enabled() {
		c.cache.Delete(key)
	}
}

// Close releases the cache's background resources.
func (c *CredentialCache[V]) Close() {
	if c.enabled() {
		c.cache.Close()
	}
}
