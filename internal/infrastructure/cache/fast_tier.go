package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"
)

// FastTier is the per-process tier
type FastTier struct {
	cache otter.CacheWithVariableTTL[string, *Entry]
}

// NewFastTier creates a fast tier holding at most capacity entries
func NewFastTier(capacity int) (*FastTier, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	c, err := otter.MustBuilder[string, *Entry](capacity).
		Cost(func(string, *Entry) uint32 { return 1 }).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build fast cache tier: %w", err)
	}
	return &FastTier{cache: c}, nil
}

// Name implements Tier
func (t *FastTier) Name() string { return "fast" }

// Get implements Tier. The returned entry is a copy.
func (t *FastTier) Get(_ context.Context, key string) (*Entry, bool, error) {
	e, ok := t.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return e.Clone(), true, nil
}

// Set implements Tier
func (t *FastTier) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	t.cache.Set(key, entry.Clone(), ttl)
	return nil
}

// Delete implements Tier
func (t *FastTier) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		t.cache.Delete(k)
	}
	return nil
}

// Len returns the number of resident entries
func (t *FastTier) Len() int {
	return t.cache.Size()
}

// Close stops the tier's background goroutines
func (t *FastTier) Close() {
	t.cache.Close()
}
