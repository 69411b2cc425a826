package cache

import (
	"context"
	"sync"
	"time"
)

// TagIndex maps invalidation tags to the cache keys stored under them
type TagIndex interface {
	Add(ctx context.Context, key string, tags []string, ttl time.Duration) error
	// Keys returns the union of keys under tags, without duplicates
	Keys(ctx context.Context, tags ...string) ([]string, error)
	Remove(ctx context.Context, tags ...string) error
}

// MemoryTagIndex is a per-process TagIndex for single-instance deployments
type MemoryTagIndex struct {
	mu   sync.RWMutex
	tags map[string]map[string]time.Time // tag -> key -> expiry
	now  func() time.Time
}

// NewMemoryTagIndex creates an empty index
func NewMemoryTagIndex() *MemoryTagIndex {
	return &MemoryTagIndex{
		tags: make(map[string]map[string]time.Time),
		now:  time.Now,
	}
}

// Add implements TagIndex
func (x *MemoryTagIndex) Add(_ context.Context, key string, tags []string, ttl time.Duration) error {
	expires := x.now().Add(ttl)
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, tag := range tags {
		keys, ok := x.tags[tag]
		if !ok {
			keys = make(map[string]time.Time)
			x.tags[tag] = keys
		}
		if prev, ok := keys[key]; !ok || expires.After(prev) {
			keys[key] = expires
		}
	}
	return nil
}

// Keys implements TagIndex
func (x *MemoryTagIndex) Keys(_ context.Context, tags ...string) ([]string, error) {
	now := x.now()
	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, tag := range tags {
		for key, exp := range x.tags[tag] {
			if !now.Before(exp) {
				continue
			}
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				out = append(out, key)
			}
		}
	}
	return out, nil
}

// Remove implements TagIndex
func (x *MemoryTagIndex) Remove(_ context.Context, tags ...string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, tag := range tags {
		delete(x.tags, tag)
	}
	return nil
}

// Sweep drops expired keys and empty tags. It returns the number of keys removed.
func (x *MemoryTagIndex) Sweep() int {
	now := x.now()
	x.mu.Lock()
	defer x.mu.Unlock()

	removed := 0
	for tag, keys := range x.tags {
		for key, exp := range keys {
			if !now.Before(exp) {
				delete(keys, key)
				removed++
			}
		}
		if len(keys) == 0 {
			delete(x.tags, tag)
		}
	}
	return removed
}

var _ TagIndex = (*MemoryTagIndex)(nil)
