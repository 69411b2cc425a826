// Package cache implements the layered response cache: a per-process fast
// tier, a shared Redis tier and a durable object-store tier, plus the tag
// index used to invalidate entries after mutating requests.
package cache

import (
	"context"
	"encoding/hex"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// Entry is one cached downstream response
type Entry struct {
	Status    int                 `json:"status"`
	Headers   map[string][]string `json:"headers,omitempty"`
	Body      []byte              `json:"body"`
	Tags      []string            `json:"tags,omitempty"`
	StoredAt  time.Time           `json:"stored_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at now
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Remaining returns the time left before expiry
func (e *Entry) Remaining(now time.Time) time.Duration {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}

// Clone returns a deep copy
func (e *Entry) Clone() *Entry {
	c := *e
	c.Body = slices.Clone(e.Body)
	c.Tags = slices.Clone(e.Tags)
	if e.Headers != nil {
		c.Headers = make(map[string][]string, len(e.Headers))
		for k, v := range e.Headers {
			c.Headers[k] = slices.Clone(v)
		}
	}
	return &c
}

// Tier is one storage level of the cache
type Tier interface {
	Name() string
	// Get returns ok=false on a miss
	Get(ctx context.Context, key string) (entry *Entry, ok bool, err error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Key derives the cache key of a request. Query parameters are sorted by
// name and value, and vary holds the values of the route's vary headers
// keyed by header name (case-insensitive).
func Key(method, path string, query url.Values, vary map[string]string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(0)
	b.WriteString(path)
	b.WriteByte(0)

	for _, name := range slices.Sorted(maps.Keys(query)) {
		values := slices.Clone(query[name])
		slices.Sort(values)
		for _, v := range values {
			b.WriteString(url.QueryEscape(name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
			b.WriteByte('&')
		}
	}
	b.WriteByte(0)

	normalized := make(map[string]string, len(vary))
	for name, v := range vary {
		normalized[strings.ToLower(name)] = v
	}
	for _, name := range slices.Sorted(maps.Keys(normalized)) {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(normalized[name])
		b.WriteByte('\n')
	}

	sum := xxh3.HashString128(b.String()).Bytes()
	return hex.EncodeToString(sum[:])
}
