package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces cache keys in Redis
const DefaultKeyPrefix = "gw:cache:"

// RedisTier is the shared tier. Entries are stored as JSON with a native TTL.
type RedisTier struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTier creates a Redis tier. An empty prefix uses DefaultKeyPrefix.
func NewRedisTier(client redis.UniversalClient, prefix string) *RedisTier {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisTier{client: client, prefix: prefix}
}

func (t *RedisTier) key(k string) string {
	return t.prefix + "entry:" + k
}

// Name implements Tier
func (t *RedisTier) Name() string { return "distributed" }

// Get implements Tier
func (t *RedisTier) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := t.client.Get(ctx, t.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &e, true, nil
}

// Set implements Tier
func (t *RedisTier) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := t.client.Set(ctx, t.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete implements Tier
func (t *RedisTier) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = t.key(k)
	}
	// One DEL per key: on Cluster the keys live in different slots.
	_, err := t.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range full {
			pipe.Del(ctx, k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return nil
}

// RedisTagIndex keeps one Redis set of cache keys per tag
type RedisTagIndex struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTagIndex creates a tag index. An empty prefix uses DefaultKeyPrefix.
func NewRedisTagIndex(client redis.UniversalClient, prefix string) *RedisTagIndex {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisTagIndex{client: client, prefix: prefix}
}

func (x *RedisTagIndex) key(tag string) string {
	return x.prefix + "tag:" + tag
}

// Add implements TagIndex. A tag set lives as long as its longest entry.
func (x *RedisTagIndex) Add(ctx context.Context, key string, tags []string, ttl time.Duration) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := x.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range tags {
			k := x.key(tag)
			pipe.SAdd(ctx, k, key)
			pipe.ExpireNX(ctx, k, ttl)
			pipe.ExpireGT(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index cache tags: %w", err)
	}
	return nil
}

// Keys implements TagIndex
func (x *RedisTagIndex) Keys(ctx context.Context, tags ...string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.StringSliceCmd, len(tags))
	_, err := x.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, tag := range tags {
			cmds[i] = pipe.SMembers(ctx, x.key(tag))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read cache tags: %w", err)
	}
	seen := make(map[string]struct{})
	var keys []string
	for _, cmd := range cmds {
		for _, k := range cmd.Val() {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	return keys, nil
}

// Remove implements TagIndex
func (x *RedisTagIndex) Remove(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := x.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range tags {
			pipe.Del(ctx, x.key(tag))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to drop cache tags: %w", err)
	}
	return nil
}

var (
	_ Tier     = (*RedisTier)(nil)
	_ TagIndex = (*RedisTagIndex)(nil)
)
