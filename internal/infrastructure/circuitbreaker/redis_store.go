package circuitbreaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "circuit_breaker:"
	minStateTTL      = 300 * time.Second
	maxUpdateRetries = 8
)

// ErrContention is returned when an update lost the optimistic race too often
var ErrContention = errors.New("circuit breaker state update contended")

// RedisStore shares snapshots between gateway instances. Updates use
// WATCH/MULTI so concurrent writers never lose a transition.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a store on client
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func stateKey(service string) string {
	return redisKeyPrefix + service
}

// stateTTL keeps a record at least twice as long as its cooldown
func stateTTL(s Snapshot) time.Duration {
	return max(minStateTTL, 2*s.Cooldown)
}

func decode(raw string) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode breaker state: %w", err)
	}
	return s, nil
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, service string) (Snapshot, error) {
	raw, err := s.client.Get(ctx, stateKey(service)).Result()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read breaker state: %w", err)
	}
	return decode(raw)
}

// Update implements Store
func (s *RedisStore) Update(ctx context.Context, service string, fn func(Snapshot) Snapshot) (Snapshot, error) {
	key := stateKey(service)
	var result Snapshot

	txf := func(tx *redis.Tx) error {
		var cur Snapshot
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if cur, err = decode(raw); err != nil {
				return err
			}
		}

		next := fn(cur)
		if next == cur {
			result = next
			return nil
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, stateTTL(next))
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for range maxUpdateRetries {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Snapshot{}, fmt.Errorf("failed to update breaker state: %w", err)
	}
	return Snapshot{}, ErrContention
}

// Delete implements Store
func (s *RedisStore) Delete(ctx context.Context, service string) error {
	if err := s.client.Del(ctx, stateKey(service)).Err(); err != nil {
		return fmt.Errorf("failed to delete breaker state: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
