package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"
)

// TokenBlacklist revokes bearer tokens before they expire.
type TokenBlacklist interface {
	// AddToBlacklist revokes a single token id until ttl elapses.
	AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error
	// IsBlacklisted reports whether the token id has been revoked.
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	// AddUserTokensToBlacklist revokes every token issued to userID up to now.
	AddUserTokensToBlacklist(ctx context.Context, userID string, ttl time.Duration) error
	// IsUserTokenInvalidated reports whether a token issued at issuedAt predates
	// the user's last revocation.
	IsUserTokenInvalidated(ctx context.Context, userID string, issuedAt time.Time) (bool, error)
}

const defaultBlacklistPrefix = "gw:token:revoked:"

// RedisTokenBlacklist implements TokenBlacklist using Redis
type RedisTokenBlacklist struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisTokenBlacklist creates a token blacklist on an existing Redis client.
func NewRedisTokenBlacklist(client redis.UniversalClient) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{client: client, keyPrefix: defaultBlacklistPrefix}
}

func (b *RedisTokenBlacklist) jtiKey(jti string) string {
	return b.keyPrefix + "jti:" + jti
}

func (b *RedisTokenBlacklist) userKey(userID string) string {
	return b.keyPrefix + "user:" + userID
}

// AddToBlacklist adds a token's JTI to the blacklist
func (b *RedisTokenBlacklist) AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.jtiKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to add token to blacklist: %w", err)
	}
	return nil
}

// IsBlacklisted checks if a token's JTI is in the blacklist
func (b *RedisTokenBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	exists, err := b.client.Exists(ctx, b.jtiKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return exists > 0, nil
}

// AddUserTokensToBlacklist stores the revocation time for userID.
func (b *RedisTokenBlacklist) AddUserTokensToBlacklist(ctx context.Context, userID string, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.userKey(userID), time.Now().UnixNano(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to invalidate user tokens: %w", err)
	}
	return nil
}

// IsUserTokenInvalidated checks if a token was issued before the user's invalidation timestamp
func (b *RedisTokenBlacklist) IsUserTokenInvalidated(ctx context.Context, userID string, issuedAt time.Time) (bool, error) {
	raw, err := b.client.Get(ctx, b.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check user token invalidation: %w", err)
	}

	revokedAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("failed to parse invalidation timestamp: %w", err)
	}
	return issuedAt.UnixNano() <= revokedAt, nil
}

var _ TokenBlacklist = (*RedisTokenBlacklist)(nil)

// InMemoryTokenBlacklist keeps revocations in process. Revocations are not
// shared between gateway instances.
type InMemoryTokenBlacklist struct {
	jtis  *xsync.Map[string, time.Time] // jti -> expiry
	users *xsync.Map[string, time.Time] // user -> revocation time
	now   func() time.Time
}

// NewInMemoryTokenBlacklist creates a new in-memory token blacklist
func NewInMemoryTokenBlacklist() *InMemoryTokenBlacklist {
	return &InMemoryTokenBlacklist{
		jtis:  xsync.NewMap[string, time.Time](),
		users: xsync.NewMap[string, time.Time](),
		now:   time.Now,
	}
}

// AddToBlacklist adds a token's JTI to the in-memory blacklist
func (b *InMemoryTokenBlacklist) AddToBlacklist(_ context.Context, jti string, ttl time.Duration) error {
	b.jtis.Store(jti, b.now().Add(ttl))
	return nil
}

// IsBlacklisted checks if a token's JTI is blacklisted and drops expired entries.
func (b *InMemoryTokenBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	now := b.now()
	revoked := false
	b.jtis.Compute(jti, func(exp time.Time, loaded bool) (time.Time, xsync.ComputeOp) {
		if !loaded {
			return exp, xsync.CancelOp
		}
		if !now.Before(exp) {
			return exp, xsync.DeleteOp
		}
		revoked = true
		return exp, xsync.CancelOp
	})
	return revoked, nil
}

// AddUserTokensToBlacklist invalidates all tokens for a user
func (b *InMemoryTokenBlacklist) AddUserTokensToBlacklist(_ context.Context, userID string, _ time.Duration) error {
	b.users.Store(userID, b.now())
	return nil
}

// IsUserTokenInvalidated checks if a token was issued before the user's invalidation timestamp
func (b *InMemoryTokenBlacklist) IsUserTokenInvalidated(_ context.Context, userID string, issuedAt time.Time) (bool, error) {
	revokedAt, ok := b.users.Load(userID)
	if !ok {
		return false, nil
	}
	return !issuedAt.After(revokedAt), nil
}

// Sweep drops expired JTI entries and returns how many were removed
func (b *InMemoryTokenBlacklist) Sweep() int {
	now := b.now()
	removed := 0
	b.jtis.Range(func(jti string, exp time.Time) bool {
		if !now.Before(exp) {
			if _, ok := b.jtis.LoadAndDelete(jti); ok {
				removed++
			}
		}
		return true
	})
	return removed
}

var _ TokenBlacklist = (*InMemoryTokenBlacklist)(nil)
