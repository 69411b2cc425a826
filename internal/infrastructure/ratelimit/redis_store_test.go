package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasHashTag(t *testing.T) {
	tests := []struct {
		prefix string
		want   bool
	}{
		{"{gw:rl}:", true},
		{"tenant:{rl}:", true},
		{"gw:rl:", false},
		{"{}:", false},
		{"{gw:rl:", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			assert.Equal(t, tt.want, HasHashTag(tt.prefix))
		})
	}
	assert.True(t, HasHashTag(defaultRedisPrefix))
}

func TestRedisStore_DefaultPrefixTagsEveryKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, "")
	ctx := context.Background()
	now := time.Now()
	reqs := []Request{
		req(DimensionIP, "10.0.0.1", 5, time.Minute),
		req(DimensionUser, "alice", 5, time.Minute),
		req(DimensionEndpoint, "GET /orders", 5, time.Minute),
	}

	d, err := s.Admit(ctx, reqs, now)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	keys := mr.Keys()
	require.Len(t, keys, 3)
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "{gw:ratelimit}:"), k)
	}

	res, err := s.Check(ctx, reqs[1], now)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Remaining)
}
