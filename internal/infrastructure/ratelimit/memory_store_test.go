package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func req(dim Dimension, key string, n int, w time.Duration) Request {
	return Request{Dimension: dim, Key: key, Limit: Limit{Requests: n, Window: w}}
}

func TestMemoryStore_SlidingWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := req(DimensionUser, "alice", 3, time.Minute)

	for i := range 3 {
		d, err := s.Admit(ctx, []Request{r}, t0.Add(time.Duration(i)*10*time.Second))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Results[0].Remaining)
	}

	d, err := s.Admit(ctx, []Request{r}, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.NotNil(t, d.Denied)
	assert.Equal(t, DimensionUser, d.Denied.Dimension)
	assert.Equal(t, 30*time.Second, d.Denied.RetryAfter)

	// The first request leaves the window one minute after it was admitted.
	d, err = s.Admit(ctx, []Request{r}, t0.Add(time.Minute+time.Millisecond))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryStore_RetryAfterAtLeastOneSecond(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := req(DimensionIP, "10.0.0.1", 1, time.Second)

	_, err := s.Admit(ctx, []Request{r}, t0)
	require.NoError(t, err)

	d, err := s.Admit(ctx, []Request{r}, t0.Add(999*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.Denied.RetryAfter)
}

func TestMemoryStore_DeniedDimensionCommitsNothing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	user := req(DimensionUser, "bob", 10, time.Minute)
	ip := req(DimensionIP, "10.0.0.2", 1, time.Minute)

	d, err := s.Admit(ctx, []Request{user, ip}, t0)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = s.Admit(ctx, []Request{user, ip}, t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DimensionIP, d.Denied.Dimension)

	res, err := s.Check(ctx, user, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 9, res.Remaining, "the denied request must not count against the user window")

	res, err = s.Check(ctx, ip, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestMemoryStore_SharedKeyCountedOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := req(DimensionGlobal, "all", 5, time.Minute)

	d, err := s.Admit(ctx, []Request{a, a}, t0)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	res, err := s.Check(ctx, a, t0)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Remaining)
}

func TestMemoryStore_ConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	global := req(DimensionGlobal, "all", 50, time.Hour)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ip := req(DimensionIP, string(rune('a'+n%5)), 1000, time.Hour)
			d, err := s.Admit(ctx, []Request{ip, global}, t0)
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(50), admitted.Load())
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Admit(ctx, []Request{req(DimensionIP, "old", 5, time.Minute)}, t0)
	require.NoError(t, err)
	_, err = s.Admit(ctx, []Request{req(DimensionIP, "new", 5, time.Minute)}, t0.Add(50*time.Second))
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	removed := s.Sweep(t0.Add(90*time.Second), time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())

	d, err := s.Admit(ctx, []Request{req(DimensionIP, "old", 5, time.Minute)}, t0.Add(91*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().Admit(ctx, []Request{req(DimensionIP, "x", 1, time.Second)}, t0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryAfterRoundsUp(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryAfter(t0, 1500*time.Millisecond, t0))
	assert.Equal(t, time.Second, retryAfter(t0, 0, t0))
	assert.Equal(t, time.Second, retryAfter(t0, time.Second, t0.Add(5*time.Second)))
}
