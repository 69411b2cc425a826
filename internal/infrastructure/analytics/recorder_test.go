package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/config"
)

type captureRepo struct {
	mu      sync.Mutex
	batches [][]gateway.AnalyticsRecord
	err     error
	block   chan struct{}
}

func (r *captureRepo) SaveBatch(ctx context.Context, records []gateway.AnalyticsRecord) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, append([]gateway.AnalyticsRecord(nil), records...))
	return nil
}

func (r *captureRepo) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func (r *captureRepo) all() []gateway.AnalyticsRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []gateway.AnalyticsRecord
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

type staticCountry string

func (s staticCountry) Country(string) string { return string(s) }

func record(i int) gateway.AnalyticsRecord {
	return gateway.AnalyticsRecord{
		RequestID:    fmt.Sprintf("req-%d", i),
		Timestamp:    time.Now(),
		Method:       "GET",
		Path:         "/v3/orders",
		Endpoint:     "GET /v3/orders",
		Status:       200,
		Outcome:      gateway.OutcomeSuccess,
		ResponseTime: time.Duration(i+1) * time.Millisecond,
		ClientIP:     "203.0.113.7",
	}
}

func TestRecorder_FlushesOnBatchSize(t *testing.T) {
	repo := &captureRepo{}
	r := NewRecorder(repo, config.AnalyticsConfig{BatchSize: 5, FlushInterval: time.Hour}, zaptest.NewLogger(t))
	r.Start()

	for i := range 10 {
		require.NoError(t, r.Record(context.Background(), record(i)))
	}

	assert.Eventually(t, func() bool { return repo.total() == 10 }, time.Second, 5*time.Millisecond)
	repo.mu.Lock()
	assert.Len(t, repo.batches, 2)
	repo.mu.Unlock()

	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, int64(10), r.Stats().Written)
}

func TestRecorder_FlushesOnInterval(t *testing.T) {
	repo := &captureRepo{}
	r := NewRecorder(repo, config.AnalyticsConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, zaptest.NewLogger(t))
	r.Start()
	defer r.Close(context.Background())

	require.NoError(t, r.Record(context.Background(), record(1)))
	assert.Eventually(t, func() bool { return repo.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecorder_CloseDrainsQueue(t *testing.T) {
	repo := &captureRepo{}
	r := NewRecorder(repo, config.AnalyticsConfig{BatchSize: 1000, FlushInterval: time.Hour}, zaptest.NewLogger(t))

	for i := range 50 {
		require.NoError(t, r.Record(context.Background(), record(i)))
	}
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 50, repo.total())

	assert.ErrorIs(t, r.Record(context.Background(), record(99)), ErrRecorderClosed)
	require.NoError(t, r.Close(context.Background()))
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	repo := &captureRepo{block: make(chan struct{})}
	r := NewRecorder(repo, config.AnalyticsConfig{
		QueueSize:      1,
		BatchSize:      1,
		EnqueueTimeout: 5 * time.Millisecond,
		FlushInterval:  time.Hour,
	}, zap.New(core))
	r.Start()

	// the consumer takes the first record and blocks writing it; the second
	// fills the queue and the third cannot be queued
	require.NoError(t, r.Record(context.Background(), record(0)))
	assert.Eventually(t, func() bool { return r.Stats().Queued == 0 }, time.Second, time.Millisecond)
	require.NoError(t, r.Record(context.Background(), record(1)))

	err := r.Record(context.Background(), record(2))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), r.Stats().Dropped)
	assert.Equal(t, 1, logs.FilterMessage("analytics records dropped").Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Record(ctx, record(3)), context.Canceled)
	assert.Equal(t, int64(2), r.Stats().Dropped)

	close(repo.block)
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 2, repo.total())
}

func TestRecorder_WriteFailureIsCounted(t *testing.T) {
	repo := &captureRepo{err: errors.New("db down")}
	r := NewRecorder(repo, config.AnalyticsConfig{BatchSize: 2}, zaptest.NewLogger(t))

	require.NoError(t, r.Record(context.Background(), record(0)))
	require.NoError(t, r.Record(context.Background(), record(1)))
	require.NoError(t, r.Close(context.Background()))

	stats := r.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Zero(t, stats.Written)
}

func TestRecorder_EnrichesAndAggregates(t *testing.T) {
	repo := &captureRepo{}
	r := NewRecorder(repo, config.AnalyticsConfig{}, zaptest.NewLogger(t), WithCountryResolver(staticCountry("NZ")))

	withCountry := record(0)
	withCountry.Country = "DE"
	require.NoError(t, r.Record(context.Background(), withCountry))
	require.NoError(t, r.Record(context.Background(), record(1)))
	require.NoError(t, r.Close(context.Background()))

	got := repo.all()
	require.Len(t, got, 2)
	assert.Equal(t, "DE", got[0].Country)
	assert.Equal(t, "NZ", got[1].Country)

	stats, ok := r.Aggregates().Endpoint("GET /v3/orders")
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.Requests)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NoError(t, r.Record(context.Background(), record(0)))
	assert.NoError(t, r.Close(context.Background()))
}
