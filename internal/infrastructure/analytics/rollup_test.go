package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

type memoryRollupRepo struct {
	records  []gateway.AnalyticsRecord
	saved    []gateway.AnalyticsRollup
	cutoff   time.Time
	scanErr  error
	batchLen []int
}

func (m *memoryRollupRepo) ScanRange(_ context.Context, from, to time.Time, batchSize int, fn func([]gateway.AnalyticsRecord) error) error {
	if m.scanErr != nil {
		return m.scanErr
	}
	var in []gateway.AnalyticsRecord
	for _, r := range m.records {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			in = append(in, r)
		}
	}
	for start := 0; start < len(in); start += batchSize {
		end := min(start+batchSize, len(in))
		m.batchLen = append(m.batchLen, end-start)
		if err := fn(in[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryRollupRepo) SaveRollups(_ context.Context, rollups []gateway.AnalyticsRollup) error {
	m.saved = append(m.saved, rollups...)
	return nil
}

func (m *memoryRollupRepo) DeleteRecordsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.cutoff = cutoff
	var kept []gateway.AnalyticsRecord
	var n int64
	for _, r := range m.records {
		if r.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return n, nil
}

func TestRoller_Rollup(t *testing.T) {
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	repo := &memoryRollupRepo{}
	for i := range 100 {
		r := gateway.AnalyticsRecord{
			Timestamp:    base.Add(time.Duration(i) * time.Second),
			Endpoint:     "GET /v3/orders",
			Service:      "orders",
			Status:       200,
			Outcome:      gateway.OutcomeSuccess,
			ResponseTime: time.Duration(i+1) * time.Millisecond,
			ClientIP:     "203.0.113.1",
			CacheHit:     i%4 == 0,
		}
		if i < 10 {
			r.Status, r.Outcome = 502, gateway.OutcomeError
		}
		if i%2 == 0 {
			r.UserID = "u1"
		}
		repo.records = append(repo.records, r)
	}
	repo.records = append(repo.records,
		gateway.AnalyticsRecord{Timestamp: base, Method: "POST", Path: "/v3/carts", Status: 201, Outcome: gateway.OutcomeSuccess, ResponseTime: 7 * time.Millisecond},
		gateway.AnalyticsRecord{Timestamp: base.Add(10 * time.Minute), Endpoint: "GET /v3/orders", ResponseTime: time.Hour},
	)

	roller := NewRoller(repo, 5*time.Minute, 0, zaptest.NewLogger(t))
	roller.scanBatch = 30

	rollups, err := roller.Rollup(context.Background(), base, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, rollups, 2)
	assert.Equal(t, repo.saved, rollups)
	assert.Equal(t, []int{30, 30, 30, 11}, repo.batchLen)

	orders := rollups[0]
	assert.Equal(t, "GET /v3/orders", orders.Endpoint)
	assert.Equal(t, "orders", orders.Service)
	assert.Equal(t, int64(100), orders.Requests)
	assert.Equal(t, int64(10), orders.Errors)
	assert.Equal(t, int64(25), orders.CacheHits)
	assert.InDelta(t, 0.1, orders.ErrorRate, 1e-9)
	assert.Equal(t, time.Millisecond, orders.MinLatency)
	assert.Equal(t, 100*time.Millisecond, orders.MaxLatency)
	assert.Equal(t, 50500*time.Microsecond, orders.AvgLatency)
	assert.Equal(t, 95*time.Millisecond, orders.P95Latency)
	assert.Equal(t, 99*time.Millisecond, orders.P99Latency)
	assert.InDelta(t, 100.0/300.0, orders.Throughput, 1e-9)
	assert.Equal(t, int64(2), orders.UniqueClients, "one user plus one anonymous ip")

	carts := rollups[1]
	assert.Equal(t, "POST /v3/carts", carts.Endpoint)
	assert.Equal(t, int64(1), carts.Requests)
	assert.Equal(t, 7*time.Millisecond, carts.P99Latency)
	assert.Zero(t, carts.UniqueClients)
}

func TestRoller_RollupPreviousWindow(t *testing.T) {
	repo := &memoryRollupRepo{records: []gateway.AnalyticsRecord{
		{Timestamp: time.Date(2026, 4, 1, 12, 3, 0, 0, time.UTC), Endpoint: "GET /a", ResponseTime: time.Millisecond},
		{Timestamp: time.Date(2026, 4, 1, 12, 6, 0, 0, time.UTC), Endpoint: "GET /a", ResponseTime: time.Millisecond},
	}}
	roller := NewRoller(repo, 5*time.Minute, time.Hour, zaptest.NewLogger(t))
	roller.now = func() time.Time { return time.Date(2026, 4, 1, 12, 7, 30, 0, time.UTC) }

	rollups, err := roller.RollupPrevious(context.Background())
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC), rollups[0].WindowStart)
	assert.Equal(t, time.Date(2026, 4, 1, 12, 5, 0, 0, time.UTC), rollups[0].WindowEnd)
	assert.Equal(t, int64(1), rollups[0].Requests)
}

func TestRoller_EmptyAndInvalidWindows(t *testing.T) {
	repo := &memoryRollupRepo{}
	roller := NewRoller(repo, 0, 0, nil)
	now := time.Now()

	rollups, err := roller.Rollup(context.Background(), now.Add(-time.Minute), now)
	require.NoError(t, err)
	assert.Empty(t, rollups)
	assert.Empty(t, repo.saved)

	_, err = roller.Rollup(context.Background(), now, now)
	assert.Error(t, err)

	repo.scanErr = errors.New("db down")
	_, err = roller.Rollup(context.Background(), now.Add(-time.Minute), now)
	assert.ErrorContains(t, err, "db down")
}

func TestRoller_Cleanup(t *testing.T) {
	now := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)
	repo := &memoryRollupRepo{records: []gateway.AnalyticsRecord{
		{Timestamp: now.Add(-31 * 24 * time.Hour)},
		{Timestamp: now.Add(-29 * 24 * time.Hour)},
	}}
	roller := NewRoller(repo, 0, 0, zaptest.NewLogger(t))
	roller.now = func() time.Time { return now }

	n, err := roller.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, now.Add(-DefaultRetention), repo.cutoff)
	assert.Len(t, repo.records, 1)
}

func TestPercentile(t *testing.T) {
	assert.Zero(t, percentile(nil, 0.95))
	one := []time.Duration{time.Second}
	assert.Equal(t, time.Second, percentile(one, 0.99))
	ten := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(10), percentile(ten, 0.95))
	assert.Equal(t, time.Duration(5), percentile(ten, 0.5))
}
