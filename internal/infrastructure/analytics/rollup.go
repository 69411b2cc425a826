package analytics

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

const (
	DefaultRollupWindow    = 5 * time.Minute
	DefaultRetention       = 30 * 24 * time.Hour
	DefaultRollupScanBatch = 1000
)

// Roller summarizes raw analytics rows into per-endpoint windows and
// enforces raw-row retention.
type Roller struct {
	repo      gateway.RollupRepository
	window    time.Duration
	retention time.Duration
	scanBatch int
	logger    *zap.Logger
	now       func() time.Time
}

// NewRoller creates a roller; zero durations fall back to defaults
func NewRoller(repo gateway.RollupRepository, window, retention time.Duration, logger *zap.Logger) *Roller {
	if window <= 0 {
		window = DefaultRollupWindow
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Roller{
		repo:      repo,
		window:    window,
		retention: retention,
		scanBatch: DefaultRollupScanBatch,
		logger:    logger.Named("rollup"),
		now:       time.Now,
	}
}

// RollupPrevious summarizes the last complete window before now
func (r *Roller) RollupPrevious(ctx context.Context) ([]gateway.AnalyticsRollup, error) {
	end := r.now().UTC().Truncate(r.window)
	return r.Rollup(ctx, end.Add(-r.window), end)
}

type endpointWindow struct {
	service   string
	requests  int64
	errors    int64
	cacheHits int64
	total     time.Duration
	latencies []time.Duration
	clients   map[string]struct{}
}

// Rollup summarizes [from, to) and upserts one row per endpoint. Rerunning a
// window overwrites its rows.
func (r *Roller) Rollup(ctx context.Context, from, to time.Time) ([]gateway.AnalyticsRollup, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("empty rollup window %s..%s", from, to)
	}

	windows := make(map[string]*endpointWindow)
	err := r.repo.ScanRange(ctx, from, to, r.scanBatch, func(batch []gateway.AnalyticsRecord) error {
		for _, rec := range batch {
			key := rec.Endpoint
			if key == "" {
				key = rec.Method + " " + rec.Path
			}
			w, ok := windows[key]
			if !ok {
				w = &endpointWindow{service: rec.Service, clients: make(map[string]struct{})}
				windows[key] = w
			}
			w.requests++
			if rec.IsError() {
				w.errors++
			}
			if rec.CacheHit {
				w.cacheHits++
			}
			w.total += rec.ResponseTime
			w.latencies = append(w.latencies, rec.ResponseTime)
			switch {
			case rec.UserID != "":
				w.clients["u:"+rec.UserID] = struct{}{}
			case rec.ClientIP != "":
				w.clients["ip:"+rec.ClientIP] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan analytics records: %w", err)
	}
	if len(windows) == 0 {
		return nil, nil
	}

	seconds := to.Sub(from).Seconds()
	rollups := make([]gateway.AnalyticsRollup, 0, len(windows))
	for endpoint, w := range windows {
		slices.Sort(w.latencies)
		rollups = append(rollups, gateway.AnalyticsRollup{
			WindowStart:   from,
			WindowEnd:     to,
			Endpoint:      endpoint,
			Service:       w.service,
			Requests:      w.requests,
			Errors:        w.errors,
			CacheHits:     w.cacheHits,
			AvgLatency:    w.total / time.Duration(w.requests),
			MinLatency:    w.latencies[0],
			MaxLatency:    w.latencies[len(w.latencies)-1],
			P95Latency:    percentile(w.latencies, 0.95),
			P99Latency:    percentile(w.latencies, 0.99),
			ErrorRate:     float64(w.errors) / float64(w.requests),
			Throughput:    float64(w.requests) / seconds,
			UniqueClients: int64(len(w.clients)),
		})
	}
	slices.SortFunc(rollups, func(a, b gateway.AnalyticsRollup) int {
		if a.Endpoint < b.Endpoint {
			return -1
		}
		if a.Endpoint > b.Endpoint {
			return 1
		}
		return 0
	})

	if err := r.repo.SaveRollups(ctx, rollups); err != nil {
		return nil, fmt.Errorf("save rollups: %w", err)
	}
	r.logger.Info("analytics window rolled up",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("endpoints", len(rollups)),
	)
	return rollups, nil
}

// percentile uses the nearest-rank method on sorted input
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// Cleanup deletes raw records older than the retention period
func (r *Roller) Cleanup(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.retention)
	n, err := r.repo.DeleteRecordsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete analytics records before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		r.logger.Info("expired analytics records deleted", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
