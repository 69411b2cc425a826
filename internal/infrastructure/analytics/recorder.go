// Package analytics records one telemetry row per gateway request, keeps live
// per-endpoint aggregates and rolls raw rows into windowed summaries.
package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/config"
	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
)

const (
	DefaultQueueSize      = 10000
	DefaultBatchSize      = 200
	DefaultFlushInterval  = 2 * time.Second
	DefaultEnqueueTimeout = 50 * time.Millisecond
	DefaultWriteTimeout   = 5 * time.Second
)

var (
	// ErrQueueFull is returned when a record could not be enqueued in time
	ErrQueueFull = errors.New("analytics queue full")
	// ErrRecorderClosed is returned by Record after Close
	ErrRecorderClosed = errors.New("analytics recorder closed")
)

// RecorderStats reports the recorder's counters
type RecorderStats struct {
	Queued  int   `json:"queued"`
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithCountryResolver enriches records that carry no country
func WithCountryResolver(r CountryResolver) RecorderOption {
	return func(rec *Recorder) { rec.geo = r }
}

// WithMetrics reports drops and flushes
func WithMetrics(m *telemetry.GatewayMetrics) RecorderOption {
	return func(rec *Recorder) { rec.metrics = m }
}

// WithAggregates shares an aggregate set with other readers
func WithAggregates(a *Aggregates) RecorderOption {
	return func(rec *Recorder) { rec.aggregates = a }
}

// Recorder writes analytics records asynchronously in batches. The request
// path only pays for the enqueue.
type Recorder struct {
	repo       gateway.AnalyticsRepository
	cfg        config.AnalyticsConfig
	queue      chan gateway.AnalyticsRecord
	aggregates *Aggregates
	geo        CountryResolver
	metrics    *telemetry.GatewayMetrics
	logger     *zap.Logger
	dropLog    rate.Sometimes

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64

	closed    atomic.Bool
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewRecorder creates a recorder. Zero config values fall back to defaults.
func NewRecorder(repo gateway.AnalyticsRepository, cfg config.AnalyticsConfig, logger *zap.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	r := &Recorder{
		repo:    repo,
		cfg:     cfg,
		queue:   make(chan gateway.AnalyticsRecord, cfg.QueueSize),
		logger:  logger.Named("analytics"),
		dropLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.aggregates == nil {
		r.aggregates = NewAggregates()
	}
	return r
}

// Aggregates returns the live per-endpoint counters
func (r *Recorder) Aggregates() *Aggregates {
	return r.aggregates
}

// Start launches the consumer goroutine
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		go r.consume()
		r.logger.Info("analytics recorder started",
			zap.Int("queue_size", r.cfg.QueueSize),
			zap.Int("batch_size", r.cfg.BatchSize),
			zap.Duration("flush_interval", r.cfg.FlushInterval),
		)
	})
}

// Record enqueues rec. It blocks at most for the enqueue timeout; a record
// that cannot be queued in time is dropped and counted.
func (r *Recorder) Record(ctx context.Context, rec gateway.AnalyticsRecord) error {
	if r == nil {
		return nil
	}
	if r.closed.Load() {
		return ErrRecorderClosed
	}

	select {
	case r.queue <- rec:
		return nil
	default:
	}

	timer := time.NewTimer(r.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case r.queue <- rec:
		return nil
	case <-timer.C:
		r.drop(ctx, "queue_full", 1)
		return ErrQueueFull
	case <-ctx.Done():
		r.drop(ctx, "cancelled", 1)
		return ctx.Err()
	}
}

func (r *Recorder) drop(ctx context.Context, reason string, n int) {
	total := r.dropped.Add(int64(n))
	r.metrics.RecordAnalyticsDropped(ctx, reason, n)
	r.dropLog.Do(func() {
		r.logger.Warn("analytics records dropped",
			zap.String("reason", reason),
			zap.Int("count", n),
			zap.Int64("dropped_total", total),
		)
	})
}

func (r *Recorder) consume() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]gateway.AnalyticsRecord, 0, r.cfg.BatchSize)
	add := func(rec gateway.AnalyticsRecord) {
		if rec.Country == "" && r.geo != nil {
			rec.Country = r.geo.Country(rec.ClientIP)
		}
		r.aggregates.Observe(rec)
		batch = append(batch, rec)
		if len(batch) >= r.cfg.BatchSize {
			r.flush(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case rec := <-r.queue:
			add(rec)
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-r.stop:
			for {
				select {
				case rec := <-r.queue:
					add(rec)
				default:
					if len(batch) > 0 {
						r.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (r *Recorder) flush(batch []gateway.AnalyticsRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	if err := r.repo.SaveBatch(ctx, batch); err != nil {
		r.failed.Add(int64(len(batch)))
		r.metrics.RecordAnalyticsDropped(ctx, "write_failed", len(batch))
		r.logger.Error("failed to write analytics batch",
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
		return
	}
	r.written.Add(int64(len(batch)))
	r.metrics.RecordAnalyticsFlushed(ctx, len(batch))
	r.logger.Debug("analytics batch written", zap.Int("count", len(batch)))
}

// Stats returns the current counters
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Queued:  len(r.queue),
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}

// Close stops accepting records, drains the queue and writes the final batch.
// It returns ctx.Err() if the drain does not finish in time.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.Start()
		close(r.stop)
	})
	select {
	case <-r.done:
		r.logger.Info("analytics recorder stopped",
			zap.Int64("written", r.written.Load()),
			zap.Int64("dropped", r.dropped.Load()),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
