package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetrics exports connection pool state and query latency.
type DBMetrics struct {
	queryTotal     *Counter
	queryDuration  *Histogram
	slowQueryTotal *Counter
	slowThreshold  time.Duration
	registration   metric.Registration
	logger         *zap.Logger
}

type metricsStartKey struct{}

// RegisterDBMetrics instruments db: pool gauges are observed on each collection
// and query counters are fed from gorm callbacks.
func RegisterDBMetrics(db *gorm.DB, meter metric.Meter, slowThreshold time.Duration, logger *zap.Logger) (*DBMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if slowThreshold <= 0 {
		slowThreshold = 200 * time.Millisecond
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	m := &DBMetrics{slowThreshold: slowThreshold, logger: logger}
	if m.queryTotal, err = NewCounter(meter, "db_query_total", "Database queries executed", "{queries}"); err != nil {
		return nil, err
	}
	if m.slowQueryTotal, err = NewCounter(meter, "db_slow_query_total", "Queries slower than the threshold", "{queries}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database query latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}

	if err := m.observePool(meter, sqlDB); err != nil {
		return nil, err
	}

	cb := db.Callback()
	if err := errors.Join(
		cb.Create().Before("gorm:create").Register("gw_metrics:before_create", metricsStart),
		cb.Create().After("gorm:create").Register("gw_metrics:after_create", m.after("INSERT")),
		cb.Query().Before("gorm:query").Register("gw_metrics:before_query", metricsStart),
		cb.Query().After("gorm:query").Register("gw_metrics:after_query", m.after("SELECT")),
		cb.Update().Before("gorm:update").Register("gw_metrics:before_update", metricsStart),
		cb.Update().After("gorm:update").Register("gw_metrics:after_update", m.after("UPDATE")),
		cb.Delete().Before("gorm:delete").Register("gw_metrics:before_delete", metricsStart),
		cb.Delete().After("gorm:delete").Register("gw_metrics:after_delete", m.after("DELETE")),
		cb.Raw().Before("gorm:raw").Register("gw_metrics:before_raw", metricsStart),
		cb.Raw().After("gorm:raw").Register("gw_metrics:after_raw", m.after("RAW")),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DBMetrics) observePool(meter metric.Meter, sqlDB *sql.DB) error {
	conns, err := meter.Int64ObservableGauge("db_pool_connections",
		metric.WithDescription("Connections in the pool by state"),
		metric.WithUnit("{connections}"))
	if err != nil {
		return err
	}
	maxConns, err := meter.Int64ObservableGauge("db_pool_connections_max",
		metric.WithDescription("Configured maximum open connections"),
		metric.WithUnit("{connections}"))
	if err != nil {
		return err
	}

	m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := sqlDB.Stats()
		o.ObserveInt64(maxConns, int64(stats.MaxOpenConnections))
		o.ObserveInt64(conns, int64(stats.Idle), metric.WithAttributes(AttrDBState.String("idle")))
		o.ObserveInt64(conns, int64(stats.InUse), metric.WithAttributes(AttrDBState.String("in_use")))
		o.ObserveInt64(conns, int64(stats.OpenConnections), metric.WithAttributes(AttrDBState.String("open")))
		return nil
	}, conns, maxConns)
	return err
}

func metricsStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, metricsStartKey{}, time.Now())
	}
}

func (m *DBMetrics) after(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			return
		}
		start, ok := ctx.Value(metricsStartKey{}).(time.Time)
		if !ok {
			return
		}
		m.RecordQuery(ctx, operation, db.Statement.Table, time.Since(start))
	}
}

// RecordQuery records one query.
func (m *DBMetrics) RecordQuery(ctx context.Context, operation, table string, d time.Duration) {
	m.queryTotal.Inc(ctx, AttrDBOperation.String(operation))
	m.queryDuration.RecordDuration(ctx, d, AttrDBOperation.String(operation))
	if d > m.slowThreshold {
		if table == "" {
			table = "unknown"
		}
		m.slowQueryTotal.Inc(ctx, AttrDBTable.String(table))
	}
}

// Stop unregisters the pool callback.
func (m *DBMetrics) Stop() {
	if m.registration != nil {
		if err := m.registration.Unregister(); err != nil {
			m.logger.Warn("Failed to unregister pool metrics", zap.Error(err))
		}
	}
}
