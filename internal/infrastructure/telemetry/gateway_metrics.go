package telemetry

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// GatewayMetrics records request pipeline instruments.
// A nil *GatewayMetrics is valid and records nothing.
type GatewayMetrics struct {
	logger *zap.Logger

	requestsTotal     *Counter
	requestDuration   *Histogram
	inFlight          *UpDownCounter
	rateLimited       *Counter
	rateLimitErrors   *Counter
	breakerTransition *Counter
	breakerRejected   *Counter
	cacheLookups      *Counter
	upstreamDuration  *Histogram
	upstreamErrors    *Counter
	healthChecks      *Counter
	analyticsDropped  *Counter
	analyticsFlushed  *Counter
}

// GatewayMetricsConfig holds configuration for gateway metrics.
type GatewayMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewGatewayMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// NewGatewayMetrics creates every gateway instrument on the given meter.
func NewGatewayMetrics(cfg GatewayMetricsConfig) (*GatewayMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &GatewayMetrics{logger: logger}
	var err error

	counters := []struct {
		dst                     **Counter
		name, description, unit string
	}{
		{&m.requestsTotal, "gateway_requests_total", "Requests handled by the gateway", "{requests}"},
		{&m.rateLimited, "gateway_rate_limited_total", "Requests denied by the rate limiter", "{requests}"},
		{&m.rateLimitErrors, "gateway_rate_limit_store_errors_total", "Limiter store failures admitted open", "{errors}"},
		{&m.breakerTransition, "gateway_breaker_transitions_total", "Circuit breaker state transitions", "{transitions}"},
		{&m.breakerRejected, "gateway_breaker_rejected_total", "Requests short-circuited by an open breaker", "{requests}"},
		{&m.cacheLookups, "gateway_cache_lookups_total", "Response cache lookups", "{lookups}"},
		{&m.upstreamErrors, "gateway_upstream_errors_total", "Failed downstream calls", "{errors}"},
		{&m.healthChecks, "gateway_health_checks_total", "Active health probes", "{probes}"},
		{&m.analyticsDropped, "gateway_analytics_dropped_total", "Analytics records dropped", "{records}"},
		{&m.analyticsFlushed, "gateway_analytics_flushed_total", "Analytics records persisted", "{records}"},
	}
	for _, c := range counters {
		if *c.dst, err = NewCounter(cfg.Meter, c.name, c.description, c.unit); err != nil {
			return nil, err
		}
	}

	if m.requestDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "gateway_request_duration_seconds",
		Description: "End-to-end pipeline latency",
		Unit:        "s",
		Boundaries:  HTTPDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.upstreamDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "gateway_upstream_duration_seconds",
		Description: "Downstream call latency",
		Unit:        "s",
		Boundaries:  HTTPDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.inFlight, err = NewUpDownCounter(cfg.Meter, "gateway_requests_in_flight", "Requests currently in the pipeline", "{requests}"); err != nil {
		return nil, err
	}

	return m, nil
}

// RequestObservation describes one finished pipeline run.
type RequestObservation struct {
	Method    string
	Service   string
	Route     string
	Status    int
	Outcome   string
	ErrorCode string
	CacheHit  bool
	Duration  time.Duration
}

// RecordRequest records the outcome and latency of one request.
func (m *GatewayMetrics) RecordRequest(ctx context.Context, o RequestObservation) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		AttrHTTPMethod.String(o.Method),
		AttrHTTPStatusCode.String(strconv.Itoa(o.Status)),
		AttrService.String(o.Service),
		AttrRoute.String(o.Route),
		AttrOutcome.String(o.Outcome),
		attribute.Bool("gateway.cache_hit", o.CacheHit),
	}
	if o.ErrorCode != "" {
		attrs = append(attrs, AttrErrorCode.String(o.ErrorCode))
	}
	m.requestsTotal.Inc(ctx, attrs...)
	m.requestDuration.RecordDuration(ctx, o.Duration, attrs...)
}

// InFlight moves the in-flight gauge by delta.
func (m *GatewayMetrics) InFlight(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.inFlight.Add(ctx, delta)
}

// RecordRateLimited counts a denial on the given dimension.
func (m *GatewayMetrics) RecordRateLimited(ctx context.Context, dimension string) {
	if m == nil {
		return
	}
	m.rateLimited.Inc(ctx, AttrDimension.String(dimension))
}

// RecordRateLimitStoreError counts a limiter store failure.
func (m *GatewayMetrics) RecordRateLimitStoreError(ctx context.Context) {
	if m == nil {
		return
	}
	m.rateLimitErrors.Inc(ctx)
}

// RecordBreakerTransition counts a state change of a service breaker.
func (m *GatewayMetrics) RecordBreakerTransition(ctx context.Context, service, to string) {
	if m == nil {
		return
	}
	m.breakerTransition.Inc(ctx, AttrService.String(service), AttrBreakerTo.String(to))
}

// RecordBreakerRejected counts a call refused by an open breaker.
func (m *GatewayMetrics) RecordBreakerRejected(ctx context.Context, service string) {
	if m == nil {
		return
	}
	m.breakerRejected.Inc(ctx, AttrService.String(service))
}

// RecordCacheLookup counts a lookup against one cache tier.
func (m *GatewayMetrics) RecordCacheLookup(ctx context.Context, tier string, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.Inc(ctx, AttrCacheTier.String(tier), attribute.Bool("gateway.cache.hit", hit))
}

// RecordUpstream records one downstream call.
func (m *GatewayMetrics) RecordUpstream(ctx context.Context, service, instance string, status int, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		AttrService.String(service),
		AttrInstance.String(instance),
		AttrHTTPStatusCode.String(strconv.Itoa(status)),
	}
	m.upstreamDuration.RecordDuration(ctx, d, attrs...)
	if failed {
		m.upstreamErrors.Inc(ctx, attrs...)
	}
}

// RecordHealthCheck counts one probe result.
func (m *GatewayMetrics) RecordHealthCheck(ctx context.Context, service, instance string, healthy bool) {
	if m == nil {
		return
	}
	m.healthChecks.Inc(ctx, AttrService.String(service), AttrInstance.String(instance), AttrHealthy.Bool(healthy))
}

// RecordAnalyticsDropped counts records the recorder could not keep.
func (m *GatewayMetrics) RecordAnalyticsDropped(ctx context.Context, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.analyticsDropped.Add(ctx, int64(n), AttrDropReason.String(reason))
}

// RecordAnalyticsFlushed counts records written to the store.
func (m *GatewayMetrics) RecordAnalyticsFlushed(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.analyticsFlushed.Add(ctx, int64(n))
}
