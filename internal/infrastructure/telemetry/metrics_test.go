package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestProviders_Disabled(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{ServiceName: "gw"}, logger)
	require.NoError(t, err)
	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("x"))
	assert.NoError(t, mp.ForceFlush(ctx))
	assert.NoError(t, mp.Shutdown(ctx))

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{ServiceName: "gw"}, logger)
	require.NoError(t, err)
	assert.False(t, tp.IsEnabled())
	assert.NoError(t, tp.EnableSpanProfiles())
	assert.False(t, tp.IsSpanProfilesEnabled())
	assert.NotNil(t, tp.Tracer("x"))
	assert.NoError(t, tp.Shutdown(ctx))

	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{ServiceName: "gw"}, logger)
	require.NoError(t, err)
	assert.False(t, lp.IsEnabled())
	assert.NoError(t, lp.Shutdown(ctx))
}

func TestNewGatewayMetrics_NilMeter(t *testing.T) {
	_, err := telemetry.NewGatewayMetrics(telemetry.GatewayMetricsConfig{})
	assert.ErrorIs(t, err, telemetry.ErrMeterNil)
}

func TestGatewayMetrics_NilReceiver(t *testing.T) {
	var m *telemetry.GatewayMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordRequest(ctx, telemetry.RequestObservation{Status: 200})
		m.InFlight(ctx, 1)
		m.RecordRateLimited(ctx, "ip")
		m.RecordBreakerTransition(ctx, "orders", "open")
		m.RecordCacheLookup(ctx, "fast", true)
		m.RecordAnalyticsDropped(ctx, "queue_full", 3)
	})
}

func TestGatewayMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := telemetry.NewMeterProviderWithReader(reader, zaptest.NewLogger(t))
	ctx := context.Background()

	m, err := telemetry.NewGatewayMetrics(telemetry.GatewayMetricsConfig{Meter: mp.Meter("test")})
	require.NoError(t, err)

	m.RecordRequest(ctx, telemetry.RequestObservation{
		Method: "GET", Service: "orders", Route: "orders-list", Status: 200, Outcome: "success", Duration: 12 * time.Millisecond,
	})
	m.RecordRequest(ctx, telemetry.RequestObservation{
		Method: "GET", Service: "orders", Status: 502, Outcome: "error", ErrorCode: "UPSTREAM_FAILURE", Duration: time.Second,
	})
	m.InFlight(ctx, 1)
	m.InFlight(ctx, -1)
	m.RecordRateLimited(ctx, "user")
	m.RecordRateLimitStoreError(ctx)
	m.RecordBreakerTransition(ctx, "orders", "open")
	m.RecordBreakerRejected(ctx, "orders")
	m.RecordCacheLookup(ctx, "fast", false)
	m.RecordCacheLookup(ctx, "distributed", true)
	m.RecordUpstream(ctx, "orders", "orders-1", 503, 40*time.Millisecond, true)
	m.RecordHealthCheck(ctx, "orders", "orders-1", false)
	m.RecordAnalyticsDropped(ctx, "queue_full", 2)
	m.RecordAnalyticsDropped(ctx, "queue_full", 0)
	m.RecordAnalyticsFlushed(ctx, 5)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, data["gateway_requests_total"]))
	assert.Equal(t, int64(0), sumOf(t, data["gateway_requests_in_flight"]))
	assert.Equal(t, int64(1), sumOf(t, data["gateway_rate_limited_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["gateway_rate_limit_store_errors_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["gateway_breaker_transitions_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["gateway_breaker_rejected_total"]))
	assert.Equal(t, int64(2), sumOf(t, data["gateway_cache_lookups_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["gateway_upstream_errors_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["gateway_health_checks_total"]))
	assert.Equal(t, int64(2), sumOf(t, data["gateway_analytics_dropped_total"]))
	assert.Equal(t, int64(5), sumOf(t, data["gateway_analytics_flushed_total"]))

	hist, ok := data["gateway_request_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}
