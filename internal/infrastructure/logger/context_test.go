package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func spanContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestFromContext(t *testing.T) {
	l, _ := observed()

	assert.Same(t, l, FromContext(WithContext(context.Background(), l)))
	assert.NotNil(t, FromContext(context.Background()))

	wrongType := context.WithValue(context.Background(), LoggerKey, "not a logger")
	assert.NotNil(t, FromContext(wrongType))
}

func TestContextValues(t *testing.T) {
	base, logs := observed()
	ctx := context.Background()

	ctx, l := WithRequestID(ctx, base, "req-1")
	ctx, l = WithUserID(ctx, l, "user-42")
	ctx, l = WithService(ctx, l, "orders")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "user-42", GetUserID(ctx))
	assert.Equal(t, "orders", GetService(ctx))
	assert.Same(t, l, FromContext(ctx))

	l.Info("enriched")
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "user-42", fields["user_id"])
	assert.Equal(t, "orders", fields["service"])
}

func TestContextValues_Missing(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetUserID(ctx))
	assert.Empty(t, GetService(ctx))
}

func TestTraceIDs(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetSpanID(context.Background()))

	ctx := spanContext(t)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", GetTraceID(ctx))
	assert.Equal(t, "00f067aa0ba902b7", GetSpanID(ctx))
}

func TestWithTraceContext(t *testing.T) {
	base, logs := observed()

	assert.Same(t, base, WithTraceContext(context.Background(), base))

	WithTraceContext(spanContext(t), base).Info("traced")
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", fields["span_id"])
}

func TestContextLogger_ProvidedLoggerGetsContextFields(t *testing.T) {
	base, logs := observed()
	ctx := context.WithValue(spanContext(t), RequestIDKey, "req-9")
	ctx = context.WithValue(ctx, ServiceKey, "billing")

	WithLogger(ctx, base).Warn("upstream slow", zap.Int("status", 504))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "billing", fields["service"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.EqualValues(t, 504, fields["status"])
}

func TestContextLogger_ContextLoggerNotDuplicated(t *testing.T) {
	base, logs := observed()
	ctx, _ := WithRequestID(context.Background(), base, "req-3")

	L(ctx).Info("once")

	require.Equal(t, 1, logs.Len())
	count := 0
	for _, f := range logs.All()[0].Context {
		if f.Key == "request_id" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestContextLogger_LevelsAndWith(t *testing.T) {
	base, logs := observed()
	cl := WithLogger(context.Background(), base).With(zap.String("dimension", "ip"))

	cl.Debug("d")
	cl.Info("i")
	cl.Warn("w")
	cl.Error("e")
	cl.Zap().Info("z")

	require.Equal(t, 5, logs.Len())
	for _, entry := range logs.All() {
		assert.Equal(t, "ip", entry.ContextMap()["dimension"])
	}
}

func TestContextLogger_NilLogger(t *testing.T) {
	cl := WithLogger(context.Background(), nil)
	assert.NotPanics(t, func() { cl.Info("nothing") })
}
