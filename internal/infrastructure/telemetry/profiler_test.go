package telemetry

import (
	"context"
	"runtime/pprof"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewProfiler(t *testing.T) {
	p, err := NewProfiler(ProfilerConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, p.IsEnabled())
	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())

	_, err = NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "gw"}, zap.NewNop())
	assert.ErrorContains(t, err, "server address")

	_, err = NewProfiler(ProfilerConfig{Enabled: true, ServerAddress: "http://localhost:4040"}, zap.NewNop())
	assert.ErrorContains(t, err, "application name")
}

func TestProfileTypes(t *testing.T) {
	assert.Len(t, profileTypes(ProfilerConfig{}), 5)
	assert.Len(t, profileTypes(ProfilerConfig{ProfileGoroutines: true, ProfileMutexes: true}), 8)
}

func TestSanitizeLabels(t *testing.T) {
	long := strings.Repeat("r", MaxLabelValueLength+10)
	got := sanitizeLabels(map[string]string{
		"service":    "orders",
		"request_id": "req-1",
		"USER_ID":    "u",
		"route":      long,
		"empty":      "",
		"method":     "GET",
	})

	require.Equal(t, []string{"method", "GET", "route", long[:MaxLabelValueLength], "service", "orders"}, got)
}

func TestWithProfilingLabels(t *testing.T) {
	var seen string
	WithProfilingLabels(context.Background(), RequestLabels("orders", "orders-list", "GET"), func(ctx context.Context) {
		seen, _ = pprof.Label(ctx, ProfilingLabelService)
	})
	assert.Equal(t, "orders", seen)

	called := false
	WithProfilingLabels(context.Background(), nil, func(context.Context) { called = true })
	assert.True(t, called)
}

func TestLevelFilterCore(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}
	l := zap.New(core).With(zap.String("service", "orders"))

	l.Info("dropped")
	l.Warn("kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
	assert.Equal(t, "orders", logs.All()[0].ContextMap()["service"])

	var disabled *LoggerProvider
	assert.Nil(t, disabled.ZapCore(zapcore.InfoLevel))
}
