package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "default config", cfg: DefaultConfig()},
		{name: "production config", cfg: ProductionConfig()},
		{name: "debug console", cfg: &Config{Level: "debug", Format: "console", Output: "stdout"}},
		{name: "json stderr", cfg: &Config{Level: "warn", Format: "json", Output: "stderr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			require.NoError(t, err)
			assert.NotNil(t, l)
			assert.NotEmpty(t, tt.cfg.TimeFormat)
		})
	}
}

func TestNewForEnvironment(t *testing.T) {
	for _, env := range []string{"development", "production", "staging"} {
		l, err := NewForEnvironment(env)
		require.NoError(t, err)
		assert.NotNil(t, l)
	}
}

func TestNew_TeeDuplicatesEntries(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	l, err := New(&Config{Level: "info", Format: "json", Output: "stderr"},
		WithTee(core),
		WithFields(zap.String("component", "gateway")),
	)
	require.NoError(t, err)

	l.Info("started")
	l.Debug("dropped by level")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "started", entry.Message)
	assert.Equal(t, "gateway", entry.ContextMap()["component"])
}

func TestWithTee_NilCoreIgnored(t *testing.T) {
	o := &options{}
	WithTee(nil)(o)
	assert.Empty(t, o.extraCores)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestCreateWriter_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")

	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	l.Info("written to file")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestCreateWriter_UnwritableFallsBack(t *testing.T) {
	w := createWriter(filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	assert.NotNil(t, w)
}

func TestSafeHeaders(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := zap.New(core)

	l.Info("request", SafeHeaders("headers", map[string]string{
		"authorization": "Bearer secret",
		"x-api-key":     "gw_live_abc",
		"Cookie":        "session=1",
		"content-type":  "application/json",
	}))

	require.Equal(t, 1, logs.Len())
	headers, ok := logs.All()[0].ContextMap()["headers"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", headers["authorization"])
	assert.Equal(t, "[REDACTED]", headers["x-api-key"])
	assert.Equal(t, "[REDACTED]", headers["Cookie"])
	assert.Equal(t, "application/json", headers["content-type"])
}

func TestWithAndNamed(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	Named(With(base, zap.String("k", "v")), "ratelimit").Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "ratelimit", logs.All()[0].LoggerName)
	assert.Equal(t, "v", logs.All()[0].ContextMap()["k"])
	assert.NoError(t, Sync(zap.NewNop()))
}
