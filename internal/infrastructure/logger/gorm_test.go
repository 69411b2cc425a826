package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

var _ gormlogger.Interface = (*GormLogger)(nil)

func query(sql string) func() (string, int64) {
	return func() (string, int64) { return sql, 1 }
}

func TestGormLogger_Options(t *testing.T) {
	gl := NewGormLogger(zap.NewNop(), gormlogger.Warn,
		WithSlowThreshold(time.Second),
		WithIgnoreRecordNotFoundError(false),
		WithFullSQL(true),
	)

	assert.Equal(t, time.Second, gl.slowThreshold)
	assert.False(t, gl.ignoreRecordNotFoundError)
	assert.True(t, gl.fullSQL)

	changed := gl.LogMode(gormlogger.Info).(*GormLogger)
	assert.Equal(t, gormlogger.Info, changed.logLevel)
	assert.Equal(t, gormlogger.Warn, gl.logLevel)
}

func TestGormLogger_Messages(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Warn)
	ctx := context.Background()

	gl.Info(ctx, "suppressed %d", 1)
	gl.Warn(ctx, "warned %d", 2)
	gl.Error(ctx, "failed %d", 3)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "warned 2", logs.All()[0].Message)
	assert.Equal(t, "failed 3", logs.All()[1].Message)
}

func TestGormLogger_Trace(t *testing.T) {
	tests := []struct {
		name    string
		level   gormlogger.LogLevel
		begin   time.Time
		err     error
		wantMsg string
	}{
		{name: "error", level: gormlogger.Error, begin: time.Now(), err: errors.New("boom"), wantMsg: "SQL Error"},
		{name: "record not found ignored", level: gormlogger.Error, begin: time.Now(), err: gormlogger.ErrRecordNotFound},
		{name: "slow", level: gormlogger.Warn, begin: time.Now().Add(-time.Second), wantMsg: "SLOW SQL >= 200ms"},
		{name: "normal", level: gormlogger.Info, begin: time.Now(), wantMsg: "SQL Query"},
		{name: "silent", level: gormlogger.Silent, begin: time.Now(), err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			gl := NewGormLogger(zap.New(core), tt.level)

			gl.Trace(context.Background(), tt.begin, query("SELECT 1"), tt.err)

			if tt.wantMsg == "" {
				assert.Zero(t, logs.Len())
				return
			}
			require.Equal(t, 1, logs.Len())
			assert.Equal(t, tt.wantMsg, logs.All()[0].Message)
		})
	}
}

func TestGormLogger_TraceRedactsLiterals(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-5")

	NewGormLogger(zap.New(core), gormlogger.Info).
		Trace(ctx, time.Now(), query(`SELECT * FROM "api_keys" WHERE key_hash = 'abc''def' AND id = 7`), nil)
	NewGormLogger(zap.New(core), gormlogger.Info, WithFullSQL(true)).
		Trace(ctx, time.Now(), query(`SELECT * FROM "api_keys" WHERE key_hash = 'abc'`), nil)

	require.Equal(t, 2, logs.Len())
	redacted := logs.All()[0].ContextMap()
	assert.Equal(t, `SELECT * FROM "api_keys" WHERE key_hash = '?' AND id = 7`, redacted["sql"])
	assert.Equal(t, "req-5", redacted["request_id"])
	assert.Contains(t, logs.All()[1].ContextMap()["sql"], "'abc'")
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Error, MapGormLogLevel("error"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("warn"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel(""))
}
