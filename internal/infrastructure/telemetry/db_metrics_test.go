package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
)

type probe struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&probe{}))
	return db
}

func TestRegisterDBMetrics(t *testing.T) {
	db := openSQLite(t)
	reader := sdkmetric.NewManualReader()
	mp := telemetry.NewMeterProviderWithReader(reader, zaptest.NewLogger(t))

	m, err := telemetry.RegisterDBMetrics(db, mp.Meter("db"), 0, zap.NewNop())
	require.NoError(t, err)
	defer m.Stop()

	ctx := context.Background()
	require.NoError(t, db.WithContext(ctx).Create(&probe{Name: "a"}).Error)
	var got []probe
	require.NoError(t, db.WithContext(ctx).Find(&got).Error)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, data["db_query_total"]))

	gauge, ok := data["db_pool_connections"].(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Len(t, gauge.DataPoints, 3)
}

func TestDBTracingPlugin(t *testing.T) {
	recorder := recordSpans(t)
	db := openSQLite(t)

	disabled := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{}, zap.NewNop())
	require.NoError(t, disabled.Register(db))

	plugin := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop())
	require.NoError(t, plugin.Register(db))

	ctx, span := telemetry.StartSpan(context.Background(), "test.parent")
	require.NoError(t, db.WithContext(ctx).Create(&probe{Name: "b"}).Error)
	span.End()

	assert.GreaterOrEqual(t, len(recorder.Ended()), 2)
}
