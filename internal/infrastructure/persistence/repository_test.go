package persistence

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/persistence/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

type upperHasher struct{}

func (upperHasher) Hash(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	return "h:" + strings.ToUpper(key), nil
}

func TestAPIKeyRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAPIKeyRepository(db, upperHasher{})
	ctx := context.Background()

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	key := &gateway.APIKey{
		ID:          "key-1",
		UserID:      "user-1",
		Name:        "ci",
		Tier:        "premium",
		Permissions: []string{"orders:read"},
		AllowedIPs:  []string{"10.0.0.0/8"},
		ExpiresAt:   &expires,
	}
	require.NoError(t, repo.Create(ctx, key, "gwk_secret"))

	t.Run("stores only the hash", func(t *testing.T) {
		var row models.APIKeyModel
		require.NoError(t, db.First(&row, "id = ?", "key-1").Error)
		assert.Equal(t, "h:GWK_SECRET", row.KeyHash)
	})

	t.Run("finds by raw key", func(t *testing.T) {
		found, err := repo.FindByKey(ctx, "gwk_secret")
		require.NoError(t, err)
		assert.Equal(t, "user-1", found.UserID)
		assert.Equal(t, gateway.APIKeyActive, found.Status)
		assert.Equal(t, "premium", found.Tier)
		assert.Equal(t, []string{"orders:read"}, found.Permissions)
		assert.Equal(t, []string{"10.0.0.0/8"}, found.AllowedIPs)
		require.NotNil(t, found.ExpiresAt)
		assert.True(t, expires.Equal(*found.ExpiresAt))
	})

	t.Run("unknown and empty keys are not found", func(t *testing.T) {
		_, err := repo.FindByKey(ctx, "gwk_other")
		assert.ErrorIs(t, err, gateway.ErrCredentialNotFound)
		_, err = repo.FindByKey(ctx, "")
		assert.ErrorIs(t, err, gateway.ErrCredentialNotFound)
	})

	t.Run("status update", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, "key-1", gateway.APIKeyRevoked))
		found, err := repo.FindByKey(ctx, "gwk_secret")
		require.NoError(t, err)
		assert.False(t, found.IsActive())

		assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", gateway.APIKeyRevoked), gateway.ErrCredentialNotFound)
	})

	t.Run("touch last used", func(t *testing.T) {
		at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
		require.NoError(t, repo.TouchLastUsed(ctx, "key-1", at))
		var row models.APIKeyModel
		require.NoError(t, db.First(&row, "id = ?", "key-1").Error)
		require.NotNil(t, row.LastUsedAt)
		assert.True(t, at.Equal(*row.LastUsedAt))
	})
}

func TestUserRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &gateway.User{ID: "u1", Username: "ada", Active: true, Scopes: []string{"*"}}))

	u, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada", u.Username)
	assert.True(t, u.Active)
	assert.Equal(t, []string{"*"}, u.Scopes)

	require.NoError(t, repo.Save(ctx, &gateway.User{ID: "u1", Username: "ada", Active: false}))
	u, err = repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.Active)
	assert.Empty(t, u.Scopes)

	_, err = repo.FindByID(ctx, "nobody")
	assert.ErrorIs(t, err, gateway.ErrCredentialNotFound)
}

func TestServiceRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewServiceRepository(db)
	ctx := context.Background()

	svc := &gateway.Service{
		ID:         "svc-orders",
		Name:       "orders",
		HealthPath: "/healthz",
		Strategy:   gateway.StrategyWeightedRoundRobin,
		Breaker:    gateway.BreakerSettings{FailureThreshold: 3, Cooldown: 30 * time.Second},
		Instances: []gateway.ServiceInstance{
			{ID: "b", Address: "http://10.0.0.2:8080", Weight: 1},
			{ID: "a", Address: "http://10.0.0.1:8080", Weight: 3},
		},
	}
	require.NoError(t, repo.Save(ctx, svc))

	found, err := repo.FindByID(ctx, "svc-orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", found.Name)
	assert.Equal(t, gateway.StrategyWeightedRoundRobin, found.Strategy)
	assert.Equal(t, 30*time.Second, found.Breaker.Cooldown)
	require.Len(t, found.Instances, 2)
	assert.Equal(t, "b", found.Instances[0].ID, "registration order is kept")
	assert.Equal(t, 3, found.Instances[1].Weight)

	svc.Instances = svc.Instances[1:]
	require.NoError(t, repo.Save(ctx, svc))
	found, err = repo.FindByID(ctx, "svc-orders")
	require.NoError(t, err)
	require.Len(t, found.Instances, 1)
	assert.Equal(t, "a", found.Instances[0].ID)

	require.NoError(t, repo.Save(ctx, &gateway.Service{ID: "svc-auth", Name: "auth", Strategy: gateway.StrategyRoundRobin}))
	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "auth", all[0].Name)

	require.NoError(t, repo.Delete(ctx, "svc-orders"))
	_, err = repo.FindByID(ctx, "svc-orders")
	assert.ErrorIs(t, err, gateway.ErrServiceNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "svc-orders"), gateway.ErrServiceNotFound)

	var orphans int64
	require.NoError(t, db.Model(&models.ServiceInstanceModel{}).Where("service_id = ?", "svc-orders").Count(&orphans).Error)
	assert.Zero(t, orphans)
}

func TestAnalyticsRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAnalyticsRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	var records []gateway.AnalyticsRecord
	for i := range 25 {
		r := gateway.AnalyticsRecord{
			RequestID:    fmt.Sprintf("req-%d", i),
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Method:       "GET",
			Path:         "/v3/orders",
			Endpoint:     "GET /v3/orders",
			Service:      "orders",
			Status:       200,
			Outcome:      gateway.OutcomeSuccess,
			ResponseTime: time.Duration(i+1) * time.Millisecond,
		}
		if i%5 == 0 {
			r.Status, r.Outcome, r.ErrorCode = 502, gateway.OutcomeError, gateway.CodeUpstreamFailure
		}
		records = append(records, r)
	}
	require.NoError(t, repo.SaveBatch(ctx, records))
	require.NoError(t, repo.SaveBatch(ctx, nil))

	t.Run("scan range in batches", func(t *testing.T) {
		var seen, batches int
		err := repo.ScanRange(ctx, base, base.Add(20*time.Minute), 8, func(batch []gateway.AnalyticsRecord) error {
			batches++
			seen += len(batch)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 20, seen)
		assert.Equal(t, 3, batches)
	})

	t.Run("round trip keeps latency", func(t *testing.T) {
		var got []gateway.AnalyticsRecord
		require.NoError(t, repo.ScanRange(ctx, base, base.Add(time.Minute), 10, func(b []gateway.AnalyticsRecord) error {
			got = append(got, b...)
			return nil
		}))
		require.Len(t, got, 1)
		assert.Equal(t, time.Millisecond, got[0].ResponseTime)
		assert.Equal(t, gateway.OutcomeError, got[0].Outcome)
	})

	t.Run("top errors", func(t *testing.T) {
		top, err := repo.TopErrors(ctx, base, 5)
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, gateway.CodeUpstreamFailure, top[0].Code)
		assert.Equal(t, int64(5), top[0].Count)
	})

	t.Run("rollups upsert", func(t *testing.T) {
		r := gateway.AnalyticsRollup{
			WindowStart: base,
			WindowEnd:   base.Add(5 * time.Minute),
			Endpoint:    "GET /v3/orders",
			Requests:    10,
			P95Latency:  9 * time.Millisecond,
		}
		require.NoError(t, repo.SaveRollups(ctx, []gateway.AnalyticsRollup{r}))
		r.Requests = 12
		require.NoError(t, repo.SaveRollups(ctx, []gateway.AnalyticsRollup{r}))

		rollups, err := repo.Rollups(ctx, base, base.Add(time.Hour), "")
		require.NoError(t, err)
		require.Len(t, rollups, 1)
		assert.Equal(t, int64(12), rollups[0].Requests)
		assert.Equal(t, 9*time.Millisecond, rollups[0].P95Latency)
	})

	t.Run("retention delete", func(t *testing.T) {
		n, err := repo.DeleteRecordsBefore(ctx, base.Add(10*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(10), n)

		var left int64
		require.NoError(t, db.Model(&models.AnalyticsRecordModel{}).Count(&left).Error)
		assert.Equal(t, int64(15), left)
	})
}
