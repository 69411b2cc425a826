package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/persistence/models"
)

const defaultInsertBatch = 100

// AnalyticsRepository stores raw analytics records and their rollups
type AnalyticsRepository struct {
	db          *gorm.DB
	insertBatch int
}

// NewAnalyticsRepository creates a new analytics repository
func NewAnalyticsRepository(db *gorm.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db, insertBatch: defaultInsertBatch}
}

// SaveBatch implements gateway.AnalyticsRepository
func (r *AnalyticsRepository) SaveBatch(ctx context.Context, records []gateway.AnalyticsRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]*models.AnalyticsRecordModel, len(records))
	for i := range records {
		rows[i] = models.AnalyticsRecordModelFromEntity(&records[i])
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, r.insertBatch).Error
}

// ScanRange implements gateway.RollupRepository
func (r *AnalyticsRepository) ScanRange(ctx context.Context, from, to time.Time, batchSize int, fn func([]gateway.AnalyticsRecord) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var rows []models.AnalyticsRecordModel
	result := r.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", from, to).
		FindInBatches(&rows, batchSize, func(_ *gorm.DB, _ int) error {
			batch := make([]gateway.AnalyticsRecord, len(rows))
			for i := range rows {
				batch[i] = rows[i].ToEntity()
			}
			return fn(batch)
		})
	return result.Error
}

// SaveRollups implements gateway.RollupRepository
func (r *AnalyticsRepository) SaveRollups(ctx context.Context, rollups []gateway.AnalyticsRollup) error {
	if len(rollups) == 0 {
		return nil
	}
	rows := make([]*models.AnalyticsRollupModel, len(rollups))
	for i := range rollups {
		rows[i] = models.AnalyticsRollupModelFromEntity(&rollups[i])
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "window_start"}, {Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"window_end", "service", "requests", "errors", "cache_hits",
			"avg_latency_us", "min_latency_us", "max_latency_us",
			"p95_latency_us", "p99_latency_us", "error_rate", "throughput", "unique_clients",
		}),
	}).CreateInBatches(rows, r.insertBatch).Error
}

// DeleteRecordsBefore implements gateway.RollupRepository
func (r *AnalyticsRepository) DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.AnalyticsRecordModel{})
	return result.RowsAffected, result.Error
}

// Rollups returns the rollups whose window starts in [from, to), newest first
func (r *AnalyticsRepository) Rollups(ctx context.Context, from, to time.Time, endpoint string) ([]gateway.AnalyticsRollup, error) {
	q := r.db.WithContext(ctx).Where("window_start >= ? AND window_start < ?", from, to)
	if endpoint != "" {
		q = q.Where("endpoint = ?", endpoint)
	}
	var rows []models.AnalyticsRollupModel
	if err := q.Order("window_start DESC, endpoint ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]gateway.AnalyticsRollup, len(rows))
	for i := range rows {
		out[i] = rows[i].ToEntity()
	}
	return out, nil
}

// TopErrors returns the most frequent error codes since the given time
func (r *AnalyticsRepository) TopErrors(ctx context.Context, since time.Time, limit int) ([]ErrorCount, error) {
	var out []ErrorCount
	err := r.db.WithContext(ctx).Model(&models.AnalyticsRecordModel{}).
		Select("error_code AS code, COUNT(*) AS count").
		Where("timestamp >= ? AND error_code <> ''", since).
		Group("error_code").
		Order("count DESC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// ErrorCount is one row of TopErrors
type ErrorCount struct {
	Code  string `json:"code"`
	Count int64  `json:"count"`
}

var (
	_ gateway.AnalyticsRepository = (*AnalyticsRepository)(nil)
	_ gateway.RollupRepository    = (*AnalyticsRepository)(nil)
)
