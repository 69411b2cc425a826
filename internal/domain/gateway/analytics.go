package gateway

import (
	"context"
	"time"
)

// Outcome labels how a request finished
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeError           Outcome = "error"
	OutcomeClientCancelled Outcome = "client-cancelled"
)

// AnalyticsRecord is the write-once telemetry row produced for every request
type AnalyticsRecord struct {
	RequestID    string
	Timestamp    time.Time
	Method       string
	Path         string
	Endpoint     string
	Service      string
	InstanceID   string
	UserID       string
	AuthKind     AuthKind
	ClientIP     string
	UserAgent    string
	APIVersion   string
	Status       int
	Outcome      Outcome
	ErrorCode    string
	ErrorID      string
	ResponseTime time.Duration
	RequestSize  int64
	ResponseSize int64
	CacheHit     bool
	Country      string
}

// IsError reports whether the record counts toward error rates
func (r AnalyticsRecord) IsError() bool {
	return r.Outcome != OutcomeSuccess || r.Status >= 400
}

// AnalyticsRepository stores analytics records
type AnalyticsRepository interface {
	SaveBatch(ctx context.Context, records []AnalyticsRecord) error
}

// AnalyticsRollup aggregates the records of one endpoint over one window
type AnalyticsRollup struct {
	WindowStart   time.Time     `json:"window_start"`
	WindowEnd     time.Time     `json:"window_end"`
	Endpoint      string        `json:"endpoint"`
	Service       string        `json:"service"`
	Requests      int64         `json:"requests"`
	Errors        int64         `json:"errors"`
	CacheHits     int64         `json:"cache_hits"`
	AvgLatency    time.Duration `json:"avg_latency"`
	MinLatency    time.Duration `json:"min_latency"`
	MaxLatency    time.Duration `json:"max_latency"`
	P95Latency    time.Duration `json:"p95_latency"`
	P99Latency    time.Duration `json:"p99_latency"`
	ErrorRate     float64       `json:"error_rate"`
	Throughput    float64       `json:"throughput"`
	UniqueClients int64         `json:"unique_clients"`
}

// RollupRepository reads raw records and stores their aggregates
type RollupRepository interface {
	// ScanRange calls fn with consecutive batches of the records in [from, to)
	ScanRange(ctx context.Context, from, to time.Time, batchSize int, fn func([]AnalyticsRecord) error) error
	// SaveRollups upserts by window start and endpoint
	SaveRollups(ctx context.Context, rollups []AnalyticsRollup) error
	// DeleteRecordsBefore drops raw records older than cutoff
	DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
