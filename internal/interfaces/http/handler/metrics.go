package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/analytics"
	"github.com/xpgateway/backend/internal/infrastructure/persistence"
	"github.com/xpgateway/backend/internal/interfaces/http/dto"
)

const (
	defaultMetricsWindow = time.Hour
	maxMetricsWindow     = 7 * 24 * time.Hour
	topErrorsLimit       = 10
)

// EndpointCounters are the in-process per-endpoint counters
type EndpointCounters interface {
	Snapshot() []analytics.EndpointStats
}

// RecorderStatus reports the analytics queue
type RecorderStatus interface {
	Stats() analytics.RecorderStats
}

// AnalyticsQuery reads persisted analytics
type AnalyticsQuery interface {
	Rollups(ctx context.Context, from, to time.Time, endpoint string) ([]gateway.AnalyticsRollup, error)
	TopErrors(ctx context.Context, since time.Time, limit int) ([]persistence.ErrorCount, error)
}

// MetricsHandler serves the gateway metrics report
type MetricsHandler struct {
	BaseHandler
	counters EndpointCounters
	recorder RecorderStatus
	store    AnalyticsQuery
	health   *HealthHandler
	logger   *zap.Logger
	now      func() time.Time
}

// NewMetricsHandler creates a new MetricsHandler. recorder, store and health may be nil.
func NewMetricsHandler(counters EndpointCounters, recorder RecorderStatus, store AnalyticsQuery, health *HealthHandler, logger *zap.Logger) *MetricsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsHandler{
		counters: counters,
		recorder: recorder,
		store:    store,
		health:   health,
		logger:   logger,
		now:      time.Now,
	}
}

// Metrics godoc
// @ID           gatewayMetrics
// @Summary      Gateway metrics
// @Description  Live latency, availability and usage counters plus persisted percentiles, error codes and rollups for the requested window
// @Tags         metrics
// @Produce      json
// @Security     BearerAuth
// @Param        since    query string false "Window length such as 1h (max 168h)"
// @Param        endpoint query string false "Restrict to one endpoint, e.g. GET /api/v3/orders"
// @Success      200 {object} APIResponse[dto.MetricsResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /metrics [get]
func (h *MetricsHandler) Metrics(c *gin.Context) {
	var q dto.MetricsQuery
	if !h.BindQuery(c, &q) {
		return
	}
	window := defaultMetricsWindow
	if q.Since != "" {
		d, err := time.ParseDuration(q.Since)
		if err != nil || d <= 0 || d > maxMetricsWindow {
			h.ValidationError(c, []dto.ValidationDetail{{
				Field:   "since",
				Message: "Must be a positive duration up to 168h",
				Code:    "duration",
			}})
			return
		}
		window = d
	}
	h.Success(c, h.Report(c.Request.Context(), window, q.Endpoint))
}

// Report assembles the metrics report. Store failures are logged and leave
// the persisted sections empty.
func (h *MetricsHandler) Report(ctx context.Context, window time.Duration, endpoint string) dto.MetricsResponse {
	resp := dto.MetricsResponse{
		Services:  []dto.ServiceHealth{},
		Errors:    []dto.ErrorCountResponse{},
		Endpoints: []dto.EndpointMetrics{},
	}

	var total time.Duration
	for _, s := range h.counters.Snapshot() {
		if endpoint != "" && s.Endpoint != endpoint {
			continue
		}
		resp.Endpoints = append(resp.Endpoints, dto.EndpointMetrics{
			Endpoint:      s.Endpoint,
			Requests:      s.Requests,
			Errors:        s.Errors,
			CacheHits:     s.CacheHits,
			AvgResponseMs: dto.Millis(s.AvgLatency),
			MinResponseMs: dto.Millis(s.MinLatency),
			MaxResponseMs: dto.Millis(s.MaxLatency),
			ErrorRate:     s.ErrorRate,
			LastSeen:      s.LastSeen,
		})
		if s.Requests == 0 {
			continue
		}
		if resp.Availability.Requests == 0 || dto.Millis(s.MinLatency) < resp.Performance.MinResponseMs {
			resp.Performance.MinResponseMs = dto.Millis(s.MinLatency)
		}
		resp.Performance.MaxResponseMs = max(resp.Performance.MaxResponseMs, dto.Millis(s.MaxLatency))
		resp.Availability.Requests += s.Requests
		resp.Availability.Errors += s.Errors
		resp.Usage.CacheHits += s.CacheHits
		total += s.TotalLatency
	}
	resp.Usage.Requests = resp.Availability.Requests
	resp.Usage.Endpoints = len(resp.Endpoints)
	resp.Availability.Availability = 1
	if n := resp.Availability.Requests; n > 0 {
		resp.Performance.AvgResponseMs = dto.Millis(total / time.Duration(n))
		resp.Availability.ErrorRate = float64(resp.Availability.Errors) / float64(n)
		resp.Availability.Availability = 1 - resp.Availability.ErrorRate
		resp.Usage.CacheHitRate = float64(resp.Usage.CacheHits) / float64(n)
	}

	if h.recorder != nil {
		stats := h.recorder.Stats()
		resp.Usage.Queued = stats.Queued
		resp.Usage.Written = stats.Written
		resp.Usage.Dropped = stats.Dropped
	}
	if h.health != nil {
		resp.Services = h.health.Report(ctx).Services
	}
	if h.store != nil {
		h.persisted(ctx, &resp, window, endpoint)
	}
	return resp
}

// persisted fills the percentile, error and rollup sections. Percentiles are
// request-weighted means of the window percentiles; unique clients is the
// busiest window's count since clients repeat across windows.
func (h *MetricsHandler) persisted(ctx context.Context, resp *dto.MetricsResponse, window time.Duration, endpoint string) {
	now := h.now()
	from := now.Add(-window)

	rollups, err := h.store.Rollups(ctx, from, now, endpoint)
	if err != nil {
		h.logger.Warn("Failed to load analytics rollups", zap.Error(err))
	} else {
		resp.Rollups = rollups
		var weight int64
		var p95, p99 float64
		for _, r := range rollups {
			if r.Requests == 0 {
				continue
			}
			weight += r.Requests
			p95 += dto.Millis(r.P95Latency) * float64(r.Requests)
			p99 += dto.Millis(r.P99Latency) * float64(r.Requests)
			resp.Usage.UniqueClients = max(resp.Usage.UniqueClients, r.UniqueClients)
		}
		if weight > 0 {
			resp.Performance.P95ResponseMs = p95 / float64(weight)
			resp.Performance.P99ResponseMs = p99 / float64(weight)
		}
	}

	errs, err := h.store.TopErrors(ctx, from, topErrorsLimit)
	if err != nil {
		h.logger.Warn("Failed to load error counts", zap.Error(err))
		return
	}
	for _, e := range errs {
		resp.Errors = append(resp.Errors, dto.ErrorCountResponse{Code: e.Code, Count: e.Count})
	}
}
