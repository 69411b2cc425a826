package dto

import (
	"time"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

// RegisterServiceRequest registers or replaces a downstream service
type RegisterServiceRequest struct {
	Name       string                    `json:"name" binding:"required,max=100" example:"orders"`
	HealthPath string                    `json:"health_path" binding:"omitempty,startswith=/" example:"/healthz"`
	Strategy   string                    `json:"strategy" binding:"omitempty,oneof=round_robin weighted_round_robin least_connections weighted_least_connections least_response_time ip_hash adaptive" example:"round_robin"`
	Breaker    *BreakerOverrideRequest   `json:"breaker,omitempty"`
	Instances  []RegisterInstanceRequest `json:"instances" binding:"required,min=1,dive"`
}

// BreakerOverrideRequest overrides the global breaker thresholds.
// Cooldown is a Go duration string such as "30s".
type BreakerOverrideRequest struct {
	FailureThreshold int    `json:"failure_threshold" binding:"gte=0" example:"5"`
	Cooldown         string `json:"cooldown" example:"30s"`
}

// RegisterInstanceRequest is one instance of a registration
type RegisterInstanceRequest struct {
	ID      string `json:"id" binding:"omitempty,max=64" example:"orders-1"`
	Address string `json:"address" binding:"required,url" example:"http://10.0.0.1:8080"`
	Weight  int    `json:"weight" binding:"gte=0,lte=1000" example:"1"`
}

// ServiceResponse is a registered service
type ServiceResponse struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	HealthPath string             `json:"health_path,omitempty"`
	Strategy   string             `json:"strategy"`
	Instances  []InstanceResponse `json:"instances"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// InstanceResponse is one instance with its live state
type InstanceResponse struct {
	ID             string    `json:"id"`
	Address        string    `json:"address"`
	Weight         int       `json:"weight"`
	Healthy        bool      `json:"healthy"`
	Connections    int64     `json:"connections"`
	AvgResponseMs  float64   `json:"avg_response_ms"`
	Requests       int64     `json:"requests"`
	Failures       int64     `json:"failures"`
	SuccessRate    float64   `json:"success_rate"`
	LastProbe      time.Time `json:"last_probe,omitzero"`
	LastProbeError string    `json:"last_probe_error,omitempty"`
}

// NewServiceResponse converts a service without live instance state
func NewServiceResponse(svc gateway.Service) ServiceResponse {
	resp := ServiceResponse{
		ID:         svc.ID,
		Name:       svc.Name,
		HealthPath: svc.HealthPath,
		Strategy:   svc.Strategy.String(),
		Instances:  make([]InstanceResponse, 0, len(svc.Instances)),
		CreatedAt:  svc.CreatedAt,
		UpdatedAt:  svc.UpdatedAt,
	}
	for _, inst := range svc.Instances {
		resp.Instances = append(resp.Instances, InstanceResponse{
			ID:      inst.ID,
			Address: inst.Address,
			Weight:  inst.Weight,
		})
	}
	return resp
}

// HealthResponse is the gateway health report
type HealthResponse struct {
	Status    string          `json:"status" example:"healthy"`
	Version   string          `json:"version" example:"3.0.0"`
	Timestamp time.Time       `json:"timestamp"`
	Services  []ServiceHealth `json:"services"`
}

// ServiceHealth is the health of one service pool
type ServiceHealth struct {
	Name      string             `json:"name"`
	Status    string             `json:"status" example:"healthy"`
	Healthy   int                `json:"healthy"`
	Total     int                `json:"total"`
	Circuit   string             `json:"circuit,omitempty" example:"closed"`
	Instances []InstanceResponse `json:"instances"`
}

// InvalidateCacheRequest lists the tags to drop
type InvalidateCacheRequest struct {
	Tags []string `json:"tags" binding:"required,min=1,dive,required"`
}

// InvalidateCacheResponse reports how many entries were removed
type InvalidateCacheResponse struct {
	Tags    []string `json:"tags"`
	Removed int      `json:"removed"`
}

// ReloadRoutesResponse summarizes the active route table after a reload
type ReloadRoutesResponse struct {
	Routes   int       `json:"routes"`
	Services int       `json:"services"`
	LoadedAt time.Time `json:"loaded_at"`
}

// RouteResponse is one compiled route
type RouteResponse struct {
	ID       string   `json:"id"`
	Method   string   `json:"method"`
	Pattern  string   `json:"pattern"`
	Service  string   `json:"service"`
	Public   bool     `json:"public"`
	Scopes   []string `json:"required_scopes,omitempty"`
	Cached   bool     `json:"cached"`
	Strategy string   `json:"strategy,omitempty"`
	Timeout  string   `json:"timeout"`
}

// MetricsQuery bounds the rollup section of the metrics report
type MetricsQuery struct {
	Since    string `form:"since" binding:"omitempty" example:"1h"`
	Endpoint string `form:"endpoint" example:"GET /api/v3/orders"`
}

// MetricsResponse is the gateway metrics report
type MetricsResponse struct {
	Performance  PerformanceMetrics        `json:"performance"`
	Availability AvailabilityMetrics       `json:"availability"`
	Usage        UsageMetrics              `json:"usage"`
	Services     []ServiceHealth           `json:"services"`
	Errors       []ErrorCountResponse      `json:"errors"`
	Endpoints    []EndpointMetrics         `json:"endpoints"`
	Rollups      []gateway.AnalyticsRollup `json:"rollups,omitempty"`
}

// PerformanceMetrics are latency figures across every endpoint
type PerformanceMetrics struct {
	AvgResponseMs float64 `json:"avg_response_ms"`
	MinResponseMs float64 `json:"min_response_ms"`
	MaxResponseMs float64 `json:"max_response_ms"`
	P95ResponseMs float64 `json:"p95_response_ms"`
	P99ResponseMs float64 `json:"p99_response_ms"`
}

// AvailabilityMetrics are success figures across every endpoint
type AvailabilityMetrics struct {
	Requests     int64   `json:"requests"`
	Errors       int64   `json:"errors"`
	ErrorRate    float64 `json:"error_rate"`
	Availability float64 `json:"availability"`
}

// UsageMetrics describe traffic volume and the analytics pipeline
type UsageMetrics struct {
	Requests      int64   `json:"requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	Endpoints     int     `json:"endpoints"`
	UniqueClients int64   `json:"unique_clients"`
	Queued        int     `json:"analytics_queued"`
	Written       int64   `json:"analytics_written"`
	Dropped       int64   `json:"analytics_dropped"`
}

// ErrorCountResponse is the number of failures for one error code
type ErrorCountResponse struct {
	Code  string `json:"code"`
	Count int64  `json:"count"`
}

// EndpointMetrics are the live counters of one endpoint
type EndpointMetrics struct {
	Endpoint      string    `json:"endpoint"`
	Requests      int64     `json:"requests"`
	Errors        int64     `json:"errors"`
	CacheHits     int64     `json:"cache_hits"`
	AvgResponseMs float64   `json:"avg_response_ms"`
	MinResponseMs float64   `json:"min_response_ms"`
	MaxResponseMs float64   `json:"max_response_ms"`
	ErrorRate     float64   `json:"error_rate"`
	LastSeen      time.Time `json:"last_seen"`
}

// JobResponse is the state of one scheduled job
type JobResponse struct {
	Name         string     `json:"name"`
	Schedule     string     `json:"schedule"`
	Status       string     `json:"status"`
	Runs         int64      `json:"runs"`
	Failures     int64      `json:"failures"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastDuration string     `json:"last_duration"`
	LastError    string     `json:"last_error,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}

// Millis converts a duration to fractional milliseconds
func Millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
