package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/circuitbreaker"
	"github.com/xpgateway/backend/internal/infrastructure/loadbalancer"
	"github.com/xpgateway/backend/internal/interfaces/http/dto"
)

// Health statuses
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// BreakerStates reads the circuit state of a service
type BreakerStates interface {
	State(ctx context.Context, service string) (circuitbreaker.Snapshot, error)
}

// HealthHandler reports gateway and per-service health
type HealthHandler struct {
	BaseHandler
	pools   PoolSource
	breaker BreakerStates
	logger  *zap.Logger
	now     func() time.Time
}

// NewHealthHandler creates a new HealthHandler. breaker may be nil.
func NewHealthHandler(pools PoolSource, breaker BreakerStates, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{pools: pools, breaker: breaker, logger: logger, now: time.Now}
}

// Health godoc
// @ID           gatewayHealth
// @Summary      Gateway health
// @Description  Healthy when every service has a healthy instance and a closed circuit, degraded when some do, unhealthy when none do. Unhealthy answers 503.
// @Tags         health
// @Produce      json
// @Success      200 {object} APIResponse[dto.HealthResponse]
// @Failure      503 {object} APIResponse[dto.HealthResponse]
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.Report(c.Request.Context())
	status := http.StatusOK
	if report.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.NewSuccessResponse(report))
}

// Report builds the health report for every pool
func (h *HealthHandler) Report(ctx context.Context) dto.HealthResponse {
	pools := h.pools.Pools()
	report := dto.HealthResponse{
		Status:    StatusHealthy,
		Version:   gateway.Version,
		Timestamp: h.now().UTC(),
		Services:  make([]dto.ServiceHealth, 0, len(pools)),
	}

	available := 0
	for _, pool := range pools {
		sh := h.serviceHealth(ctx, pool)
		if sh.Status != StatusUnhealthy {
			available++
		}
		if sh.Status != StatusHealthy {
			report.Status = StatusDegraded
		}
		report.Services = append(report.Services, sh)
	}
	if len(pools) > 0 && available == 0 {
		report.Status = StatusUnhealthy
	}
	return report
}

func (h *HealthHandler) serviceHealth(ctx context.Context, pool *loadbalancer.Pool) dto.ServiceHealth {
	instances := pool.Instances()
	sh := dto.ServiceHealth{
		Name:      pool.Service,
		Total:     len(instances),
		Instances: make([]dto.InstanceResponse, 0, len(instances)),
	}
	for _, inst := range instances {
		stats := inst.Stats()
		if stats.Healthy {
			sh.Healthy++
		}
		sh.Instances = append(sh.Instances, instanceResponse(stats))
	}

	circuit := circuitbreaker.StateClosed
	if h.breaker != nil {
		snap, err := h.breaker.State(ctx, pool.Service)
		if err != nil {
			h.logger.Warn("Failed to read circuit state", zap.String("service", pool.Service), zap.Error(err))
		} else {
			circuit = snap.State
		}
		sh.Circuit = string(circuit)
	}

	switch {
	case sh.Healthy == 0 || circuit == circuitbreaker.StateOpen:
		sh.Status = StatusUnhealthy
	case sh.Healthy < sh.Total || circuit == circuitbreaker.StateHalfOpen:
		sh.Status = StatusDegraded
	default:
		sh.Status = StatusHealthy
	}
	return sh
}
