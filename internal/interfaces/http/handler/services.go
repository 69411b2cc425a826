package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	appgateway "github.com/xpgateway/backend/internal/application/gateway"
	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/loadbalancer"
	"github.com/xpgateway/backend/internal/interfaces/http/dto"
)

// ServiceRegistry registers and removes downstream services
type ServiceRegistry interface {
	RegisterService(ctx context.Context, cfg appgateway.ServiceConfig) (*gateway.Service, error)
	DeregisterService(ctx context.Context, id string) error
	Service(id string) (gateway.Service, bool)
	Services() []gateway.Service
}

// PoolSource exposes the balancer's live instance pools
type PoolSource interface {
	Pool(service string) (*loadbalancer.Pool, bool)
	Pools() []*loadbalancer.Pool
}

// ServiceHandler serves the service registry admin endpoints
type ServiceHandler struct {
	BaseHandler
	registry ServiceRegistry
	pools    PoolSource
}

// NewServiceHandler creates a new ServiceHandler
func NewServiceHandler(registry ServiceRegistry, pools PoolSource) *ServiceHandler {
	return &ServiceHandler{registry: registry, pools: pools}
}

// Register godoc
// @ID           registerService
// @Summary      Register a service
// @Description  Registers a downstream service or replaces the one with the same name. Instances are probed right away.
// @Tags         services
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body dto.RegisterServiceRequest true "Service registration"
// @Success      201 {object} APIResponse[dto.ServiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      401 {object} ErrorResponse
// @Failure      403 {object} ErrorResponse
// @Router       /services [post]
func (h *ServiceHandler) Register(c *gin.Context) {
	var req dto.RegisterServiceRequest
	if !h.BindJSON(c, &req) {
		return
	}

	cfg := appgateway.ServiceConfig{
		Name:       req.Name,
		HealthPath: req.HealthPath,
		Strategy:   req.Strategy,
		Instances:  make([]appgateway.InstanceConfig, 0, len(req.Instances)),
	}
	if req.Breaker != nil {
		cfg.Breaker.FailureThreshold = req.Breaker.FailureThreshold
		if req.Breaker.Cooldown != "" {
			d, err := time.ParseDuration(req.Breaker.Cooldown)
			if err != nil || d < 0 {
				h.ValidationError(c, []dto.ValidationDetail{{
					Field:   "breaker.cooldown",
					Message: "Must be a duration such as 30s",
					Code:    "duration",
				}})
				return
			}
			cfg.Breaker.Cooldown = d
		}
	}
	for _, inst := range req.Instances {
		cfg.Instances = append(cfg.Instances, appgateway.InstanceConfig{
			ID:      inst.ID,
			Address: inst.Address,
			Weight:  inst.Weight,
		})
	}

	svc, err := h.registry.RegisterService(c.Request.Context(), cfg)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, h.describe(*svc))
}

// List godoc
// @ID           listServices
// @Summary      List registered services
// @Description  Returns every registered service with live instance state
// @Tags         services
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} APIResponse[[]dto.ServiceResponse]
// @Failure      401 {object} ErrorResponse
// @Router       /services [get]
func (h *ServiceHandler) List(c *gin.Context) {
	services := h.registry.Services()
	out := make([]dto.ServiceResponse, 0, len(services))
	for _, svc := range services {
		out = append(out, h.describe(svc))
	}
	h.Success(c, out)
}

// Get godoc
// @ID           getService
// @Summary      Get a service
// @Tags         services
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Service ID"
// @Success      200 {object} APIResponse[dto.ServiceResponse]
// @Failure      404 {object} ErrorResponse
// @Router       /services/{id} [get]
func (h *ServiceHandler) Get(c *gin.Context) {
	svc, ok := h.registry.Service(c.Param("id"))
	if !ok {
		h.NotFound(c, "Service not found")
		return
	}
	h.Success(c, h.describe(svc))
}

// Deregister godoc
// @ID           deregisterService
// @Summary      Deregister a service
// @Description  Removes the service from the registry, the balancer and the breaker
// @Tags         services
// @Security     BearerAuth
// @Param        id path string true "Service ID"
// @Success      204
// @Failure      404 {object} ErrorResponse
// @Router       /services/{id} [delete]
func (h *ServiceHandler) Deregister(c *gin.Context) {
	if err := h.registry.DeregisterService(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// describe overlays the balancer's live counters on the stored service
func (h *ServiceHandler) describe(svc gateway.Service) dto.ServiceResponse {
	resp := dto.NewServiceResponse(svc)
	if h.pools == nil {
		return resp
	}
	pool, ok := h.pools.Pool(svc.Name)
	if !ok {
		return resp
	}
	for i, inst := range resp.Instances {
		if live, ok := pool.Instance(inst.ID); ok {
			resp.Instances[i] = instanceResponse(live.Stats())
		}
	}
	return resp
}

func instanceResponse(s loadbalancer.InstanceStats) dto.InstanceResponse {
	return dto.InstanceResponse{
		ID:             s.ID,
		Address:        s.Address,
		Weight:         s.Weight,
		Healthy:        s.Healthy,
		Connections:    s.Connections,
		AvgResponseMs:  dto.Millis(s.AvgResponseTime),
		Requests:       s.Requests,
		Failures:       s.Failures,
		SuccessRate:    s.SuccessRate,
		LastProbe:      s.LastProbe,
		LastProbeError: s.LastProbeError,
	}
}
