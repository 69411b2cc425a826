package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appgateway "github.com/xpgateway/backend/internal/application/gateway"
	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/interfaces/http/dto"
)

// RouteTable is the active route table
type RouteTable interface {
	Reload() (*appgateway.RoutesFile, error)
	Routes() []gateway.RouteInfo
	LoadedAt() time.Time
}

// ServiceBootstrapper registers the services declared in a routes file
type ServiceBootstrapper interface {
	Bootstrap(ctx context.Context, declared []appgateway.ServiceConfig) error
}

// RouteHandler serves route table administration
type RouteHandler struct {
	BaseHandler
	routes   RouteTable
	services ServiceBootstrapper
	logger   *zap.Logger
}

// NewRouteHandler creates a new RouteHandler
func NewRouteHandler(routes RouteTable, services ServiceBootstrapper, logger *zap.Logger) *RouteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteHandler{routes: routes, services: services, logger: logger}
}

// List godoc
// @ID           listRoutes
// @Summary      List routes
// @Description  Returns the active route table in match order
// @Tags         routes
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} APIResponse[[]dto.RouteResponse]
// @Router       /routes [get]
func (h *RouteHandler) List(c *gin.Context) {
	routes := h.routes.Routes()
	out := make([]dto.RouteResponse, 0, len(routes))
	for _, r := range routes {
		out = append(out, dto.RouteResponse{
			ID:       r.ID,
			Method:   r.Method,
			Pattern:  r.Pattern,
			Service:  r.Service,
			Public:   r.Public,
			Scopes:   r.RequiredScopes,
			Cached:   r.Cache.Enabled,
			Strategy: string(r.Strategy),
			Timeout:  r.Timeout.String(),
		})
	}
	h.Success(c, out)
}

// Reload godoc
// @ID           reloadRoutes
// @Summary      Reload the routes file
// @Description  Re-reads the routes file, swaps the route table atomically and registers the services it declares. A broken file leaves the current table in place.
// @Tags         routes
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} APIResponse[dto.ReloadRoutesResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /routes/reload [post]
func (h *RouteHandler) Reload(c *gin.Context) {
	file, err := h.routes.Reload()
	if err != nil {
		h.logger.Warn("Routes reload rejected", zap.Error(err))
		h.BadRequest(c, "Routes file rejected: "+err.Error())
		return
	}
	declared := file.ServiceConfigs()
	if h.services != nil && len(declared) > 0 {
		if err := h.services.Bootstrap(c.Request.Context(), declared); err != nil {
			h.logger.Warn("Routes file services rejected", zap.Error(err))
			h.BadRequest(c, "Routes file services rejected: "+err.Error())
			return
		}
	}
	h.logger.Info("Routes reloaded",
		zap.Int("routes", len(h.routes.Routes())),
		zap.Int("services", len(declared)),
	)
	h.Success(c, dto.ReloadRoutesResponse{
		Routes:   len(h.routes.Routes()),
		Services: len(declared),
		LoadedAt: h.routes.LoadedAt(),
	})
}
