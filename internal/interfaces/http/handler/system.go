package handler

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

// SystemHandler handles system-related API endpoints
type SystemHandler struct {
	BaseHandler
	name      string
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(name string) *SystemHandler {
	if name == "" {
		name = "xpgateway"
	}
	return &SystemHandler{name: name, startTime: time.Now()}
}

// SystemInfoResponse represents the system information response
// @name HandlerSystemInfoResponse
type SystemInfoResponse struct {
	Name       string `json:"name" example:"xpgateway"`
	Version    string `json:"version" example:"3.0.0"`
	APIVersion string `json:"api_version" example:"v3"`
	GoVersion  string `json:"go_version" example:"go1.25.5"`
	Uptime     string `json:"uptime" example:"1h30m45s"`
}

// GetSystemInfo godoc
// @ID           getSystemInfo
// @Summary      Get gateway information
// @Description  Returns the gateway version, default API version and uptime
// @Tags         system
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} APIResponse[SystemInfoResponse]
// @Failure      401 {object} ErrorResponse
// @Router       /system/info [get]
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:       h.name,
		Version:    gateway.Version,
		APIVersion: gateway.DefaultAPIVersion,
		GoVersion:  runtime.Version(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	})
}

// PingResponse represents the ping response
// @name HandlerPingResponse
type PingResponse struct {
	Message   string `json:"message" example:"pong"`
	Timestamp string `json:"timestamp" example:"2026-01-23T12:00:00Z"`
}

// Ping godoc
// @ID           pingSystem
// @Summary      Ping the admin API
// @Tags         system
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} APIResponse[PingResponse]
// @Router       /system/ping [get]
func (h *SystemHandler) Ping(c *gin.Context) {
	h.Success(c, PingResponse{
		Message:   "pong",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
