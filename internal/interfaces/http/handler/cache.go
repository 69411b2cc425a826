package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xpgateway/backend/internal/interfaces/http/dto"
)

// TagInvalidator drops cached responses by tag
type TagInvalidator interface {
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
}

// CacheHandler serves cache administration
type CacheHandler struct {
	BaseHandler
	cache TagInvalidator
}

// NewCacheHandler creates a new CacheHandler. cache is nil when caching is off.
func NewCacheHandler(cache TagInvalidator) *CacheHandler {
	return &CacheHandler{cache: cache}
}

// Invalidate godoc
// @ID           invalidateCache
// @Summary      Invalidate cached responses
// @Description  Drops every cached response carrying one of the tags, in every tier
// @Tags         cache
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body dto.InvalidateCacheRequest true "Tags"
// @Success      200 {object} APIResponse[dto.InvalidateCacheResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Router       /cache/invalidate [post]
func (h *CacheHandler) Invalidate(c *gin.Context) {
	if h.cache == nil {
		h.Unavailable(c, "Response caching is disabled")
		return
	}
	var req dto.InvalidateCacheRequest
	if !h.BindJSON(c, &req) {
		return
	}
	removed, err := h.cache.InvalidateTags(c.Request.Context(), req.Tags...)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.InvalidateCacheResponse{Tags: req.Tags, Removed: removed})
}
