package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appgateway "github.com/xpgateway/backend/internal/application/gateway"
	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/logger"
	"github.com/xpgateway/backend/internal/interfaces/http/dto"
	"github.com/xpgateway/backend/internal/interfaces/http/middleware"
)

// RequestPipeline runs one gateway request
type RequestPipeline interface {
	Handle(ctx context.Context, rc gateway.RequestContext) appgateway.Result
}

// GatewayHandler adapts gin requests to the pipeline. It is mounted as the
// engine's NoRoute handler so every path outside the admin prefix is proxied.
type GatewayHandler struct {
	BaseHandler
	pipeline     RequestPipeline
	maxBodyBytes int64
	now          func() time.Time
}

// NewGatewayHandler creates the catch-all handler. Bodies are read up to
// maxBodyBytes+1 so the pipeline can reject oversized ones itself.
func NewGatewayHandler(pipeline RequestPipeline, maxBodyBytes int64) *GatewayHandler {
	return &GatewayHandler{pipeline: pipeline, maxBodyBytes: maxBodyBytes, now: time.Now}
}

// Proxy handles every non-admin request
func (h *GatewayHandler) Proxy(c *gin.Context) {
	receivedAt := h.now()

	body, err := h.readBody(c.Request)
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, "Failed to read request body")
		return
	}

	rc := gateway.NewRequestContextBuilder(middleware.GetRequestID(c), receivedAt).
		Method(c.Request.Method).
		Path(c.Request.URL.Path).
		Headers(c.Request.Header).
		Body(body).
		Query(c.Request.URL.Query()).
		ClientIP(c.ClientIP()).
		Build()

	res := h.pipeline.Handle(c.Request.Context(), rc)

	if res.Service != "" {
		c.Set(logger.GinServiceKey, res.Service)
		c.Set(logger.GinInstanceKey, res.Instance)
	}
	c.Set(logger.GinCacheHitKey, res.CacheHit)

	h.write(c, res)
}

func (h *GatewayHandler) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	reader := io.Reader(r.Body)
	if h.maxBodyBytes > 0 {
		reader = io.LimitReader(r.Body, h.maxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return body, nil
}

func (h *GatewayHandler) write(c *gin.Context, res appgateway.Result) {
	dst := c.Writer.Header()
	for name, values := range res.Response.Headers {
		dst[name] = append([]string(nil), values...)
	}
	// the body may have been rewritten, net/http recomputes the length
	dst.Del("Content-Length")

	status := res.Response.Status
	if status == 0 {
		status = http.StatusOK
	}

	if res.Err != nil {
		c.JSON(status, dto.NewGatewayErrorResponse(res.Err, res.ErrorID))
		return
	}
	c.Status(status)
	if len(res.Response.Body) > 0 && bodyAllowed(c.Request.Method, status) {
		_, _ = c.Writer.Write(res.Response.Body)
	}
}

func bodyAllowed(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	return status != http.StatusNoContent && status != http.StatusNotModified && status >= http.StatusOK
}
