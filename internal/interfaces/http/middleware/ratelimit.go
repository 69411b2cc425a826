package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appgateway "github.com/xpgateway/backend/internal/application/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/ratelimit"
	"github.com/xpgateway/backend/internal/interfaces/http/dto"
)

// RateChecker counts a request against one limiter dimension
type RateChecker interface {
	Check(ctx context.Context, dim ratelimit.Dimension, key string, limit ratelimit.Limit) (ratelimit.Result, error)
}

// AdminRateLimitConfig limits the admin API per client IP
type AdminRateLimitConfig struct {
	Checker RateChecker
	Limit   ratelimit.Limit
	// KeyFunc defaults to the client IP
	KeyFunc func(*gin.Context) string
	Logger  *zap.Logger
}

// AdminRateLimit rejects admin calls over the limit with 429. A limiter
// error admits the request.
func AdminRateLimit(cfg AdminRateLimitConfig) gin.HandlerFunc {
	if cfg.Checker == nil || cfg.Limit.Requests <= 0 || cfg.Limit.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := "admin:" + cfg.KeyFunc(c)
		res, err := cfg.Checker.Check(c.Request.Context(), ratelimit.DimensionIP, key, cfg.Limit)
		if err != nil {
			cfg.Logger.Warn("Admin rate limit check failed, admitting request", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header(appgateway.HeaderRateLimitLimit, strconv.Itoa(res.Limit))
		c.Header(appgateway.HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
		if !res.Allowed {
			seconds := int(math.Ceil(res.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header(appgateway.HeaderRetryAfter, strconv.Itoa(seconds))
			resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeRateLimited, "Too many requests. Please try again later.", GetRequestID(c))
			resp.Error.RetryAfter = seconds
			c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
			return
		}
		c.Next()
	}
}
