package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpgateway/backend/internal/infrastructure/ratelimit"
)

type erroringChecker struct{}

func (erroringChecker) Check(context.Context, ratelimit.Dimension, string, ratelimit.Limit) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("store unavailable")
}

func rateLimitedEngine(checker RateChecker, limit ratelimit.Limit) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), AdminRateLimit(AdminRateLimitConfig{Checker: checker, Limit: limit}))
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestAdminRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())
	r := rateLimitedEngine(limiter, ratelimit.Limit{Requests: 2, Window: time.Minute})

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.RemoteAddr = ip + ":4000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do("10.0.0.1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	require.Equal(t, http.StatusOK, do("10.0.0.1").Code)

	w = do("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"code":"ERR_RATE_LIMITED"`)

	// other clients have their own window
	assert.Equal(t, http.StatusOK, do("10.0.0.2").Code)
}

func TestAdminRateLimit_FailsOpen(t *testing.T) {
	r := rateLimitedEngine(erroringChecker{}, ratelimit.Limit{Requests: 1, Window: time.Minute})

	for range 3 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestAdminRateLimit_DisabledWithoutLimit(t *testing.T) {
	r := rateLimitedEngine(erroringChecker{}, ratelimit.Limit{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}
