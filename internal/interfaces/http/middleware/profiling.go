package middleware

import (
	"context"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
)

// ProfilingConfig holds configuration for the profiling middleware.
type ProfilingConfig struct {
	Enabled bool
	// SkipPaths don't get profiling labels (health probes)
	SkipPaths        []string
	SkipPathPrefixes []string
}

// DefaultProfilingConfig returns default profiling middleware configuration.
func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		Enabled:          true,
		SkipPaths:        []string{"/_gateway/health"},
		SkipPathPrefixes: []string{"/_gateway/swagger"},
	}
}

// ProfilingWithConfig runs the rest of the chain under pprof labels for the
// method and matched route so CPU profiles can be sliced per endpoint.
func ProfilingWithConfig(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if slices.Contains(cfg.SkipPaths, path) || slices.ContainsFunc(cfg.SkipPathPrefixes, func(p string) bool {
			return strings.HasPrefix(path, p)
		}) {
			c.Next()
			return
		}

		labels := telemetry.RequestLabels("", routePattern(c), c.Request.Method)
		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}
