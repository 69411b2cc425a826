package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func text(body string) gin.HandlerFunc {
	return func(c *gin.Context) { c.String(http.StatusOK, body) }
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())

	assert.Equal(t, "v1", r.apiVersion)
	assert.Equal(t, DefaultAdminPrefix, r.AdminPrefix())
	assert.Equal(t, "/_gateway/api/v1", r.APIBasePath())
	assert.Empty(t, r.registrars)
}

func TestRouterOptions(t *testing.T) {
	r := NewRouter(gin.New(), WithAPIVersion("v2"), WithAdminPrefix("admin/"))

	assert.Equal(t, "/admin", r.AdminPrefix())
	assert.Equal(t, "/admin/api/v2", r.APIBasePath())
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	guarded := 0
	r := NewRouter(engine, WithAdminMiddleware(func(c *gin.Context) {
		guarded++
		c.Next()
	}))

	r.RegisterPublic(NewDomainGroup("health", "/health").GET("", text("up")))
	r.Register(NewDomainGroup("services", "/services").GET("", text("services")))
	r.Fallback(text("proxied"))
	r.Setup()

	w := serve(engine, http.MethodGet, "/_gateway/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "up", w.Body.String())
	assert.Equal(t, 0, guarded, "public routes skip admin middleware")

	w = serve(engine, http.MethodGet, "/_gateway/api/v1/services")
	assert.Equal(t, "services", w.Body.String())
	assert.Equal(t, 1, guarded)

	w = serve(engine, http.MethodPost, "/api/v3/orders")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "proxied", w.Body.String())
}

func TestRouterAdminPrefixIsNeverProxied(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)
	r.Fallback(text("proxied"))
	r.Setup()

	for _, path := range []string{"/_gateway", "/_gateway/unknown", "/_gateway/api/v1/nope"} {
		w := serve(engine, http.MethodGet, path)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Contains(t, w.Body.String(), "ERR_NOT_FOUND", path)
	}

	w := serve(engine, http.MethodGet, "/_gatewayish")
	assert.Equal(t, "proxied", w.Body.String())
}

func TestRouterFallbackChainStopsOnAbort(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)
	r.Fallback(
		func(c *gin.Context) { c.AbortWithStatus(http.StatusTeapot) },
		text("unreachable"),
	)
	r.Setup()

	w := serve(engine, http.MethodGet, "/anything")
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.NotContains(t, w.Body.String(), "unreachable")
}

func TestRouterWithoutFallback(t *testing.T) {
	engine := gin.New()
	NewRouter(engine, WithNotFound(func(c *gin.Context) {
		c.String(http.StatusNotFound, "custom")
	})).Setup()

	w := serve(engine, http.MethodGet, "/api/v3/orders")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "custom", w.Body.String())
}

func TestDomainGroup(t *testing.T) {
	t.Run("name and prefix", func(t *testing.T) {
		g := NewDomainGroup("services", "/services")
		assert.Equal(t, "services", g.Name())
		assert.Equal(t, "/services", g.Prefix())
	})

	t.Run("registers every method", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("services", "/services").
			GET("", text("list")).
			POST("", text("create")).
			PUT("/:id", text("replace")).
			PATCH("/:id", text("patch")).
			DELETE("/:id", text("delete"))
		g.RegisterRoutes(engine.Group("/_gateway/api/v1"))

		tests := []struct {
			method string
			path   string
			body   string
		}{
			{http.MethodGet, "/_gateway/api/v1/services", "list"},
			{http.MethodPost, "/_gateway/api/v1/services", "create"},
			{http.MethodPut, "/_gateway/api/v1/services/1", "replace"},
			{http.MethodPatch, "/_gateway/api/v1/services/1", "patch"},
			{http.MethodDelete, "/_gateway/api/v1/services/1", "delete"},
		}
		for _, tt := range tests {
			w := serve(engine, tt.method, tt.path)
			assert.Equal(t, http.StatusOK, w.Code, "%s %s", tt.method, tt.path)
			assert.Equal(t, tt.body, w.Body.String())
		}
	})

	t.Run("applies middleware", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("cache", "/cache")
		g.Use(func(c *gin.Context) {
			c.Header("X-Test-Middleware", "applied")
			c.Next()
		})
		g.POST("/invalidate", text("ok"))
		g.RegisterRoutes(engine.Group("/"))

		w := serve(engine, http.MethodPost, "/cache/invalidate")
		assert.Equal(t, "applied", w.Header().Get("X-Test-Middleware"))
	})

	t.Run("subgroups", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("ops", "/ops")
		g.Group("jobs", "/jobs").GET("", text("jobs"))
		g.Group("routes", "/routes").GET("", text("routes"))
		g.RegisterRoutes(engine.Group("/"))

		assert.Equal(t, "jobs", serve(engine, http.MethodGet, "/ops/jobs").Body.String())
		assert.Equal(t, "routes", serve(engine, http.MethodGet, "/ops/routes").Body.String())
	})
}
