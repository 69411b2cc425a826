package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

const testRoutes = `
services:
  - name: orders
    health_path: /healthz
    strategy: least_connections
    breaker:
      failure_threshold: 3
      cooldown: 30s
    instances:
      - id: orders-a
        address: http://10.0.0.1:8080
        weight: 2
      - address: http://10.0.0.2:8080

routes:
  - id: orders-list
    method: GET
    pattern: /api/v3/orders
    service: orders
    cache:
      enabled: true
      ttl: 2m
      tags: [orders]
  - id: orders-get
    method: GET
    pattern: /api/v3/orders/:id
    service: orders
    timeout: 5s
  - id: orders-export
    method: GET
    pattern: /api/v3/orders/export
    service: orders
  - id: orders-any
    method: ANY
    pattern: /api/v3/orders/:id
    service: orders
  - id: files
    pattern: /api/v3/files/*
    service: orders
    public: true
    transformations:
      - type: strip_prefix
        target: /api/v3
    middleware: [request_id]
`

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	f, err := ParseRoutes([]byte(testRoutes))
	require.NoError(t, err)
	r := NewRouter("", 30*time.Second, zaptest.NewLogger(t))
	require.NoError(t, r.Replace(f.Routes, "test"))
	return r
}

func TestRouter_Resolve(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		method, path string
		wantID       string
		wantParams   map[string]string
	}{
		{"GET", "/api/v3/orders", "orders-list", nil},
		{"GET", "/api/v3/orders/", "orders-list", nil},
		{"GET", "/api/v3/orders/42", "orders-get", map[string]string{"id": "42"}},
		{"GET", "/api/v3/orders/export", "orders-export", nil},
		{"DELETE", "/api/v3/orders/42", "orders-any", map[string]string{"id": "42"}},
		{"GET", "/api/v3/files/a/b.txt", "files", map[string]string{"*": "a/b.txt"}},
		{"POST", "/api/v3/files", "files", map[string]string{"*": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			route, err := r.Resolve(newRequest(tt.method, tt.path, nil, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, route.ID)
			if tt.wantParams == nil {
				assert.Empty(t, route.Params)
			} else {
				assert.Equal(t, tt.wantParams, route.Params)
			}
		})
	}
}

func TestRouter_ResolveNotFound(t *testing.T) {
	r := newTestRouter(t)

	for _, path := range []string{"/api/v3/customers", "/api/v3/orders/1/items", "/"} {
		_, err := r.Resolve(newRequest("GET", path, nil, nil))
		require.Error(t, err)
		gwErr := gateway.AsError(err)
		assert.Equal(t, gateway.CodeRouteNotFound, gwErr.Code)
		assert.Equal(t, 404, gwErr.HTTPStatus())
	}
}

func TestRouter_CompiledRouteDefaults(t *testing.T) {
	r := newTestRouter(t)
	routes := r.Routes()
	require.Len(t, routes, 5)

	assert.Equal(t, 30*time.Second, routes[0].Timeout)
	assert.Equal(t, 5*time.Second, routes[1].Timeout)
	assert.Empty(t, routes[0].Strategy, "route without strategy defers to the service")
	assert.Equal(t, "*", routes[3].Method)
	assert.Equal(t, "*", routes[4].Method)
	assert.True(t, routes[4].Public)
	assert.Equal(t, []gateway.Transformation{{Type: gateway.TransformStripPrefix, Target: "/api/v3"}}, routes[4].Transformations)
	assert.Equal(t, 2*time.Minute, routes[0].Cache.TTL)
	assert.Equal(t, "GET /api/v3/orders", routes[0].Endpoint())
	assert.False(t, r.LoadedAt().IsZero())
}

func TestRouter_ReplaceRejectsInvalidTables(t *testing.T) {
	r := newTestRouter(t)
	before := r.Routes()

	bad := [][]RouteSpec{
		{{Pattern: "/a"}},
		{{Pattern: "/a", Service: "s", Strategy: "fastest"}},
		{{Pattern: "/a", Service: "s", Transformations: []TransformSpec{{Type: "uppercase"}}}},
		{{Pattern: "/a", Service: "s", Transformations: []TransformSpec{{Type: "convert_body", Value: "yaml"}}}},
		{{Pattern: "/a", Service: "s", Transformations: []TransformSpec{{Type: "convert_response"}}}},
		{{Pattern: "/a", Service: "s", Middleware: []string{"compress"}}},
		{{ID: "x", Pattern: "/a", Service: "s"}, {ID: "x", Pattern: "/b", Service: "s"}},
	}
	for i, specs := range bad {
		assert.Error(t, r.Replace(specs, "bad"), "table %d", i)
	}
	assert.Equal(t, before, r.Routes(), "a rejected table leaves the active one in place")
}

func TestRouter_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRoutes), 0o600))

	r := NewRouter(path, 0, zaptest.NewLogger(t))
	f, err := r.Reload()
	require.NoError(t, err)
	assert.Len(t, f.Services, 1)
	assert.Len(t, r.Routes(), 5)

	require.NoError(t, os.WriteFile(path, []byte("routes: [\n"), 0o600))
	_, err = r.Reload()
	assert.Error(t, err)
	assert.Len(t, r.Routes(), 5)

	_, err = NewRouter(filepath.Join(t.TempDir(), "missing.yaml"), 0, nil).Reload()
	assert.Error(t, err)
}

func TestRoutesFile_ServiceConfigs(t *testing.T) {
	f, err := ParseRoutes([]byte(testRoutes))
	require.NoError(t, err)

	cfgs := f.ServiceConfigs()
	require.Len(t, cfgs, 1)
	assert.Equal(t, ServiceConfig{
		Name:       "orders",
		HealthPath: "/healthz",
		Strategy:   "least_connections",
		Breaker:    BreakerConfig{FailureThreshold: 3, Cooldown: 30 * time.Second},
		Instances: []InstanceConfig{
			{ID: "orders-a", Address: "http://10.0.0.1:8080", Weight: 2},
			{Address: "http://10.0.0.2:8080"},
		},
	}, cfgs[0])
}
