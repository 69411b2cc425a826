package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// DefaultAdminPrefix is reserved for the gateway itself and never proxied
const DefaultAdminPrefix = "/_gateway"

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router mounts the admin surface under the reserved prefix and sends
// every other request to the fallback handler
type Router struct {
	engine          *gin.Engine
	adminPrefix     string
	apiVersion      string
	adminMiddleware []gin.HandlerFunc
	public          []RouteRegistrar
	registrars      []RouteRegistrar
	fallback        []gin.HandlerFunc
	notFound        gin.HandlerFunc
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the admin API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithAdminPrefix overrides the reserved admin prefix
func WithAdminPrefix(prefix string) RouterOption {
	return func(r *Router) {
		r.adminPrefix = "/" + strings.Trim(prefix, "/")
	}
}

// WithAdminMiddleware adds middleware to the versioned admin API only.
// Public admin routes such as the health check skip it.
func WithAdminMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.adminMiddleware = append(r.adminMiddleware, mw...)
	}
}

// WithNotFound sets the handler for unknown paths under the admin prefix
func WithNotFound(h gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.notFound = h
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:      engine,
		adminPrefix: DefaultAdminPrefix,
		apiVersion:  "v1",
		notFound: func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   gin.H{"code": "ERR_NOT_FOUND", "message": "Unknown admin endpoint"},
			})
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a registrar to the versioned admin API
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// RegisterPublic adds a registrar mounted directly under the admin prefix
func (r *Router) RegisterPublic(registrar RouteRegistrar) *Router {
	r.public = append(r.public, registrar)
	return r
}

// Fallback sets the chain that serves every path outside the admin prefix
func (r *Router) Fallback(handlers ...gin.HandlerFunc) *Router {
	r.fallback = handlers
	return r
}

// AdminPrefix returns the reserved prefix
func (r *Router) AdminPrefix() string {
	return r.adminPrefix
}

// APIBasePath returns the mount point of the versioned admin API
func (r *Router) APIBasePath() string {
	return r.adminPrefix + "/api/" + r.apiVersion
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	admin := r.engine.Group(r.adminPrefix)
	for _, registrar := range r.public {
		registrar.RegisterRoutes(admin)
	}

	api := admin.Group("/api/" + r.apiVersion)
	if len(r.adminMiddleware) > 0 {
		api.Use(r.adminMiddleware...)
	}
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		if r.IsAdminPath(c.Request.URL.Path) || len(r.fallback) == 0 {
			r.notFound(c)
			return
		}
		for _, h := range r.fallback {
			h(c)
			if c.IsAborted() {
				return
			}
		}
	})
}

// IsAdminPath reports whether path falls under the reserved prefix
func (r *Router) IsAdminPath(path string) bool {
	return path == r.adminPrefix || strings.HasPrefix(path, r.adminPrefix+"/")
}

// DomainGroup groups the admin routes of one resource
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	subgroups  []*DomainGroup
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new domain-specific route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{
		name:       name,
		prefix:     prefix,
		routes:     make([]routeDefinition, 0),
		subgroups:  make([]*DomainGroup, 0),
		middleware: make([]gin.HandlerFunc, 0),
	}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{
		method:   "GET",
		path:     path,
		handlers: handlers,
	})
	return dg
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{
		method:   "POST",
		path:     path,
		handlers: handlers,
	})
	return dg
}

// PUT registers a PUT route
func (dg *DomainGroup) PUT(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{
		method:   "PUT",
		path:     path,
		handlers: handlers,
	})
	return dg
}

// PATCH registers a PATCH route
func (dg *DomainGroup) PATCH(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{
		method:   "PATCH",
		path:     path,
		handlers: handlers,
	})
	return dg
}

// DELETE registers a DELETE route
func (dg *DomainGroup) DELETE(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{
		method:   "DELETE",
		path:     path,
		handlers: handlers,
	})
	return dg
}

// Group creates a sub-group within this domain
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	subgroup := NewDomainGroup(name, prefix)
	dg.subgroups = append(dg.subgroups, subgroup)
	return subgroup
}

// RegisterRoutes implements RouteRegistrar interface
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}

	for _, route := range dg.routes {
		switch route.method {
		case "GET":
			group.GET(route.path, route.handlers...)
		case "POST":
			group.POST(route.path, route.handlers...)
		case "PUT":
			group.PUT(route.path, route.handlers...)
		case "PATCH":
			group.PATCH(route.path, route.handlers...)
		case "DELETE":
			group.DELETE(route.path, route.handlers...)
		}
	}

	for _, subgroup := range dg.subgroups {
		subgroup.RegisterRoutes(group)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Prefix returns the group prefix
func (dg *DomainGroup) Prefix() string {
	return dg.prefix
}
