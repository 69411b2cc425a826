package gateway

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

// RoutesFile is the YAML document holding the route table and the services
// declared alongside it
type RoutesFile struct {
	Services []ServiceSpec `yaml:"services"`
	Routes   []RouteSpec   `yaml:"routes"`
}

// ServiceSpec declares a service in the routes file
type ServiceSpec struct {
	Name       string         `yaml:"name"`
	HealthPath string         `yaml:"health_path"`
	Strategy   string         `yaml:"strategy"`
	Breaker    BreakerSpec    `yaml:"breaker"`
	Instances  []InstanceSpec `yaml:"instances"`
}

// BreakerSpec overrides breaker thresholds for one service
type BreakerSpec struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// InstanceSpec is one instance of a declared service
type InstanceSpec struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
	Weight  int    `yaml:"weight"`
}

// RouteSpec declares one route
type RouteSpec struct {
	ID              string          `yaml:"id"`
	Method          string          `yaml:"method"`
	Pattern         string          `yaml:"pattern"`
	Service         string          `yaml:"service"`
	Public          bool            `yaml:"public"`
	RequiredScopes  []string        `yaml:"required_scopes"`
	Strategy        string          `yaml:"strategy"`
	Timeout         time.Duration   `yaml:"timeout"`
	Transformations []TransformSpec `yaml:"transformations"`
	Middleware      []string        `yaml:"middleware"`
	Cache           CacheSpec       `yaml:"cache"`
}

// TransformSpec is one declarative rewrite rule
type TransformSpec struct {
	Type   string `yaml:"type"`
	Target string `yaml:"target"`
	Value  string `yaml:"value"`
}

// CacheSpec is the cache policy of a route
type CacheSpec struct {
	Enabled     bool          `yaml:"enabled"`
	TTL         time.Duration `yaml:"ttl"`
	Tags        []string      `yaml:"tags"`
	VaryHeaders []string      `yaml:"vary_headers"`
}

// ParseRoutes decodes a routes document
func ParseRoutes(data []byte) (*RoutesFile, error) {
	var f RoutesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	return &f, nil
}

// ServiceConfigs converts the declared services into registrations
func (f *RoutesFile) ServiceConfigs() []ServiceConfig {
	out := make([]ServiceConfig, 0, len(f.Services))
	for _, s := range f.Services {
		cfg := ServiceConfig{
			Name:       s.Name,
			HealthPath: s.HealthPath,
			Strategy:   s.Strategy,
			Breaker: BreakerConfig{
				FailureThreshold: s.Breaker.FailureThreshold,
				Cooldown:         s.Breaker.Cooldown,
			},
		}
		for _, inst := range s.Instances {
			cfg.Instances = append(cfg.Instances, InstanceConfig(inst))
		}
		out = append(out, cfg)
	}
	return out
}

type compiledRoute struct {
	info     gateway.RouteInfo
	segments []string
	wildcard bool
	literals int
	order    int
}

type routeTable struct {
	routes   []compiledRoute
	loadedAt time.Time
	source   string
}

// Router resolves requests against an immutable route table that can be
// swapped atomically at runtime
type Router struct {
	table          atomic.Pointer[routeTable]
	path           string
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// NewRouter creates a router with an empty table. path is the file Reload reads.
func NewRouter(path string, defaultTimeout time.Duration, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	r := &Router{path: path, defaultTimeout: defaultTimeout, logger: logger.Named("router")}
	r.table.Store(&routeTable{})
	return r
}

// Reload reads the routes file and swaps the table in. The previous table
// stays active if the file is invalid.
func (r *Router) Reload() (*RoutesFile, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	f, err := ParseRoutes(data)
	if err != nil {
		return nil, err
	}
	if err := r.Replace(f.Routes, r.path); err != nil {
		return nil, err
	}
	return f, nil
}

// Replace compiles specs into a new table and swaps it in
func (r *Router) Replace(specs []RouteSpec, source string) error {
	routes := make([]compiledRoute, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for i, spec := range specs {
		cr, err := r.compile(spec, i)
		if err != nil {
			return err
		}
		if _, dup := seen[cr.info.ID]; dup {
			return fmt.Errorf("route %d: duplicate route id %q", i, cr.info.ID)
		}
		seen[cr.info.ID] = struct{}{}
		routes = append(routes, cr)
	}
	r.table.Store(&routeTable{routes: routes, loadedAt: time.Now(), source: source})
	r.logger.Info("Route table loaded", zap.Int("routes", len(routes)), zap.String("source", source))
	return nil
}

func (r *Router) compile(spec RouteSpec, order int) (compiledRoute, error) {
	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" || method == "ANY" {
		method = "*"
	}
	pattern := "/" + strings.Trim(strings.TrimSpace(spec.Pattern), "/")
	if spec.Service == "" {
		return compiledRoute{}, fmt.Errorf("route %d (%s %s): service is required", order, method, pattern)
	}
	// empty defers to the service's strategy
	var strategy gateway.Strategy
	if spec.Strategy != "" {
		s, err := gateway.ParseStrategy(spec.Strategy)
		if err != nil {
			return compiledRoute{}, fmt.Errorf("route %d (%s %s): %w", order, method, pattern, err)
		}
		strategy = s
	}

	info := gateway.RouteInfo{
		ID:             spec.ID,
		Method:         method,
		Pattern:        pattern,
		Service:        spec.Service,
		Public:         spec.Public,
		RequiredScopes: spec.RequiredScopes,
		Strategy:       strategy,
		Timeout:        spec.Timeout,
		Middleware:     spec.Middleware,
		Cache: gateway.CachePolicy{
			Enabled:     spec.Cache.Enabled,
			TTL:         spec.Cache.TTL,
			Tags:        spec.Cache.Tags,
			VaryHeaders: spec.Cache.VaryHeaders,
		},
	}
	if info.ID == "" {
		info.ID = method + " " + pattern
	}
	if info.Timeout <= 0 {
		info.Timeout = r.defaultTimeout
	}
	for _, t := range spec.Transformations {
		kind := gateway.TransformKind(t.Type)
		if kind.Stage() == gateway.StageUnknown {
			return compiledRoute{}, fmt.Errorf("route %s: unknown transformation %q", info.ID, t.Type)
		}
		if kind == gateway.TransformConvertBody || kind == gateway.TransformConvertResponse {
			if _, err := ParseBodyFormat(t.Value); err != nil {
				return compiledRoute{}, fmt.Errorf("route %s: %s: %w", info.ID, t.Type, err)
			}
		}
		info.Transformations = append(info.Transformations, gateway.Transformation{Type: kind, Target: t.Target, Value: t.Value})
	}
	for _, name := range info.Middleware {
		if !IsKnownMiddleware(name) {
			return compiledRoute{}, fmt.Errorf("route %s: unknown middleware %q", info.ID, name)
		}
	}

	cr := compiledRoute{info: info, order: order}
	for _, seg := range splitPath(pattern) {
		if seg == "*" {
			cr.wildcard = true
			break
		}
		if !strings.HasPrefix(seg, ":") {
			cr.literals++
		}
		cr.segments = append(cr.segments, seg)
	}
	return cr, nil
}

// Resolve returns the most specific route matching rc's method and path:
// more literal segments win, then the longer pattern, then an explicit
// method over a wildcard one, then file order.
func (r *Router) Resolve(rc gateway.RequestContext) (gateway.RouteInfo, error) {
	parts := splitPath(rc.Path)
	table := r.table.Load()
	var (
		best   *compiledRoute
		params map[string]string
	)
	for i := range table.routes {
		cr := &table.routes[i]
		if cr.info.Method != "*" && cr.info.Method != rc.Method {
			continue
		}
		p, ok := cr.match(parts)
		if !ok {
			continue
		}
		if best == nil || cr.moreSpecificThan(best) {
			best, params = cr, p
		}
	}
	if best == nil {
		return gateway.RouteInfo{}, gateway.NewNotFound(gateway.CodeRouteNotFound,
			"no route for "+rc.Method+" "+rc.Path)
	}
	info := best.info
	info.Params = params
	return info, nil
}

func (cr *compiledRoute) match(parts []string) (map[string]string, bool) {
	if len(parts) < len(cr.segments) || (!cr.wildcard && len(parts) != len(cr.segments)) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range cr.segments {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			if params == nil {
				params = make(map[string]string)
			}
			params[name] = parts[i]
			continue
		}
		if seg != parts[i] {
			return nil, false
		}
	}
	if cr.wildcard {
		if params == nil {
			params = make(map[string]string)
		}
		params["*"] = strings.Join(parts[len(cr.segments):], "/")
	}
	return params, true
}

func (cr *compiledRoute) moreSpecificThan(other *compiledRoute) bool {
	if cr.literals != other.literals {
		return cr.literals > other.literals
	}
	if len(cr.info.Pattern) != len(other.info.Pattern) {
		return len(cr.info.Pattern) > len(other.info.Pattern)
	}
	if (cr.info.Method == "*") != (other.info.Method == "*") {
		return other.info.Method == "*"
	}
	return cr.order < other.order
}

// Routes returns the active routes in file order
func (r *Router) Routes() []gateway.RouteInfo {
	t := r.table.Load()
	out := make([]gateway.RouteInfo, len(t.routes))
	for i, cr := range t.routes {
		out[i] = cr.info
	}
	return out
}

// LoadedAt returns when the active table was installed
func (r *Router) LoadedAt() time.Time {
	return r.table.Load().loadedAt
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
