// Package gateway runs the request pipeline: security validation,
// authentication, rate limiting, routing, caching, transformation, load
// balancing, circuit breaking, execution and analytics.
package gateway

import (
	"context"
	"time"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/cache"
	"github.com/xpgateway/backend/internal/infrastructure/circuitbreaker"
	"github.com/xpgateway/backend/internal/infrastructure/loadbalancer"
	"github.com/xpgateway/backend/internal/infrastructure/ratelimit"
)

// RateLimiter admits a request across every dimension at once
type RateLimiter interface {
	Admit(ctx context.Context, reqs []ratelimit.Request) ratelimit.Decision
}

// InstanceSelector picks a healthy instance of a service
type InstanceSelector interface {
	Select(ctx context.Context, service, clientIP string, strategy gateway.Strategy) (*loadbalancer.Instance, error)
}

// CircuitBreaker gates calls to a service
type CircuitBreaker interface {
	Allow(ctx context.Context, service string) (circuitbreaker.Ticket, error)
	Report(ctx context.Context, ticket circuitbreaker.Ticket, outcome circuitbreaker.Outcome)
}

// Executor performs the downstream call and reports its outcome
type Executor interface {
	Execute(ctx context.Context, ticket circuitbreaker.Ticket, inst *loadbalancer.Instance, req gateway.TransformedRequest, timeout time.Duration) (gateway.Response, error)
}

// ResponseCache is the layered response cache. A nil *cache.Layered satisfies
// it and disables caching.
type ResponseCache interface {
	Lookup(ctx context.Context, key string) (*cache.Entry, string, bool)
	Store(ctx context.Context, key string, entry *cache.Entry, ttl time.Duration, tags []string) error
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
}

// AnalyticsRecorder accepts one record per request
type AnalyticsRecorder interface {
	Record(ctx context.Context, rec gateway.AnalyticsRecord) error
}

// RouteResolver maps a request to its route
type RouteResolver interface {
	Resolve(rc gateway.RequestContext) (gateway.RouteInfo, error)
}
