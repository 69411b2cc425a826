// Package loadbalancer keeps the per-service instance pools and selects an
// instance for each call with a pluggable strategy.
package loadbalancer

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

// Pool is the instance set of one service
type Pool struct {
	Service    string
	Strategy   gateway.Strategy
	HealthPath string

	instances []*Instance // fixed once the pool is published

	rr    atomic.Uint64
	wrrMu sync.Mutex
}

func newPool(svc gateway.Service) *Pool {
	p := &Pool{Service: svc.Name, Strategy: svc.Strategy, HealthPath: svc.HealthPath}
	if p.Strategy == "" {
		p.Strategy = gateway.StrategyRoundRobin
	}
	p.instances = make([]*Instance, 0, len(svc.Instances))
	for _, cfg := range svc.Instances {
		p.instances = append(p.instances, NewInstance(cfg))
	}
	return p
}

// Instances returns every instance, healthy or not
func (p *Pool) Instances() []*Instance {
	return slices.Clone(p.instances)
}

// Healthy returns the instances currently eligible for selection
func (p *Pool) Healthy() []*Instance {
	healthy := make([]*Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		if inst.Healthy() {
			healthy = append(healthy, inst)
		}
	}
	return healthy
}

// Instance returns an instance by id
func (p *Pool) Instance(id string) (*Instance, bool) {
	for _, inst := range p.instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return nil, false
}

// Balancer owns every service pool
type Balancer struct {
	pools  *xsync.Map[string, *Pool]
	logger *zap.Logger
}

// New creates an empty balancer
func New(logger *zap.Logger) *Balancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Balancer{pools: xsync.NewMap[string, *Pool](), logger: logger}
}

// Register adds or replaces the pool of svc. Instances that keep their id,
// address and weight carry their counters and health over.
func (b *Balancer) Register(svc gateway.Service) *Pool {
	next := newPool(svc)
	pool, _ := b.pools.Compute(svc.Name, func(old *Pool, loaded bool) (*Pool, xsync.ComputeOp) {
		if loaded {
			for i, inst := range next.instances {
				if prev, ok := old.Instance(inst.ID); ok && prev.Address == inst.Address && prev.Weight == inst.Weight {
					next.instances[i] = prev
				}
			}
		}
		return next, xsync.UpdateOp
	})
	b.logger.Info("Service pool registered",
		zap.String("service", svc.Name),
		zap.Int("instances", len(svc.Instances)),
		zap.String("strategy", string(pool.Strategy)),
	)
	return pool
}

// Deregister removes a service pool. It reports whether the pool existed.
func (b *Balancer) Deregister(service string) bool {
	_, existed := b.pools.LoadAndDelete(service)
	if existed {
		b.logger.Info("Service pool removed", zap.String("service", service))
	}
	return existed
}

// Pool returns the pool of a service
func (b *Balancer) Pool(service string) (*Pool, bool) {
	return b.pools.Load(service)
}

// Pools returns every pool sorted by service name
func (b *Balancer) Pools() []*Pool {
	pools := make([]*Pool, 0, b.pools.Size())
	b.pools.Range(func(_ string, p *Pool) bool {
		pools = append(pools, p)
		return true
	})
	slices.SortFunc(pools, func(a, c *Pool) int {
		return strings.Compare(a.Service, c.Service)
	})
	return pools
}

// Select picks a healthy instance of service. An empty strategy uses the
// service's own. Unknown services are NotFound; an empty healthy pool is
// ServiceUnavailable.
func (b *Balancer) Select(_ context.Context, service, clientIP string, strategy gateway.Strategy) (*Instance, error) {
	pool, ok := b.pools.Load(service)
	if !ok {
		return nil, gateway.NewNotFound(gateway.CodeServiceNotFound, "unknown service "+service)
	}
	healthy := pool.Healthy()
	if len(healthy) == 0 {
		return nil, gateway.NewServiceUnavailable(gateway.CodeNoHealthyInstance,
			"no healthy instance for service "+service, 0)
	}

	if strategy == "" {
		strategy = pool.Strategy
	}
	pick, ok := selectors[strategy]
	if !ok {
		b.logger.Warn("Unknown load balancing strategy, using round robin",
			zap.String("service", service),
			zap.String("strategy", string(strategy)),
		)
		pick = roundRobin
	}
	return pick(pool, healthy, clientIP), nil
}
