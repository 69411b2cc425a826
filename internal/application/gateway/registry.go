package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/loadbalancer"
)

// ServiceConfig is a service registration request
type ServiceConfig struct {
	Name       string           `json:"name" validate:"required,max=100,excludesall=/"`
	HealthPath string           `json:"health_path" validate:"omitempty,startswith=/,max=255"`
	Strategy   string           `json:"strategy" validate:"omitempty,max=50"`
	Breaker    BreakerConfig    `json:"breaker"`
	Instances  []InstanceConfig `json:"instances" validate:"required,min=1,dive"`
}

// BreakerConfig overrides the breaker thresholds of the service
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" validate:"gte=0"`
	Cooldown         time.Duration `json:"cooldown" validate:"gte=0"`
}

// InstanceConfig is one instance of a registration. An empty ID is derived
// from the service name.
type InstanceConfig struct {
	ID      string `json:"id" validate:"omitempty,max=64"`
	Address string `json:"address" validate:"required,url"`
	Weight  int    `json:"weight" validate:"gte=0,lte=1000"`
}

// HealthChecker probes the instances of a service
type HealthChecker interface {
	CheckService(ctx context.Context, service string) error
}

// BreakerRegistry holds per-service breaker settings
type BreakerRegistry interface {
	Configure(service string, override gateway.BreakerSettings)
	Remove(ctx context.Context, service string) error
}

type registration struct {
	svc       gateway.Service
	persisted bool
}

// Registry owns the set of registered services and keeps the balancer,
// breaker and health monitor in step with it
type Registry struct {
	repo     gateway.ServiceRepository
	balancer *loadbalancer.Balancer
	breaker  BreakerRegistry
	health   HealthChecker
	validate *validator.Validate
	logger   *zap.Logger

	probeTimeout time.Duration

	// writeMu serializes mutations and is held across store I/O; mu guards
	// services only.
	writeMu  sync.Mutex
	mu       sync.RWMutex
	services map[string]*registration // by name
}

// NewRegistry creates a registry. repo, breaker and health may be nil.
func NewRegistry(repo gateway.ServiceRepository, balancer *loadbalancer.Balancer, breaker BreakerRegistry, health HealthChecker, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		repo:         repo,
		balancer:     balancer,
		breaker:      breaker,
		health:       health,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       logger.Named("registry"),
		probeTimeout: 10 * time.Second,
		services:     make(map[string]*registration),
	}
}

// RegisterService validates and persists cfg, then publishes the service to
// the balancer and starts probing it. Registering an existing name replaces it.
func (r *Registry) RegisterService(ctx context.Context, cfg ServiceConfig) (*gateway.Service, error) {
	svc, err := r.build(cfg)
	if err != nil {
		return nil, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	now := time.Now()
	svc.CreatedAt, svc.UpdatedAt = now, now
	r.mu.RLock()
	prev, ok := r.services[svc.Name]
	r.mu.RUnlock()
	if ok {
		svc.ID = prev.svc.ID
		svc.CreatedAt = prev.svc.CreatedAt
	} else {
		svc.ID = uuid.NewString()
	}
	if r.repo != nil {
		if err := r.repo.Save(ctx, &svc); err != nil {
			return nil, fmt.Errorf("save service %s: %w", svc.Name, err)
		}
	}

	r.mu.Lock()
	r.publish(ctx, svc, r.repo != nil)
	r.mu.Unlock()

	out := svc
	return &out, nil
}

// DeregisterService removes a service by id from the store, the balancer,
// the breaker and the monitor
func (r *Registry) DeregisterService(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	reg, ok := r.byID(id)
	if !ok {
		return gateway.NewNotFound(gateway.CodeServiceNotFound, "service "+id+" is not registered")
	}
	if reg.persisted && r.repo != nil {
		if err := r.repo.Delete(ctx, id); err != nil && !errors.Is(err, gateway.ErrServiceNotFound) {
			return fmt.Errorf("delete service %s: %w", reg.svc.Name, err)
		}
	}

	name := reg.svc.Name
	r.mu.Lock()
	delete(r.services, name)
	r.balancer.Deregister(name)
	r.mu.Unlock()
	if r.breaker != nil {
		if err := r.breaker.Remove(ctx, name); err != nil {
			r.logger.Warn("Failed to clear breaker state", zap.String("service", name), zap.Error(err))
		}
	}
	r.logger.Info("Service deregistered", zap.String("service", name), zap.String("id", id))
	return nil
}

func (r *Registry) byID(id string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.services {
		if reg.svc.ID == id {
			return *reg, true
		}
	}
	return registration{}, false
}

// Service returns a registered service by id
func (r *Registry) Service(id string) (gateway.Service, bool) {
	reg, ok := r.byID(id)
	return reg.svc, ok
}

// Services returns every registered service sorted by name
func (r *Registry) Services() []gateway.Service {
	r.mu.RLock()
	out := make([]gateway.Service, 0, len(r.services))
	for _, reg := range r.services {
		out = append(out, reg.svc)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b gateway.Service) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Bootstrap registers the services declared in the routes file and then the
// ones stored in the database. Stored services win on a name clash.
func (r *Registry) Bootstrap(ctx context.Context, declared []ServiceConfig) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	built := make([]gateway.Service, 0, len(declared))
	for _, cfg := range declared {
		svc, err := r.build(cfg)
		if err != nil {
			return fmt.Errorf("routes file service %q: %w", cfg.Name, err)
		}
		svc.ID = svc.Name
		built = append(built, svc)
	}
	var stored []gateway.Service
	if r.repo != nil {
		var err error
		if stored, err = r.repo.FindAll(ctx); err != nil {
			return fmt.Errorf("load services: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, svc := range built {
		r.publish(ctx, svc, false)
	}
	if r.repo == nil {
		return nil
	}
	for _, svc := range stored {
		if svc.Strategy == "" {
			svc.Strategy = gateway.StrategyRoundRobin
		}
		r.publish(ctx, svc, true)
	}
	r.logger.Info("Service registry loaded",
		zap.Int("declared", len(declared)),
		zap.Int("stored", len(stored)),
	)
	return nil
}

// build validates cfg and converts it into a service without identity
func (r *Registry) build(cfg ServiceConfig) (gateway.Service, error) {
	if err := r.validate.Struct(cfg); err != nil {
		return gateway.Service{}, validationError(err)
	}
	strategy, err := gateway.ParseStrategy(cfg.Strategy)
	if err != nil {
		return gateway.Service{}, gateway.NewBadRequest(gateway.CodeBadRequest, err.Error())
	}

	svc := gateway.Service{
		Name:       cfg.Name,
		HealthPath: cfg.HealthPath,
		Strategy:   strategy,
		Breaker: gateway.BreakerSettings{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
		},
		Instances: make([]gateway.ServiceInstance, 0, len(cfg.Instances)),
	}
	seen := make(map[string]struct{}, len(cfg.Instances))
	for i, inst := range cfg.Instances {
		id := inst.ID
		if id == "" {
			id = cfg.Name + "-" + strconv.Itoa(i+1)
		}
		if _, dup := seen[id]; dup {
			return gateway.Service{}, gateway.NewBadRequest(gateway.CodeBadRequest, "duplicate instance id "+id)
		}
		seen[id] = struct{}{}
		weight := inst.Weight
		if weight == 0 {
			weight = 1
		}
		svc.Instances = append(svc.Instances, gateway.ServiceInstance{
			ID:      id,
			Address: strings.TrimRight(inst.Address, "/"),
			Weight:  weight,
		})
	}
	return svc, nil
}

// publish installs svc in the balancer and breaker. Callers hold r.mu.
func (r *Registry) publish(ctx context.Context, svc gateway.Service, persisted bool) {
	r.services[svc.Name] = &registration{svc: svc, persisted: persisted}
	r.balancer.Register(svc)
	if r.breaker != nil {
		r.breaker.Configure(svc.Name, svc.Breaker)
	}
	if r.health != nil {
		// first probe runs detached so registration does not wait on instances
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.probeTimeout)
		go func() {
			defer cancel()
			if err := r.health.CheckService(probeCtx, svc.Name); err != nil {
				r.logger.Debug("Initial health probe incomplete", zap.String("service", svc.Name), zap.Error(err))
			}
		}()
	}
	r.logger.Info("Service registered",
		zap.String("service", svc.Name),
		zap.String("id", svc.ID),
		zap.Int("instances", len(svc.Instances)),
	)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return gateway.NewBadRequest(gateway.CodeBadRequest, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return gateway.NewBadRequest(gateway.CodeBadRequest, "invalid service: "+strings.Join(msgs, "; "))
}
