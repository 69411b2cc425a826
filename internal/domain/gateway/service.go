package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrServiceNotFound is returned by repositories when a service id is unknown
var ErrServiceNotFound = errors.New("gateway: service not found")

// BreakerSettings overrides the default circuit breaker thresholds of a service.
// Zero values fall back to the gateway defaults.
type BreakerSettings struct {
	FailureThreshold int           `json:"failure_threshold,omitempty"`
	Cooldown         time.Duration `json:"cooldown,omitempty"`
}

// ServiceInstance is one network endpoint of a downstream service
type ServiceInstance struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Weight  int    `json:"weight"`
}

// Service is a registered downstream service and its instances
type Service struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	HealthPath string            `json:"health_path"`
	Strategy   Strategy          `json:"strategy"`
	Breaker    BreakerSettings   `json:"breaker"`
	Instances  []ServiceInstance `json:"instances"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ServiceRepository persists the service registry
type ServiceRepository interface {
	// Save inserts or replaces the service and its instances
	Save(ctx context.Context, svc *Service) error
	// FindByID returns ErrServiceNotFound if the service is unknown
	FindByID(ctx context.Context, id string) (*Service, error)
	FindAll(ctx context.Context) ([]Service, error)
	// Delete returns ErrServiceNotFound if the service is unknown
	Delete(ctx context.Context, id string) error
}

// Response is a downstream (or cached) HTTP response
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// TransformedRequest is the outbound request after rewriting
type TransformedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
	Query   map[string][]string
}
