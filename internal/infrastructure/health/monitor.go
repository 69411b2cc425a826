// Package health probes every registered service instance and flips its
// health flag in the load balancer pool.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xpgateway/backend/internal/infrastructure/config"
	"github.com/xpgateway/backend/internal/infrastructure/loadbalancer"
	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
)

// UserAgent identifies health probes to downstream services
const UserAgent = "XPGateway-HealthCheck/3.0"

// Prober checks one instance. A nil error means healthy.
type Prober interface {
	Probe(ctx context.Context, address, path string) error
}

// HTTPProber issues GET address+path and treats any 2xx as healthy
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober. Timeouts come from the caller's context.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{client: &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

// Probe implements Prober
func (p *HTTPProber) Probe(ctx context.Context, address, path string) error {
	url := strings.TrimRight(address, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Config controls probing
type Config struct {
	Interval          time.Duration
	Timeout           time.Duration
	FailureThreshold  int
	RecoveryThreshold int
	Concurrency       int
	DefaultPath       string
}

// ConfigFrom converts the health config section
func ConfigFrom(cfg config.HealthConfig) Config {
	return Config{
		Interval:          cfg.Interval,
		Timeout:           cfg.Timeout,
		FailureThreshold:  cfg.FailureThreshold,
		RecoveryThreshold: cfg.RecoveryThreshold,
		Concurrency:       cfg.Concurrency,
		DefaultPath:       cfg.DefaultPath,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = 2
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 16
	}
	if c.DefaultPath == "" {
		c.DefaultPath = "/health"
	}
	return c
}

// Monitor periodically probes every pool of a balancer
type Monitor struct {
	balancer *loadbalancer.Balancer
	prober   Prober
	cfg      Config
	logger   *zap.Logger
	metrics  *telemetry.GatewayMetrics
	now      func() time.Time
}

// NewMonitor creates a monitor. A nil prober uses HTTP GET probes.
func NewMonitor(balancer *loadbalancer.Balancer, prober Prober, cfg Config, logger *zap.Logger, metrics *telemetry.GatewayMetrics) *Monitor {
	if prober == nil {
		prober = NewHTTPProber()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		balancer: balancer,
		prober:   prober,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run probes immediately and then on every interval until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Health monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("timeout", m.cfg.Timeout),
	)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := m.CheckAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("Health check round failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// CheckAll probes every instance of every pool once, at most Concurrency at a time
func (m *Monitor) CheckAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)

	for _, pool := range m.balancer.Pools() {
		path := pool.HealthPath
		if path == "" {
			path = m.cfg.DefaultPath
		}
		for _, inst := range pool.Instances() {
			g.Go(func() error {
				m.check(gctx, pool.Service, inst, path)
				return gctx.Err()
			})
		}
	}
	return g.Wait()
}

// CheckService probes the instances of one service
func (m *Monitor) CheckService(ctx context.Context, service string) error {
	pool, ok := m.balancer.Pool(service)
	if !ok {
		return fmt.Errorf("health: unknown service %q", service)
	}
	path := pool.HealthPath
	if path == "" {
		path = m.cfg.DefaultPath
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for _, inst := range pool.Instances() {
		g.Go(func() error {
			m.check(gctx, service, inst, path)
			return nil
		})
	}
	return g.Wait()
}

func (m *Monitor) check(ctx context.Context, service string, inst *loadbalancer.Instance, path string) {
	if ctx.Err() != nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	err := m.prober.Probe(probeCtx, inst.Address, path)
	cancel()
	if err != nil && ctx.Err() != nil {
		// Shutting down; the failure says nothing about the instance.
		return
	}

	ok := err == nil
	m.metrics.RecordHealthCheck(ctx, service, inst.ID, ok)
	if !inst.ObserveProbe(ok, err, m.cfg.FailureThreshold, m.cfg.RecoveryThreshold, m.now()) {
		return
	}
	if ok {
		m.logger.Info("Instance recovered",
			zap.String("service", service),
			zap.String("instance", inst.ID),
			zap.String("address", inst.Address),
		)
		return
	}
	m.logger.Warn("Instance marked unhealthy",
		zap.String("service", service),
		zap.String("instance", inst.ID),
		zap.String("address", inst.Address),
		zap.Error(err),
	)
}
