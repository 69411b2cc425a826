package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/loadbalancer"
)

type scriptedProber struct {
	mu      sync.Mutex
	healthy map[string]bool
	calls   atomic.Int32
}

func (p *scriptedProber) set(address string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy[address] = ok
}

func (p *scriptedProber) Probe(_ context.Context, address, _ string) error {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.healthy[address] {
		return nil
	}
	return errors.New("connection refused")
}

func newFixture(t *testing.T) (*loadbalancer.Balancer, *scriptedProber, *Monitor, *observer.ObservedLogs) {
	t.Helper()
	lb := loadbalancer.New(nil)
	lb.Register(gateway.Service{Name: "orders", Instances: []gateway.ServiceInstance{
		{ID: "a", Address: "http://a"},
		{ID: "b", Address: "http://b"},
	}})
	prober := &scriptedProber{healthy: map[string]bool{"http://a": true, "http://b": true}}
	core, logs := observer.New(zapcore.InfoLevel)
	m := NewMonitor(lb, prober, Config{FailureThreshold: 3, RecoveryThreshold: 2}, zap.New(core), nil)
	return lb, prober, m, logs
}

func TestMonitor_FlipsAfterThresholds(t *testing.T) {
	lb, prober, m, logs := newFixture(t)
	ctx := context.Background()
	prober.set("http://b", false)

	for range 2 {
		require.NoError(t, m.CheckAll(ctx))
	}
	healthy, _ := lb.Pool("orders")
	assert.Len(t, healthy.Healthy(), 2, "two failures stay below the threshold")

	require.NoError(t, m.CheckAll(ctx))
	require.Len(t, healthy.Healthy(), 1)
	assert.Equal(t, "a", healthy.Healthy()[0].ID)
	assert.Equal(t, 1, logs.FilterMessage("Instance marked unhealthy").Len())

	prober.set("http://b", true)
	require.NoError(t, m.CheckAll(ctx))
	assert.Len(t, healthy.Healthy(), 1)
	require.NoError(t, m.CheckAll(ctx))
	assert.Len(t, healthy.Healthy(), 2)
	assert.Equal(t, 1, logs.FilterMessage("Instance recovered").Len())
	assert.Equal(t, int32(10), prober.calls.Load())
}

func TestMonitor_CheckServiceUnknown(t *testing.T) {
	_, _, m, _ := newFixture(t)
	assert.Error(t, m.CheckService(context.Background(), "ghost"))
	assert.NoError(t, m.CheckService(context.Background(), "orders"))
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	_, prober, m, _ := newFixture(t)
	m.cfg.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return prober.calls.Load() >= 4 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestHTTPProber(t *testing.T) {
	seen := make(chan [2]string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- [2]string{r.UserAgent(), r.URL.Path}
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewHTTPProber()
	require.NoError(t, p.Probe(context.Background(), srv.URL+"/", "/health"))
	got := <-seen
	assert.Equal(t, UserAgent, got[0])
	assert.Equal(t, "/health", got[1])

	assert.Error(t, p.Probe(context.Background(), srv.URL, "broken"))
}

func TestHTTPProber_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, NewHTTPProber().Probe(ctx, srv.URL, "/health"))
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, 30*time.Second, c.Interval)
	assert.Equal(t, 10*time.Second, c.Timeout)
	assert.Equal(t, 3, c.FailureThreshold)
	assert.Equal(t, 2, c.RecoveryThreshold)
	assert.Equal(t, "/health", c.DefaultPath)
}
