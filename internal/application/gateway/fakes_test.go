package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/auth"
	"github.com/xpgateway/backend/internal/infrastructure/circuitbreaker"
	"github.com/xpgateway/backend/internal/infrastructure/loadbalancer"
)

var errStoreDown = errors.New("store unavailable")

type fakeUsers struct {
	users map[string]*gateway.User
	err   error
	calls atomic.Int32
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*gateway.User, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, gateway.ErrCredentialNotFound
	}
	return u, nil
}

type fakeKeys struct {
	keys map[string]*gateway.APIKey
	err  error
}

func (f *fakeKeys) FindByKey(_ context.Context, raw string) (*gateway.APIKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	k, ok := f.keys[raw]
	if !ok {
		return nil, gateway.ErrCredentialNotFound
	}
	return k, nil
}

type fakeIntrospector struct {
	tokens map[string]*auth.Introspection
	calls  atomic.Int32
}

func (f *fakeIntrospector) Enabled() bool { return true }

func (f *fakeIntrospector) Introspect(_ context.Context, token string) (*auth.Introspection, error) {
	f.calls.Add(1)
	info, ok := f.tokens[token]
	if !ok || !info.Active {
		return nil, auth.ErrInactiveToken
	}
	return info, nil
}

// fakeBreaker admits everything unless open is set and records reports
type fakeBreaker struct {
	mu       sync.Mutex
	open     bool
	allowed  int
	outcomes []circuitbreaker.Outcome
}

func (b *fakeBreaker) Allow(_ context.Context, service string) (circuitbreaker.Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return circuitbreaker.Ticket{}, gateway.NewServiceUnavailable(gateway.CodeCircuitOpen, "circuit open for "+service, 30*time.Second)
	}
	b.allowed++
	return circuitbreaker.Ticket{Service: service}, nil
}

func (b *fakeBreaker) Report(_ context.Context, _ circuitbreaker.Ticket, o circuitbreaker.Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outcomes = append(b.outcomes, o)
}

// fakeExecutor answers with a fixed response or error and captures requests
type fakeExecutor struct {
	mu      sync.Mutex
	resp    gateway.Response
	err     error
	block   bool
	calls   int
	lastReq gateway.TransformedRequest
}

func (e *fakeExecutor) Execute(ctx context.Context, _ circuitbreaker.Ticket, _ *loadbalancer.Instance, req gateway.TransformedRequest, _ time.Duration) (gateway.Response, error) {
	e.mu.Lock()
	e.calls++
	e.lastReq = req
	resp, err, block := e.resp, e.err, e.block
	e.mu.Unlock()
	if block {
		<-ctx.Done()
		return gateway.Response{}, gateway.NewClientCancelled(ctx.Err())
	}
	return resp, err
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []gateway.AnalyticsRecord
}

func (r *fakeRecorder) Record(_ context.Context, rec gateway.AnalyticsRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) all() []gateway.AnalyticsRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gateway.AnalyticsRecord(nil), r.records...)
}

type fakeHealth struct {
	mu      sync.Mutex
	checked []string
}

func (h *fakeHealth) CheckService(_ context.Context, service string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checked = append(h.checked, service)
	return nil
}

type fakeServiceRepo struct {
	mu       sync.Mutex
	services map[string]gateway.Service
	err      error
	// when set, Save signals saving and waits for release
	saving  chan struct{}
	release chan struct{}
}

func newFakeServiceRepo() *fakeServiceRepo {
	return &fakeServiceRepo{services: map[string]gateway.Service{}}
}

func (r *fakeServiceRepo) Save(_ context.Context, svc *gateway.Service) error {
	if r.release != nil {
		r.saving <- struct{}{}
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.services[svc.ID] = *svc
	return nil
}

func (r *fakeServiceRepo) FindByID(_ context.Context, id string) (*gateway.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[id]
	if !ok {
		return nil, gateway.ErrServiceNotFound
	}
	return &svc, nil
}

func (r *fakeServiceRepo) FindAll(_ context.Context) ([]gateway.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]gateway.Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	return out, nil
}

func (r *fakeServiceRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[id]; !ok {
		return gateway.ErrServiceNotFound
	}
	delete(r.services, id)
	return nil
}

// newRequest builds a request context the way the HTTP layer does
func newRequest(method, target string, headers map[string]string, body []byte) gateway.RequestContext {
	return newRequestFrom("203.0.113.7:5555", method, target, headers, body)
}

// newRequestFrom is newRequest with the caller's socket address
func newRequestFrom(peer, method, target string, headers map[string]string, body []byte) gateway.RequestContext {
	u, err := url.Parse(target)
	if err != nil {
		panic(err)
	}
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return gateway.NewRequestContextBuilder("req-1", time.Now()).
		Method(method).
		Path(u.Path).
		Headers(h).
		Body(body).
		Query(u.Query()).
		ClientIP(peer).
		Build()
}
