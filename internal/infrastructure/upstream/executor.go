// Package upstream performs the outbound HTTP call of a gateway request.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/circuitbreaker"
	"github.com/xpgateway/backend/internal/infrastructure/config"
	"github.com/xpgateway/backend/internal/infrastructure/loadbalancer"
	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
)

const (
	DefaultTimeout           = 30 * time.Second
	DefaultResponseBodyLimit = 32 << 20
)

// hopHeaders are connection-scoped and never forwarded
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// BreakerReporter receives the outcome of every call
type BreakerReporter interface {
	Report(ctx context.Context, ticket circuitbreaker.Ticket, outcome circuitbreaker.Outcome)
}

// Executor sends transformed requests to service instances
type Executor struct {
	client         *http.Client
	breaker        BreakerReporter
	defaultTimeout time.Duration
	bodyLimit      int64
	logger         *zap.Logger
	metrics        *telemetry.GatewayMetrics
}

// Option configures an Executor
type Option func(*Executor)

// WithHTTPClient replaces the instrumented default client
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records upstream latency and errors
func WithMetrics(m *telemetry.GatewayMetrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor builds an executor with a pooled, otelhttp-instrumented client
func NewExecutor(cfg config.GatewayConfig, breaker BreakerReporter, opts ...Option) *Executor {
	e := &Executor{
		breaker:        breaker,
		defaultTimeout: cfg.DefaultTimeout,
		bodyLimit:      cfg.ResponseBodyLimit,
		logger:         zap.NewNop(),
	}
	if e.defaultTimeout <= 0 {
		e.defaultTimeout = DefaultTimeout
	}
	if e.bodyLimit <= 0 {
		e.bodyLimit = DefaultResponseBodyLimit
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = newClient(cfg)
	}
	e.logger = e.logger.Named("upstream")
	return e
}

func newClient(cfg config.GatewayConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		transport.MaxIdleConns = cfg.MaxIdleConns
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConns
	}
	if cfg.MaxConnsPerHost > 0 {
		transport.MaxConnsPerHost = cfg.MaxConnsPerHost
	}
	if cfg.DialTimeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}).DialContext
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
		// redirects are the caller's business
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Execute calls inst with req under timeout (the default when zero). The
// outcome is always reported to the breaker under ticket and folded into the
// instance's counters. Downstream 4xx responses are returned as is; 5xx and
// transport failures become ExecutionFailure (504 on timeout) and a client
// disconnect becomes ClientCancelled.
func (e *Executor) Execute(ctx context.Context, ticket circuitbreaker.Ticket, inst *loadbalancer.Instance, req gateway.TransformedRequest, timeout time.Duration) (gateway.Response, error) {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	inst.Acquire()

	resp, err := e.do(callCtx, inst, req)
	latency := time.Since(started)

	outcome := circuitbreaker.OutcomeSuccess
	status := resp.Status
	switch {
	case err != nil && ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = circuitbreaker.OutcomeCancelled
		status = gateway.StatusClientClosedRequest
		err = gateway.NewClientCancelled(err)
	case err != nil:
		outcome = circuitbreaker.OutcomeFailure
		timedOut := isTimeout(err) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
		gwErr := gateway.NewExecutionFailure("upstream "+ticket.Service+" request failed", timedOut, err)
		status = gwErr.HTTPStatus()
		err = gwErr
	case resp.Status >= http.StatusInternalServerError:
		outcome = circuitbreaker.OutcomeFailure
		err = gateway.NewExecutionFailure(
			fmt.Sprintf("upstream %s returned status %d", ticket.Service, resp.Status), false, nil)
	}

	inst.Release(latency, outcome != circuitbreaker.OutcomeFailure)
	if e.breaker != nil {
		e.breaker.Report(ctx, ticket, outcome)
	}
	e.metrics.RecordUpstream(ctx, ticket.Service, inst.ID, status, latency, outcome == circuitbreaker.OutcomeFailure)

	if err != nil {
		level := zap.WarnLevel
		if outcome == circuitbreaker.OutcomeCancelled {
			level = zap.DebugLevel
		}
		e.logger.Log(level, "Upstream call failed",
			zap.String("service", ticket.Service),
			zap.String("instance", inst.ID),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return gateway.Response{}, err
	}
	return resp, nil
}

func (e *Executor) do(ctx context.Context, inst *loadbalancer.Instance, req gateway.TransformedRequest) (gateway.Response, error) {
	target, err := TargetURL(inst.Address, req.Path, req.Query)
	if err != nil {
		return gateway.Response{}, err
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return gateway.Response{}, fmt.Errorf("build upstream request: %w", err)
	}
	for name, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	removeHopHeaders(httpReq.Header)
	if host := httpReq.Header.Get("Host"); host != "" {
		httpReq.Host = host
		httpReq.Header.Del("Host")
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return gateway.Response{}, err
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, e.bodyLimit+1))
	if err != nil {
		return gateway.Response{}, fmt.Errorf("read upstream response: %w", err)
	}
	if int64(len(payload)) > e.bodyLimit {
		return gateway.Response{}, fmt.Errorf("upstream response exceeds %d bytes", e.bodyLimit)
	}

	headers := httpResp.Header.Clone()
	removeHopHeaders(headers)
	headers.Del("Content-Length")
	return gateway.Response{Status: httpResp.StatusCode, Headers: headers, Body: payload}, nil
}

// TargetURL joins an instance address with the rewritten path and query
func TargetURL(address, path string, query map[string][]string) (string, error) {
	base, err := url.Parse(strings.TrimRight(address, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid instance address %q", address)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base.Path += path
	base.RawPath = ""
	if len(query) > 0 {
		base.RawQuery = url.Values(query).Encode()
	}
	return base.String(), nil
}

func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
