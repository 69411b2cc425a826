package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/cache"
	"github.com/xpgateway/backend/internal/infrastructure/config"
	"github.com/xpgateway/backend/internal/infrastructure/loadbalancer"
	"github.com/xpgateway/backend/internal/infrastructure/logger"
	"github.com/xpgateway/backend/internal/infrastructure/ratelimit"
	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
)

// Response headers set by the pipeline
const (
	HeaderErrorID            = "X-Error-ID"
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderCache              = "X-Cache"
)

// RequestAuthenticator resolves the caller's principal
type RequestAuthenticator interface {
	Authenticate(ctx context.Context, rc gateway.RequestContext, route *gateway.RouteInfo) (gateway.AuthResult, error)
}

// PipelineDeps are the stages of the pipeline. Cache, Analytics and Metrics
// may be nil.
type PipelineDeps struct {
	Security      *SecurityValidator
	Authenticator RequestAuthenticator
	Limiter       RateLimiter
	Policy        ratelimit.Policy
	Router        RouteResolver
	Cache         ResponseCache
	Transformer   *Transformer
	Balancer      InstanceSelector
	Breaker       CircuitBreaker
	Executor      Executor
	Analytics     AnalyticsRecorder
	Metrics       *telemetry.GatewayMetrics
}

// Result is the outcome of one pipeline run. Response always carries the
// status and headers to send; on failure Err is set and the caller renders
// the error envelope as the body.
type Result struct {
	Response gateway.Response
	Err      *gateway.Error
	ErrorID  string
	CacheHit bool
	// Service and Instance are empty when the run ended before selection
	Service  string
	Instance string
}

// Pipeline runs every gateway request through the fixed stage order:
// security, authentication, rate limiting, routing, cache lookup, request
// transform, instance selection, breaker admission, execution, response
// transform and analytics.
type Pipeline struct {
	deps   PipelineDeps
	logger *zap.Logger
	now    func() time.Time
}

// NewPipeline creates a pipeline
func NewPipeline(deps PipelineDeps, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Transformer == nil {
		deps.Transformer = NewTransformer()
	}
	if deps.Security == nil {
		deps.Security = NewSecurityValidator(config.SecurityConfig{})
	}
	return &Pipeline{deps: deps, logger: logger.Named("pipeline"), now: time.Now}
}

// flow is the mutable state of one run
type flow struct {
	rc        gateway.RequestContext
	rate      *ratelimit.Result
	instance  *loadbalancer.Instance
	cacheHit  bool
	cacheTier string
}

// Handle runs rc through the pipeline. It records exactly one analytics
// record and never returns without a response.
func (p *Pipeline) Handle(ctx context.Context, rc gateway.RequestContext) Result {
	p.deps.Metrics.InFlight(ctx, 1)
	defer p.deps.Metrics.InFlight(ctx, -1)

	ctx, span := telemetry.StartSpan(ctx, "gateway.request",
		telemetry.WithAttribute(telemetry.SpanAttrRequestID, rc.RequestID),
		telemetry.WithAttribute(telemetry.SpanAttrAPIVersion, rc.APIVersion),
	)
	defer span.End()

	f := &flow{rc: rc}
	resp, err := p.run(ctx, f)
	if err != nil && !errors.Is(err, gateway.ErrClientCancelled) && errors.Is(ctx.Err(), context.Canceled) {
		err = gateway.NewClientCancelled(err)
	}

	var res Result
	if err != nil {
		res = p.failure(f, err)
		telemetry.RecordError(span, err)
	} else {
		res = Result{Response: resp, CacheHit: f.cacheHit}
		telemetry.SetOK(span)
	}
	p.setRateHeaders(res.Response.Headers, f.rate, res.Err)

	if f.instance != nil {
		res.Instance = f.instance.ID
	}
	if f.rc.Route != nil {
		res.Service = f.rc.Route.Service
		telemetry.SetAttributes(span,
			telemetry.SpanAttrRouteID, f.rc.Route.ID,
			telemetry.SpanAttrService, f.rc.Route.Service,
		)
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrCacheHit, f.cacheHit)

	p.finish(ctx, f, res)
	return res
}

func (p *Pipeline) run(ctx context.Context, f *flow) (gateway.Response, error) {
	if err := p.deps.Security.Validate(f.rc); err != nil {
		return gateway.Response{}, err
	}

	// The route is resolved up front so authentication can see its public
	// flag and scopes; a miss is only reported after rate limiting.
	route, routeErr := p.deps.Router.Resolve(f.rc)
	var routeRef *gateway.RouteInfo
	if routeErr == nil {
		routeRef = &route
	}

	authCtx, authSpan := telemetry.StartStageSpan(ctx, "auth")
	auth, err := p.deps.Authenticator.Authenticate(authCtx, f.rc, routeRef)
	authSpan.End()
	if err != nil {
		return gateway.Response{}, err
	}
	f.rc = f.rc.WithAuth(auth)

	if err := p.admit(ctx, f); err != nil {
		return gateway.Response{}, err
	}

	if routeErr != nil {
		return gateway.Response{}, routeErr
	}
	f.rc = f.rc.WithRoute(route)

	cacheable := p.deps.Cache != nil && route.Cache.Enabled && f.rc.Method == http.MethodGet
	var key string
	if cacheable {
		key = cache.Key(f.rc.Method, f.rc.Path, f.rc.Query, varyValues(f.rc, route.Cache.VaryHeaders))
		if entry, tier, ok := p.deps.Cache.Lookup(ctx, key); ok {
			f.cacheHit, f.cacheTier = true, tier
			out := p.deps.Transformer.TransformResponse(f.rc, gateway.Response{
				Status:  entry.Status,
				Headers: http.Header(entry.Headers),
				Body:    entry.Body,
			})
			out.Headers.Set(HeaderCache, "HIT")
			return out, nil
		}
	}

	treq, err := p.deps.Transformer.TransformRequest(f.rc)
	if err != nil {
		return gateway.Response{}, err
	}

	inst, err := p.deps.Balancer.Select(ctx, route.Service, f.rc.ClientIP, route.Strategy)
	if err != nil {
		return gateway.Response{}, err
	}
	f.instance = inst

	ticket, err := p.deps.Breaker.Allow(ctx, route.Service)
	if err != nil {
		return gateway.Response{}, err
	}

	execCtx, execSpan := telemetry.StartStageSpan(ctx, "execute",
		telemetry.WithAttribute(telemetry.SpanAttrService, route.Service),
		telemetry.WithAttribute(telemetry.SpanAttrInstance, inst.ID),
		telemetry.WithAttribute(telemetry.SpanAttrStrategy, string(route.Strategy)),
	)
	resp, err := p.deps.Executor.Execute(execCtx, ticket, inst, treq, route.Timeout)
	if err != nil {
		telemetry.RecordError(execSpan, err)
	}
	execSpan.End()
	if err != nil {
		return gateway.Response{}, err
	}

	out := p.deps.Transformer.TransformResponse(f.rc, resp)

	if cacheable {
		out.Headers.Set(HeaderCache, "MISS")
		if resp.Status < http.StatusBadRequest {
			entry := &cache.Entry{Status: resp.Status, Headers: resp.Headers, Body: resp.Body}
			if err := p.deps.Cache.Store(ctx, key, entry, route.Cache.EffectiveTTL(), route.Cache.Tags); err != nil {
				logger.WithLogger(ctx, p.logger).Warn("Failed to store cached response",
					zap.String("request_id", f.rc.RequestID),
					zap.String("route", route.ID),
					zap.Error(err))
			}
		}
	}
	if p.deps.Cache != nil && gateway.IsMutating(f.rc.Method) && resp.Status < http.StatusBadRequest && len(route.Cache.Tags) > 0 {
		if _, err := p.deps.Cache.InvalidateTags(ctx, route.Cache.Tags...); err != nil {
			logger.WithLogger(ctx, p.logger).Warn("Failed to invalidate cache tags",
				zap.String("request_id", f.rc.RequestID),
				zap.Strings("tags", route.Cache.Tags),
				zap.Error(err))
		}
	}
	return out, nil
}

// admit checks every rate-limit dimension of the caller at once
func (p *Pipeline) admit(ctx context.Context, f *flow) error {
	if p.deps.Limiter == nil {
		return nil
	}
	ctx, span := telemetry.StartStageSpan(ctx, "ratelimit")
	defer span.End()

	auth := f.rc.Auth
	decision := p.deps.Limiter.Admit(ctx, p.deps.Policy.Requests(ratelimit.Subject{
		Anonymous: auth.IsAnonymous(),
		Principal: auth.UserID,
		IP:        f.rc.ClientIP,
		Method:    f.rc.Method,
		Path:      f.rc.Path,
		Tier:      auth.Tier,
	}))
	if !decision.Allowed && decision.Denied != nil {
		denied := *decision.Denied
		f.rate = &denied
		return gateway.NewTooManyRequests("rate limit exceeded ("+string(denied.Dimension)+")", denied.RetryAfter)
	}
	if tightest, ok := decision.Tightest(); ok {
		f.rate = &tightest
	}
	return nil
}

func (p *Pipeline) failure(f *flow, err error) Result {
	gwErr := gateway.AsError(err)
	errorID := NewErrorID()

	h := http.Header{}
	h.Set(HeaderErrorID, errorID)
	h.Set(HeaderGatewayVersion, gateway.Version)
	h.Set(HeaderRequestID, f.rc.RequestID)
	if secs := gwErr.RetryAfterSeconds(); secs > 0 {
		h.Set(HeaderRetryAfter, strconv.Itoa(secs))
	}
	return Result{
		Response: gateway.Response{Status: gwErr.HTTPStatus(), Headers: h},
		Err:      gwErr,
		ErrorID:  errorID,
	}
}

func (p *Pipeline) setRateHeaders(h http.Header, rate *ratelimit.Result, err *gateway.Error) {
	if rate == nil || h == nil {
		return
	}
	remaining := rate.Remaining
	if err != nil && errors.Is(err, gateway.ErrTooManyRequests) {
		remaining = 0
	}
	h.Set(HeaderRateLimitLimit, strconv.Itoa(rate.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(max(remaining, 0)))
}

// finish records the analytics row, the request metrics and the error log
func (p *Pipeline) finish(ctx context.Context, f *flow, res Result) {
	elapsed := p.now().Sub(f.rc.ReceivedAt)
	rec := gateway.AnalyticsRecord{
		RequestID:    f.rc.RequestID,
		Timestamp:    f.rc.ReceivedAt,
		Method:       f.rc.Method,
		Path:         f.rc.Path,
		Endpoint:     f.rc.Method + " " + f.rc.Path,
		ClientIP:     f.rc.ClientIP,
		UserAgent:    f.rc.UserAgent,
		APIVersion:   f.rc.APIVersion,
		Status:       res.Response.Status,
		Outcome:      gateway.OutcomeSuccess,
		ResponseTime: elapsed,
		RequestSize:  int64(len(f.rc.Body)),
		ResponseSize: int64(len(res.Response.Body)),
		CacheHit:     f.cacheHit,
	}
	if f.rc.Auth != nil {
		rec.UserID = f.rc.Auth.UserID
		rec.AuthKind = f.rc.Auth.Kind
	}
	if f.rc.Route != nil {
		rec.Endpoint = f.rc.Route.Endpoint()
		rec.Service = f.rc.Route.Service
	}
	if f.instance != nil {
		rec.InstanceID = f.instance.ID
	}
	if res.Err != nil {
		rec.ErrorCode = res.Err.Code
		rec.ErrorID = res.ErrorID
		rec.Outcome = gateway.OutcomeError
		if errors.Is(res.Err, gateway.ErrClientCancelled) {
			rec.Outcome = gateway.OutcomeClientCancelled
		}
	}

	// the client may be gone; the record is still owed
	recordCtx := context.WithoutCancel(ctx)
	if p.deps.Analytics != nil {
		if err := p.deps.Analytics.Record(recordCtx, rec); err != nil {
			p.logger.Debug("Analytics record dropped", zap.String("request_id", rec.RequestID), zap.Error(err))
		}
	}
	p.deps.Metrics.RecordRequest(recordCtx, telemetry.RequestObservation{
		Method:    rec.Method,
		Service:   rec.Service,
		Route:     rec.Endpoint,
		Status:    rec.Status,
		Outcome:   string(rec.Outcome),
		ErrorCode: rec.ErrorCode,
		CacheHit:  rec.CacheHit,
		Duration:  elapsed,
	})

	if res.Err == nil {
		if ce := p.logger.Check(zap.DebugLevel, "Request completed"); ce != nil {
			ce.Write(
				zap.String("request_id", rec.RequestID),
				zap.String("endpoint", rec.Endpoint),
				zap.Int("status", rec.Status),
				zap.Bool("cache_hit", rec.CacheHit),
				zap.String("cache_tier", f.cacheTier),
				zap.Duration("duration", elapsed),
			)
		}
		return
	}

	fields := []zap.Field{
		zap.String("request_id", rec.RequestID),
		zap.String("error_id", res.ErrorID),
		zap.String("code", res.Err.Code),
		zap.Int("status", rec.Status),
		zap.String("method", rec.Method),
		zap.String("path", rec.Path),
		zap.String("client_ip", rec.ClientIP),
		zap.Duration("duration", elapsed),
	}
	if res.Err.Cause != nil {
		fields = append(fields, zap.NamedError("cause", res.Err.Cause))
	}
	log := logger.WithLogger(recordCtx, p.logger)
	if rec.Status >= http.StatusInternalServerError {
		log.Error(res.Err.Message, fields...)
	} else {
		log.Warn(res.Err.Message, fields...)
	}
}

func varyValues(rc gateway.RequestContext, names []string) map[string]string {
	if len(names) == 0 {
		return nil
	}
	vary := make(map[string]string, len(names))
	for _, name := range names {
		vary[name] = rc.Header(name)
	}
	return vary
}

// NewRequestID returns incoming when it looks like a usable id and a fresh
// UUID otherwise
func NewRequestID(incoming string) string {
	incoming = strings.TrimSpace(incoming)
	if incoming != "" && len(incoming) <= 128 && !strings.ContainsAny(incoming, " \t\r\n") {
		return incoming
	}
	return uuid.NewString()
}

// NewErrorID returns a unique error id of the form err_<hex>
func NewErrorID() string {
	id := uuid.New()
	return "err_" + strings.ReplaceAll(id.String(), "-", "")
}
