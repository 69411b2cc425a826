// Package ratelimit implements sliding-window admission control across the
// global, user, ip, endpoint and tier dimensions.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
)

// Dimension is one axis a request is counted against
type Dimension string

const (
	DimensionGlobal   Dimension = "global"
	DimensionUser     Dimension = "user"
	DimensionIP       Dimension = "ip"
	DimensionEndpoint Dimension = "endpoint"
	DimensionTier     Dimension = "tier"
)

// ErrInvalidLimit is returned for a limit with a non-positive count or window
var ErrInvalidLimit = errors.New("ratelimit: limit requires positive requests and window")

// Limit is the number of requests admitted per trailing window
type Limit struct {
	Requests int
	Window   time.Duration
}

func (l Limit) valid() bool {
	return l.Requests > 0 && l.Window > 0
}

// Request asks for admission in one dimension
type Request struct {
	Dimension Dimension
	Key       string
	Limit     Limit
}

// StoreKey returns the window identifier, unique per dimension and key
func (r Request) StoreKey() string {
	return string(r.Dimension) + ":" + r.Key
}

// Result is the verdict for one dimension
type Result struct {
	Dimension  Dimension
	Key        string
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Decision is the combined verdict across every requested dimension.
// Denied points at the first dimension that refused the request.
type Decision struct {
	Allowed bool
	Results []Result
	Denied  *Result
}

// Tightest returns the allowed result with the fewest remaining requests
func (d Decision) Tightest() (Result, bool) {
	var best Result
	found := false
	for _, r := range d.Results {
		if !found || r.Remaining < best.Remaining {
			best = r
			found = true
		}
	}
	return best, found
}

// Store holds the sliding windows. Implementations must be safe for
// concurrent use and must commit Admit atomically: either every window
// records the request or none does.
type Store interface {
	// Check reports the state of one window without recording anything
	Check(ctx context.Context, req Request, now time.Time) (Result, error)
	// Admit checks every window and records now in all of them only if all allow
	Admit(ctx context.Context, reqs []Request, now time.Time) (Decision, error)
}

// Limiter applies a Store with a bounded timeout. Store failures fail open.
type Limiter struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
	metrics *telemetry.GatewayMetrics
	now     func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithTimeout bounds every store call
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records denials and store errors
func WithMetrics(m *telemetry.GatewayMetrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a limiter on store
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		timeout: 100 * time.Millisecond,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check inspects a single window without recording a request
func (l *Limiter) Check(ctx context.Context, dim Dimension, key string, limit Limit) (Result, error) {
	if !limit.valid() {
		return Result{}, ErrInvalidLimit
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.store.Check(ctx, Request{Dimension: dim, Key: key, Limit: limit}, l.now())
}

// Admit checks every request and commits them together. Requests with an
// invalid limit are skipped. A store error admits the request.
func (l *Limiter) Admit(ctx context.Context, reqs []Request) Decision {
	filtered := reqs[:0:0]
	for _, r := range reqs {
		if r.Limit.valid() {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		return Decision{Allowed: true}
	}

	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	decision, err := l.store.Admit(storeCtx, filtered, l.now())
	if err != nil {
		l.logger.Warn("Rate limit store unavailable, admitting request",
			zap.Int("dimensions", len(filtered)),
			zap.Error(err),
		)
		l.metrics.RecordRateLimitStoreError(ctx)
		return Decision{Allowed: true}
	}
	if !decision.Allowed && decision.Denied != nil {
		l.metrics.RecordRateLimited(ctx, string(decision.Denied.Dimension))
	}
	return decision
}

// retryAfter returns max(1s, oldest+window-now) rounded up to whole seconds
func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	d := oldest.Add(window).Sub(now)
	if d < time.Second {
		return time.Second
	}
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}
