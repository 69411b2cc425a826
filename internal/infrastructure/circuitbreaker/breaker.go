// Package circuitbreaker isolates failing downstream services. Each service
// has a closed, open or half-open state evaluated lazily on every request;
// there are no timers.
package circuitbreaker

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/config"
	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
)

// State is the breaker state of one service
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Snapshot is the persisted breaker record of one service
type Snapshot struct {
	State         State         `json:"state"`
	Failures      int           `json:"failures"`
	LastFailure   time.Time     `json:"last_failure,omitzero"`
	NextAttempt   time.Time     `json:"next_attempt,omitzero"`
	Cooldown      time.Duration `json:"cooldown"`
	TrialInFlight bool          `json:"trial_in_flight"`
	TrialStarted  time.Time     `json:"trial_started,omitzero"`
}

func (s Snapshot) normalized() Snapshot {
	if s.State == "" {
		s.State = StateClosed
	}
	return s
}

// Settings are the thresholds of one service
type Settings struct {
	FailureThreshold  int
	Cooldown          time.Duration
	BackoffMultiplier float64
	MaxCooldown       time.Duration
}

// SettingsFromConfig converts the breaker config section
func SettingsFromConfig(cfg config.BreakerConfig) Settings {
	return Settings{
		FailureThreshold:  cfg.FailureThreshold,
		Cooldown:          cfg.Cooldown,
		BackoffMultiplier: cfg.BackoffMultiplier,
		MaxCooldown:       cfg.MaxCooldown,
	}
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 60 * time.Second
	}
	if s.BackoffMultiplier < 1 {
		s.BackoffMultiplier = 1
	}
	if s.MaxCooldown < s.Cooldown {
		s.MaxCooldown = max(s.Cooldown, 10*time.Minute)
	}
	return s
}

// nextCooldown applies the backoff multiplier after a failed trial
func (s Settings) nextCooldown(current time.Duration) time.Duration {
	if current <= 0 {
		return s.Cooldown
	}
	next := time.Duration(float64(current) * s.BackoffMultiplier)
	return min(next, s.MaxCooldown)
}

// Store persists snapshots. Update must apply fn atomically with respect to
// other updates of the same service; fn may be called more than once.
type Store interface {
	Get(ctx context.Context, service string) (Snapshot, error)
	Update(ctx context.Context, service string, fn func(Snapshot) Snapshot) (Snapshot, error)
	Delete(ctx context.Context, service string) error
}

// Outcome is what the executor reports for a call
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	// OutcomeCancelled means the caller went away; it never moves the state
	OutcomeCancelled
)

// Ticket is handed out by Allow and returned with the call's outcome
type Ticket struct {
	Service string
	// Trial marks the single probationary call of a half-open breaker
	Trial bool
}

// Breaker evaluates and updates per-service state in a Store
type Breaker struct {
	store     Store
	defaults  Settings
	overrides *xsync.Map[string, Settings]
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *telemetry.GatewayMetrics
	now       func() time.Time
}

// Option configures a Breaker
type Option func(*Breaker)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records transitions and rejections
func WithMetrics(m *telemetry.GatewayMetrics) Option {
	return func(b *Breaker) { b.metrics = m }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStoreTimeout bounds every store call
func WithStoreTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// New creates a breaker with default settings for every service
func New(store Store, defaults Settings, opts ...Option) *Breaker {
	b := &Breaker{
		store:     store,
		defaults:  defaults.withDefaults(),
		overrides: xsync.NewMap[string, Settings](),
		timeout:   100 * time.Millisecond,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Configure overrides threshold and cooldown for one service. Zero fields
// keep the defaults.
func (b *Breaker) Configure(service string, override gateway.BreakerSettings) {
	s := b.defaults
	if override.FailureThreshold > 0 {
		s.FailureThreshold = override.FailureThreshold
	}
	if override.Cooldown > 0 {
		s.Cooldown = override.Cooldown
		s.MaxCooldown = max(s.MaxCooldown, s.Cooldown)
	}
	b.overrides.Store(service, s)
}

// Remove forgets the service's settings and state
func (b *Breaker) Remove(ctx context.Context, service string) error {
	b.overrides.Delete(service)
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.store.Delete(ctx, service)
}

// SettingsFor returns the effective settings of a service
func (b *Breaker) SettingsFor(service string) Settings {
	if s, ok := b.overrides.Load(service); ok {
		return s
	}
	return b.defaults
}

// decision is the outcome of evaluating one snapshot for an incoming call
type decision struct {
	next       Snapshot
	ticket     Ticket
	rejected   bool
	retryAfter time.Duration
	// write is set when admitting the call changes the snapshot
	write bool
}

func decide(cur Snapshot, service string, s Settings, now time.Time) decision {
	d := decision{next: cur, ticket: Ticket{Service: service}}
	switch cur.State {
	case StateOpen:
		if now.Before(cur.NextAttempt) {
			d.rejected = true
			d.retryAfter = cur.NextAttempt.Sub(now)
			return d
		}
	case StateHalfOpen:
		// A trial that never reported back is presumed lost after one cooldown.
		stale := cur.TrialInFlight && now.Sub(cur.TrialStarted) >= max(cur.Cooldown, s.Cooldown)
		if cur.TrialInFlight && !stale {
			d.rejected = true
			d.retryAfter = time.Second
			return d
		}
	default:
		return d
	}
	d.next.State = StateHalfOpen
	d.next.TrialInFlight = true
	d.next.TrialStarted = now
	d.ticket.Trial = true
	d.write = true
	return d
}

// Allow decides whether a call to service may proceed. An open breaker
// returns a ServiceUnavailable error carrying the time until the next attempt.
// Closed and rejecting breakers are decided on a plain read; only claiming
// the half-open trial writes. An unreadable store admits the call.
func (b *Breaker) Allow(ctx context.Context, service string) (Ticket, error) {
	settings := b.SettingsFor(service)
	now := b.now()

	storeCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cur, err := b.store.Get(storeCtx, service)
	if err != nil {
		b.logger.Warn("Circuit breaker store unavailable, admitting request",
			zap.String("service", service),
			zap.Error(err),
		)
		return Ticket{Service: service}, nil
	}
	d := decide(cur.normalized(), service, settings, now)
	if !d.write {
		return b.admit(ctx, service, d)
	}

	var before State
	after, err := b.store.Update(storeCtx, service, func(cur Snapshot) Snapshot {
		cur = cur.normalized()
		before = cur.State
		d = decide(cur, service, settings, now)
		return d.next
	})
	if err != nil {
		return b.afterFailedClaim(ctx, service, settings, now, err)
	}
	b.observeTransition(ctx, service, before, after.State)
	return b.admit(ctx, service, d)
}

// afterFailedClaim settles a call whose trial claim could not be written.
// The breaker was not closed when read, so the call is only admitted if a
// fresh read shows another writer closed it.
func (b *Breaker) afterFailedClaim(ctx context.Context, service string, settings Settings, now time.Time, cause error) (Ticket, error) {
	b.logger.Debug("Circuit breaker trial claim failed",
		zap.String("service", service),
		zap.Error(cause),
	)
	readCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	d := decision{rejected: true, retryAfter: time.Second}
	if cur, err := b.store.Get(readCtx, service); err == nil {
		if fresh := decide(cur.normalized(), service, settings, now); !fresh.write {
			d = fresh
		}
	}
	return b.admit(ctx, service, d)
}

func (b *Breaker) admit(ctx context.Context, service string, d decision) (Ticket, error) {
	if d.rejected {
		b.metrics.RecordBreakerRejected(ctx, service)
		return Ticket{}, gateway.NewServiceUnavailable(gateway.CodeCircuitOpen,
			"service "+service+" is temporarily unavailable", d.retryAfter)
	}
	return d.ticket, nil
}

// Report feeds a call's outcome back into the state machine
func (b *Breaker) Report(ctx context.Context, ticket Ticket, outcome Outcome) {
	if ticket.Service == "" {
		return
	}
	settings := b.SettingsFor(ticket.Service)
	now := b.now()

	var before State
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	after, err := b.store.Update(storeCtx, ticket.Service, func(cur Snapshot) Snapshot {
		cur = cur.normalized()
		before = cur.State
		return apply(cur, ticket, outcome, settings, now)
	})
	if err != nil {
		b.logger.Warn("Failed to record circuit breaker outcome",
			zap.String("service", ticket.Service),
			zap.Error(err),
		)
		return
	}
	b.observeTransition(ctx, ticket.Service, before, after.State)
}

func apply(cur Snapshot, ticket Ticket, outcome Outcome, s Settings, now time.Time) Snapshot {
	if ticket.Trial {
		if cur.State != StateHalfOpen {
			return cur
		}
		switch outcome {
		case OutcomeSuccess:
			return Snapshot{State: StateClosed}
		case OutcomeFailure:
			cur.State = StateOpen
			cur.Failures++
			cur.LastFailure = now
			cur.Cooldown = s.nextCooldown(cur.Cooldown)
			cur.NextAttempt = now.Add(cur.Cooldown)
			cur.TrialInFlight = false
			cur.TrialStarted = time.Time{}
		default:
			cur.TrialInFlight = false
			cur.TrialStarted = time.Time{}
		}
		return cur
	}

	if cur.State != StateClosed {
		// Only the trial decides a half-open breaker; stragglers from before
		// the breaker opened are ignored.
		return cur
	}
	switch outcome {
	case OutcomeSuccess:
		cur.Failures = 0
	case OutcomeFailure:
		cur.Failures++
		cur.LastFailure = now
		if cur.Failures >= s.FailureThreshold {
			cur.State = StateOpen
			cur.Cooldown = s.Cooldown
			cur.NextAttempt = now.Add(s.Cooldown)
		}
	}
	return cur
}

func (b *Breaker) observeTransition(ctx context.Context, service string, from, to State) {
	if from == to || to == "" {
		return
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("service", service),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	b.metrics.RecordBreakerTransition(ctx, service, string(to))
}

// State returns the current snapshot of a service
func (b *Breaker) State(ctx context.Context, service string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	s, err := b.store.Get(ctx, service)
	if err != nil {
		return Snapshot{}, err
	}
	return s.normalized(), nil
}
