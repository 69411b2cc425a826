package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
)

// Defaults for the tier TTL rules
const (
	DefaultFastMaxTTL    = 60 * time.Second
	DefaultDurableMinTTL = time.Hour
	DefaultTierTimeout   = 250 * time.Millisecond
)

// Layered fronts the configured tiers. Lookups walk from the fastest tier
// down and back-fill faster tiers on a hit; stores write all eligible tiers
// at once. A nil *Layered is a disabled cache.
type Layered struct {
	fast        Tier
	distributed Tier
	durable     Tier
	tags        TagIndex
	invalidator *Invalidator

	fastMaxTTL    time.Duration
	durableMinTTL time.Duration
	tierTimeout   time.Duration

	origin  string
	logger  *zap.Logger
	metrics *telemetry.GatewayMetrics
	now     func() time.Time
}

// Option configures a Layered cache
type Option func(*Layered)

// WithDistributed adds the shared tier
func WithDistributed(t Tier) Option {
	return func(l *Layered) { l.distributed = t }
}

// WithDurable adds the long-lived tier
func WithDurable(t Tier) Option {
	return func(l *Layered) { l.durable = t }
}

// WithTagIndex replaces the per-process tag index
func WithTagIndex(x TagIndex) Option {
	return func(l *Layered) { l.tags = x }
}

// WithInvalidator broadcasts tag invalidations to other instances
func WithInvalidator(i *Invalidator) Option {
	return func(l *Layered) { l.invalidator = i }
}

// WithTTLRules overrides the fast-tier TTL cap and the durable-tier threshold
func WithTTLRules(fastMax, durableMin time.Duration) Option {
	return func(l *Layered) {
		if fastMax > 0 {
			l.fastMaxTTL = fastMax
		}
		if durableMin > 0 {
			l.durableMinTTL = durableMin
		}
	}
}

// WithTierTimeout bounds every single tier operation
func WithTierTimeout(d time.Duration) Option {
	return func(l *Layered) {
		if d > 0 {
			l.tierTimeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Layered) { l.logger = logger }
}

// WithMetrics records hit and miss counts per tier
func WithMetrics(m *telemetry.GatewayMetrics) Option {
	return func(l *Layered) { l.metrics = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Layered) { l.now = now }
}

// NewLayered creates a cache on top of the fast tier
func NewLayered(fast Tier, opts ...Option) *Layered {
	l := &Layered{
		fast:          fast,
		fastMaxTTL:    DefaultFastMaxTTL,
		durableMinTTL: DefaultDurableMinTTL,
		tierTimeout:   DefaultTierTimeout,
		origin:        uuid.NewString(),
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.tags == nil {
		l.tags = NewMemoryTagIndex()
	}
	return l
}

func (l *Layered) tiers() []Tier {
	tiers := make([]Tier, 0, 3)
	for _, t := range []Tier{l.fast, l.distributed, l.durable} {
		if t != nil {
			tiers = append(tiers, t)
		}
	}
	return tiers
}

// Lookup returns the entry for key and the name of the tier that served it
func (l *Layered) Lookup(ctx context.Context, key string) (*Entry, string, bool) {
	if l == nil {
		return nil, "", false
	}
	now := l.now()
	tiers := l.tiers()
	for i, t := range tiers {
		tctx, cancel := context.WithTimeout(ctx, l.tierTimeout)
		entry, ok, err := t.Get(tctx, key)
		cancel()
		if err != nil {
			l.logger.Warn("Cache tier read failed",
				zap.String("tier", t.Name()),
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		if ok && entry.Expired(now) {
			l.deleteFrom(ctx, t, key)
			ok = false
		}
		l.metrics.RecordCacheLookup(ctx, t.Name(), ok)
		if !ok {
			continue
		}
		l.backfill(ctx, tiers[:i], key, entry, now)
		return entry, t.Name(), true
	}
	return nil, "", false
}

func (l *Layered) backfill(ctx context.Context, faster []Tier, key string, entry *Entry, now time.Time) {
	remaining := entry.Remaining(now)
	if remaining <= 0 {
		return
	}
	for _, t := range faster {
		ttl := remaining
		if t == l.fast {
			ttl = min(ttl, l.fastMaxTTL)
		}
		tctx, cancel := context.WithTimeout(ctx, l.tierTimeout)
		err := t.Set(tctx, key, entry, ttl)
		cancel()
		if err != nil {
			l.logger.Warn("Cache back-fill failed",
				zap.String("tier", t.Name()),
				zap.String("key", key),
				zap.Error(err))
		}
	}
}

// Store writes entry to every eligible tier concurrently and indexes its
// tags. The fast tier keeps it for at most the fast TTL cap; the durable
// tier only sees entries that outlive the durable threshold.
func (l *Layered) Store(ctx context.Context, key string, entry *Entry, ttl time.Duration, tags []string) error {
	if l == nil || ttl <= 0 {
		return nil
	}
	now := l.now()
	stored := entry.Clone()
	stored.StoredAt = now
	stored.ExpiresAt = now.Add(ttl)
	stored.Tags = slices.Clone(tags)

	type write struct {
		tier Tier
		ttl  time.Duration
	}
	writes := []write{{l.fast, min(ttl, l.fastMaxTTL)}}
	if l.distributed != nil {
		writes = append(writes, write{l.distributed, ttl})
	}
	if l.durable != nil && ttl > l.durableMinTTL {
		writes = append(writes, write{l.durable, ttl})
	}

	errs := make([]error, len(writes)+1)
	var g errgroup.Group
	for i, w := range writes {
		if w.tier == nil {
			continue
		}
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(ctx, l.tierTimeout)
			defer cancel()
			if err := w.tier.Set(tctx, key, stored, w.ttl); err != nil {
				errs[i] = fmt.Errorf("%s tier: %w", w.tier.Name(), err)
			}
			return nil
		})
	}
	if len(tags) > 0 {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(ctx, l.tierTimeout)
			defer cancel()
			if err := l.tags.Add(tctx, key, tags, ttl); err != nil {
				errs[len(writes)] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// InvalidateTags evicts every entry stored under any of tags from all tiers
// and tells the other instances to drop them from their fast tiers. It
// returns the number of keys evicted.
func (l *Layered) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	if l == nil || len(tags) == 0 {
		return 0, nil
	}
	tctx, cancel := context.WithTimeout(ctx, l.tierTimeout)
	keys, err := l.tags.Keys(tctx, tags...)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("failed to resolve cache tags: %w", err)
	}

	var errs []error
	if len(keys) > 0 {
		for _, t := range l.tiers() {
			tctx, cancel := context.WithTimeout(ctx, l.tierTimeout)
			if err := t.Delete(tctx, keys...); err != nil {
				errs = append(errs, fmt.Errorf("%s tier: %w", t.Name(), err))
			}
			cancel()
		}
	}
	tctx, cancel = context.WithTimeout(ctx, l.tierTimeout)
	if err := l.tags.Remove(tctx, tags...); err != nil {
		errs = append(errs, err)
	}
	cancel()

	if l.invalidator != nil && len(keys) > 0 {
		tctx, cancel := context.WithTimeout(ctx, l.tierTimeout)
		err := l.invalidator.Publish(tctx, InvalidationMessage{Origin: l.origin, Tags: tags, Keys: keys})
		cancel()
		if err != nil {
			errs = append(errs, err)
		}
	}

	l.logger.Debug("Cache tags invalidated",
		zap.Strings("tags", tags),
		zap.Int("keys", len(keys)))
	return len(keys), errors.Join(errs...)
}

// HandleInvalidation applies a message published by another instance
func (l *Layered) HandleInvalidation(msg InvalidationMessage) {
	if l == nil || msg.Origin == l.origin || len(msg.Keys) == 0 {
		return
	}
	_ = l.fast.Delete(context.Background(), msg.Keys...)
}

// StartInvalidationSubscription blocks applying remote invalidations until
// ctx is done. It returns immediately without an invalidator.
func (l *Layered) StartInvalidationSubscription(ctx context.Context) error {
	if l == nil || l.invalidator == nil {
		return nil
	}
	return l.invalidator.Subscribe(ctx, l.HandleInvalidation)
}

func (l *Layered) deleteFrom(ctx context.Context, t Tier, key string) {
	tctx, cancel := context.WithTimeout(ctx, l.tierTimeout)
	defer cancel()
	_ = t.Delete(tctx, key)
}

// Tiers returns the names of the configured tiers, fastest first
func (l *Layered) Tiers() []string {
	if l == nil {
		return nil
	}
	tiers := l.tiers()
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = t.Name()
	}
	return names
}

// Close stops the invalidation subscription and the fast tier
func (l *Layered) Close() error {
	if l == nil {
		return nil
	}
	var err error
	if l.invalidator != nil {
		err = l.invalidator.Close()
	}
	if f, ok := l.fast.(interface{ Close() }); ok {
		f.Close()
	}
	return err
}
