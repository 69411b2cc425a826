package cache

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xpgateway/backend/internal/infrastructure/config"
	"github.com/xpgateway/backend/internal/infrastructure/storage"
	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
)

// Factory builds the layered cache from configuration
type Factory struct {
	cfg     config.CacheConfig
	redis   redis.UniversalClient
	objects storage.ObjectStore
	logger  *zap.Logger
	metrics *telemetry.GatewayMetrics
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithRedis provides the client for the distributed tier, the shared tag
// index and pub/sub invalidation
func WithRedis(client redis.UniversalClient) FactoryOption {
	return func(f *Factory) { f.redis = client }
}

// WithObjectStore provides the durable tier backend
func WithObjectStore(store storage.ObjectStore) FactoryOption {
	return func(f *Factory) { f.objects = store }
}

// WithFactoryLogger sets the logger handed to the cache
func WithFactoryLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// WithFactoryMetrics sets the metrics handed to the cache
func WithFactoryMetrics(m *telemetry.GatewayMetrics) FactoryOption {
	return func(f *Factory) { f.metrics = m }
}

// NewFactory creates a new factory
func NewFactory(cfg config.CacheConfig, opts ...FactoryOption) *Factory {
	f := &Factory{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build creates the cache. It returns nil when caching is disabled. Tiers
// whose backend is missing are skipped with a warning unless the config
// asks for them explicitly.
func (f *Factory) Build() (*Layered, error) {
	if !f.cfg.Enabled {
		f.logger.Info("Response cache disabled")
		return nil, nil
	}

	fast, err := NewFastTier(f.cfg.FastCapacity)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithTTLRules(f.cfg.FastMaxTTL, f.cfg.DurableMinTTL),
		WithTierTimeout(f.cfg.TierTimeout),
		WithLogger(f.logger),
		WithMetrics(f.metrics),
	}

	if f.cfg.DistributedEnabled {
		if f.redis == nil {
			fast.Close()
			return nil, errors.New("distributed cache tier requires Redis")
		}
		opts = append(opts,
			WithDistributed(NewRedisTier(f.redis, f.cfg.KeyPrefix)),
			WithTagIndex(NewRedisTagIndex(f.redis, f.cfg.KeyPrefix)),
			WithInvalidator(NewInvalidator(f.redis, f.cfg.InvalidationChannel, f.logger)),
		)
	} else if f.redis != nil {
		// Tags still need to be shared across instances.
		opts = append(opts,
			WithTagIndex(NewRedisTagIndex(f.redis, f.cfg.KeyPrefix)),
			WithInvalidator(NewInvalidator(f.redis, f.cfg.InvalidationChannel, f.logger)),
		)
	} else {
		f.logger.Warn("Redis unavailable, cache tags are local to this instance. " +
			"Invalidations will not reach other gateway instances.")
	}

	if f.cfg.DurableEnabled {
		if f.objects == nil {
			fast.Close()
			return nil, errors.New("durable cache tier requires an object store")
		}
		opts = append(opts, WithDurable(NewDurableTier(f.objects)))
	}

	l := NewLayered(fast, opts...)
	f.logger.Info("Response cache ready", zap.Strings("tiers", l.Tiers()))
	return l, nil
}
