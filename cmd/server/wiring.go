package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	appgateway "github.com/xpgateway/backend/internal/application/gateway"
	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/analytics"
	"github.com/xpgateway/backend/internal/infrastructure/auth"
	"github.com/xpgateway/backend/internal/infrastructure/cache"
	"github.com/xpgateway/backend/internal/infrastructure/circuitbreaker"
	"github.com/xpgateway/backend/internal/infrastructure/config"
	"github.com/xpgateway/backend/internal/infrastructure/health"
	"github.com/xpgateway/backend/internal/infrastructure/loadbalancer"
	"github.com/xpgateway/backend/internal/infrastructure/logger"
	"github.com/xpgateway/backend/internal/infrastructure/migration"
	"github.com/xpgateway/backend/internal/infrastructure/persistence"
	"github.com/xpgateway/backend/internal/infrastructure/ratelimit"
	"github.com/xpgateway/backend/internal/infrastructure/scheduler"
	"github.com/xpgateway/backend/internal/infrastructure/storage"
	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
	"github.com/xpgateway/backend/internal/infrastructure/upstream"
	"github.com/xpgateway/backend/migrations"
)

// components is everything the HTTP layer needs, plus what has to be shut
// down when the process exits
type components struct {
	jwt       *auth.JWTService
	blacklist auth.TokenBlacklist
	limiter   *ratelimit.Limiter

	security  *appgateway.SecurityValidator
	routes    *appgateway.Router
	registry  *appgateway.Registry
	pipeline  *appgateway.Pipeline
	balancer  *loadbalancer.Balancer
	breaker   *circuitbreaker.Breaker
	cache     *cache.Layered
	recorder  *analytics.Recorder
	analytics *persistence.AnalyticsRepository
	scheduler *scheduler.Scheduler

	background []func(ctx context.Context)
	closers    []func(ctx context.Context) error
}

func (c *components) onClose(fn func(ctx context.Context) error) {
	c.closers = append(c.closers, fn)
}

func (c *components) runInBackground(fn func(ctx context.Context)) {
	c.background = append(c.background, fn)
}

// Close runs the closers in reverse order of registration
func (c *components) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openDatabase connects, installs the tracing and metrics plugins and brings
// the schema up to date
func openDatabase(cfg *config.Config, meters *telemetry.MeterProvider, log *zap.Logger) (*persistence.Database, error) {
	dbSystem := "postgresql"
	if cfg.Database.Driver == "sqlite" {
		dbSystem = "sqlite"
	}
	tracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        dbSystem,
	}, log)

	plugins := []func(*gorm.DB) error{tracing.Register}
	if meters.IsEnabled() {
		plugins = append(plugins, func(db *gorm.DB) error {
			_, err := telemetry.RegisterDBMetrics(db, meters.Meter("db"), cfg.Telemetry.DBSlowQueryThresh, log)
			return err
		})
	}

	db, err := persistence.NewDatabase(&cfg.Database, persistence.Options{
		Logger:        log,
		LogLevel:      logger.MapGormLogLevel(cfg.Log.Level),
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
		FullSQL:       cfg.Telemetry.DBLogFullSQL,
		Plugins:       plugins,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.Database.Driver == "sqlite":
		err = db.AutoMigrate()
	case cfg.Database.AutoMigrate:
		err = runMigrations(cfg, log)
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// runMigrations applies the embedded schema on a dedicated connection; the
// migrator closes the connection it is given
func runMigrations(cfg *config.Config, log *zap.Logger) error {
	sqlDB, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	m, err := migration.New(sqlDB, migrations.FS, log)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}

func buildComponents(ctx context.Context, cfg *config.Config, db *persistence.Database, rdb redis.UniversalClient, metrics *telemetry.GatewayMetrics, log *zap.Logger) (*components, error) {
	c := &components{}
	sweepers := map[string]func() int{}

	// Credentials
	c.jwt = auth.NewJWTService(cfg.JWT)
	users := persistence.NewUserRepository(db.DB)
	keys := persistence.NewAPIKeyRepository(db.DB, auth.NewKeyHasher(cfg.Auth.APIKeyPepper))
	if cfg.Auth.BlacklistEnabled {
		if rdb != nil {
			c.blacklist = auth.NewRedisTokenBlacklist(rdb)
		} else {
			mem := auth.NewInMemoryTokenBlacklist()
			c.blacklist = mem
			sweepers["token-blacklist"] = mem.Sweep
		}
	}

	userCache, err := auth.NewCredentialCache[*gateway.User](cfg.Auth.CredentialCacheMax, cfg.Auth.CredentialCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("user credential cache: %w", err)
	}
	keyCache, err := auth.NewCredentialCache[*gateway.APIKey](cfg.Auth.CredentialCacheMax, cfg.Auth.CredentialCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("api key credential cache: %w", err)
	}
	oauthCache, err := auth.NewCredentialCache[*auth.Introspection](cfg.Auth.CredentialCacheMax, cfg.Auth.CredentialCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("oauth credential cache: %w", err)
	}
	c.onClose(func(context.Context) error {
		userCache.Close()
		keyCache.Close()
		oauthCache.Close()
		return nil
	})

	authenticator := appgateway.NewAuthenticator(appgateway.AuthenticatorDeps{
		Tokens:       c.jwt,
		Users:        users,
		APIKeys:      keys,
		Blacklist:    c.blacklist,
		Introspector: auth.NewIntrospector(cfg.Auth.OAuthIntrospectURL, cfg.Auth.OAuthClientID, cfg.Auth.OAuthClientSecret, cfg.Auth.LookupTimeout),
		UserCache:    userCache,
		KeyCache:     keyCache,
		OAuthCache:   oauthCache,
	}, cfg.Auth, log)

	// Rate limiting
	var limiter appgateway.RateLimiter
	if cfg.RateLimit.Enabled {
		var store ratelimit.Store
		if cfg.RateLimit.Store == "redis" && rdb != nil {
			if !ratelimit.HasHashTag(cfg.RateLimit.KeyPrefix) {
				log.Warn("Rate limit key prefix has no hash tag; admission fails with CROSSSLOT on Redis Cluster",
					zap.String("key_prefix", cfg.RateLimit.KeyPrefix))
			}
			store = ratelimit.NewRedisStore(rdb, cfg.RateLimit.KeyPrefix)
		} else {
			mem := ratelimit.NewMemoryStore()
			maxWindow := longestWindow(cfg.RateLimit)
			sweepers["rate-limit-windows"] = func() int { return mem.Sweep(time.Now(), maxWindow) }
			store = mem
		}
		c.limiter = ratelimit.NewLimiter(store,
			ratelimit.WithTimeout(cfg.RateLimit.StoreTimeout),
			ratelimit.WithLogger(log),
			ratelimit.WithMetrics(metrics),
		)
		limiter = c.limiter
	}

	// Breaker, balancer and health
	var breakerStore circuitbreaker.Store = circuitbreaker.NewMemoryStore()
	if cfg.Breaker.Store == "redis" && rdb != nil {
		breakerStore = circuitbreaker.NewRedisStore(rdb)
	}
	c.breaker = circuitbreaker.New(breakerStore, circuitbreaker.SettingsFromConfig(cfg.Breaker),
		circuitbreaker.WithLogger(log),
		circuitbreaker.WithMetrics(metrics),
		circuitbreaker.WithStoreTimeout(cfg.Breaker.StoreTimeout),
	)
	c.balancer = loadbalancer.New(log)

	var checker appgateway.HealthChecker
	if cfg.Health.Enabled {
		monitor := health.NewMonitor(c.balancer, health.NewHTTPProber(), health.ConfigFrom(cfg.Health), log, metrics)
		checker = monitor
		c.runInBackground(func(ctx context.Context) {
			if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Health monitor stopped", zap.Error(err))
			}
		})
	}

	// Routes and services
	c.routes = appgateway.NewRouter(cfg.Gateway.RoutesFile, cfg.Gateway.DefaultTimeout, log)
	routesFile, err := c.routes.Reload()
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}
	c.registry = appgateway.NewRegistry(persistence.NewServiceRepository(db.DB), c.balancer, c.breaker, checker, log)
	if err := c.registry.Bootstrap(ctx, routesFile.ServiceConfigs()); err != nil {
		return nil, fmt.Errorf("bootstrap services: %w", err)
	}

	// Response cache
	c.cache, err = buildCache(ctx, cfg, rdb, metrics, log)
	if err != nil {
		return nil, err
	}
	var responseCache appgateway.ResponseCache
	if c.cache != nil {
		responseCache = c.cache
		c.runInBackground(func(ctx context.Context) {
			if err := c.cache.StartInvalidationSubscription(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("Cache invalidation subscription ended", zap.Error(err))
			}
		})
		c.onClose(func(context.Context) error { return c.cache.Close() })
	}

	// Analytics
	c.analytics = persistence.NewAnalyticsRepository(db.DB)
	var recorder appgateway.AnalyticsRecorder
	if cfg.Analytics.Enabled {
		opts := []analytics.RecorderOption{analytics.WithMetrics(metrics)}
		if cfg.Analytics.GeoIPDatabase != "" {
			geo, err := analytics.OpenGeoIP(cfg.Analytics.GeoIPDatabase)
			if err != nil {
				log.Warn("GeoIP database unavailable, countries will not be recorded", zap.Error(err))
			} else {
				opts = append(opts, analytics.WithCountryResolver(geo))
				c.onClose(func(context.Context) error { return geo.Close() })
			}
		}
		c.recorder = analytics.NewRecorder(c.analytics, cfg.Analytics, log, opts...)
		c.recorder.Start()
		recorder = c.recorder
		c.onClose(c.recorder.Close)
	}

	// Pipeline
	executor := upstream.NewExecutor(cfg.Gateway, c.breaker,
		upstream.WithLogger(log),
		upstream.WithMetrics(metrics),
	)
	c.security = appgateway.NewSecurityValidator(cfg.Security)
	c.pipeline = appgateway.NewPipeline(appgateway.PipelineDeps{
		Security:      c.security,
		Authenticator: authenticator,
		Limiter:       limiter,
		Policy:        ratelimit.PolicyFromConfig(cfg.RateLimit),
		Router:        c.routes,
		Cache:         responseCache,
		Transformer:   appgateway.NewTransformer(),
		Balancer:      c.balancer,
		Breaker:       c.breaker,
		Executor:      executor,
		Analytics:     recorder,
		Metrics:       metrics,
	}, log)

	// Scheduled jobs
	c.scheduler = scheduler.NewScheduler(log)
	jobs := []scheduler.Job{scheduler.SweepJob("", sweepers, log)}
	if cfg.Analytics.Enabled {
		roller := analytics.NewRoller(c.analytics, cfg.Analytics.RollupWindow, cfg.Analytics.Retention, log)
		jobs = append(jobs,
			scheduler.RollupJob(roller, cfg.Analytics.RollupSchedule),
			scheduler.RetentionJob(roller, cfg.Analytics.CleanupSchedule),
		)
	}
	for _, job := range jobs {
		if err := c.scheduler.Register(job); err != nil {
			return nil, fmt.Errorf("register job %s: %w", job.Name, err)
		}
	}
	if err := c.scheduler.Start(ctx); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}
	c.onClose(c.scheduler.Stop)

	return c, nil
}

func buildCache(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient, metrics *telemetry.GatewayMetrics, log *zap.Logger) (*cache.Layered, error) {
	opts := []cache.FactoryOption{
		cache.WithFactoryLogger(log),
		cache.WithFactoryMetrics(metrics),
	}
	if rdb != nil {
		opts = append(opts, cache.WithRedis(rdb))
	}
	if cfg.Cache.Enabled && cfg.Cache.DurableEnabled {
		objects, err := storage.NewS3ObjectStorage(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("durable cache storage: %w", err)
		}
		opts = append(opts, cache.WithObjectStore(objects))
	}
	layered, err := cache.NewFactory(cfg.Cache, opts...).Build()
	if err != nil {
		return nil, fmt.Errorf("build response cache: %w", err)
	}
	if layered != nil {
		log.Info("Response cache ready", zap.Strings("tiers", layered.Tiers()))
	}
	return layered, nil
}

// longestWindow bounds how long the in-memory limiter keeps timestamps
func longestWindow(cfg config.RateLimitConfig) time.Duration {
	longest := cfg.Global.Window
	for _, l := range []config.LimitConfig{cfg.User, cfg.IP, cfg.Endpoint} {
		longest = max(longest, l.Window)
	}
	for _, l := range cfg.Tiers {
		longest = max(longest, l.Window)
	}
	return longest
}
