package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	_ "github.com/xpgateway/backend/docs"
	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/analytics"
	"github.com/xpgateway/backend/internal/infrastructure/config"
	"github.com/xpgateway/backend/internal/infrastructure/logger"
	"github.com/xpgateway/backend/internal/infrastructure/persistence"
	"github.com/xpgateway/backend/internal/infrastructure/ratelimit"
	"github.com/xpgateway/backend/internal/infrastructure/telemetry"
	"github.com/xpgateway/backend/internal/interfaces/http/handler"
	"github.com/xpgateway/backend/internal/interfaces/http/middleware"
	"github.com/xpgateway/backend/internal/interfaces/http/router"
)

//	@title			xpgateway Admin API
//	@version		3.0.0
//	@description	Administration API of the cross-platform API gateway

//	@BasePath	/_gateway/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token with the admin scope. Format: "Bearer {token}"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	tracer, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    gateway.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meters, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    gateway.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	logs, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    gateway.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if core := logs.ZapCore(level); core != nil {
		// rebuild so every entry is also exported over OTLP
		if teed, err := logger.New(logCfg, logger.WithTee(core)); err == nil {
			log = teed
		}
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.ProfilingEnabled,
		ServerAddress:     cfg.Telemetry.PyroscopeURL,
		ApplicationName:   cfg.Telemetry.ServiceName,
		ProfileGoroutines: true,
		ProfileMutexes:    true,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if cfg.Telemetry.ProfilingEnabled && tracer.IsEnabled() {
		if err := tracer.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to link spans to profiles", zap.Error(err))
		}
	}

	log.Info("Starting gateway",
		zap.String("app", cfg.App.Name),
		zap.String("version", gateway.Version),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	gatewayMetrics, err := telemetry.NewGatewayMetrics(telemetry.GatewayMetricsConfig{
		Meter:  meters.Meter("xpgateway"),
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to register gateway metrics", zap.Error(err))
	}

	// Storage
	db, err := openDatabase(cfg, meters, log)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	log.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	var rdb redis.UniversalClient
	if cfg.Redis.Enabled {
		rdb, err = persistence.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	app, err := buildComponents(bgCtx, cfg, db, rdb, gatewayMetrics, log)
	if err != nil {
		log.Fatal("Failed to build gateway", zap.Error(err))
	}
	background, bgCtx := errgroup.WithContext(bgCtx)
	for _, run := range app.background {
		background.Go(func() error {
			run(bgCtx)
			return nil
		})
	}

	engine := newEngine(cfg, app, meters, log)
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	cancelBackground()
	_ = background.Wait()
	if err := app.Close(shutdownCtx); err != nil {
		log.Error("Error stopping gateway components", zap.Error(err))
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error("Error closing redis", zap.Error(err))
		}
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	if err := meters.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := logs.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// newEngine assembles the admin surface and the gateway catch-all
func newEngine(cfg *config.Config, app *components, meters *telemetry.MeterProvider, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	// an empty list trusts no proxy, so forwarding headers never replace the peer address
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Strings("trusted_proxies", cfg.HTTP.TrustedProxies), zap.Error(err))
	}

	profiling := middleware.DefaultProfilingConfig()
	profiling.Enabled = cfg.Telemetry.ProfilingEnabled

	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		logger.GinMiddleware(log),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		}),
		middleware.SpanErrorMarker(),
		middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
			MeterProvider: meters,
			Enabled:       meters.IsEnabled(),
		}),
		middleware.ProfilingWithConfig(profiling),
		middleware.CORSWithConfig(middleware.CORSConfigFrom(cfg.HTTP)),
	)

	adminAuth := middleware.AdminAuth(middleware.AdminAuthConfig{
		Verifier:      app.jwt,
		Blacklist:     app.blacklist,
		RequiredScope: cfg.JWT.AdminScope,
		Logger:        log,
	})
	adminChain := []gin.HandlerFunc{
		middleware.Secure(),
		middleware.BodyLimit(cfg.HTTP.AdminBodyLimit),
		adminAuth,
	}
	if app.limiter != nil {
		adminChain = append(adminChain, middleware.AdminRateLimit(middleware.AdminRateLimitConfig{
			Checker: app.limiter,
			Limit:   ratelimit.Limit(cfg.RateLimit.IP),
			Logger:  log,
		}))
	}

	// Handlers
	var counters handler.EndpointCounters = analytics.NewAggregates()
	var recorderStatus handler.RecorderStatus
	if app.recorder != nil {
		counters = app.recorder.Aggregates()
		recorderStatus = app.recorder
	}
	var invalidator handler.TagInvalidator
	if app.cache != nil {
		invalidator = app.cache
	}

	healthHandler := handler.NewHealthHandler(app.balancer, app.breaker, log)
	metricsHandler := handler.NewMetricsHandler(counters, recorderStatus, app.analytics, healthHandler, log)
	serviceHandler := handler.NewServiceHandler(app.registry, app.balancer)
	routeHandler := handler.NewRouteHandler(app.routes, app.registry, log)
	cacheHandler := handler.NewCacheHandler(invalidator)
	jobHandler := handler.NewJobHandler(app.scheduler)
	systemHandler := handler.NewSystemHandler(cfg.App.Name)
	gatewayHandler := handler.NewGatewayHandler(app.pipeline, app.security.MaxBodyBytes())

	r := router.NewRouter(engine,
		router.WithAPIVersion("v1"),
		router.WithAdminMiddleware(adminChain...),
	)

	// Public admin routes
	r.RegisterPublic(router.NewDomainGroup("health", "/health").
		GET("", healthHandler.Health))
	r.RegisterPublic(router.NewDomainGroup("swagger", "/swagger").
		GET("/*any", middleware.SwaggerProtection(cfg.Swagger, adminAuth), ginSwagger.WrapHandler(swaggerFiles.Handler)))

	// Admin API
	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)

	serviceRoutes := router.NewDomainGroup("services", "/services")
	serviceRoutes.POST("", serviceHandler.Register)
	serviceRoutes.GET("", serviceHandler.List)
	serviceRoutes.GET("/:id", serviceHandler.Get)
	serviceRoutes.DELETE("/:id", serviceHandler.Deregister)

	routeRoutes := router.NewDomainGroup("routes", "/routes")
	routeRoutes.GET("", routeHandler.List)
	routeRoutes.POST("/reload", routeHandler.Reload)

	metricsRoutes := router.NewDomainGroup("metrics", "/metrics")
	metricsRoutes.GET("", metricsHandler.Metrics)

	cacheRoutes := router.NewDomainGroup("cache", "/cache")
	cacheRoutes.POST("/invalidate", cacheHandler.Invalidate)

	jobRoutes := router.NewDomainGroup("jobs", "/jobs")
	jobRoutes.GET("", jobHandler.List)
	jobRoutes.POST("/:name/run", jobHandler.Run)

	r.Register(systemRoutes).
		Register(serviceRoutes).
		Register(routeRoutes).
		Register(metricsRoutes).
		Register(cacheRoutes).
		Register(jobRoutes)

	// Everything outside /_gateway goes through the pipeline
	r.Fallback(gatewayHandler.Proxy)
	r.Setup()

	return engine
}
