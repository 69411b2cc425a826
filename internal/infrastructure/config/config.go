package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	zxcvbn "github.com/ccojocar/zxcvbn-go"
	"github.com/spf13/viper"
)

// Config holds all gateway configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Auth      AuthConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Security  SecurityConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Breaker   BreakerConfig
	Health    HealthConfig
	Cache     CacheConfig
	Storage   StorageConfig
	Analytics AnalyticsConfig
	Swagger   SwaggerConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	SQLitePath      string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	AutoMigrate     bool // apply the embedded migrations on startup
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds bearer token verification settings
type JWTConfig struct {
	Secret     string
	Issuer     string
	Leeway     time.Duration
	AdminScope string // scope required on the admin API
}

// AuthConfig holds credential lookup settings
type AuthConfig struct {
	PublicPaths        []string      // path prefixes that admit anonymous callers
	LookupTimeout      time.Duration // bound on every credential lookup
	CredentialCacheTTL time.Duration
	CredentialCacheMax int
	APIKeyPepper       string // HMAC key used when hashing API keys
	BlacklistEnabled   bool
	OAuthIntrospectURL string
	OAuthClientID      string
	OAuthClientSecret  string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	AdminBodyLimit   int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
}

// SecurityConfig holds inbound request validation rules
type SecurityConfig struct {
	MaxBodyBytes        int64
	AllowedContentTypes []string
	SupportedVersions   []string
}

// GatewayConfig holds routing and upstream settings
type GatewayConfig struct {
	RoutesFile        string
	DefaultTimeout    time.Duration
	MaxIdleConns      int
	MaxConnsPerHost   int
	DialTimeout       time.Duration
	ResponseBodyLimit int64
}

// LimitConfig is one sliding-window allowance
type LimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// RateLimitConfig holds limiter settings for every dimension
type RateLimitConfig struct {
	Enabled      bool
	Store        string // memory, redis
	StoreTimeout time.Duration
	KeyPrefix    string
	Global       LimitConfig
	User         LimitConfig
	IP           LimitConfig
	Endpoint     LimitConfig
	DefaultTier  string
	Tiers        map[string]LimitConfig
}

// BreakerConfig holds circuit breaker defaults
type BreakerConfig struct {
	Store             string // memory, redis
	StoreTimeout      time.Duration
	FailureThreshold  int
	Cooldown          time.Duration
	BackoffMultiplier float64
	MaxCooldown       time.Duration
}

// HealthConfig holds health monitor settings
type HealthConfig struct {
	Enabled           bool
	Interval          time.Duration
	Timeout           time.Duration
	FailureThreshold  int
	RecoveryThreshold int
	Concurrency       int
	DefaultPath       string
}

// CacheConfig holds response cache settings
type CacheConfig struct {
	Enabled             bool
	FastCapacity        int
	FastMaxTTL          time.Duration
	DistributedEnabled  bool
	DurableEnabled      bool
	DurableMinTTL       time.Duration
	KeyPrefix           string
	TierTimeout         time.Duration
	InvalidationChannel string
}

// StorageConfig holds S3-compatible object storage settings
type StorageConfig struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	Prefix       string
}

// AnalyticsConfig holds analytics recorder settings
type AnalyticsConfig struct {
	Enabled         bool
	QueueSize       int
	BatchSize       int
	FlushInterval   time.Duration
	EnqueueTimeout  time.Duration
	WriteTimeout    time.Duration
	RollupSchedule  string
	RollupWindow    time.Duration
	Retention       time.Duration
	CleanupSchedule string
	GeoIPDatabase   string
}

// SwaggerConfig holds Swagger documentation endpoint configuration
type SwaggerConfig struct {
	Enabled     bool     // Whether to enable Swagger endpoint
	RequireAuth bool     // Require authentication to access Swagger
	AllowedIPs  []string // IP whitelist (empty = allow all)
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
	// Continuous profiling
	ProfilingEnabled bool
	PyroscopeURL     string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with GW_ prefix (e.g., GW_REDIS_HOST)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("GW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var tiers map[string]LimitConfig
	if err := v.UnmarshalKey("rate_limit.tiers", &tiers); err != nil {
		return nil, fmt.Errorf("error reading rate_limit.tiers: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Issuer:     v.GetString("jwt.issuer"),
			Leeway:     v.GetDuration("jwt.leeway"),
			AdminScope: v.GetString("jwt.admin_scope"),
		},
		Auth: AuthConfig{
			PublicPaths:        v.GetStringSlice("auth.public_paths"),
			LookupTimeout:      v.GetDuration("auth.lookup_timeout"),
			CredentialCacheTTL: v.GetDuration("auth.credential_cache_ttl"),
			CredentialCacheMax: v.GetInt("auth.credential_cache_max"),
			APIKeyPepper:       v.GetString("auth.api_key_pepper"),
			BlacklistEnabled:   v.GetBool("auth.blacklist_enabled"),
			OAuthIntrospectURL: v.GetString("auth.oauth_introspect_url"),
			OAuthClientID:      v.GetString("auth.oauth_client_id"),
			OAuthClientSecret:  v.GetString("auth.oauth_client_secret"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			AdminBodyLimit:   v.GetInt64("http.admin_body_limit"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Security: SecurityConfig{
			MaxBodyBytes:        v.GetInt64("security.max_body_bytes"),
			AllowedContentTypes: v.GetStringSlice("security.allowed_content_types"),
			SupportedVersions:   v.GetStringSlice("security.supported_versions"),
		},
		Gateway: GatewayConfig{
			RoutesFile:        v.GetString("gateway.routes_file"),
			DefaultTimeout:    v.GetDuration("gateway.default_timeout"),
			MaxIdleConns:      v.GetInt("gateway.max_idle_conns"),
			MaxConnsPerHost:   v.GetInt("gateway.max_conns_per_host"),
			DialTimeout:       v.GetDuration("gateway.dial_timeout"),
			ResponseBodyLimit: v.GetInt64("gateway.response_body_limit"),
		},
		RateLimit: RateLimitConfig{
			Enabled:      v.GetBool("rate_limit.enabled"),
			Store:        v.GetString("rate_limit.store"),
			StoreTimeout: v.GetDuration("rate_limit.store_timeout"),
			KeyPrefix:    v.GetString("rate_limit.key_prefix"),
			Global:       limitFrom(v, "rate_limit.global"),
			User:         limitFrom(v, "rate_limit.user"),
			IP:           limitFrom(v, "rate_limit.ip"),
			Endpoint:     limitFrom(v, "rate_limit.endpoint"),
			DefaultTier:  v.GetString("rate_limit.default_tier"),
			Tiers:        tiers,
		},
		Breaker: BreakerConfig{
			Store:             v.GetString("breaker.store"),
			StoreTimeout:      v.GetDuration("breaker.store_timeout"),
			FailureThreshold:  v.GetInt("breaker.failure_threshold"),
			Cooldown:          v.GetDuration("breaker.cooldown"),
			BackoffMultiplier: v.GetFloat64("breaker.backoff_multiplier"),
			MaxCooldown:       v.GetDuration("breaker.max_cooldown"),
		},
		Health: HealthConfig{
			Enabled:           v.GetBool("health.enabled"),
			Interval:          v.GetDuration("health.interval"),
			Timeout:           v.GetDuration("health.timeout"),
			FailureThreshold:  v.GetInt("health.failure_threshold"),
			RecoveryThreshold: v.GetInt("health.recovery_threshold"),
			Concurrency:       v.GetInt("health.concurrency"),
			DefaultPath:       v.GetString("health.default_path"),
		},
		Cache: CacheConfig{
			Enabled:             v.GetBool("cache.enabled"),
			FastCapacity:        v.GetInt("cache.fast_capacity"),
			FastMaxTTL:          v.GetDuration("cache.fast_max_ttl"),
			DistributedEnabled:  v.GetBool("cache.distributed_enabled"),
			DurableEnabled:      v.GetBool("cache.durable_enabled"),
			DurableMinTTL:       v.GetDuration("cache.durable_min_ttl"),
			KeyPrefix:           v.GetString("cache.key_prefix"),
			TierTimeout:         v.GetDuration("cache.tier_timeout"),
			InvalidationChannel: v.GetString("cache.invalidation_channel"),
		},
		Storage: StorageConfig{
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			Prefix:       v.GetString("storage.prefix"),
		},
		Analytics: AnalyticsConfig{
			Enabled:         v.GetBool("analytics.enabled"),
			QueueSize:       v.GetInt("analytics.queue_size"),
			BatchSize:       v.GetInt("analytics.batch_size"),
			FlushInterval:   v.GetDuration("analytics.flush_interval"),
			EnqueueTimeout:  v.GetDuration("analytics.enqueue_timeout"),
			WriteTimeout:    v.GetDuration("analytics.write_timeout"),
			RollupSchedule:  v.GetString("analytics.rollup_schedule"),
			RollupWindow:    v.GetDuration("analytics.rollup_window"),
			Retention:       v.GetDuration("analytics.retention"),
			CleanupSchedule: v.GetString("analytics.cleanup_schedule"),
			GeoIPDatabase:   v.GetString("analytics.geoip_database"),
		},
		Swagger: SwaggerConfig{
			Enabled:     v.GetBool("swagger.enabled"),
			RequireAuth: v.GetBool("swagger.require_auth"),
			AllowedIPs:  v.GetStringSlice("swagger.allowed_ips"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			PyroscopeURL:      v.GetString("telemetry.pyroscope_url"),
		},
	}

	// Booleans that default to true cannot be told apart from an explicit false
	// after GetBool, so they are resolved with IsSet.
	setDefaultTrue(v, "rate_limit.enabled", &cfg.RateLimit.Enabled)
	setDefaultTrue(v, "health.enabled", &cfg.Health.Enabled)
	setDefaultTrue(v, "cache.enabled", &cfg.Cache.Enabled)
	setDefaultTrue(v, "analytics.enabled", &cfg.Analytics.Enabled)

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func limitFrom(v *viper.Viper, key string) LimitConfig {
	return LimitConfig{
		Requests: v.GetInt(key + ".requests"),
		Window:   v.GetDuration(key + ".window"),
	}
}

func setDefaultTrue(v *viper.Viper, key string, dst *bool) {
	if !v.IsSet(key) {
		*dst = true
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "xpgateway"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "gateway.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "gateway"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "xpgateway"
	}
	if cfg.JWT.AdminScope == "" {
		cfg.JWT.AdminScope = "gateway:admin"
	}
	if cfg.Auth.LookupTimeout == 0 {
		cfg.Auth.LookupTimeout = 2 * time.Second
	}
	if cfg.Auth.CredentialCacheTTL == 0 {
		cfg.Auth.CredentialCacheTTL = 30 * time.Second
	}
	if cfg.Auth.CredentialCacheMax == 0 {
		cfg.Auth.CredentialCacheMax = 10000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.AdminBodyLimit == 0 {
		cfg.HTTP.AdminBodyLimit = 1 << 20
	}
	// CORS origins are not given a default; an empty list allows no cross-origin requests.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID", "X-API-Key"}
	}
	if cfg.Security.MaxBodyBytes == 0 {
		cfg.Security.MaxBodyBytes = 10 << 20 // 10MB
	}
	if len(cfg.Security.AllowedContentTypes) == 0 {
		cfg.Security.AllowedContentTypes = []string{
			"application/json",
			"application/x-www-form-urlencoded",
			"multipart/form-data",
		}
	}
	if len(cfg.Security.SupportedVersions) == 0 {
		cfg.Security.SupportedVersions = []string{"v1", "v2", "v3"}
	}
	if cfg.Gateway.RoutesFile == "" {
		cfg.Gateway.RoutesFile = "routes.yaml"
	}
	if cfg.Gateway.DefaultTimeout == 0 {
		cfg.Gateway.DefaultTimeout = 30 * time.Second
	}
	if cfg.Gateway.MaxIdleConns == 0 {
		cfg.Gateway.MaxIdleConns = 512
	}
	if cfg.Gateway.MaxConnsPerHost == 0 {
		cfg.Gateway.MaxConnsPerHost = 128
	}
	if cfg.Gateway.DialTimeout == 0 {
		cfg.Gateway.DialTimeout = 5 * time.Second
	}
	if cfg.Gateway.ResponseBodyLimit == 0 {
		cfg.Gateway.ResponseBodyLimit = 32 << 20
	}
	applyRateLimitDefaults(&cfg.RateLimit)
	if cfg.Breaker.Store == "" {
		cfg.Breaker.Store = "memory"
	}
	if cfg.Breaker.StoreTimeout == 0 {
		cfg.Breaker.StoreTimeout = 200 * time.Millisecond
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = 60 * time.Second
	}
	if cfg.Breaker.BackoffMultiplier == 0 {
		cfg.Breaker.BackoffMultiplier = 1.0
	}
	if cfg.Breaker.MaxCooldown == 0 {
		cfg.Breaker.MaxCooldown = 10 * time.Minute
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = 30 * time.Second
	}
	if cfg.Health.Timeout == 0 {
		cfg.Health.Timeout = 10 * time.Second
	}
	if cfg.Health.FailureThreshold == 0 {
		cfg.Health.FailureThreshold = 3
	}
	if cfg.Health.RecoveryThreshold == 0 {
		cfg.Health.RecoveryThreshold = 2
	}
	if cfg.Health.Concurrency == 0 {
		cfg.Health.Concurrency = 16
	}
	if cfg.Health.DefaultPath == "" {
		cfg.Health.DefaultPath = "/health"
	}
	if cfg.Cache.FastCapacity == 0 {
		cfg.Cache.FastCapacity = 10000
	}
	if cfg.Cache.FastMaxTTL == 0 {
		cfg.Cache.FastMaxTTL = 60 * time.Second
	}
	if cfg.Cache.DurableMinTTL == 0 {
		cfg.Cache.DurableMinTTL = time.Hour
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "gw:cache:"
	}
	if cfg.Cache.TierTimeout == 0 {
		cfg.Cache.TierTimeout = 250 * time.Millisecond
	}
	if cfg.Cache.InvalidationChannel == "" {
		cfg.Cache.InvalidationChannel = "gw:cache:invalidate"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "gateway-cache/"
	}
	if cfg.Analytics.QueueSize == 0 {
		cfg.Analytics.QueueSize = 10000
	}
	if cfg.Analytics.BatchSize == 0 {
		cfg.Analytics.BatchSize = 200
	}
	if cfg.Analytics.FlushInterval == 0 {
		cfg.Analytics.FlushInterval = 2 * time.Second
	}
	if cfg.Analytics.EnqueueTimeout == 0 {
		cfg.Analytics.EnqueueTimeout = 50 * time.Millisecond
	}
	if cfg.Analytics.WriteTimeout == 0 {
		cfg.Analytics.WriteTimeout = 5 * time.Second
	}
	if cfg.Analytics.RollupSchedule == "" {
		cfg.Analytics.RollupSchedule = "*/5 * * * *"
	}
	if cfg.Analytics.RollupWindow == 0 {
		cfg.Analytics.RollupWindow = 5 * time.Minute
	}
	if cfg.Analytics.Retention == 0 {
		cfg.Analytics.Retention = 30 * 24 * time.Hour
	}
	if cfg.Analytics.CleanupSchedule == "" {
		cfg.Analytics.CleanupSchedule = "0 3 * * *"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "xpgateway"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.PyroscopeURL == "" {
		cfg.Telemetry.PyroscopeURL = "http://localhost:4040"
	}
}

func applyRateLimitDefaults(rl *RateLimitConfig) {
	if rl.Store == "" {
		rl.Store = "memory"
	}
	if rl.StoreTimeout == 0 {
		rl.StoreTimeout = 200 * time.Millisecond
	}
	if rl.KeyPrefix == "" {
		rl.KeyPrefix = "{gw:rl}:"
	}
	defaultLimit(&rl.Global, 10000, time.Hour)
	defaultLimit(&rl.User, 1000, time.Hour)
	defaultLimit(&rl.IP, 200, time.Hour)
	defaultLimit(&rl.Endpoint, 500, time.Hour)
	if rl.DefaultTier == "" {
		rl.DefaultTier = "free"
	}
	if len(rl.Tiers) == 0 {
		rl.Tiers = map[string]LimitConfig{
			"free":       {Requests: 1000, Window: time.Hour},
			"basic":      {Requests: 5000, Window: time.Hour},
			"premium":    {Requests: 20000, Window: time.Hour},
			"enterprise": {Requests: 100000, Window: time.Hour},
		}
	}
	for name, tier := range rl.Tiers {
		defaultLimit(&tier, 1000, time.Hour)
		rl.Tiers[name] = tier
	}
}

func defaultLimit(l *LimitConfig, requests int, window time.Duration) {
	if l.Requests == 0 {
		l.Requests = requests
	}
	if l.Window == 0 {
		l.Window = window
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'postgres' or 'sqlite', got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	for _, store := range []struct{ key, value string }{
		{"rate_limit.store", c.RateLimit.Store},
		{"breaker.store", c.Breaker.Store},
	} {
		switch store.value {
		case "memory":
		case "redis":
			if !c.Redis.Enabled {
				return fmt.Errorf("%s=redis requires redis.enabled=true", store.key)
			}
		default:
			return fmt.Errorf("%s must be 'memory' or 'redis', got %q", store.key, store.value)
		}
	}
	if c.Cache.DistributedEnabled && !c.Redis.Enabled {
		return fmt.Errorf("cache.distributed_enabled requires redis.enabled=true")
	}
	if c.Cache.DurableEnabled && c.Storage.Bucket == "" {
		return fmt.Errorf("cache.durable_enabled requires storage.bucket")
	}
	if _, ok := c.RateLimit.Tiers[c.RateLimit.DefaultTier]; !ok {
		return fmt.Errorf("rate_limit.default_tier %q is not defined in rate_limit.tiers", c.RateLimit.DefaultTier)
	}
	for name, tier := range c.RateLimit.Tiers {
		if tier.Requests < 0 || tier.Window < 0 {
			return fmt.Errorf("rate_limit.tiers.%s must have non-negative requests and window", name)
		}
	}
	if c.Breaker.BackoffMultiplier < 1.0 {
		return fmt.Errorf("breaker.backoff_multiplier must be >= 1.0, got %f", c.Breaker.BackoffMultiplier)
	}
	if c.Breaker.MaxCooldown < c.Breaker.Cooldown {
		return fmt.Errorf("breaker.max_cooldown (%s) cannot be shorter than breaker.cooldown (%s)",
			c.Breaker.MaxCooldown, c.Breaker.Cooldown)
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if score := zxcvbn.PasswordStrength(c.JWT.Secret, nil).Score; score < 3 {
			return fmt.Errorf("jwt.secret is too predictable for production (strength %d/4)", score)
		}
		if c.Auth.APIKeyPepper == "" {
			return fmt.Errorf("auth.api_key_pepper is required in production")
		}
		if c.Database.Driver == "postgres" {
			if c.Database.Password == "" {
				return fmt.Errorf("database.password is required in production")
			}
			if c.Database.SSLMode == "disable" {
				return fmt.Errorf("database.sslmode cannot be 'disable' in production")
			}
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Swagger.Enabled {
			if !c.Swagger.RequireAuth && len(c.Swagger.AllowedIPs) == 0 {
				return fmt.Errorf("swagger endpoint must be disabled, require authentication, or have IP restriction in production")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// IsProduction reports whether the gateway runs in production mode
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the host:port of the Redis server
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
