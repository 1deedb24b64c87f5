// Package config defines the process configuration for the sunspot binaries.
// Configuration is loaded once at cold start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format is returned as a
// *ConfigError and the caller exits.
package config

import (
	"time"

	"sunspot/internal/types"
)

// SecretString is an alias for types.SecretString so credentials loaded here
// are redacted wherever they are printed.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the section they need, converted into their own option structs.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"sunspot"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database      DatabaseConfig
	Cache         CacheConfig
	AWS           AWSConfig
	Engine        EngineConfig
	Precompute    PrecomputeConfig
	Weather       WeatherConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DatabaseConfig holds the PostGIS connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0,ltefield=MaxConns"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// CacheConfig selects and tunes the exposure cache store.
type CacheConfig struct {
	Backend string `envconfig:"CACHE_BACKEND" default:"memory" validate:"oneof=memory redis"`
	// RedisURL is required when Backend is redis.
	RedisURL SecretString `envconfig:"REDIS_URL" validate:"required_if=Backend redis"`
	Shards   int          `envconfig:"CACHE_SHARDS" default:"32" validate:"min=1"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-north-1"`

	// PrecomputeQueue receives targeted recompute requests. Processes that
	// never enqueue may leave it empty.
	PrecomputeQueue string `envconfig:"SQS_PRECOMPUTE" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EngineConfig tunes the exposure calculation.
type EngineConfig struct {
	ReferenceLatitude  float64 `envconfig:"REFERENCE_LATITUDE" default:"55.6761" validate:"gte=-90,lte=90"`
	ReferenceLongitude float64 `envconfig:"REFERENCE_LONGITUDE" default:"12.5683" validate:"gte=-180,lte=180"`
	ReliabilityDeg     float64 `envconfig:"SHADOW_RELIABILITY_DEG" default:"5" validate:"gte=0,lt=90"`
	SunnyThresholdPct  float64 `envconfig:"SUNNY_THRESHOLD_PCT" default:"70" validate:"gte=0,lte=100,gtefield=ShadedThresholdPct"`
	ShadedThresholdPct float64 `envconfig:"SHADED_THRESHOLD_PCT" default:"10" validate:"gte=0,lte=100"`
	SearchRadiusM      float64 `envconfig:"BUILDING_SEARCH_RADIUS_M" default:"300" validate:"gt=0"`
	// BatchConcurrency of zero means GOMAXPROCS.
	BatchConcurrency int `envconfig:"BATCH_CONCURRENCY" default:"0" validate:"min=0"`
}

// PrecomputeConfig drives the scheduled precomputation and the cache entries
// it writes.
type PrecomputeConfig struct {
	Timezone           string        `envconfig:"PRECOMPUTE_TIMEZONE" default:"Europe/Copenhagen" validate:"required"`
	WindowStart        string        `envconfig:"PRECOMPUTE_WINDOW_START" default:"08:00" validate:"datetime=15:04"`
	WindowEnd          string        `envconfig:"PRECOMPUTE_WINDOW_END" default:"20:00" validate:"datetime=15:04"`
	Resolution         time.Duration `envconfig:"PRECOMPUTE_RESOLUTION" default:"10m" validate:"min=1m"`
	DaysAhead          int           `envconfig:"PRECOMPUTE_DAYS_AHEAD" default:"3" validate:"min=1,max=14"`
	Concurrency        int           `envconfig:"PRECOMPUTE_CONCURRENCY" default:"0" validate:"min=0"`
	MaxRetries         int           `envconfig:"PRECOMPUTE_MAX_RETRIES" default:"3" validate:"min=0"`
	AbandonAfter       time.Duration `envconfig:"PRECOMPUTE_ABANDON_AFTER" default:"2h"`
	RetryBaseDelay     time.Duration `envconfig:"PRECOMPUTE_RETRY_BASE_DELAY" default:"250ms"`
	RetryMaxDelay      time.Duration `envconfig:"PRECOMPUTE_RETRY_MAX_DELAY" default:"5s"`
	CacheEntryTTL      time.Duration `envconfig:"CACHE_ENTRY_TTL" default:"36h" validate:"min=1m"`
	ComputationVersion string        `envconfig:"COMPUTATION_VERSION" default:"v1" validate:"required"`
}

// WeatherConfig tunes how weather readings are resolved.
type WeatherConfig struct {
	MaxSampleAge  time.Duration `envconfig:"WEATHER_MAX_SAMPLE_AGE" default:"3h"`
	SearchRadiusM float64       `envconfig:"WEATHER_SEARCH_RADIUS_M" default:"15000" validate:"gt=0"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Sunspot"`
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"cloudwatch" validate:"oneof=cloudwatch prometheus none"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
