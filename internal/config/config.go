// Package config defines the global configuration structure for the CityPulse
// trigger engine. Configuration is loaded once at process initialization and
// is immutable thereafter, following 12-Factor principles.
//
// Values are resolved as: OS Environment (highest) -> dotenv file defaults.
// Any missing required value or invalid format fails startup immediately.
package config

import (
	"time"

	"citypulse/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"citypulse-triggers"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	CityData  CityDataConfig
	Engine    EngineConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds HTTP server settings for the API process.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ap-northeast-2"`

	NotificationQueue string `envconfig:"SQS_NOTIFICATIONS" validate:"required,url"`
	// UrgentQueue is optional; when empty, urgent messages share the
	// standard notification queue.
	UrgentQueue string `envconfig:"SQS_NOTIFICATIONS_URGENT" validate:"omitempty,url"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// CityDataConfig holds the upstream city data API settings.
type CityDataConfig struct {
	BaseURL   string        `envconfig:"CITYDATA_BASE_URL" validate:"required,url"`
	APIKey    SecretString  `envconfig:"CITYDATA_API_KEY" validate:"required"`
	UserAgent string        `envconfig:"CITYDATA_USER_AGENT" default:"CityPulse-Triggers/1.0"`
	CacheTTL  time.Duration `envconfig:"CITYDATA_CACHE_TTL" default:"2m"`
	Timeout   time.Duration `envconfig:"CITYDATA_TIMEOUT" default:"10s"`
}

// EngineConfig holds evaluation thresholds and tuning. Defaults mirror the
// strategy defaults; environment overrides apply fleet-wide, per-user
// threshold overrides live on the user record.
type EngineConfig struct {
	TempHighC         float64       `envconfig:"ENGINE_TEMP_HIGH_C" default:"33"`
	TempLowC          float64       `envconfig:"ENGINE_TEMP_LOW_C" default:"-10"`
	PM10Bad           float64       `envconfig:"ENGINE_PM10_BAD" default:"80"`
	PM25Bad           float64       `envconfig:"ENGINE_PM25_BAD" default:"35"`
	CongestionLevel   int           `envconfig:"ENGINE_CONGESTION_LEVEL" default:"4"`
	CongestionRadiusM float64       `envconfig:"ENGINE_CONGESTION_RADIUS_M" default:"1000"`
	BikeRadiusM       float64       `envconfig:"ENGINE_BIKE_RADIUS_M" default:"500"`
	BikeShortageCount int           `envconfig:"ENGINE_BIKE_SHORTAGE_COUNT" default:"2"`
	EventRadiusM      float64       `envconfig:"ENGINE_EVENT_RADIUS_M" default:"3000"`
	EventLookahead    time.Duration `envconfig:"ENGINE_EVENT_LOOKAHEAD" default:"48h"`
	EmergencyRadiusM  float64       `envconfig:"ENGINE_EMERGENCY_RADIUS_M" default:"10000"`

	// DisabledConditions lists condition kinds to skip, comma separated.
	DisabledConditions []string `envconfig:"ENGINE_DISABLED_CONDITIONS"`

	BatchConcurrency int `envconfig:"ENGINE_BATCH_CONCURRENCY" default:"10"`
}

// SchedulerConfig holds the batch driver intervals.
type SchedulerConfig struct {
	ScheduledInterval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"10m"`
	RealtimeInterval  time.Duration `envconfig:"SCHEDULER_REALTIME_INTERVAL" default:"2m"`
	CulturalInterval  time.Duration `envconfig:"SCHEDULER_CULTURAL_INTERVAL" default:"6h"`
}
