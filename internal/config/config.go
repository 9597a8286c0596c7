package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

// Counter backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Port     string `env:"PORT" envDefault:"8080"`
	Timezone string `env:"TIMEZONE" envDefault:"Local"`

	Counter      CounterConfig
	RemoteConfig RemoteConfig
	Analytics    AnalyticsConfig
	Policy       PolicyConfig
	OTel         OTelConfig

	CatalogPath      string        `env:"CATALOG_PATH"`
	SessionTimeout   time.Duration `env:"SESSION_TIMEOUT" envDefault:"1h"`
	RateLimitPerHour int           `env:"RATE_LIMIT_PER_HOUR" envDefault:"1000"`
	RateLimitBurst   int           `env:"RATE_LIMIT_BURST" envDefault:"50"`
}

type CounterConfig struct {
	Backend    string `env:"COUNTER_BACKEND" envDefault:"memory"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"./storage/counters.db"`
	RedisURL   string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
}

type RemoteConfig struct {
	URL     string        `env:"CONFIG_URL"`
	Timeout time.Duration `env:"CONFIG_TIMEOUT" envDefault:"5s"`
	Refresh time.Duration `env:"CONFIG_REFRESH" envDefault:"0s"`
}

type AnalyticsConfig struct {
	Endpoint    string        `env:"ANALYTICS_ENDPOINT"`
	Timeout     time.Duration `env:"ANALYTICS_TIMEOUT" envDefault:"5s"`
	MaxInFlight int64         `env:"ANALYTICS_MAX_INFLIGHT" envDefault:"32"`
}

// PolicyConfig holds the local defaults that remote configuration overrides
type PolicyConfig struct {
	Enabled               bool  `env:"POLICY_ENABLED" envDefault:"true"`
	MaxMessagesPerSession int   `env:"POLICY_MAX_MESSAGES" envDefault:"3"`
	DisplayInterval       int64 `env:"POLICY_DISPLAY_INTERVAL_MS" envDefault:"30000"`
	DebugMode             bool  `env:"POLICY_DEBUG" envDefault:"false"`
}

type OTelConfig struct {
	Endpoint       string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Headers        string `env:"OTEL_EXPORTER_OTLP_HEADERS"`
	ServiceName    string `env:"OTEL_SERVICE_NAME" envDefault:"inapp-messaging"`
	ServiceVersion string `env:"OTEL_SERVICE_VERSION" envDefault:"dev"`
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Load reads configuration from the environment, after a .env file when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Counter.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unsupported counter backend %q", c.Counter.Backend)
	}
	if c.Policy.MaxMessagesPerSession < 0 {
		return fmt.Errorf("POLICY_MAX_MESSAGES must not be negative")
	}
	if c.RateLimitPerHour <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the time zone used to decide calendar-day boundaries
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// PolicyDefaults converts the local policy settings into the model used by the policy
func (c Config) PolicyDefaults() models.Config {
	return models.Config{
		Enabled:               c.Policy.Enabled,
		MaxMessagesPerSession: c.Policy.MaxMessagesPerSession,
		DisplayInterval:       c.Policy.DisplayInterval,
		DebugMode:             c.Policy.DebugMode,
	}
}
