package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

// Storage drivers understood by the container.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Window    WindowConfig    `mapstructure:"window"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type ScyllaConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	OutcomeTopic    string        `mapstructure:"outcome_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
	Partitions      int           `mapstructure:"partitions"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	WorkerCount  int           `mapstructure:"worker_count"`
	ClaimTTL     time.Duration `mapstructure:"claim_ttl"`
}

type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Strategy      string        `mapstructure:"strategy"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	PageSize      int           `mapstructure:"page_size"`
}

type WindowConfig struct {
	TimeZone string `mapstructure:"time_zone"`
}

type DispatchConfig struct {
	Provider         string        `mapstructure:"provider"`
	Endpoint         string        `mapstructure:"endpoint"`
	APIKey           string        `mapstructure:"api_key"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	DefaultPrompt    string        `mapstructure:"default_prompt"`
	PhoneRegion      string        `mapstructure:"phone_region"`
	BreakerFailures  uint32        `mapstructure:"breaker_failures"`
	BreakerOpenFor   time.Duration `mapstructure:"breaker_open_for"`
	MockSuccessRatio float64       `mapstructure:"mock_success_ratio"`
}

type ThrottleConfig struct {
	DefaultPerCampaign int           `mapstructure:"default_per_campaign"`
	SlotTTL            time.Duration `mapstructure:"slot_ttl"`
	SlotWait           time.Duration `mapstructure:"slot_wait"`
}

// Load reads configuration from file and environment variables. A .env file in the
// working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("OUTBOUND")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("%w: unknown storage driver %q", apperrors.ErrValidation, c.Storage.Driver)
	}
	if _, err := time.LoadLocation(c.Window.TimeZone); err != nil {
		return fmt.Errorf("%w: invalid window time zone %q: %v", apperrors.ErrValidation, c.Window.TimeZone, err)
	}
	if c.Scheduler.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: scheduler.max_batch_size must be positive", apperrors.ErrValidation)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("%w: retry.max_attempts must be positive", apperrors.ErrValidation)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: kafka enabled without brokers", apperrors.ErrValidation)
	}
	return nil
}

// Location resolves the window reference time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Window.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "outbound-call-queue")
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("sqlite.path", "data/outbound.db")
	v.SetDefault("sqlite.busy_timeout", 5*time.Second)
	v.SetDefault("scylla.consistency", "quorum")
	v.SetDefault("scylla.timeout", 5*time.Second)
	v.SetDefault("kafka.outcome_topic", "call-outcomes")
	v.SetDefault("kafka.consumer_group_id", "outbound-status")
	v.SetDefault("kafka.commit_interval", time.Second)
	v.SetDefault("kafka.partitions", 12)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("scheduler.tick_interval", 30*time.Second)
	v.SetDefault("scheduler.max_batch_size", 50)
	v.SetDefault("scheduler.worker_count", 4)
	v.SetDefault("scheduler.claim_ttl", 15*time.Minute)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.strategy", "exponential")
	v.SetDefault("retry.base_delay", 5*time.Minute)
	v.SetDefault("retry.max_delay", 2*time.Hour)
	v.SetDefault("retry.sweep_interval", time.Minute)
	v.SetDefault("retry.page_size", 200)
	v.SetDefault("window.time_zone", "UTC")
	v.SetDefault("dispatch.provider", "mock")
	v.SetDefault("dispatch.request_timeout", 15*time.Second)
	v.SetDefault("dispatch.phone_region", "US")
	v.SetDefault("dispatch.breaker_failures", 5)
	v.SetDefault("dispatch.breaker_open_for", 30*time.Second)
	v.SetDefault("dispatch.mock_success_ratio", 0.8)
	v.SetDefault("throttle.slot_ttl", 5*time.Minute)
	v.SetDefault("throttle.slot_wait", 30*time.Second)
}
