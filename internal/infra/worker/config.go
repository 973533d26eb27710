package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"marketplace-core/internal/pkg/config"
	"marketplace-core/internal/resilience/circuitbreaker"
	"marketplace-core/internal/resilience/retry"
)

// Store and rate-limit backends.
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// WorkerConfig holds the configuration of the booking worker.
//
// Configuration sources, later ones winning:
//   - DefaultConfig
//   - the YAML file named by CONFIG_FILE (optional)
//   - environment variables, validated with fail-open fallback
type WorkerConfig struct {
	// Remote store health monitor.
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerCooldown         time.Duration `yaml:"breaker_cooldown"`
	ProbeInterval           time.Duration `yaml:"probe_interval"`
	ProbeTimeout            time.Duration `yaml:"probe_timeout"`

	// Resilient call schedule.
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	CallTimeout    time.Duration `yaml:"call_timeout"`

	// SessionTTL is the age after which an active session is closed.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// SessionSweepSchedule is a cron expression or descriptor.
	// Default: "@every 10m"
	SessionSweepSchedule string `yaml:"session_sweep_schedule"`

	// SweepTimezone is the IANA timezone of SessionSweepSchedule.
	SweepTimezone string `yaml:"sweep_timezone"`

	AlertInterval time.Duration `yaml:"alert_interval"`
	BookingTick   time.Duration `yaml:"booking_tick"`

	APIPort     int           `yaml:"api_port"`
	APITimeout  time.Duration `yaml:"api_timeout"`
	MetricsPort int           `yaml:"metrics_port"`
	HealthPort  int           `yaml:"health_port"`

	// StoreDriver is "mongo" or "memory".
	StoreDriver   string `yaml:"store_driver"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// RateLimitBackend is "memory" or "redis".
	RateLimitBackend string `yaml:"ratelimit_backend"`

	BookingChannel string `yaml:"booking_channel"`

	// FirebaseCredentialsFile enables push alerts when set.
	FirebaseCredentialsFile string  `yaml:"firebase_credentials_file"`
	PushRatePerSecond       float64 `yaml:"push_rate_per_second"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() WorkerConfig {
	monitor := circuitbreaker.DefaultMonitorConfig()
	policy := retry.DefaultPolicy()
	return WorkerConfig{
		BreakerFailureThreshold: monitor.FailureThreshold,
		BreakerCooldown:         monitor.Cooldown,
		ProbeInterval:           monitor.ProbeInterval,
		ProbeTimeout:            monitor.ProbeTimeout,
		RetryAttempts:           policy.Attempts,
		RetryBaseDelay:          policy.BaseDelay,
		CallTimeout:             policy.CallTimeout,
		SessionTTL:              24 * time.Hour,
		SessionSweepSchedule:    "@every 10m",
		SweepTimezone:           "UTC",
		AlertInterval:           3 * time.Second,
		BookingTick:             time.Second,
		APIPort:                 8080,
		APITimeout:              30 * time.Second,
		MetricsPort:             9090,
		HealthPort:              9091,
		StoreDriver:             StoreMongo,
		MongoURI:                "mongodb://localhost:27017",
		MongoDatabase:           "marketplace",
		RedisAddr:               "localhost:6379",
		RateLimitBackend:        BackendMemory,
		BookingChannel:          "bookings.new",
		PushRatePerSecond:       5,
	}
}

// MonitorConfig returns the health monitor settings.
func (c *WorkerConfig) MonitorConfig() circuitbreaker.MonitorConfig {
	return circuitbreaker.MonitorConfig{
		FailureThreshold: c.BreakerFailureThreshold,
		Cooldown:         c.BreakerCooldown,
		ProbeInterval:    c.ProbeInterval,
		ProbeTimeout:     c.ProbeTimeout,
	}
}

// RetryPolicy returns the default resilient call schedule.
func (c *WorkerConfig) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Attempts = c.RetryAttempts
	p.BaseDelay = c.RetryBaseDelay
	p.CallTimeout = c.CallTimeout
	return p
}

func portRange(v int) error { return config.ValidateIntRange(v, 1024, 65535) }

func durationRange(min, max time.Duration) func(time.Duration) error {
	return func(d time.Duration) error { return config.ValidateDuration(d, min, max) }
}

func intRange(min, max int) func(int) error {
	return func(v int) error { return config.ValidateIntRange(v, min, max) }
}

// Validate checks every field and returns all failures joined.
func (c *WorkerConfig) Validate() error {
	var errs []error
	check := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	check("breaker failure threshold", intRange(1, 20)(c.BreakerFailureThreshold))
	check("breaker cooldown", durationRange(time.Second, 10*time.Minute)(c.BreakerCooldown))
	check("probe interval", durationRange(time.Second, time.Hour)(c.ProbeInterval))
	check("probe timeout", durationRange(100*time.Millisecond, time.Minute)(c.ProbeTimeout))
	check("retry attempts", intRange(1, 10)(c.RetryAttempts))
	check("retry base delay", durationRange(0, time.Minute)(c.RetryBaseDelay))
	check("call timeout", durationRange(100*time.Millisecond, 5*time.Minute)(c.CallTimeout))
	check("session ttl", durationRange(time.Minute, 30*24*time.Hour)(c.SessionTTL))
	check("session sweep schedule", config.ValidateCronSchedule(c.SessionSweepSchedule))
	check("sweep timezone", config.ValidateTimezone(c.SweepTimezone))
	check("alert interval", durationRange(500*time.Millisecond, time.Minute)(c.AlertInterval))
	check("booking tick", durationRange(100*time.Millisecond, 10*time.Second)(c.BookingTick))
	check("api port", portRange(c.APIPort))
	check("api timeout", durationRange(time.Second, 5*time.Minute)(c.APITimeout))
	check("metrics port", portRange(c.MetricsPort))
	check("health port", portRange(c.HealthPort))
	check("store driver", config.ValidateOneOf(StoreMongo, StoreMemory)(c.StoreDriver))
	check("redis db", intRange(0, 15)(c.RedisDB))
	check("ratelimit backend", config.ValidateOneOf(BackendMemory, BackendRedis)(c.RateLimitBackend))
	check("push rate", config.ValidateFloatRange(c.PushRatePerSecond, 0.1, 100))

	if c.APIPort == c.MetricsPort || c.APIPort == c.HealthPort || c.MetricsPort == c.HealthPort {
		errs = append(errs, fmt.Errorf("api, metrics and health ports must differ, got %d, %d, %d",
			c.APIPort, c.MetricsPort, c.HealthPort))
	}
	if c.StoreDriver == StoreMongo && (c.MongoURI == "" || c.MongoDatabase == "") {
		errs = append(errs, errors.New("mongo store requires MONGO_URI and MONGO_DATABASE"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("redis address is required"))
	}
	if c.BookingChannel == "" {
		errs = append(errs, errors.New("booking channel is required"))
	}

	return errors.Join(errs...)
}

// LoadConfig builds the worker configuration.
//
// A CONFIG_FILE that cannot be read or decoded, or that yields an invalid
// configuration, is an error. Environment variables never are: an invalid
// value falls back to the file or default value with a warning and a
// fallback metric.
func LoadConfig(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.LoadYAMLFile(path, &cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		logger.Info("configuration file loaded", slog.String("path", path))
	}

	fallback := false
	track := func(r config.ConfigLoadResult, field string) config.ConfigLoadResult {
		if metrics.Track(r, field, logger) {
			fallback = true
		}
		return r
	}
	str := func(key, field string, cur *string, validator func(string) error) {
		*cur = track(config.LoadEnvWithFallback(key, *cur, validator), field).Value.(string)
	}
	num := func(key, field string, cur *int, validator func(int) error) {
		*cur = track(config.LoadEnvInt(key, *cur, validator), field).Value.(int)
	}
	dur := func(key, field string, cur *time.Duration, validator func(time.Duration) error) {
		*cur = track(config.LoadEnvDuration(key, *cur, validator), field).Value.(time.Duration)
	}

	num("BREAKER_FAILURE_THRESHOLD", "breaker_failure_threshold", &cfg.BreakerFailureThreshold, intRange(1, 20))
	dur("BREAKER_COOLDOWN", "breaker_cooldown", &cfg.BreakerCooldown, durationRange(time.Second, 10*time.Minute))
	dur("PROBE_INTERVAL", "probe_interval", &cfg.ProbeInterval, durationRange(time.Second, time.Hour))
	dur("PROBE_TIMEOUT", "probe_timeout", &cfg.ProbeTimeout, durationRange(100*time.Millisecond, time.Minute))
	num("RETRY_ATTEMPTS", "retry_attempts", &cfg.RetryAttempts, intRange(1, 10))
	dur("RETRY_BASE_DELAY", "retry_base_delay", &cfg.RetryBaseDelay, durationRange(0, time.Minute))
	dur("CALL_TIMEOUT", "call_timeout", &cfg.CallTimeout, durationRange(100*time.Millisecond, 5*time.Minute))
	dur("SESSION_TTL", "session_ttl", &cfg.SessionTTL, durationRange(time.Minute, 30*24*time.Hour))
	str("SESSION_SWEEP_SCHEDULE", "session_sweep_schedule", &cfg.SessionSweepSchedule, config.ValidateCronSchedule)
	str("SWEEP_TIMEZONE", "sweep_timezone", &cfg.SweepTimezone, config.ValidateTimezone)
	dur("ALERT_INTERVAL", "alert_interval", &cfg.AlertInterval, durationRange(500*time.Millisecond, time.Minute))
	dur("BOOKING_TICK", "booking_tick", &cfg.BookingTick, durationRange(100*time.Millisecond, 10*time.Second))
	num("API_PORT", "api_port", &cfg.APIPort, portRange)
	dur("API_TIMEOUT", "api_timeout", &cfg.APITimeout, durationRange(time.Second, 5*time.Minute))
	num("METRICS_PORT", "metrics_port", &cfg.MetricsPort, portRange)
	num("HEALTH_PORT", "health_port", &cfg.HealthPort, portRange)
	str("STORE_DRIVER", "store_driver", &cfg.StoreDriver, config.ValidateOneOf(StoreMongo, StoreMemory))
	cfg.MongoURI = config.LoadEnvString("MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = config.LoadEnvString("MONGO_DATABASE", cfg.MongoDatabase)
	cfg.RedisAddr = config.LoadEnvString("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = config.LoadEnvString("REDIS_PASSWORD", cfg.RedisPassword)
	num("REDIS_DB", "redis_db", &cfg.RedisDB, intRange(0, 15))
	str("RATELIMIT_BACKEND", "ratelimit_backend", &cfg.RateLimitBackend, config.ValidateOneOf(BackendMemory, BackendRedis))
	cfg.BookingChannel = config.LoadEnvString("BOOKING_CHANNEL", cfg.BookingChannel)
	cfg.FirebaseCredentialsFile = config.LoadEnvString("FIREBASE_CREDENTIALS_FILE", cfg.FirebaseCredentialsFile)
	cfg.PushRatePerSecond = track(config.LoadEnvFloat("PUSH_RATE_PER_SECOND", cfg.PushRatePerSecond, func(v float64) error {
		return config.ValidateFloatRange(v, 0.1, 100)
	}), "push_rate_per_second").Value.(float64)

	metrics.SetFallbackActive("", fallback)
	metrics.RecordLoadTimestamp()

	// Individually valid values can still conflict, e.g. equal ports.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
