package worker

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-core/internal/resilience/circuitbreaker"
)

// globalTestMetrics is shared because worker metrics register once per
// process.
var globalTestMetrics = NewWorkerMetrics()

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3, cfg.BreakerFailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.BreakerCooldown)
	assert.Equal(t, 60*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "@every 10m", cfg.SessionSweepSchedule)
	assert.Equal(t, 3*time.Second, cfg.AlertInterval)
	assert.Equal(t, time.Second, cfg.BookingTick)
	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, 30*time.Second, cfg.APITimeout)
	assert.Equal(t, 9090, cfg.MetricsPort)
	assert.Equal(t, 9091, cfg.HealthPort)
	assert.Equal(t, StoreMongo, cfg.StoreDriver)
	assert.Equal(t, BackendMemory, cfg.RateLimitBackend)
	assert.Equal(t, "bookings.new", cfg.BookingChannel)
	assert.Equal(t, 5.0, cfg.PushRatePerSecond)
	assert.NoError(t, cfg.Validate())
}

func TestWorkerConfig_MonitorConfigAndPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryAttempts = 5
	cfg.CallTimeout = time.Second

	if diff := cmp.Diff(circuitbreaker.DefaultMonitorConfig(), cfg.MonitorConfig()); diff != "" {
		t.Errorf("MonitorConfig mismatch (-want +got):\n%s", diff)
	}
	p := cfg.RetryPolicy()
	assert.Equal(t, 5, p.Attempts)
	assert.Equal(t, time.Second, p.CallTimeout)
	assert.Equal(t, 2.0, p.Multiplier)
}

func TestWorkerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WorkerConfig)
		wantErr string
	}{
		{name: "zero threshold", mutate: func(c *WorkerConfig) { c.BreakerFailureThreshold = 0 }, wantErr: "breaker failure threshold"},
		{name: "short cooldown", mutate: func(c *WorkerConfig) { c.BreakerCooldown = time.Millisecond }, wantErr: "breaker cooldown"},
		{name: "zero probe timeout", mutate: func(c *WorkerConfig) { c.ProbeTimeout = 0 }, wantErr: "probe timeout"},
		{name: "too many attempts", mutate: func(c *WorkerConfig) { c.RetryAttempts = 11 }, wantErr: "retry attempts"},
		{name: "negative delay", mutate: func(c *WorkerConfig) { c.RetryBaseDelay = -time.Second }, wantErr: "retry base delay"},
		{name: "bad schedule", mutate: func(c *WorkerConfig) { c.SessionSweepSchedule = "often" }, wantErr: "session sweep schedule"},
		{name: "bad timezone", mutate: func(c *WorkerConfig) { c.SweepTimezone = "Nowhere/Land" }, wantErr: "sweep timezone"},
		{name: "privileged port", mutate: func(c *WorkerConfig) { c.HealthPort = 80 }, wantErr: "health port"},
		{name: "same ports", mutate: func(c *WorkerConfig) { c.HealthPort = c.MetricsPort }, wantErr: "must differ"},
		{name: "api port clash", mutate: func(c *WorkerConfig) { c.APIPort = c.HealthPort }, wantErr: "must differ"},
		{name: "short api timeout", mutate: func(c *WorkerConfig) { c.APITimeout = time.Millisecond }, wantErr: "api timeout"},
		{name: "unknown driver", mutate: func(c *WorkerConfig) { c.StoreDriver = "postgres" }, wantErr: "store driver"},
		{name: "mongo without uri", mutate: func(c *WorkerConfig) { c.MongoURI = "" }, wantErr: "requires MONGO_URI"},
		{name: "no redis", mutate: func(c *WorkerConfig) { c.RedisAddr = "" }, wantErr: "redis address"},
		{name: "unknown backend", mutate: func(c *WorkerConfig) { c.RateLimitBackend = "etcd" }, wantErr: "ratelimit backend"},
		{name: "no channel", mutate: func(c *WorkerConfig) { c.BookingChannel = "" }, wantErr: "booking channel"},
		{name: "push rate", mutate: func(c *WorkerConfig) { c.PushRatePerSecond = 0 }, wantErr: "push rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestWorkerConfig_ValidateMemoryStoreSkipsMongo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StoreDriver = StoreMemory
	cfg.MongoURI = ""

	assert.NoError(t, cfg.Validate())
}

func TestWorkerConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryAttempts = 0
	cfg.HealthPort = 0

	err := cfg.Validate()

	assert.ErrorContains(t, err, "retry attempts")
	assert.ErrorContains(t, err, "health port")
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig(discardLogger(), globalTestMetrics)

	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "5")
	t.Setenv("PROBE_TIMEOUT", "2s")
	t.Setenv("SESSION_SWEEP_SCHEDULE", "*/15 * * * *")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("RATELIMIT_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("BOOKING_CHANNEL", "bookings.test")
	t.Setenv("PUSH_RATE_PER_SECOND", "2.5")

	cfg, err := LoadConfig(discardLogger(), globalTestMetrics)

	require.NoError(t, err)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, "*/15 * * * *", cfg.SessionSweepSchedule)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, BackendRedis, cfg.RateLimitBackend)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "bookings.test", cfg.BookingChannel)
	assert.Equal(t, 2.5, cfg.PushRatePerSecond)
}

func TestLoadConfig_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RETRY_ATTEMPTS", "many")
	t.Setenv("BOOKING_TICK", "1h")
	t.Setenv("STORE_DRIVER", "postgres")
	before := testutil.ToFloat64(globalTestMetrics.FallbacksTotal.WithLabelValues("retry_attempts"))

	cfg, err := LoadConfig(discardLogger(), globalTestMetrics)

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.BookingTick)
	assert.Equal(t, StoreMongo, cfg.StoreDriver)
	assert.Equal(t, before+1, testutil.ToFloat64(globalTestMetrics.FallbacksTotal.WithLabelValues("retry_attempts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(globalTestMetrics.FallbackActive))
}

func TestLoadConfig_ConflictingEnvIsError(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("METRICS_PORT", "9500")
	t.Setenv("HEALTH_PORT", "9500")

	_, err := LoadConfig(discardLogger(), globalTestMetrics)

	assert.ErrorContains(t, err, "must differ")
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfigFile(t, `
store_driver: memory
session_ttl: 12h
alert_interval: 5s
booking_channel: bookings.file
`))
	t.Setenv("BOOKING_CHANNEL", "bookings.env")

	cfg, err := LoadConfig(discardLogger(), globalTestMetrics)

	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5*time.Second, cfg.AlertInterval)
	assert.Equal(t, "bookings.env", cfg.BookingChannel)
}

func TestLoadConfig_InvalidEnvFallsBackToFileValue(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfigFile(t, "retry_attempts: 4\n"))
	t.Setenv("RETRY_ATTEMPTS", "0")

	cfg, err := LoadConfig(discardLogger(), globalTestMetrics)

	require.NoError(t, err)
	assert.Equal(t, 4, cfg.RetryAttempts)
}

func TestLoadConfig_BadFile(t *testing.T) {
	tests := map[string]string{
		"unknown key":   "retry_atempts: 4\n",
		"invalid value": "retry_attempts: 40\n",
		"not yaml":      "retry_attempts: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", writeConfigFile(t, content))

			_, err := LoadConfig(discardLogger(), globalTestMetrics)

			assert.Error(t, err)
		})
	}

	t.Run("missing", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

		_, err := LoadConfig(discardLogger(), globalTestMetrics)

		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
