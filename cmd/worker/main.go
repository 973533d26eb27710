package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"marketplace-core/internal/domain/entity"
	hhttp "marketplace-core/internal/handler/http"
	"marketplace-core/internal/handler/http/respond"
	"marketplace-core/internal/infra/adapter/persistence/memory"
	"marketplace-core/internal/infra/adapter/persistence/mongodb"
	"marketplace-core/internal/infra/notifier"
	"marketplace-core/internal/infra/pubsub"
	workerPkg "marketplace-core/internal/infra/worker"
	"marketplace-core/internal/observability/logging"
	"marketplace-core/internal/repository"
	"marketplace-core/internal/resilience/circuitbreaker"
	"marketplace-core/internal/resilience/retry"
	"marketplace-core/internal/usecase/alert"
	"marketplace-core/internal/usecase/booking"
	"marketplace-core/internal/usecase/session"
	"marketplace-core/pkg/ratelimit"
)

// shutdownTimeout bounds the drain of in-flight booking writes and
// background session closes.
const shutdownTimeout = 10 * time.Second

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerMetrics := workerPkg.NewWorkerMetrics()
	cfg, err := workerPkg.LoadConfig(logger, workerMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker configuration loaded",
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("ratelimit_backend", cfg.RateLimitBackend),
		slog.String("sweep_schedule", cfg.SessionSweepSchedule),
		slog.String("booking_channel", cfg.BookingChannel),
		slog.Int("api_port", cfg.APIPort),
		slog.Int("health_port", cfg.HealthPort))

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shut down tracer provider", slog.Any("error", err))
		}
	}()

	store, closeStore := initStore(ctx, logger, cfg)
	defer closeStore()

	monitor := circuitbreaker.NewHealthMonitor(circuitbreaker.ProbeFunc(store.Ping), cfg.MonitorConfig(),
		circuitbreaker.WithLogger(logger))
	monitor.Start(ctx)
	defer monitor.Stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis client", slog.Any("error", err))
		}
	}()

	rateMetrics := ratelimit.NewPrometheusMetrics()
	limiter := newLimiter(logger, cfg, redisClient, rateMetrics)
	go reportRateLimitKeys(ctx, limiter, time.Minute)
	caller := retry.NewCaller(monitor,
		retry.WithPolicy(cfg.RetryPolicy()),
		retry.WithLimiter(limiter, retry.DefaultLimits()),
		retry.WithLogger(logger))

	sessions := session.NewService(store, caller, session.Config{
		TTL:    cfg.SessionTTL,
		Logger: logger,
	})

	pusher := newPusher(ctx, logger, cfg, store, caller)
	dispatcher := booking.NewDispatcher(booking.Deps{
		Store:  store,
		Caller: caller,
		Tick:   cfg.BookingTick,
		Logger: logger,
	}, bookingAlerts(logger, cfg, pusher))

	subscriber := pubsub.NewRedisSubscriber(redisClient, logger)
	unsubscribe, err := subscriber.Subscribe(ctx, cfg.BookingChannel, dispatcher.HandleMessage)
	if err != nil {
		logger.Error("failed to subscribe to booking events",
			slog.String("channel", cfg.BookingChannel),
			slog.String("error", respond.SanitizeError(err)))
		os.Exit(1)
	}

	startMetricsServer(ctx, logger, cfg.MetricsPort, prometheus.Gatherers{
		prometheus.DefaultGatherer,
		rateMetrics.Registry(),
	})

	healthServer := workerPkg.NewHealthServer(fmt.Sprintf(":%d", cfg.HealthPort), monitor, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	apiServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.APIPort),
		Handler: hhttp.NewRouter(hhttp.RouterConfig{
			Bookings: dispatcher,
			Sessions: sessions,
			Logger:   logger,
			Timeout:  cfg.APITimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		logger.Info("api server starting", slog.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sweeper := startSweepCron(logger, cfg, sessions, workerMetrics)

	healthServer.SetReady(true)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down worker...")
	healthServer.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown failed", slog.Any("error", err))
	}
	if err := unsubscribe(); err != nil {
		logger.Warn("unsubscribe failed", slog.Any("error", err))
	}
	<-sweeper.Stop().Done()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("booking writes still in flight at shutdown", slog.Any("error", err))
	}
	if err := sessions.Wait(shutdownCtx); err != nil {
		logger.Warn("session closes still in flight at shutdown", slog.Any("error", err))
	}

	// Stops the health and metrics servers and the probe loop.
	cancel()
	logger.Info("worker stopped")
}

// initStore opens the configured document store. Mongo connection failures
// are fatal: the worker has nothing to reconcile against.
func initStore(ctx context.Context, logger *slog.Logger, cfg *workerPkg.WorkerConfig) (repository.DocumentStore, func()) {
	if cfg.StoreDriver == workerPkg.StoreMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return memory.New(), func() {}
	}

	store, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		logger.Error("failed to connect to mongodb", slog.String("error", respond.SanitizeError(err)))
		os.Exit(1)
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		logger.Warn("failed to ensure session indexes", slog.String("error", respond.SanitizeError(err)))
	}
	logger.Info("mongodb connected", slog.String("database", cfg.MongoDatabase))

	return store, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("failed to close mongodb", slog.Any("error", err))
		}
	}
}

// newLimiter builds the operation limiter. The redis backend shares
// attempt windows across worker replicas.
func newLimiter(logger *slog.Logger, cfg *workerPkg.WorkerConfig, client *redis.Client, m *ratelimit.PrometheusMetrics) *ratelimit.OperationLimiter {
	rlCfg := ratelimit.Config{Metrics: m, Logger: logger}
	if cfg.RateLimitBackend == workerPkg.BackendRedis {
		rlCfg.Store = ratelimit.NewRedisWindowStore(client, "")
	}
	logger.Info("operation limiter initialized", slog.String("backend", cfg.RateLimitBackend))
	return ratelimit.NewOperationLimiter(rlCfg)
}

// reportRateLimitKeys publishes the live window count until ctx is done.
func reportRateLimitKeys(ctx context.Context, l *ratelimit.OperationLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.ReportActiveKeys(ctx)
		}
	}
}

// newPusher builds the push sender. Without Firebase credentials alerts
// still run and every push is dropped.
func newPusher(ctx context.Context, logger *slog.Logger, cfg *workerPkg.WorkerConfig, store repository.DocumentStore, caller *retry.Caller) *notifier.Pusher {
	var sender notifier.Sender = notifier.NoopSender{Logger: logger}
	if cfg.FirebaseCredentialsFile != "" {
		client, err := notifier.NewFCMClient(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			logger.Error("failed to initialize firebase messaging, push disabled",
				slog.String("error", respond.SanitizeError(err)))
		} else {
			sender = client
			logger.Info("firebase messaging initialized")
		}
	} else {
		logger.Info("FIREBASE_CREDENTIALS_FILE not set, push disabled")
	}

	return notifier.NewPusher(sender, notifier.StoreTokens{Store: store, Caller: caller}, notifier.PushConfig{
		RatePerSecond: cfg.PushRatePerSecond,
		Logger:        logger,
	})
}

// bookingAlerts sounds each booking's alert on its provider's device.
func bookingAlerts(logger *slog.Logger, cfg *workerPkg.WorkerConfig, pusher *notifier.Pusher) booking.AlertFactory {
	return func(b entity.BookingRequest) booking.Alert {
		device := pusher.Device(b.ProviderID)
		return alert.ForBooking(alert.Config{
			Player:   device,
			Tone:     device,
			Surface:  device,
			Vibrator: device,
			Interval: cfg.AlertInterval,
			Logger:   logger,
		})(b)
	}
}

// startSweepCron schedules the expired session sweep.
func startSweepCron(logger *slog.Logger, cfg *workerPkg.WorkerConfig, sessions *session.Service, m *workerPkg.WorkerMetrics) *cron.Cron {
	loc, err := time.LoadLocation(cfg.SweepTimezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", cfg.SweepTimezone), slog.Any("error", err))
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))

	_, err = c.AddFunc(cfg.SessionSweepSchedule, func() {
		runSweep(logger, sessions, m)
	})
	if err != nil {
		logger.Error("failed to add sweep job", slog.Any("error", err))
		os.Exit(1)
	}
	c.Start()
	logger.Info("session sweep scheduled",
		slog.String("schedule", cfg.SessionSweepSchedule),
		slog.String("timezone", cfg.SweepTimezone))
	return c
}

// sweepTimeout bounds one sweep run.
const sweepTimeout = 2 * time.Minute

// runSweep closes expired sessions once.
func runSweep(logger *slog.Logger, sessions *session.Service, m *workerPkg.WorkerMetrics) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	res, err := sessions.CleanupExpired(ctx)
	m.RecordSweep(res.Closed, time.Since(start).Seconds(), err)
	if err != nil {
		logger.Error("session sweep failed", slog.String("error", respond.SanitizeError(err)))
		return
	}
	logger.Info("session sweep completed",
		slog.Int("found", res.Found),
		slog.Int("closed", res.Closed),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", time.Since(start)))
}
