package http

import (
	"log/slog"
	"net/http"
	"time"

	bookinghttp "marketplace-core/internal/handler/http/booking"
	"marketplace-core/internal/handler/http/requestid"
	"marketplace-core/internal/handler/http/respond"
	sessionhttp "marketplace-core/internal/handler/http/session"
	"marketplace-core/internal/observability/tracing"
)

const (
	// DefaultTimeout bounds one request. It leaves room for a full retry
	// sequence of a remote call.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodyBytes caps request bodies.
	DefaultMaxBodyBytes = 1 << 20
)

// RouterConfig holds the services and limits of the provider API.
type RouterConfig struct {
	Bookings bookinghttp.Responder
	Sessions sessionhttp.Service
	Logger   *slog.Logger

	// Timeout per request. Default: DefaultTimeout. Negative disables it.
	Timeout time.Duration

	// MaxBodyBytes. Default: DefaultMaxBodyBytes
	MaxBodyBytes int64
}

// NewRouter builds the provider API handler. A nil service leaves its
// routes unmounted.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	mux := http.NewServeMux()
	if cfg.Bookings != nil {
		bookinghttp.Register(mux, cfg.Bookings)
	}
	if cfg.Sessions != nil {
		sessionhttp.Register(mux, cfg.Sessions)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusNotFound, respond.ErrorBody{Error: "Not found."})
	})

	// Logging and Metrics wrap the mux directly: the mux records the
	// matched pattern on the request it is given.
	var h http.Handler = mux
	h = Metrics(h)
	h = Logging(h)
	h = LimitRequestBody(cfg.MaxBodyBytes)(h)
	// Recover runs inside Timeout, on the goroutine that serves the handler.
	h = Recover(h)
	h = Timeout(cfg.Timeout)(h)
	h = tracing.Middleware(h)
	h = requestid.Middleware(cfg.Logger)(h)
	return h
}
