package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"marketplace-core/internal/observability/tracing"
	"marketplace-core/internal/resilience/circuitbreaker"
)

// BackendStatus reports the remote store's circuit state.
// *circuitbreaker.HealthMonitor satisfies it.
type BackendStatus interface {
	Status() circuitbreaker.Status
}

// HealthServer serves the worker's health endpoints:
//   - /health: liveness, always 200
//   - /health/ready: readiness, 200 once SetReady(true), 503 before
//   - /health/backend: remote store status, 503 while the circuit is open
//
// Example usage:
//
//	healthServer := NewHealthServer(":9091", monitor, logger)
//	go func() {
//	    if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
//	        logger.Error("health server failed", slog.Any("error", err))
//	    }
//	}()
//	healthServer.SetReady(true)
type HealthServer struct {
	addr    string
	backend BackendStatus
	logger  *slog.Logger
	isReady *atomic.Bool
	server  *http.Server
}

type healthResponse struct {
	Status string `json:"status"`
}

type backendResponse struct {
	Status     string                `json:"status"`
	Backend    circuitbreaker.Status `json:"backend"`
	Diagnostic string                `json:"diagnostic"`
}

// NewHealthServer creates a health server that is not ready yet. A nil
// backend reports 503 on /health/backend.
func NewHealthServer(addr string, backend BackendStatus, logger *slog.Logger) *HealthServer {
	return &HealthServer{
		addr:    addr,
		backend: backend,
		logger:  logger,
		isReady: &atomic.Bool{},
	}
}

// Handler returns the traced health mux.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleLiveness)
	mux.HandleFunc("/health/ready", h.handleReadiness)
	mux.HandleFunc("/health/backend", h.handleBackend)
	return tracing.Middleware(mux)
}

// Start serves until ctx is cancelled, then shuts down within 5 seconds.
// It returns http.ErrServerClosed after a graceful shutdown.
func (h *HealthServer) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("health server starting", slog.String("addr", h.addr))
		if err := h.server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		h.logger.Info("health server shutting down")
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("health server shutdown failed", slog.Any("error", err))
			return err
		}
		h.logger.Info("health server stopped")
		return http.ErrServerClosed

	case err := <-errChan:
		if err == http.ErrServerClosed {
			return err
		}
		h.logger.Error("health server failed", slog.Any("error", err))
		return err
	}
}

// SetReady sets the readiness reported by /health/ready.
func (h *HealthServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	h.logger.Info("health server readiness changed", slog.Bool("ready", ready))
}

func (h *HealthServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.isReady.Load() {
		h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready"})
}

func (h *HealthServer) handleBackend(w http.ResponseWriter, r *http.Request) {
	if h.backend == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unknown"})
		return
	}
	st := h.backend.Status()
	resp := backendResponse{Status: "ok", Backend: st, Diagnostic: st.Diagnostic()}
	code := http.StatusOK
	if st.CircuitOpen {
		resp.Status = "circuit open"
		code = http.StatusServiceUnavailable
	} else if !st.IsHealthy {
		resp.Status = "degraded"
	}
	h.writeJSON(w, code, resp)
}

func (h *HealthServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}
