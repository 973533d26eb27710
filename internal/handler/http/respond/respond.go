// Package respond writes JSON responses and turns errors into messages that
// are safe to show a provider or customer.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/observability/logging"
)

// ConnectionRetryAfter is the wait suggested after a connection failure.
// It matches the default circuit breaker cooldown.
const ConnectionRetryAfter = 30 * time.Second

// JSON writes v as JSON with the given status code.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			// Headers are already sent.
			slog.Default().Error("failed to encode JSON response",
				slog.Int("status_code", code),
				slog.Any("error", err))
		}
	}
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrValidationFailed), errors.Is(err, entity.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, entity.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, entity.ErrUnauthorized):
		return http.StatusForbidden
	case entity.IsConnection(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RetryAfter returns how long the caller should wait before retrying, or 0
// when retrying will not help.
func RetryAfter(err error) time.Duration {
	var rl *entity.RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	if entity.IsConnection(err) {
		return ConnectionRetryAfter
	}
	return 0
}

// UserMessage maps any error to a message that leaks nothing internal.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var rl *entity.RateLimitError
	if errors.As(err, &rl) {
		return "Too many attempts. Please try again in " + entity.HumanWait(rl.RetryAfter) + "."
	}
	if entity.IsConnection(err) {
		return "Connection problem. Please try again in " + entity.HumanWait(ConnectionRetryAfter) + "."
	}
	var ve *entity.ValidationError
	if errors.As(err, &ve) {
		return "Invalid " + ve.Field + ": " + ve.Message
	}
	var nf *entity.NotFoundError
	if errors.As(err, &nf) {
		return "The " + nf.Resource + " could not be found."
	}
	if errors.Is(err, entity.ErrNotFound) {
		return "Not found."
	}
	if errors.Is(err, entity.ErrConflict) {
		return "This record already exists."
	}
	return "The action failed. Please try again."
}

// SafeError writes err as a user-safe JSON error. Server-side failures are
// logged with credentials masked; throttling and connection failures carry
// a Retry-After header.
func SafeError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed",
			slog.Int("code", code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", SanitizeError(err)))
	}
	if wait := RetryAfter(err); wait > 0 {
		secs := int((wait + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	body := ErrorBody{Error: UserMessage(err)}
	var ve *entity.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	JSON(w, code, body)
}
