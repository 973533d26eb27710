package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-core/internal/domain/entity"
)

func TestJSON(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		data         any
		expectedBody string
	}{
		{name: "map", code: http.StatusOK, data: map[string]string{"status": "accepted"}, expectedBody: `{"status":"accepted"}`},
		{name: "struct", code: http.StatusCreated, data: struct{ ID string }{ID: "s1"}, expectedBody: `{"ID":"s1"}`},
		{name: "nil", code: http.StatusNoContent, data: nil, expectedBody: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			JSON(w, tt.code, tt.data)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			if tt.expectedBody == "" {
				assert.Empty(t, w.Body.String())
			} else {
				assert.JSONEq(t, tt.expectedBody, w.Body.String())
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&entity.ValidationError{Field: "providerId", Message: "required"}, http.StatusBadRequest},
		{&entity.NotFoundError{Resource: "session", ID: "s1"}, http.StatusNotFound},
		{&entity.ConflictError{Resource: "session", ID: "s1"}, http.StatusConflict},
		{&entity.RateLimitError{Operation: "session.create", RetryAfter: time.Minute}, http.StatusTooManyRequests},
		{&entity.ConnectionError{Op: "session.get"}, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", entity.ErrCircuitOpen), http.StatusServiceUnavailable},
		{entity.ErrUnauthorized, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "rate limited seconds",
			err:  &entity.RateLimitError{Operation: "booking.accept", RetryAfter: 42 * time.Second},
			want: "Too many attempts. Please try again in 42 seconds.",
		},
		{
			name: "rate limited minutes",
			err:  &entity.RateLimitError{Operation: "session.create", RetryAfter: 61 * time.Second},
			want: "Too many attempts. Please try again in 2 minutes.",
		},
		{
			name: "connection",
			err:  &entity.ConnectionError{Op: "session.get", Reason: "circuit breaker: OPEN, failures: 3"},
			want: "Connection problem. Please try again in 30 seconds.",
		},
		{
			name: "validation",
			err:  &entity.ValidationError{Field: "providerId", Message: "provider id is required"},
			want: "Invalid providerId: provider id is required",
		},
		{
			name: "not found",
			err:  fmt.Errorf("get: %w", &entity.NotFoundError{Resource: "booking", ID: "b1"}),
			want: "The booking could not be found.",
		},
		{
			name: "internal",
			err:  errors.New("mongodb://u:p@h: auth failed"),
			want: "The action failed. Please try again.",
		},
		{name: "nil", err: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestSafeError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantCode       int
		wantField      string
		wantRetryAfter string
	}{
		{
			name:      "validation names the field",
			err:       &entity.ValidationError{Field: "patch", Message: "update data is required"},
			wantCode:  http.StatusBadRequest,
			wantField: "patch",
		},
		{
			name:           "rate limited",
			err:            &entity.RateLimitError{Operation: "booking.accept", RetryAfter: 1500 * time.Millisecond},
			wantCode:       http.StatusTooManyRequests,
			wantRetryAfter: "2",
		},
		{
			name:           "connection",
			err:            &entity.ConnectionError{Op: "booking.accept"},
			wantCode:       http.StatusServiceUnavailable,
			wantRetryAfter: "30",
		},
		{
			name:     "internal",
			err:      errors.New("mongodb://admin:secret@db"),
			wantCode: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/bookings/b1/accept", nil)

			SafeError(w, r, tt.err)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantRetryAfter, w.Header().Get("Retry-After"))
			var body ErrorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, UserMessage(tt.err), body.Error)
			assert.Equal(t, tt.wantField, body.Field)
			assert.NotContains(t, w.Body.String(), "secret")
		})
	}
}

func TestSafeError_Nil(t *testing.T) {
	w := httptest.NewRecorder()

	SafeError(w, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Empty(t, w.Body.String())
}
