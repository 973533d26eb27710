package booking_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/handler/http/booking"
	bookingUC "marketplace-core/internal/usecase/booking"
)

type stubResponder struct {
	states  map[string]bookingUC.State
	changed bool
	err     error
	calls   []string
}

func (s *stubResponder) State(id string) (bookingUC.State, bool) {
	st, ok := s.states[id]
	return st, ok
}

func (s *stubResponder) answer(id string, status entity.BookingStatus) (bool, error) {
	if s.changed {
		now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		st := s.states[id]
		st.Status = status
		st.RespondedAt = &now
		s.states[id] = st
	}
	return s.changed, s.err
}

func (s *stubResponder) Accept(_ context.Context, id string) (bool, error) {
	s.calls = append(s.calls, "accept:"+id)
	return s.answer(id, entity.BookingAccepted)
}

func (s *stubResponder) Reject(_ context.Context, id string) (bool, error) {
	s.calls = append(s.calls, "reject:"+id)
	return s.answer(id, entity.BookingRejected)
}

func pending(id string, left int) map[string]bookingUC.State {
	return map[string]bookingUC.State{
		id: {BookingID: id, Status: entity.BookingPending, SecondsLeft: left},
	}
}

func serve(t *testing.T, svc booking.Responder, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	booking.Register(mux, svc)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

func TestGetHandler_Pending(t *testing.T) {
	svc := &stubResponder{states: pending("b1", 17)}

	rr := serve(t, svc, http.MethodGet, "/bookings/b1")

	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[booking.DTO](t, rr)
	assert.Equal(t, "b1", got.BookingID)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, 17, got.SecondsLeft)
	assert.Nil(t, got.RespondedAt)
	assert.Nil(t, got.Synced)
}

func TestGetHandler_Unknown(t *testing.T) {
	svc := &stubResponder{states: map[string]bookingUC.State{}}

	rr := serve(t, svc, http.MethodGet, "/bookings/nope")

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "The booking could not be found.")
}

func TestRespondHandler_Accept(t *testing.T) {
	svc := &stubResponder{states: pending("b1", 20), changed: true}

	rr := serve(t, svc, http.MethodPost, "/bookings/b1/accept")

	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[booking.DTO](t, rr)
	assert.Equal(t, "accepted", got.Status)
	assert.NotNil(t, got.RespondedAt)
	assert.Equal(t, []string{"accept:b1"}, svc.calls)
}

func TestRespondHandler_Reject(t *testing.T) {
	svc := &stubResponder{states: pending("b1", 20), changed: true}

	rr := serve(t, svc, http.MethodPost, "/bookings/b1/reject")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "rejected", decode[booking.DTO](t, rr).Status)
	assert.Equal(t, []string{"reject:b1"}, svc.calls)
}

func TestRespondHandler_AlreadyAnswered(t *testing.T) {
	states := map[string]bookingUC.State{
		"b1": {BookingID: "b1", Status: entity.BookingExpired},
	}
	svc := &stubResponder{states: states}

	rr := serve(t, svc, http.MethodPost, "/bookings/b1/accept")

	assert.Equal(t, http.StatusConflict, rr.Code)
	body := decode[map[string]string](t, rr)
	assert.Equal(t, "This booking has already been answered.", body["error"])
	assert.Equal(t, "expired", body["status"])
}

func TestRespondHandler_WriteFailureStillAnswers(t *testing.T) {
	svc := &stubResponder{
		states:  pending("b1", 20),
		changed: true,
		err:     &entity.ConnectionError{Op: "update booking", Reason: "circuit open"},
	}

	rr := serve(t, svc, http.MethodPost, "/bookings/b1/accept")

	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[booking.DTO](t, rr)
	assert.Equal(t, "accepted", got.Status)
	require.NotNil(t, got.Synced)
	assert.False(t, *got.Synced)
}

func TestRespondHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantRetry  string
		wantSubstr string
	}{
		{
			name:       "unknown booking",
			err:        &entity.NotFoundError{Resource: "booking", ID: "b1"},
			wantCode:   http.StatusNotFound,
			wantSubstr: "could not be found",
		},
		{
			name:       "rate limited",
			err:        &entity.RateLimitError{Operation: "booking_response", RetryAfter: 90 * time.Second},
			wantCode:   http.StatusTooManyRequests,
			wantRetry:  "90",
			wantSubstr: "Too many attempts",
		},
		{
			name:       "unexpected",
			err:        errors.New("boom"),
			wantCode:   http.StatusInternalServerError,
			wantSubstr: "The action failed. Please try again.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubResponder{states: pending("b1", 20), err: tt.err}

			rr := serve(t, svc, http.MethodPost, "/bookings/b1/reject")

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, tt.wantRetry, rr.Header().Get("Retry-After"))
			assert.Contains(t, rr.Body.String(), tt.wantSubstr)
		})
	}
}

func TestRegister_MethodNotAllowed(t *testing.T) {
	svc := &stubResponder{states: pending("b1", 20)}

	rr := serve(t, svc, http.MethodGet, "/bookings/b1/accept")

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestDispatcherSatisfiesResponder(t *testing.T) {
	var _ booking.Responder = (*bookingUC.Dispatcher)(nil)
}
