package booking

import (
	"context"
	"net/http"

	bookingUC "marketplace-core/internal/usecase/booking"
)

// Responder is the booking surface the handlers need.
// *bookingUC.Dispatcher satisfies it.
type Responder interface {
	State(id string) (bookingUC.State, bool)
	Accept(ctx context.Context, id string) (bool, error)
	Reject(ctx context.Context, id string) (bool, error)
}

// Register mounts the booking routes on mux.
func Register(mux *http.ServeMux, svc Responder) {
	mux.Handle("GET /bookings/{id}", GetHandler{svc})
	mux.Handle("POST /bookings/{id}/accept", RespondHandler{Svc: svc, Accept: true})
	mux.Handle("POST /bookings/{id}/reject", RespondHandler{Svc: svc})
}
