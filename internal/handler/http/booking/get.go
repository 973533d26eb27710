package booking

import (
	"net/http"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/handler/http/respond"
)

type GetHandler struct{ Svc Responder }

// ServeHTTP returns the countdown state of a pending or recently answered
// booking.
func (h GetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := h.Svc.State(id)
	if !ok {
		respond.SafeError(w, r, &entity.NotFoundError{Resource: "booking", ID: id})
		return
	}
	respond.JSON(w, http.StatusOK, toDTO(st))
}
