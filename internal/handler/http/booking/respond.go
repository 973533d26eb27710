package booking

import (
	"log/slog"
	"net/http"

	"marketplace-core/internal/handler/http/respond"
	"marketplace-core/internal/observability/logging"
)

// RespondHandler accepts or rejects a pending booking.
type RespondHandler struct {
	Svc    Responder
	Accept bool
}

func (h RespondHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	answer := h.Svc.Reject
	if h.Accept {
		answer = h.Svc.Accept
	}
	changed, err := answer(r.Context(), id)

	switch {
	case err != nil && !changed:
		respond.SafeError(w, r, err)
	case !changed:
		body := conflictBody{Error: "This booking has already been answered."}
		if st, ok := h.Svc.State(id); ok {
			body.Status = string(st.Status)
		}
		respond.JSON(w, http.StatusConflict, body)
	default:
		st, _ := h.Svc.State(id)
		out := toDTO(st)
		if err != nil {
			// The answer stands locally; the client should not resend it.
			logging.FromContext(r.Context()).Warn("booking answer not synced",
				slog.String("booking_id", id),
				slog.String("error", respond.SanitizeError(err)))
			synced := false
			out.Synced = &synced
		}
		respond.JSON(w, http.StatusOK, out)
	}
}
