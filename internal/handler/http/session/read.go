package session

import (
	"net/http"
	"strconv"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/handler/http/respond"
)

// maxListLimit caps the limit query parameter.
const maxListLimit = 200

type ListHandler struct{ Svc Service }

// ServeHTTP lists active sessions, most recently updated first.
func (h ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			respond.SafeError(w, r, &entity.ValidationError{
				Field:   "limit",
				Message: "must be between 1 and " + strconv.Itoa(maxListLimit),
			})
			return
		}
		limit = n
	}

	sessions, err := h.Svc.ListActiveSessions(r.Context(), limit)
	if err != nil {
		respond.SafeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []entity.ChatSession{}
	}
	respond.JSON(w, http.StatusOK, listResponse{Sessions: sessions, Count: len(sessions)})
}

type ActiveHandler struct{ Svc Service }

// ServeHTTP returns the active session of a provider, optionally narrowed
// to one customer.
func (h ActiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, err := h.Svc.GetActiveSession(r.Context(), q.Get("providerId"), q.Get("customerId"))
	if err != nil {
		respond.SafeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, activeResponse{Session: sess})
}

type GetHandler struct{ Svc Service }

func (h GetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Svc.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		respond.SafeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, sess)
}
