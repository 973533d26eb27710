package session

import (
	"encoding/json"
	"net/http"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/handler/http/respond"
)

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &entity.ValidationError{Field: "body", Message: "malformed JSON"}
	}
	return nil
}

type CreateHandler struct{ Svc Service }

// ServeHTTP opens a new active session. Server-owned fields in the body
// are ignored.
func (h CreateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var in entity.ChatSession
	if err := decodeBody(r, &in); err != nil {
		respond.SafeError(w, r, err)
		return
	}

	sess, err := h.Svc.CreateSession(r.Context(), in)
	if err != nil {
		respond.SafeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+sess.SessionID)
	respond.JSON(w, http.StatusCreated, sess)
}

type UpdateHandler struct{ Svc Service }

// ServeHTTP applies a partial update keyed by stored field name.
func (h UpdateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var patch entity.SessionPatch
	if err := decodeBody(r, &patch); err != nil {
		respond.SafeError(w, r, err)
		return
	}

	sess, err := h.Svc.UpdateSession(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		respond.SafeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, sess)
}

type CloseHandler struct{ Svc Service }

// ServeHTTP closes a session. Closing an unknown or closed session succeeds.
func (h CloseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := h.Svc.CloseSession(r.Context(), r.PathValue("id"))
	if !res.OK() {
		respond.SafeError(w, r, res.Err)
		return
	}
	respond.JSON(w, http.StatusOK, closeResponse{
		SessionID:     res.SessionID,
		Closed:        res.Closed,
		AlreadyClosed: res.AlreadyClosed,
	})
}

type ReconcileHandler struct{ Svc Service }

// ServeHTTP checks a client snapshot against the remote session and returns
// the record the client should adopt.
func (h ReconcileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var local entity.LocalSnapshot
	if err := decodeBody(r, &local); err != nil {
		respond.SafeError(w, r, err)
		return
	}

	res := h.Svc.ValidateConsistency(r.Context(), local)
	if res.Err != nil {
		respond.SafeError(w, r, res.Err)
		return
	}
	respond.JSON(w, http.StatusOK, reconcileResponse{
		Valid:     res.Valid,
		Corrected: res.Corrected,
		Session:   res.Session,
	})
}
