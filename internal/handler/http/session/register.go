package session

import (
	"context"
	"net/http"

	"marketplace-core/internal/domain/entity"
	sessionUC "marketplace-core/internal/usecase/session"
)

// Service is the session surface the handlers need.
// *sessionUC.Service satisfies it.
type Service interface {
	CreateSession(ctx context.Context, in entity.ChatSession) (*entity.ChatSession, error)
	GetActiveSession(ctx context.Context, providerID, customerID string) (*entity.ChatSession, error)
	GetSession(ctx context.Context, id string) (*entity.ChatSession, error)
	ListActiveSessions(ctx context.Context, limit int) ([]entity.ChatSession, error)
	UpdateSession(ctx context.Context, id string, patch entity.SessionPatch) (*entity.ChatSession, error)
	CloseSession(ctx context.Context, id string) sessionUC.CloseResult
	ValidateConsistency(ctx context.Context, local entity.LocalSnapshot) sessionUC.ConsistencyResult
}

// Register mounts the session routes on mux.
func Register(mux *http.ServeMux, svc Service) {
	mux.Handle("GET /sessions", ListHandler{svc})
	mux.Handle("GET /sessions/active", ActiveHandler{svc})
	mux.Handle("GET /sessions/{id}", GetHandler{svc})

	mux.Handle("POST /sessions", CreateHandler{svc})
	mux.Handle("PATCH /sessions/{id}", UpdateHandler{svc})
	mux.Handle("POST /sessions/{id}/close", CloseHandler{svc})
	mux.Handle("POST /sessions/reconcile", ReconcileHandler{svc})
}
