// Package session reconciles chat sessions between the client's local view
// and the remote document store.
//
// Every remote operation goes through retry.Caller. Expected absences are
// results, not failures: a missing or stale active session is reported as
// nil, and closing an already-closed session succeeds.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/observability/metrics"
	"marketplace-core/internal/repository"
	"marketplace-core/internal/resilience/retry"
)

const (
	// DefaultTTL is the lifetime of a new session.
	DefaultTTL = 24 * time.Hour

	// activeLookupLimit caps the candidates fetched by GetActiveSession.
	activeLookupLimit = 5

	// DefaultListLimit is used by ListActiveSessions when limit <= 0.
	DefaultListLimit = 5
)

// Config holds the optional collaborators of a Service.
type Config struct {
	// TTL is the session lifetime. Default: DefaultTTL
	TTL time.Duration

	// Now returns the current time. Default: time.Now
	Now func() time.Time

	// NewID generates session ids. Default: uuid.NewString
	NewID func() string

	// Logger. Default: slog.Default()
	Logger *slog.Logger
}

// Service implements the session reconciler.
type Service struct {
	store  repository.DocumentStore
	caller *retry.Caller
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewService creates a Service backed by store, reaching it through caller.
func NewService(store repository.DocumentStore, caller *retry.Caller, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:  store,
		caller: caller,
		ttl:    cfg.TTL,
		now:    cfg.Now,
		newID:  cfg.NewID,
		logger: cfg.Logger,
	}
}

// CreateSession validates the identity fields and persists a new active
// session expiring TTL from now. Validation failures never reach the store.
// Each provider and customer pair has its own create budget; over it the
// call fails with a *entity.RateLimitError.
func (s *Service) CreateSession(ctx context.Context, in entity.ChatSession) (*entity.ChatSession, error) {
	in.ProviderID = strings.TrimSpace(in.ProviderID)
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	if err := in.ValidateIdentity(); err != nil {
		return nil, err
	}
	if err := s.caller.Throttle(ctx, retry.OpSessionCreate, in.ProviderID+":"+in.CustomerID); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.create(ctx, in)
}

// create persists in as a new active session without throttling.
func (s *Service) create(ctx context.Context, in entity.ChatSession) (*entity.ChatSession, error) {
	now := s.now().UTC()
	sess := in
	sess.SessionID = s.newID()
	if sess.BookingID == "" {
		sess.BookingID = sess.SessionID
	}
	sess.IsActive = true
	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(s.ttl)
	sess.NormalizeDiscount()

	err := retry.Exec(ctx, s.caller, retry.OpSessionCreate, func(ctx context.Context) error {
		return s.store.Create(ctx, repository.CollectionSessions, sess.SessionID, &sess)
	})
	if err != nil {
		s.logger.Error("create session failed",
			slog.String("provider_id", sess.ProviderID),
			slog.String("booking_id", sess.BookingID),
			slog.Any("error", err))
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("session created",
		slog.String("session_id", sess.SessionID),
		slog.String("provider_id", sess.ProviderID))
	return &sess, nil
}

// GetActiveSession returns the most recently updated active session for
// providerID (and customerID when non-blank), or nil when there is none.
//
// An expired match is closed in the background and reported as nil.
// A missing collection or malformed query is reported as nil; connectivity
// failures are returned.
func (s *Service) GetActiveSession(ctx context.Context, providerID, customerID string) (*entity.ChatSession, error) {
	providerID = strings.TrimSpace(providerID)
	customerID = strings.TrimSpace(customerID)
	if providerID == "" {
		return nil, &entity.ValidationError{Field: "providerId", Message: "provider id is required"}
	}

	q := repository.Query{
		Filters: []repository.Filter{
			repository.Eq("providerId", providerID),
			repository.Eq("isActive", true),
		},
		OrderBy:   "updatedAt",
		OrderDesc: true,
		Limit:     activeLookupLimit,
	}
	if customerID != "" {
		q.Filters = append(q.Filters, repository.Eq("customerId", customerID))
	}

	sessions, err := s.list(ctx, q)
	if err != nil {
		if errors.Is(err, entity.ErrBadQuery) || errors.Is(err, entity.ErrNotFound) {
			s.logger.Debug("active session lookup degraded to none",
				slog.String("provider_id", providerID),
				slog.Any("error", err))
			return nil, nil
		}
		return nil, fmt.Errorf("get active session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	top := sessions[0]
	if top.Expired(s.now()) {
		s.logger.Info("active session expired, closing",
			slog.String("session_id", top.SessionID),
			slog.Time("expires_at", top.ExpiresAt))
		s.closeInBackground(ctx, top.SessionID)
		return nil, nil
	}
	return &top, nil
}

// GetSession reads one session. A missing session is a *entity.NotFoundError.
func (s *Service) GetSession(ctx context.Context, id string) (*entity.ChatSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &entity.ValidationError{Field: "sessionId", Message: "session id is required"}
	}
	sess, err := retry.Do(ctx, s.caller, retry.OpSessionGet, func(ctx context.Context) (*entity.ChatSession, error) {
		var out entity.ChatSession
		if err := s.store.Get(ctx, repository.CollectionSessions, id, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListActiveSessions returns up to limit active sessions, newest first.
func (s *Service) ListActiveSessions(ctx context.Context, limit int) ([]entity.ChatSession, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	sessions, err := s.list(ctx, repository.Query{
		Filters:   []repository.Filter{repository.Eq("isActive", true)},
		OrderBy:   "updatedAt",
		OrderDesc: true,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSession applies patch to session id. Identity and creation fields
// are rejected; updatedAt is always assigned by the store. A missing session
// is a *entity.NotFoundError, which callers treat as already closed.
func (s *Service) UpdateSession(ctx context.Context, id string, patch entity.SessionPatch) (*entity.ChatSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &entity.ValidationError{Field: "sessionId", Message: "session id is required for update"}
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(patch))
	for k, v := range patch {
		fields[k] = v
	}
	entity.SessionPatch(fields).Normalize()
	delete(fields, "updatedAt")

	sess, err := retry.Do(ctx, s.caller, retry.OpSessionUpdate, func(ctx context.Context) (*entity.ChatSession, error) {
		var out entity.ChatSession
		if err := s.store.Update(ctx, repository.CollectionSessions, id, fields, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("update session %s: %w", id, err)
	}
	return sess, nil
}

// CloseResult reports the outcome of a close. Err is informational.
type CloseResult struct {
	SessionID     string
	Closed        bool
	AlreadyClosed bool
	Err           error
}

// OK reports whether the session is closed, either now or before.
func (r CloseResult) OK() bool {
	return r.Closed || r.AlreadyClosed
}

// CloseSession marks the session inactive. It never fails: a missing
// session counts as already closed, and other failures are logged and
// reported in the result.
func (s *Service) CloseSession(ctx context.Context, id string) CloseResult {
	return s.closeSession(ctx, id, "explicit")
}

func (s *Service) closeSession(ctx context.Context, id, reason string) CloseResult {
	id = strings.TrimSpace(id)
	res := CloseResult{SessionID: id}
	if id == "" {
		s.logger.Warn("close session called without id")
		res.Err = &entity.ValidationError{Field: "sessionId", Message: "session id is required"}
		return res
	}

	err := retry.Exec(ctx, s.caller, retry.OpSessionClose, func(ctx context.Context) error {
		return s.store.Update(ctx, repository.CollectionSessions, id, map[string]any{"isActive": false}, nil)
	})
	switch {
	case err == nil:
		res.Closed = true
		metrics.RecordSessionsClosed(reason, 1)
		s.logger.Info("session closed", slog.String("session_id", id), slog.String("reason", reason))
	case errors.Is(err, entity.ErrNotFound):
		res.AlreadyClosed = true
		s.logger.Info("session already closed or deleted", slog.String("session_id", id))
	default:
		res.Err = err
		s.logger.Warn("close session failed",
			slog.String("session_id", id),
			slog.String("reason", reason),
			slog.Any("error", err))
	}
	return res
}

// closeInBackground closes a stale session without holding the caller.
// Wait blocks until all such closes have finished.
func (s *Service) closeInBackground(ctx context.Context, id string) {
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic closing stale session",
					slog.String("session_id", id),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
		}()
		s.closeSession(bg, id, "stale")
	}()
}

// Wait blocks until background closes finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsistencyResult is the outcome of ValidateConsistency. When Corrected
// is true, Session is the record the caller should adopt.
type ConsistencyResult struct {
	Valid     bool
	Corrected bool
	Session   *entity.ChatSession
	Err       error
}

// ValidateConsistency compares the local snapshot with the remote active
// session for the same provider. A missing remote session is recreated from
// the snapshot; on divergence the remote record wins. Local writes still in
// flight are not considered.
func (s *Service) ValidateConsistency(ctx context.Context, local entity.LocalSnapshot) ConsistencyResult {
	if strings.TrimSpace(local.ProviderID) == "" {
		metrics.RecordSessionCorrection("invalid")
		return ConsistencyResult{
			Err: &entity.ValidationError{Field: "providerId", Message: "local snapshot has no provider id"},
		}
	}

	remote, err := s.GetActiveSession(ctx, local.ProviderID, "")
	if err != nil {
		metrics.RecordSessionCorrection("invalid")
		s.logger.Warn("session consistency check failed",
			slog.String("provider_id", local.ProviderID),
			slog.Any("error", err))
		return ConsistencyResult{Err: err}
	}

	if remote == nil {
		s.logger.Warn("local session has no remote counterpart, recreating",
			slog.String("provider_id", local.ProviderID))
		created, err := s.repair(ctx, entity.SessionFromSnapshot(local))
		if err != nil {
			metrics.RecordSessionCorrection("invalid")
			s.logger.Warn("could not create corrective session",
				slog.String("provider_id", local.ProviderID),
				slog.Any("error", err))
			return ConsistencyResult{Err: err}
		}
		metrics.RecordSessionCorrection("created")
		return ConsistencyResult{Valid: true, Corrected: true, Session: created}
	}

	if local.Diverges(remote) {
		s.logger.Info("session data mismatch, adopting remote",
			slog.String("session_id", remote.SessionID))
		metrics.RecordSessionCorrection("remote_wins")
		return ConsistencyResult{Valid: true, Corrected: true, Session: remote}
	}

	return ConsistencyResult{Valid: true, Session: remote}
}

// repair recreates a missing session. It is not a user action and is not
// throttled.
func (s *Service) repair(ctx context.Context, in entity.ChatSession) (*entity.ChatSession, error) {
	in.ProviderID = strings.TrimSpace(in.ProviderID)
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	if err := in.ValidateIdentity(); err != nil {
		return nil, err
	}
	return s.create(ctx, in)
}

// SweepResult summarizes one CleanupExpired run.
type SweepResult struct {
	Found  int
	Closed int
	Failed int
}

// CleanupExpired closes every active session whose expiry has passed.
func (s *Service) CleanupExpired(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() { metrics.RecordSessionSweep(time.Since(start)) }()

	expired, err := s.list(ctx, repository.Query{
		Filters: []repository.Filter{
			repository.Lt("expiresAt", s.now().UTC()),
			repository.Eq("isActive", true),
		},
	})
	if err != nil {
		s.logger.Warn("expired session sweep failed", slog.Any("error", err))
		return SweepResult{}, fmt.Errorf("list expired sessions: %w", err)
	}

	res := SweepResult{Found: len(expired)}
	for _, sess := range expired {
		if ctx.Err() != nil {
			break
		}
		if r := s.closeSession(ctx, sess.SessionID, "sweep"); r.OK() {
			res.Closed++
		} else {
			res.Failed++
		}
	}

	if res.Found > 0 {
		s.logger.Info("expired sessions cleaned up",
			slog.Int("found", res.Found),
			slog.Int("closed", res.Closed),
			slog.Int("failed", res.Failed))
	}
	return res, ctx.Err()
}

func (s *Service) list(ctx context.Context, q repository.Query) ([]entity.ChatSession, error) {
	return retry.Do(ctx, s.caller, retry.OpSessionList, func(ctx context.Context) ([]entity.ChatSession, error) {
		var out []entity.ChatSession
		if err := s.store.List(ctx, repository.CollectionSessions, q, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}
