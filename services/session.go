package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/miren-dev/authbridge/domain"
)

// ErrSessionBindingMismatch is returned when upstream tokens are requested
// with a subject or client that does not match the session they are bound to.
var ErrSessionBindingMismatch = errors.New("session binding mismatch")

// SessionService manages the server-side sessions referenced by the tsid
// claim. A session holds the upstream token set for one authenticated
// subject and one downstream client; it is the only place upstream
// credentials live.
type SessionService struct {
	store      domain.SessionStore
	sessionTTL time.Duration
}

func NewSessionService(store domain.SessionStore, sessionTTL time.Duration) *SessionService {
	return &SessionService{store: store, sessionTTL: sessionTTL}
}

// Create establishes a session for a verified upstream identity and returns
// it. The session ID becomes the tsid claim of every token minted for it.
func (s *SessionService) Create(ctx context.Context, subject, clientID string, scope []string, upstream domain.UpstreamTokens) (*domain.Session, error) {
	now := time.Now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		Subject:   subject,
		ClientID:  clientID,
		Scope:     scope,
		Upstream:  upstream,
		FamilyID:  uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	log.Info().
		Str("tsid", session.ID).
		Str("client_id", clientID).
		Msg("session created")
	return session, nil
}

// Get loads a session by ID. Expired sessions are reported as not found.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Expired() {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// UpstreamTokens returns the upstream token set for a session after checking
// that the caller's subject and client match the session's bindings. A
// mismatch means a token is being used against a session it was never issued
// for and is treated as not found by callers.
func (s *SessionService) UpstreamTokens(ctx context.Context, sessionID, subject, clientID string) (*domain.UpstreamTokens, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Subject != subject || session.ClientID != clientID {
		log.Warn().
			Str("tsid", sessionID).
			Str("client_id", clientID).
			Msg("upstream token request with mismatched session binding")
		return nil, ErrSessionBindingMismatch
	}
	upstream := session.Upstream
	return &upstream, nil
}

// UpdateUpstreamTokens replaces the upstream token set after a transparent
// refresh, preserving the session's remaining TTL.
func (s *SessionService) UpdateUpstreamTokens(ctx context.Context, sessionID string, tokens domain.UpstreamTokens) error {
	return s.store.UpdateUpstreamTokens(ctx, sessionID, tokens)
}

// ClearUpstreamTokens drops the upstream token set from a session, used when
// a refresh token replay revokes downstream access and policy cascades the
// revocation upstream.
func (s *SessionService) ClearUpstreamTokens(ctx context.Context, sessionID string) error {
	return s.store.ClearUpstreamTokens(ctx, sessionID)
}

// Revoke deletes the session outright.
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	log.Info().Str("tsid", sessionID).Msg("session revoked")
	return nil
}
