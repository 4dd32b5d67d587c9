package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/miren-dev/authbridge/domain"
	"github.com/miren-dev/authbridge/internal/metrics"
	"github.com/miren-dev/authbridge/upstream"
)

// upstreamRefreshLeeway refreshes upstream tokens slightly before their
// recorded expiry so downstream callers never receive an already-dead token.
const upstreamRefreshLeeway = 30 * time.Second

// UpstreamRefresher is the slice of the upstream provider the rotation
// service needs for transparent token refresh.
type UpstreamRefresher interface {
	Refresh(ctx context.Context, current domain.UpstreamTokens, expectedSubject string) (*upstream.Identity, error)
}

// RotationService implements refresh-token rotation with family-based replay
// detection. Every grant establishes a family with exactly one live token;
// each rotation retires the presented token and issues a successor. A retired
// token presented again revokes the whole family.
type RotationService struct {
	store    domain.RefreshTokenStore
	sessions *SessionService
	upstream UpstreamRefresher

	refreshTTL time.Duration

	// revokeUpstreamOnReplay cascades a replay-triggered family revocation to
	// the session's stored upstream tokens.
	revokeUpstreamOnReplay bool
}

func NewRotationService(store domain.RefreshTokenStore, sessions *SessionService, up UpstreamRefresher, refreshTTL time.Duration, revokeUpstreamOnReplay bool) *RotationService {
	return &RotationService{
		store:                  store,
		sessions:               sessions,
		upstream:               up,
		refreshTTL:             refreshTTL,
		revokeUpstreamOnReplay: revokeUpstreamOnReplay,
	}
}

// Issue creates a new refresh token family for a session and returns the
// family's first token. Called once per authorization code redemption.
func (s *RotationService) Issue(ctx context.Context, session *domain.Session) (string, error) {
	token, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	family := &domain.RefreshTokenFamily{
		ID:         session.FamilyID,
		SessionID:  session.ID,
		ClientID:   session.ClientID,
		Generation: 1,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.refreshTTL),
	}
	if err := s.store.CreateFamily(ctx, family, token); err != nil {
		return "", fmt.Errorf("failed to create refresh token family: %w", err)
	}
	return token, nil
}

// RotationResult is the outcome of a successful rotation: the session the
// family belongs to (with upstream tokens transparently refreshed when they
// had expired) and the successor refresh token.
type RotationResult struct {
	Session      *domain.Session
	RefreshToken string
}

// Rotate advances a family past the presented token. A replayed token revokes
// the family, optionally wipes the session's upstream tokens, and surfaces as
// domain.ErrTokenReplayed; callers translate that into invalid_grant without
// distinguishing it from other failures on the wire.
func (s *RotationService) Rotate(ctx context.Context, presented string) (*RotationResult, error) {
	family, err := s.store.GetFamilyByToken(ctx, presented)
	if err != nil {
		return nil, err
	}
	if family.Expired() {
		return nil, domain.ErrFamilyNotFound
	}

	session, err := s.sessions.Get(ctx, family.SessionID)
	if err != nil {
		// The session died under the family; without it there is nothing
		// left to refresh against, so retire the family too.
		_ = s.store.RevokeFamily(ctx, family.ID)
		return nil, err
	}

	// Renew expired upstream material before spending the presented token:
	// if the upstream IDP is unreachable the token stays current and the
	// client can retry the same grant.
	if err := s.refreshUpstreamIfNeeded(ctx, session); err != nil {
		return nil, err
	}

	next, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}
	family, err = s.store.RotateToken(ctx, presented, next)
	if err != nil {
		if errors.Is(err, domain.ErrTokenReplayed) {
			s.handleReplay(ctx, family)
		}
		return nil, err
	}
	metrics.RefreshRotationsTotal.Inc()

	log.Debug().
		Str("family_id", family.ID).
		Int64("generation", family.Generation).
		Msg("refresh token rotated")

	return &RotationResult{Session: session, RefreshToken: next}, nil
}

// handleReplay records the security event and, when policy says so, cascades
// the revocation to the session's upstream credentials.
func (s *RotationService) handleReplay(ctx context.Context, family *domain.RefreshTokenFamily) {
	metrics.RefreshReplaysTotal.Inc()

	event := log.Warn()
	if family != nil {
		event = event.
			Str("family_id", family.ID).
			Str("client_id", family.ClientID).
			Int64("generation", family.Generation)
	}
	event.Msg("refresh token replay detected, family revoked")

	if !s.revokeUpstreamOnReplay || family == nil {
		return
	}
	if err := s.sessions.ClearUpstreamTokens(ctx, family.SessionID); err != nil &&
		!errors.Is(err, domain.ErrSessionNotFound) {
		log.Error().Err(err).
			Str("tsid", family.SessionID).
			Msg("failed to clear upstream tokens after replay")
	}
}

// refreshUpstreamIfNeeded transparently renews the session's upstream access
// token when it has expired, persisting the new token set before the
// downstream response is built.
func (s *RotationService) refreshUpstreamIfNeeded(ctx context.Context, session *domain.Session) error {
	tokens := session.Upstream
	if tokens.AccessToken == "" || tokens.ExpiresAt.IsZero() {
		return nil
	}
	if time.Until(tokens.ExpiresAt) > upstreamRefreshLeeway {
		return nil
	}
	if s.upstream == nil || tokens.RefreshToken == "" {
		// Cannot renew; the downstream grant stays valid, callers of the
		// upstream tokens will see the expired set.
		return nil
	}

	identity, err := s.upstream.Refresh(ctx, tokens, session.Subject)
	if err != nil {
		metrics.UpstreamRefreshFailures.Inc()
		if errors.Is(err, upstream.ErrSubjectChanged) {
			// The upstream principal changed under the session. Nothing
			// downstream can be trusted anymore.
			_ = s.sessions.Revoke(ctx, session.ID)
			_ = s.store.RevokeFamily(ctx, session.FamilyID)
			return err
		}
		return fmt.Errorf("upstream refresh failed: %w", err)
	}
	metrics.UpstreamRefreshTotal.Inc()

	if err := s.sessions.UpdateUpstreamTokens(ctx, session.ID, identity.Tokens); err != nil {
		return fmt.Errorf("failed to persist refreshed upstream tokens: %w", err)
	}
	session.Upstream = identity.Tokens

	log.Debug().Str("tsid", session.ID).Msg("upstream tokens transparently refreshed")
	return nil
}

// newOpaqueToken returns a 256-bit random token in base64url form.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
