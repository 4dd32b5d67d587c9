package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/miren-dev/authbridge/domain"
)

func (s *Store) SaveSession(ctx context.Context, session *domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.ID)
	}
	if err := s.client.Set(ctx, s.sessionKey(session.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// UpdateUpstreamTokens rewrites the session value with SET KEEPTTL so the
// session's remaining lifetime is preserved across token refreshes.
func (s *Store) UpdateUpstreamTokens(ctx context.Context, id string, tokens domain.UpstreamTokens) error {
	return s.updateSession(ctx, id, func(session *domain.Session) {
		session.Upstream = tokens
	})
}

func (s *Store) ClearUpstreamTokens(ctx context.Context, id string) error {
	return s.updateSession(ctx, id, func(session *domain.Session) {
		session.Upstream = domain.UpstreamTokens{}
	})
}

func (s *Store) updateSession(ctx context.Context, id string, mutate func(*domain.Session)) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	mutate(session)

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(id), raw, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

var _ domain.SessionStore = (*Store)(nil)
