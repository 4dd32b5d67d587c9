package memory

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/miren-dev/authbridge/domain"
)

// SessionStore keeps sessions in a TTL cache so expired entries disappear
// without a sweeper of our own.
type SessionStore struct {
	cache *ttlcache.Cache[string, *domain.Session]
}

func NewSessionStore() *SessionStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.Session](),
	)
	go cache.Start()

	return &SessionStore{cache: cache}
}

func (s *SessionStore) SaveSession(_ context.Context, session *domain.Session) error {
	s.cache.Set(session.ID, session, time.Until(session.ExpiresAt))
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	item := s.cache.Get(id)
	if item == nil {
		return nil, domain.ErrSessionNotFound
	}
	// Copy so callers cannot mutate the cached entry in place.
	session := *item.Value()
	return &session, nil
}

// UpdateUpstreamTokens swaps the upstream token set while preserving the
// session's remaining TTL.
func (s *SessionStore) UpdateUpstreamTokens(ctx context.Context, id string, tokens domain.UpstreamTokens) error {
	return s.update(id, func(session *domain.Session) {
		session.Upstream = tokens
	})
}

func (s *SessionStore) ClearUpstreamTokens(_ context.Context, id string) error {
	return s.update(id, func(session *domain.Session) {
		session.Upstream = domain.UpstreamTokens{}
	})
}

func (s *SessionStore) update(id string, mutate func(*domain.Session)) error {
	item := s.cache.Get(id)
	if item == nil {
		return domain.ErrSessionNotFound
	}
	session := *item.Value()
	mutate(&session)
	s.cache.Set(id, &session, time.Until(session.ExpiresAt))
	return nil
}

func (s *SessionStore) DeleteSession(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

// Close stops the cache's expiration goroutine.
func (s *SessionStore) Close() {
	s.cache.Stop()
}

var _ domain.SessionStore = (*SessionStore)(nil)
