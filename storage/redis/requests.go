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

// SaveRequest stores a pending authorization request under its internal
// state, with the request's remaining lifetime as the key TTL.
func (s *Store) SaveRequest(ctx context.Context, req *domain.AuthorizationRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization request: %w", err)
	}
	ttl := time.Until(req.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization request already expired")
	}
	if err := s.client.Set(ctx, s.requestKey(req.InternalState), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save authorization request: %w", err)
	}
	return nil
}

// ConsumeRequest uses GETDEL so retrieval and removal are one atomic command
// even across instances sharing the keyspace.
func (s *Store) ConsumeRequest(ctx context.Context, internalState string) (*domain.AuthorizationRequest, error) {
	raw, err := s.client.GetDel(ctx, s.requestKey(internalState)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization request: %w", err)
	}

	var req domain.AuthorizationRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization request: %w", err)
	}
	if req.Expired() {
		return nil, domain.ErrRequestNotFound
	}
	return &req, nil
}

var _ domain.AuthorizationRequestStore = (*Store)(nil)
