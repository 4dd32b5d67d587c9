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

func (s *Store) SaveCode(ctx context.Context, code *domain.AuthorizationCode) error {
	raw, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}
	if err := s.client.Set(ctx, s.codeKey(code.Code), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

// ConsumeCode relies on GETDEL for single-use semantics: of N concurrent
// redemptions of the same code, Redis hands the value to exactly one.
func (s *Store) ConsumeCode(ctx context.Context, code string) (*domain.AuthorizationCode, error) {
	raw, err := s.client.GetDel(ctx, s.codeKey(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	var entry domain.AuthorizationCode
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	if entry.Expired() {
		return nil, domain.ErrCodeNotFound
	}
	return &entry, nil
}

var _ domain.AuthorizationCodeStore = (*Store)(nil)
