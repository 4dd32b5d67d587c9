package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/miren-dev/authbridge/domain"
)

// clientRecord adds the secret hash back in: the domain type excludes it
// from JSON so it can never leak through an API response, but the store must
// persist it.
type clientRecord struct {
	domain.Client
	SecretHash string `json:"secret_hash,omitempty"`
}

// CreateClient stores a client without TTL; registrations live until
// deleted. SETNX keeps a duplicate ID from silently overwriting.
func (s *Store) CreateClient(ctx context.Context, client *domain.Client) error {
	record := clientRecord{Client: *client, SecretHash: client.SecretHash}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.clientKey(client.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	if !created {
		return domain.ErrClientExists
	}
	return nil
}

func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	raw, err := s.client.Get(ctx, s.clientKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	var record clientRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	client := record.Client
	client.SecretHash = record.SecretHash
	return &client, nil
}

func (s *Store) DeleteClient(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, s.clientKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if deleted == 0 {
		return domain.ErrClientNotFound
	}
	return nil
}

var _ domain.ClientStore = (*Store)(nil)
