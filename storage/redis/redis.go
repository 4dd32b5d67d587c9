// Package redis provides storage backends on a shared Redis (or compatible)
// keyspace, for deployments where multiple instances must see the same
// sessions, codes and refresh-token families.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store bundles every Redis-backed store behind one client and key prefix.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New connects to Redis and verifies the connection before returning.
func New(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return NewWithClient(client, prefix), nil
}

// NewWithClient wraps an existing client, used by tests running against
// miniredis.
func NewWithClient(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "authbridge"
	}
	return &Store{client: client, prefix: prefix}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) requestKey(internalState string) string {
	return fmt.Sprintf("%s:request:%s", s.prefix, internalState)
}

func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%s:code:%s", s.prefix, code)
}

func (s *Store) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *Store) familyKey(id string) string {
	return fmt.Sprintf("%s:family:%s", s.prefix, id)
}

func (s *Store) tokenKey(token string) string {
	return fmt.Sprintf("%s:rt:%s", s.prefix, token)
}

func (s *Store) clientKey(id string) string {
	return fmt.Sprintf("%s:client:%s", s.prefix, id)
}
