package memory

import (
	"context"
	"sync"

	"github.com/miren-dev/authbridge/domain"
)

// ClientStore keeps registered clients in memory. Registrations are lost on
// restart; deployments that need durable clients use the MongoDB backend.
type ClientStore struct {
	mu      sync.RWMutex
	clients map[string]*domain.Client
}

func NewClientStore() *ClientStore {
	return &ClientStore{clients: make(map[string]*domain.Client)}
}

func (s *ClientStore) CreateClient(_ context.Context, client *domain.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ID]; ok {
		return domain.ErrClientExists
	}
	copied := *client
	s.clients[client.ID] = &copied
	return nil
}

func (s *ClientStore) GetClient(_ context.Context, id string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, domain.ErrClientNotFound
	}
	copied := *client
	return &copied, nil
}

func (s *ClientStore) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[id]; !ok {
		return domain.ErrClientNotFound
	}
	delete(s.clients, id)
	return nil
}

var _ domain.ClientStore = (*ClientStore)(nil)
