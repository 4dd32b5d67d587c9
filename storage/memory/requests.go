// Package memory provides in-process storage backends for single-instance
// deployments. All stores are safe for concurrent use.
package memory

import (
	"context"
	"sync"

	"github.com/miren-dev/authbridge/domain"
)

// RequestStore keeps pending authorization requests keyed by internal state.
type RequestStore struct {
	mu       sync.Mutex
	requests map[string]*domain.AuthorizationRequest
}

func NewRequestStore() *RequestStore {
	return &RequestStore{requests: make(map[string]*domain.AuthorizationRequest)}
}

func (s *RequestStore) SaveRequest(_ context.Context, req *domain.AuthorizationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.InternalState] = req
	return nil
}

// ConsumeRequest removes and returns the request in one step, so each
// internal state correlates at most one callback. Expired entries are
// dropped and reported as not found.
func (s *RequestStore) ConsumeRequest(_ context.Context, internalState string) (*domain.AuthorizationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[internalState]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	delete(s.requests, internalState)
	if req.Expired() {
		return nil, domain.ErrRequestNotFound
	}
	return req, nil
}

var _ domain.AuthorizationRequestStore = (*RequestStore)(nil)
