package memory

import (
	"context"
	"sync"

	"github.com/miren-dev/authbridge/domain"
)

// CodeStore keeps single-use authorization codes.
type CodeStore struct {
	mu    sync.Mutex
	codes map[string]*domain.AuthorizationCode
}

func NewCodeStore() *CodeStore {
	return &CodeStore{codes: make(map[string]*domain.AuthorizationCode)}
}

func (s *CodeStore) SaveCode(_ context.Context, code *domain.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = code
	return nil
}

// ConsumeCode atomically removes and returns a code. Under concurrent
// redemption of the same code exactly one caller gets it; the rest see
// ErrCodeNotFound.
func (s *CodeStore) ConsumeCode(_ context.Context, code string) (*domain.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[code]
	if !ok {
		return nil, domain.ErrCodeNotFound
	}
	delete(s.codes, code)
	if entry.Expired() {
		return nil, domain.ErrCodeNotFound
	}
	return entry, nil
}

var _ domain.AuthorizationCodeStore = (*CodeStore)(nil)
