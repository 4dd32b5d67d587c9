package memory

import (
	"context"
	"sync"

	"github.com/miren-dev/authbridge/domain"
)

// familyState pairs a family with its single current token. Retired token
// values stay mapped to the family so their reuse is recognized as replay
// rather than an unknown token; the issued list exists so they can be pruned
// once the family is revoked or expires.
type familyState struct {
	family  domain.RefreshTokenFamily
	current string
	issued  []string
}

// RefreshStore implements refresh-token family rotation under one mutex, so
// concurrent rotations of the same token serialize and exactly one wins.
type RefreshStore struct {
	mu       sync.Mutex
	families map[string]*familyState
	tokens   map[string]string // opaque token -> family ID
}

func NewRefreshStore() *RefreshStore {
	return &RefreshStore{
		families: make(map[string]*familyState),
		tokens:   make(map[string]string),
	}
}

func (s *RefreshStore) CreateFamily(_ context.Context, family *domain.RefreshTokenFamily, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.families[family.ID] = &familyState{
		family:  *family,
		current: token,
		issued:  []string{token},
	}
	s.tokens[token] = family.ID
	return nil
}

func (s *RefreshStore) RotateToken(_ context.Context, presented, next string) (*domain.RefreshTokenFamily, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.lookup(presented)
	if err != nil {
		return nil, err
	}
	if state.family.Revoked {
		return nil, domain.ErrFamilyRevoked
	}
	if state.current != presented {
		state.family.Revoked = true
		s.dropRetiredTokens(state)
		revoked := state.family
		return &revoked, domain.ErrTokenReplayed
	}

	state.current = next
	state.family.Generation++
	state.issued = append(state.issued, next)
	s.tokens[next] = state.family.ID

	advanced := state.family
	return &advanced, nil
}

func (s *RefreshStore) GetFamilyByToken(_ context.Context, token string) (*domain.RefreshTokenFamily, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.lookup(token)
	if err != nil {
		return nil, err
	}
	if state.family.Revoked {
		return nil, domain.ErrFamilyRevoked
	}
	family := state.family
	return &family, nil
}

func (s *RefreshStore) GetFamily(_ context.Context, id string) (*domain.RefreshTokenFamily, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.families[id]
	if !ok {
		return nil, domain.ErrFamilyNotFound
	}
	if state.family.Expired() {
		s.evict(state)
		return nil, domain.ErrFamilyNotFound
	}
	family := state.family
	return &family, nil
}

func (s *RefreshStore) RevokeFamily(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.families[id]
	if !ok {
		return domain.ErrFamilyNotFound
	}
	state.family.Revoked = true
	s.dropRetiredTokens(state)
	return nil
}

// lookup resolves a token to its family state, evicting the family first if
// it has expired. Call with the mutex held.
func (s *RefreshStore) lookup(token string) (*familyState, error) {
	familyID, ok := s.tokens[token]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	state, ok := s.families[familyID]
	if !ok {
		delete(s.tokens, token)
		return nil, domain.ErrTokenNotFound
	}
	if state.family.Expired() {
		s.evict(state)
		return nil, domain.ErrTokenNotFound
	}
	return state, nil
}

// dropRetiredTokens removes every token of a revoked family from the index
// except the current one, which stays mapped so its use still reports the
// revocation instead of an unknown token.
func (s *RefreshStore) dropRetiredTokens(state *familyState) {
	for _, token := range state.issued {
		if token != state.current {
			delete(s.tokens, token)
		}
	}
	state.issued = []string{state.current}
}

// evict removes an expired family and all of its tokens. Call with the mutex
// held.
func (s *RefreshStore) evict(state *familyState) {
	for _, token := range state.issued {
		delete(s.tokens, token)
	}
	delete(s.families, state.family.ID)
}

var _ domain.RefreshTokenStore = (*RefreshStore)(nil)
