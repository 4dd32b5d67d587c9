package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miren-dev/authbridge/domain"
)

func TestRequestStore_ConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	store := NewRequestStore()

	req := &domain.AuthorizationRequest{
		ClientID:      "client-1",
		InternalState: "state-1",
		ExpiresAt:     time.Now().Add(time.Minute),
	}
	require.NoError(t, store.SaveRequest(ctx, req))

	got, err := store.ConsumeRequest(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, "client-1", got.ClientID)

	_, err = store.ConsumeRequest(ctx, "state-1")
	require.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestRequestStore_ExpiredRequestNotReturned(t *testing.T) {
	ctx := context.Background()
	store := NewRequestStore()

	require.NoError(t, store.SaveRequest(ctx, &domain.AuthorizationRequest{
		InternalState: "state-1",
		ExpiresAt:     time.Now().Add(-time.Second),
	}))

	_, err := store.ConsumeRequest(ctx, "state-1")
	require.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestCodeStore_ConcurrentConsumeSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewCodeStore()

	require.NoError(t, store.SaveCode(ctx, &domain.AuthorizationCode{
		Code:      "code-1",
		ExpiresAt: time.Now().Add(time.Minute),
	}))

	const workers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeCode(ctx, "code-1"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestSessionStore_UpdatePreservesBindings(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	t.Cleanup(store.Close)

	session := &domain.Session{
		ID:        "tsid-1",
		Subject:   "user-1",
		ClientID:  "client-1",
		Upstream:  domain.UpstreamTokens{AccessToken: "old"},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, store.SaveSession(ctx, session))

	require.NoError(t, store.UpdateUpstreamTokens(ctx, "tsid-1", domain.UpstreamTokens{AccessToken: "new"}))

	got, err := store.GetSession(ctx, "tsid-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Upstream.AccessToken)
	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, "client-1", got.ClientID)

	require.NoError(t, store.ClearUpstreamTokens(ctx, "tsid-1"))
	got, err = store.GetSession(ctx, "tsid-1")
	require.NoError(t, err)
	assert.Empty(t, got.Upstream.AccessToken)
}

func TestSessionStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	t.Cleanup(store.Close)

	require.NoError(t, store.SaveSession(ctx, &domain.Session{
		ID:        "tsid-1",
		Subject:   "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	first, err := store.GetSession(ctx, "tsid-1")
	require.NoError(t, err)
	first.Subject = "mutated"

	second, err := store.GetSession(ctx, "tsid-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", second.Subject)
}

func newTestFamily(id string) *domain.RefreshTokenFamily {
	now := time.Now()
	return &domain.RefreshTokenFamily{
		ID:         id,
		SessionID:  "tsid-" + id,
		ClientID:   "client-1",
		Generation: 1,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	}
}

func TestRefreshStore_RotationAdvancesGeneration(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshStore()

	require.NoError(t, store.CreateFamily(ctx, newTestFamily("fam-1"), "t1"))

	family, err := store.RotateToken(ctx, "t1", "t2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), family.Generation)

	family, err = store.RotateToken(ctx, "t2", "t3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), family.Generation)
}

func TestRefreshStore_ReplayRevokes(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshStore()

	require.NoError(t, store.CreateFamily(ctx, newTestFamily("fam-1"), "t1"))
	_, err := store.RotateToken(ctx, "t1", "t2")
	require.NoError(t, err)

	family, err := store.RotateToken(ctx, "t1", "t3")
	require.ErrorIs(t, err, domain.ErrTokenReplayed)
	require.NotNil(t, family)
	assert.True(t, family.Revoked)
	assert.Equal(t, "tsid-fam-1", family.SessionID)

	_, err = store.RotateToken(ctx, "t2", "t4")
	require.ErrorIs(t, err, domain.ErrFamilyRevoked)

	got, err := store.GetFamily(ctx, "fam-1")
	require.NoError(t, err)
	assert.True(t, got.Revoked)
}

func TestRefreshStore_ConcurrentRotationSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshStore()

	require.NoError(t, store.CreateFamily(ctx, newTestFamily("fam-1"), "t0"))

	const workers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			if _, err := store.RotateToken(ctx, "t0", fmt.Sprintf("next-%d", n)); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	// Exactly one rotation wins; the losers observe replay and have revoked
	// the family.
	assert.Equal(t, int32(1), wins.Load())
	family, err := store.GetFamily(ctx, "fam-1")
	require.NoError(t, err)
	assert.True(t, family.Revoked)
}

func TestClientStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewClientStore()

	client := &domain.Client{ID: "client-1", Name: "Test"}
	require.NoError(t, store.CreateClient(ctx, client))
	require.ErrorIs(t, store.CreateClient(ctx, client), domain.ErrClientExists)

	got, err := store.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "Test", got.Name)

	require.NoError(t, store.DeleteClient(ctx, "client-1"))
	_, err = store.GetClient(ctx, "client-1")
	require.ErrorIs(t, err, domain.ErrClientNotFound)
}

func TestRefreshStore_GetFamilyByToken(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshStore()

	require.NoError(t, store.CreateFamily(ctx, newTestFamily("fam-1"), "t1"))
	_, err := store.RotateToken(ctx, "t1", "t2")
	require.NoError(t, err)

	// Spent tokens still resolve to their family; only RotateToken spends.
	for _, token := range []string{"t1", "t2"} {
		family, err := store.GetFamilyByToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "fam-1", family.ID)
	}

	_, err = store.GetFamilyByToken(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrTokenNotFound)

	require.NoError(t, store.RevokeFamily(ctx, "fam-1"))
	_, err = store.GetFamilyByToken(ctx, "t2")
	require.ErrorIs(t, err, domain.ErrFamilyRevoked)
}

func TestRefreshStore_RevocationPrunesRetiredTokens(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshStore()

	require.NoError(t, store.CreateFamily(ctx, newTestFamily("fam-1"), "t1"))
	_, err := store.RotateToken(ctx, "t1", "t2")
	require.NoError(t, err)
	_, err = store.RotateToken(ctx, "t2", "t3")
	require.NoError(t, err)

	require.NoError(t, store.RevokeFamily(ctx, "fam-1"))

	// Retired tokens are gone from the index; only the current one is kept
	// so its use still reports the revocation.
	for _, token := range []string{"t1", "t2"} {
		_, err := store.GetFamilyByToken(ctx, token)
		require.ErrorIs(t, err, domain.ErrTokenNotFound)
	}
	_, err = store.GetFamilyByToken(ctx, "t3")
	require.ErrorIs(t, err, domain.ErrFamilyRevoked)

	store.mu.Lock()
	indexed := len(store.tokens)
	store.mu.Unlock()
	assert.Equal(t, 1, indexed)
}

func TestRefreshStore_ExpiredFamilyEvicted(t *testing.T) {
	ctx := context.Background()
	store := NewRefreshStore()

	family := newTestFamily("fam-old")
	family.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.CreateFamily(ctx, family, "t1"))

	_, err := store.GetFamilyByToken(ctx, "t1")
	require.ErrorIs(t, err, domain.ErrTokenNotFound)
	_, err = store.GetFamily(ctx, "fam-old")
	require.ErrorIs(t, err, domain.ErrFamilyNotFound)

	store.mu.Lock()
	families, tokens := len(store.families), len(store.tokens)
	store.mu.Unlock()
	assert.Zero(t, families)
	assert.Zero(t, tokens)
}
