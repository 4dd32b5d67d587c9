package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miren-dev/authbridge/domain"
	"github.com/miren-dev/authbridge/storage/memory"
)

func newSessionFixture(t *testing.T, ttl time.Duration) *SessionService {
	t.Helper()
	store := memory.NewSessionStore()
	t.Cleanup(store.Close)
	return NewSessionService(store, ttl)
}

func TestSessionService_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	svc := newSessionFixture(t, time.Hour)

	session, err := svc.Create(ctx, "user-1", "client-1", []string{"openid"}, domain.UpstreamTokens{
		AccessToken: "upstream-access",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.NotEmpty(t, session.FamilyID)

	got, err := svc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, "client-1", got.ClientID)
}

func TestSessionService_UpstreamTokensBindingValidation(t *testing.T) {
	ctx := context.Background()
	svc := newSessionFixture(t, time.Hour)

	session, err := svc.Create(ctx, "user-1", "client-1", nil, domain.UpstreamTokens{
		AccessToken: "upstream-access",
	})
	require.NoError(t, err)

	t.Run("matching bindings", func(t *testing.T) {
		tokens, err := svc.UpstreamTokens(ctx, session.ID, "user-1", "client-1")
		require.NoError(t, err)
		assert.Equal(t, "upstream-access", tokens.AccessToken)
	})

	t.Run("wrong subject", func(t *testing.T) {
		_, err := svc.UpstreamTokens(ctx, session.ID, "user-2", "client-1")
		require.ErrorIs(t, err, ErrSessionBindingMismatch)
	})

	t.Run("wrong client", func(t *testing.T) {
		_, err := svc.UpstreamTokens(ctx, session.ID, "user-1", "client-2")
		require.ErrorIs(t, err, ErrSessionBindingMismatch)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := svc.UpstreamTokens(ctx, "ghost", "user-1", "client-1")
		require.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}

func TestSessionService_ExpiredSessionNotFound(t *testing.T) {
	ctx := context.Background()
	svc := newSessionFixture(t, 10*time.Millisecond)

	session, err := svc.Create(ctx, "user-1", "client-1", nil, domain.UpstreamTokens{})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = svc.Get(ctx, session.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionService_Revoke(t *testing.T) {
	ctx := context.Background()
	svc := newSessionFixture(t, time.Hour)

	session, err := svc.Create(ctx, "user-1", "client-1", nil, domain.UpstreamTokens{})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, session.ID))

	_, err = svc.Get(ctx, session.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}
