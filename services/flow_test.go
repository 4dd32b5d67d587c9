package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miren-dev/authbridge/domain"
	apperrors "github.com/miren-dev/authbridge/errors"
	"github.com/miren-dev/authbridge/storage/memory"
	"github.com/miren-dev/authbridge/upstream"
)

type stubUpstream struct{}

func (stubUpstream) AuthorizationURL(_ context.Context, state, _, _ string) (string, error) {
	return "https://idp.example.com/authorize?state=" + state, nil
}

func (stubUpstream) Exchange(_ context.Context, _, _, _ string) (*upstream.Identity, error) {
	return &upstream.Identity{
		Subject: "upstream-user",
		Tokens:  domain.UpstreamTokens{AccessToken: "upstream-access", ExpiresAt: time.Now().Add(time.Hour)},
	}, nil
}

func newFlowFixture(t *testing.T, pendingTTL time.Duration) (*FlowService, *ClientService) {
	t.Helper()

	sessionStore := memory.NewSessionStore()
	t.Cleanup(sessionStore.Close)

	clients := NewClientService(memory.NewClientStore())
	sessions := NewSessionService(sessionStore, time.Hour)
	flow := NewFlowService(memory.NewRequestStore(), memory.NewCodeStore(), clients, sessions, stubUpstream{}, pendingTTL, time.Minute)
	return flow, clients
}

func registerFlowClient(t *testing.T, clients *ClientService) *RegistrationResponse {
	t.Helper()
	resp, err := clients.Register(context.Background(), &RegistrationRequest{
		RedirectURIs: []string{"https://app.example.com/callback"},
	})
	require.NoError(t, err)
	return resp
}

func TestFlowService_BeginRejectsUnknownClient(t *testing.T) {
	flow, _ := newFlowFixture(t, time.Minute)

	_, err := flow.Begin(context.Background(), AuthorizeParams{
		ResponseType: "code",
		ClientID:     "ghost",
		RedirectURI:  "https://app.example.com/callback",
	})
	require.Error(t, err)
	oauthErr, ok := err.(*apperrors.OAuth2Error)
	require.True(t, ok)
	assert.Equal(t, apperrors.UnauthorizedClient, oauthErr.Code)
}

func TestFlowService_CallbackRejectsExpiredRequest(t *testing.T) {
	flow, clients := newFlowFixture(t, -time.Second)
	client := registerFlowClient(t, clients)

	redirect, err := flow.Begin(context.Background(), AuthorizeParams{
		ResponseType:        "code",
		ClientID:            client.ClientID,
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       ChallengeFromVerifier(GeneratePKCEVerifier()),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	internalState := redirect[len("https://idp.example.com/authorize?state="):]
	_, err = flow.HandleCallback(context.Background(), internalState, "upstream-code")
	require.Error(t, err)
}

func TestFlowService_RedeemValidations(t *testing.T) {
	ctx := context.Background()
	flow, clients := newFlowFixture(t, time.Minute)
	client := registerFlowClient(t, clients)

	verifier := GeneratePKCEVerifier()
	redirect, err := flow.Begin(ctx, AuthorizeParams{
		ResponseType:        "code",
		ClientID:            client.ClientID,
		RedirectURI:         "https://app.example.com/callback",
		State:               "client-state",
		CodeChallenge:       ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	internalState := redirect[len("https://idp.example.com/authorize?state="):]
	result, err := flow.HandleCallback(ctx, internalState, "upstream-code")
	require.NoError(t, err)
	assert.Equal(t, "client-state", result.State)

	record, err := clients.Get(ctx, client.ClientID)
	require.NoError(t, err)

	t.Run("happy path consumes the code", func(t *testing.T) {
		session, scope, err := flow.Redeem(ctx, record, result.Code, "https://app.example.com/callback", verifier)
		require.NoError(t, err)
		assert.Equal(t, "upstream-user", session.Subject)
		assert.Empty(t, scope)

		_, _, err = flow.Redeem(ctx, record, result.Code, "https://app.example.com/callback", verifier)
		require.Error(t, err)
	})

	t.Run("mismatched redirect URI burns the code", func(t *testing.T) {
		verifier2 := GeneratePKCEVerifier()
		redirect2, err := flow.Begin(ctx, AuthorizeParams{
			ResponseType:        "code",
			ClientID:            client.ClientID,
			RedirectURI:         "https://app.example.com/callback",
			CodeChallenge:       ChallengeFromVerifier(verifier2),
			CodeChallengeMethod: "S256",
		})
		require.NoError(t, err)
		internal2 := redirect2[len("https://idp.example.com/authorize?state="):]
		result2, err := flow.HandleCallback(ctx, internal2, "upstream-code")
		require.NoError(t, err)

		_, _, err = flow.Redeem(ctx, record, result2.Code, "https://other.example.com/cb", verifier2)
		require.Error(t, err)

		// A failed redemption attempt still consumed the code.
		_, _, err = flow.Redeem(ctx, record, result2.Code, "https://app.example.com/callback", verifier2)
		require.Error(t, err)
	})
}
