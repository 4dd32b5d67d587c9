package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/miren-dev/authbridge/domain"
	apperrors "github.com/miren-dev/authbridge/errors"
	"github.com/miren-dev/authbridge/internal/metrics"
	"github.com/miren-dev/authbridge/upstream"
)

// UpstreamAuthorizer is the slice of the upstream provider the authorization
// flow needs: building the federated redirect and redeeming the callback.
type UpstreamAuthorizer interface {
	AuthorizationURL(ctx context.Context, state, nonce, codeChallenge string) (string, error)
	Exchange(ctx context.Context, code, codeVerifier, expectedNonce string) (*upstream.Identity, error)
}

// FlowService drives the authorization code flow: accepting /authorize
// requests, correlating upstream callbacks, and redeeming authorization
// codes. Downstream PKCE binds the code to the client; a second, server-held
// PKCE verifier protects the upstream leg.
type FlowService struct {
	requests domain.AuthorizationRequestStore
	codes    domain.AuthorizationCodeStore
	clients  *ClientService
	sessions *SessionService
	upstream UpstreamAuthorizer

	pendingTTL time.Duration
	codeTTL    time.Duration
}

func NewFlowService(requests domain.AuthorizationRequestStore, codes domain.AuthorizationCodeStore, clients *ClientService, sessions *SessionService, up UpstreamAuthorizer, pendingTTL, codeTTL time.Duration) *FlowService {
	return &FlowService{
		requests:   requests,
		codes:      codes,
		clients:    clients,
		sessions:   sessions,
		upstream:   up,
		pendingTTL: pendingTTL,
		codeTTL:    codeTTL,
	}
}

// AuthorizeParams are the query parameters of a downstream /authorize call.
type AuthorizeParams struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Begin validates an /authorize request and returns the upstream redirect
// URL. Validation failures that cannot be safely reported to the client's
// redirect URI (unknown client, bad redirect URI) come back as errors the
// handler renders directly; everything downstream of a validated redirect URI
// may be reported by redirect.
func (s *FlowService) Begin(ctx context.Context, params AuthorizeParams) (string, error) {
	client, err := s.clients.Get(ctx, params.ClientID)
	if err != nil {
		if errors.Is(err, domain.ErrClientNotFound) {
			return "", apperrors.NewUnauthorizedClient("unknown client_id")
		}
		return "", err
	}
	if !client.HasRedirectURI(params.RedirectURI) {
		return "", apperrors.NewUnauthorizedClient("redirect_uri is not registered for this client")
	}

	if params.ResponseType != "code" {
		return "", apperrors.NewUnauthorizedClient("only the code response type is supported")
	}
	if params.CodeChallenge == "" {
		return "", apperrors.NewPKCERequired()
	}
	if err := ValidateChallenge(params.CodeChallenge, params.CodeChallengeMethod); err != nil {
		return "", apperrors.NewInvalidRequest(err.Error())
	}

	// The upstream leg gets its own state and PKCE verifier; the client's
	// state never leaves this server until the final redirect back.
	internalState := uuid.NewString()
	upstreamVerifier := GeneratePKCEVerifier()
	nonce := uuid.NewString()

	now := time.Now()
	request := &domain.AuthorizationRequest{
		ClientID:            params.ClientID,
		RedirectURI:         params.RedirectURI,
		Scope:               strings.Fields(params.Scope),
		State:               params.State,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: CodeChallengeMethodS256,
		InternalState:       internalState,
		UpstreamVerifier:    upstreamVerifier,
		Nonce:               nonce,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.pendingTTL),
	}
	if err := s.requests.SaveRequest(ctx, request); err != nil {
		return "", fmt.Errorf("failed to save authorization request: %w", err)
	}

	redirect, err := s.upstream.AuthorizationURL(ctx, internalState, nonce, ChallengeFromVerifier(upstreamVerifier))
	if err != nil {
		return "", fmt.Errorf("failed to build upstream redirect: %w", err)
	}
	metrics.AuthorizationsStarted.Inc()

	log.Debug().
		Str("client_id", params.ClientID).
		Msg("authorization request accepted, redirecting upstream")
	return redirect, nil
}

// CallbackResult carries the redirect back to the downstream client after a
// completed upstream authentication.
type CallbackResult struct {
	RedirectURI string
	State       string
	Code        string
}

// ClientRedirect renders the final redirect URL carrying the authorization
// code and the client's original state.
func (r *CallbackResult) ClientRedirect() string {
	u, err := url.Parse(r.RedirectURI)
	if err != nil {
		return r.RedirectURI
	}
	q := u.Query()
	q.Set("code", r.Code)
	if r.State != "" {
		q.Set("state", r.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// HandleCallback correlates an upstream callback by internal state, redeems
// the upstream code, establishes a session for the verified identity, and
// mints a single-use downstream authorization code.
func (s *FlowService) HandleCallback(ctx context.Context, internalState, upstreamCode string) (*CallbackResult, error) {
	request, err := s.requests.ConsumeRequest(ctx, internalState)
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotFound) {
			return nil, apperrors.NewInvalidRequest("unknown or expired authorization request")
		}
		return nil, err
	}
	if request.Expired() {
		return nil, apperrors.NewInvalidRequest("authorization request expired")
	}

	identity, err := s.upstream.Exchange(ctx, upstreamCode, request.UpstreamVerifier, request.Nonce)
	if err != nil {
		log.Warn().Err(err).
			Str("client_id", request.ClientID).
			Msg("upstream code exchange failed")
		if errors.Is(err, upstream.ErrUnavailable) {
			return nil, apperrors.NewServerError("upstream identity provider unavailable")
		}
		return nil, apperrors.NewAccessDenied("upstream authentication failed")
	}

	session, err := s.sessions.Create(ctx, identity.Subject, request.ClientID, request.Scope, identity.Tokens)
	if err != nil {
		return nil, err
	}

	code, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	authCode := &domain.AuthorizationCode{
		Code:          code,
		SessionID:     session.ID,
		ClientID:      request.ClientID,
		RedirectURI:   request.RedirectURI,
		Scope:         request.Scope,
		CodeChallenge: request.CodeChallenge,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.codeTTL),
	}
	if err := s.codes.SaveCode(ctx, authCode); err != nil {
		return nil, fmt.Errorf("failed to save authorization code: %w", err)
	}

	return &CallbackResult{
		RedirectURI: request.RedirectURI,
		State:       request.State,
		Code:        code,
	}, nil
}

// Redeem consumes an authorization code at the token endpoint. The code is
// single-use; of concurrent redemptions exactly one succeeds. The presented
// redirect URI and PKCE verifier must match the values bound at /authorize.
func (s *FlowService) Redeem(ctx context.Context, client *domain.Client, code, redirectURI, codeVerifier string) (*domain.Session, []string, error) {
	authCode, err := s.codes.ConsumeCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrCodeNotFound) {
			return nil, nil, apperrors.NewInvalidGrant("invalid or expired authorization code")
		}
		return nil, nil, err
	}
	if authCode.Expired() {
		return nil, nil, apperrors.NewInvalidGrant("authorization code expired")
	}
	if authCode.ClientID != client.ID {
		return nil, nil, apperrors.NewInvalidGrant("authorization code was issued to a different client")
	}
	if authCode.RedirectURI != redirectURI {
		return nil, nil, apperrors.NewInvalidGrant("redirect_uri does not match the authorization request")
	}
	if !VerifierMatches(authCode.CodeChallenge, codeVerifier) {
		return nil, nil, apperrors.NewInvalidPKCE("code_verifier does not match code_challenge")
	}

	session, err := s.sessions.Get(ctx, authCode.SessionID)
	if err != nil {
		return nil, nil, apperrors.NewInvalidGrant("session backing the authorization code no longer exists")
	}
	return session, authCode.Scope, nil
}
