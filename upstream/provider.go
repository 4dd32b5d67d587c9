// Package upstream federates authentication to an external OpenID Connect
// provider. The server acts as a confidential client of exactly one upstream
// IDP; upstream credentials are held server-side and never reach downstream
// clients.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/miren-dev/authbridge/domain"
)

var (
	// ErrNoRefreshToken is returned when a transparent upstream refresh is
	// requested but the session holds no upstream refresh token.
	ErrNoRefreshToken = errors.New("upstream: no refresh token available")

	// ErrSubjectChanged is returned when a refreshed upstream ID token carries
	// a different subject than the session was established with.
	ErrSubjectChanged = errors.New("upstream: subject changed across refresh")

	// ErrNonceMismatch is returned when the upstream ID token nonce does not
	// match the value bound to the authorization request.
	ErrNonceMismatch = errors.New("upstream: nonce mismatch")

	// ErrUnavailable marks transport-level failures reaching the upstream IDP,
	// as opposed to the IDP rejecting a request or verification failing.
	// Callers surface it as a retryable server error.
	ErrUnavailable = errors.New("upstream: provider unavailable")
)

// discoveryTimeout bounds a single OIDC discovery fetch so a slow upstream
// cannot stall an authorization request indefinitely.
const discoveryTimeout = 10 * time.Second

// Config describes the upstream IDP this server federates to.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// DiscoveryTTL controls how long discovered metadata is reused before a
	// refetch. Zero means cache for the process lifetime.
	DiscoveryTTL time.Duration

	// AllowInsecure permits plain-HTTP upstream endpoints, for tests against
	// local fixtures only.
	AllowInsecure bool
}

// Identity is the verified result of an upstream code exchange or refresh.
type Identity struct {
	Subject string
	Tokens  domain.UpstreamTokens
}

// Provider wraps OIDC discovery, the authorization redirect, code exchange
// and token refresh against the configured upstream IDP. Discovery is lazy
// and re-fetched after DiscoveryTTL expires; concurrent callers share one
// fetch.
type Provider struct {
	cfg Config

	mu          sync.Mutex
	provider    *oidc.Provider
	verifier    *oidc.IDTokenVerifier
	discovered  time.Time
	oauthConfig *oauth2.Config
}

func NewProvider(cfg Config) (*Provider, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, errors.New("upstream: issuer URL and client ID are required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return &Provider{cfg: cfg}, nil
}

// discover returns the cached provider metadata, fetching it from the
// issuer's well-known endpoint when missing or stale. Every endpoint in the
// response is validated before use.
func (p *Provider) discover(ctx context.Context) (*oidc.Provider, *oauth2.Config, *oidc.IDTokenVerifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fresh := p.provider != nil &&
		(p.cfg.DiscoveryTTL == 0 || time.Since(p.discovered) < p.cfg.DiscoveryTTL)
	if fresh {
		return p.provider, p.oauthConfig, p.verifier, nil
	}

	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, p.cfg.IssuerURL)
	if err != nil {
		// Keep serving stale metadata rather than failing hard when the
		// upstream is briefly unreachable.
		if p.provider != nil {
			log.Warn().Err(err).Str("issuer", p.cfg.IssuerURL).
				Msg("upstream discovery refresh failed, using cached metadata")
			return p.provider, p.oauthConfig, p.verifier, nil
		}
		return nil, nil, nil, fmt.Errorf("%w: discovery failed: %w", ErrUnavailable, err)
	}

	endpoint := provider.Endpoint()
	for _, raw := range []string{endpoint.AuthURL, endpoint.TokenURL} {
		if err := p.validateEndpoint(raw); err != nil {
			return nil, nil, nil, err
		}
	}

	p.provider = provider
	p.verifier = provider.Verifier(&oidc.Config{ClientID: p.cfg.ClientID})
	p.oauthConfig = &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  p.cfg.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       p.cfg.Scopes,
	}
	p.discovered = time.Now()

	log.Info().Str("issuer", p.cfg.IssuerURL).Msg("upstream provider metadata discovered")
	return p.provider, p.oauthConfig, p.verifier, nil
}

// validateEndpoint rejects discovered endpoints that are not absolute HTTPS
// URLs, so a compromised discovery document cannot redirect token traffic to
// an attacker origin.
func (p *Provider) validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("upstream: invalid endpoint %q: %w", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("upstream: endpoint %q is not absolute", raw)
	}
	if u.Scheme != "https" && !p.cfg.AllowInsecure {
		return fmt.Errorf("upstream: endpoint %q must use https", raw)
	}
	return nil
}

// AuthorizationURL builds the redirect to the upstream authorization
// endpoint. The state is the server's internal correlation value, never the
// downstream client's state; the PKCE challenge is derived from a
// server-generated verifier held with the pending request.
func (p *Provider) AuthorizationURL(ctx context.Context, state, nonce, codeChallenge string) (string, error) {
	_, cfg, _, err := p.discover(ctx)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// Exchange redeems an upstream authorization code, verifies the returned ID
// token against the issuer, audience and expected nonce, and returns the
// verified identity together with the upstream token set.
func (p *Provider) Exchange(ctx context.Context, code, codeVerifier, expectedNonce string) (*Identity, error) {
	_, cfg, verifier, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("upstream code exchange rejected: %w", err)
		}
		return nil, fmt.Errorf("%w: code exchange: %w", ErrUnavailable, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("upstream: token response missing id_token")
	}

	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("upstream ID token verification failed: %w", err)
	}
	if idToken.Nonce != expectedNonce {
		return nil, ErrNonceMismatch
	}

	return &Identity{
		Subject: idToken.Subject,
		Tokens: domain.UpstreamTokens{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			IDToken:      rawIDToken,
			ExpiresAt:    token.Expiry,
		},
	}, nil
}

// Refresh exchanges the stored upstream refresh token for a fresh token set.
// If the response carries an ID token, its subject must match the subject the
// session was established with; a changed subject fails the refresh.
func (p *Provider) Refresh(ctx context.Context, current domain.UpstreamTokens, expectedSubject string) (*Identity, error) {
	if current.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	_, cfg, verifier, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken})
	token, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("upstream token refresh rejected: %w", err)
		}
		return nil, fmt.Errorf("%w: token refresh: %w", ErrUnavailable, err)
	}

	next := domain.UpstreamTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      current.IDToken,
		ExpiresAt:    token.Expiry,
	}
	// Providers may omit the refresh token on rotation responses; keep the
	// old one in that case.
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	subject := expectedSubject
	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		idToken, err := verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("upstream refreshed ID token verification failed: %w", err)
		}
		if idToken.Subject != expectedSubject {
			log.Warn().
				Str("expected_sub", expectedSubject).
				Str("got_sub", idToken.Subject).
				Msg("upstream refresh returned a different subject")
			return nil, ErrSubjectChanged
		}
		next.IDToken = rawIDToken
		subject = idToken.Subject
	}

	return &Identity{Subject: subject, Tokens: next}, nil
}
