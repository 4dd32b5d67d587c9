package upstream

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miren-dev/authbridge/domain"
	"github.com/miren-dev/authbridge/keys"
)

// mockIDP is a minimal OIDC provider: discovery, JWKS and a token endpoint
// returning a signed ID token built per request.
type mockIDP struct {
	*httptest.Server
	keyManager *keys.Manager
	signer     *rsa.PrivateKey

	subject string
	nonce   string

	// tokenHandler overrides the default token response when set.
	tokenHandler func(w http.ResponseWriter, r *http.Request)
}

func newMockIDP(t *testing.T) *mockIDP {
	t.Helper()

	km, err := keys.NewManager(keys.AlgRS256)
	require.NoError(t, err)
	signer, ok := km.SigningKey().Signer.(*rsa.PrivateKey)
	require.True(t, ok)

	idp := &mockIDP{keyManager: km, signer: signer, subject: "upstream-user"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.handleDiscovery)
	mux.HandleFunc("/.well-known/jwks.json", idp.handleJWKS)
	mux.HandleFunc("/token", idp.handleToken)

	idp.Server = httptest.NewServer(mux)
	t.Cleanup(idp.Close)
	return idp
}

func (m *mockIDP) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                m.URL,
		"authorization_endpoint":                m.URL + "/authorize",
		"token_endpoint":                        m.URL + "/token",
		"jwks_uri":                              m.URL + "/.well-known/jwks.json",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (m *mockIDP) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	set, err := m.keyManager.JWKS()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (m *mockIDP) handleToken(w http.ResponseWriter, r *http.Request) {
	if m.tokenHandler != nil {
		m.tokenHandler(w, r)
		return
	}

	idToken := m.signIDToken(jwt.MapClaims{
		"iss":   m.URL,
		"sub":   m.subject,
		"aud":   "downstream-bridge",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
		"nonce": m.nonce,
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "upstream-access",
		"token_type":    "Bearer",
		"refresh_token": "upstream-refresh",
		"expires_in":    3600,
		"id_token":      idToken,
	})
}

func (m *mockIDP) signIDToken(claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = m.keyManager.SigningKey().KeyID
	signed, _ := token.SignedString(m.signer)
	return signed
}

func newTestProvider(t *testing.T, idp *mockIDP) *Provider {
	t.Helper()
	p, err := NewProvider(Config{
		IssuerURL:     idp.URL,
		ClientID:      "downstream-bridge",
		ClientSecret:  "bridge-secret",
		RedirectURL:   "https://auth.example.com/oauth/callback",
		AllowInsecure: true,
	})
	require.NoError(t, err)
	return p
}

func TestProvider_AuthorizationURL(t *testing.T) {
	idp := newMockIDP(t)
	p := newTestProvider(t, idp)

	raw, err := p.AuthorizationURL(context.Background(), "internal-state", "nonce-1", "challenge-abc")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "internal-state", q.Get("state"))
	assert.Equal(t, "nonce-1", q.Get("nonce"))
	assert.Equal(t, "challenge-abc", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "downstream-bridge", q.Get("client_id"))
}

func TestProvider_Exchange(t *testing.T) {
	idp := newMockIDP(t)
	idp.nonce = "nonce-1"
	p := newTestProvider(t, idp)

	identity, err := p.Exchange(context.Background(), "upstream-code", "verifier", "nonce-1")
	require.NoError(t, err)
	assert.Equal(t, "upstream-user", identity.Subject)
	assert.Equal(t, "upstream-access", identity.Tokens.AccessToken)
	assert.Equal(t, "upstream-refresh", identity.Tokens.RefreshToken)
	assert.NotEmpty(t, identity.Tokens.IDToken)
}

func TestProvider_ExchangeNonceMismatch(t *testing.T) {
	idp := newMockIDP(t)
	idp.nonce = "stolen-nonce"
	p := newTestProvider(t, idp)

	_, err := p.Exchange(context.Background(), "upstream-code", "verifier", "nonce-1")
	require.ErrorIs(t, err, ErrNonceMismatch)
}

func TestProvider_ExchangeMissingIDToken(t *testing.T) {
	idp := newMockIDP(t)
	idp.tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "upstream-access",
			"token_type":   "Bearer",
		})
	}
	p := newTestProvider(t, idp)

	_, err := p.Exchange(context.Background(), "upstream-code", "verifier", "nonce-1")
	require.Error(t, err)
}

func TestProvider_RefreshKeepsTokenWhenOmitted(t *testing.T) {
	idp := newMockIDP(t)
	idp.tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "renewed-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}
	p := newTestProvider(t, idp)

	identity, err := p.Refresh(context.Background(), domain.UpstreamTokens{
		AccessToken:  "stale",
		RefreshToken: "upstream-refresh",
		IDToken:      "old-id-token",
	}, "upstream-user")
	require.NoError(t, err)
	assert.Equal(t, "renewed-access", identity.Tokens.AccessToken)
	assert.Equal(t, "upstream-refresh", identity.Tokens.RefreshToken)
	assert.Equal(t, "old-id-token", identity.Tokens.IDToken)
	assert.Equal(t, "upstream-user", identity.Subject)
}

func TestProvider_RefreshSubjectChange(t *testing.T) {
	idp := newMockIDP(t)
	idp.tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
		idToken := idp.signIDToken(jwt.MapClaims{
			"iss": idp.URL,
			"sub": "different-user",
			"aud": "downstream-bridge",
			"exp": time.Now().Add(time.Hour).Unix(),
			"iat": time.Now().Unix(),
		})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "renewed-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	}
	p := newTestProvider(t, idp)

	_, err := p.Refresh(context.Background(), domain.UpstreamTokens{
		RefreshToken: "upstream-refresh",
	}, "upstream-user")
	require.ErrorIs(t, err, ErrSubjectChanged)
}

func TestProvider_RefreshWithoutRefreshToken(t *testing.T) {
	idp := newMockIDP(t)
	p := newTestProvider(t, idp)

	_, err := p.Refresh(context.Background(), domain.UpstreamTokens{}, "upstream-user")
	require.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestProvider_RejectsInsecureEndpoints(t *testing.T) {
	idp := newMockIDP(t)

	p, err := NewProvider(Config{
		IssuerURL: idp.URL,
		ClientID:  "downstream-bridge",
	})
	require.NoError(t, err)

	// Discovery succeeds but the plain-HTTP endpoints fail validation.
	_, err = p.AuthorizationURL(context.Background(), "s", "n", "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https")
}
