package domain

import "time"

// AuthorizationRequest tracks an in-flight /authorize call while the end user
// authenticates with the upstream identity provider.
type AuthorizationRequest struct {
	ClientID    string   `json:"client_id"`    // Client application ID
	RedirectURI string   `json:"redirect_uri"` // Client's callback URL
	Scope       []string `json:"scope"`        // Requested scopes
	State       string   `json:"state"`        // Client's state parameter

	// PKCE parameters supplied by the client. Method is always S256.
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`

	// InternalState correlates the upstream IDP callback with this request.
	// It is a fresh random value so the client's own state never leaves
	// this server.
	InternalState string `json:"internal_state"`

	// UpstreamVerifier is our own PKCE code_verifier for the upstream leg.
	UpstreamVerifier string `json:"upstream_verifier"`

	// Nonce is sent to the upstream IDP and checked against the returned
	// ID token to detect replay.
	Nonce string `json:"nonce"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the request's TTL has elapsed.
func (r *AuthorizationRequest) Expired() bool {
	return time.Now().After(r.ExpiresAt)
}
