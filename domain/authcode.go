package domain

import "time"

// AuthorizationCode represents a single-use OAuth 2.0 authorization code
// minted after a successful upstream callback. The code is bound to the
// session created from the upstream tokens and to the client's original
// PKCE challenge.
type AuthorizationCode struct {
	Code        string    `json:"code"`         // Opaque code value (>=256 bits entropy)
	SessionID   string    `json:"session_id"`   // Session minted at callback time
	ClientID    string    `json:"client_id"`    // Client application ID
	RedirectURI string    `json:"redirect_uri"` // Client's callback URL
	Scope       []string  `json:"scope"`        // Authorized scopes
	ExpiresAt   time.Time `json:"expires_at"`   // Expiration timestamp
	CreatedAt   time.Time `json:"created_at"`   // Creation timestamp

	CodeChallenge string `json:"code_challenge"` // Client's S256 challenge
}

// Expired reports whether the code can no longer be redeemed.
func (c *AuthorizationCode) Expired() bool {
	return time.Now().After(c.ExpiresAt)
}
