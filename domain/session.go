package domain

import "time"

// UpstreamTokens holds the token material obtained from the upstream IDP
// for one session. The access token is what downstream consumers retrieve
// via the token-session-id (tsid) lookup; it is never embedded in JWTs
// issued by this server.
type UpstreamTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the upstream access token has expired.
func (t *UpstreamTokens) Expired() bool {
	return time.Now().After(t.ExpiresAt)
}

// Session represents an authenticated user's ongoing relationship with one
// client. Its ID is the tsid claim embedded in issued JWTs. Subject and
// ClientID are immutable after creation and are validated on upstream-token
// retrieval to prevent cross-session access.
type Session struct {
	ID       string         `json:"id"` // tsid
	Subject  string         `json:"subject"`
	ClientID string         `json:"client_id"`
	Scope    []string       `json:"scope"`
	Upstream UpstreamTokens `json:"upstream"`

	// FamilyID links the session to its active refresh-token family.
	FamilyID string `json:"family_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session's TTL has elapsed.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}
