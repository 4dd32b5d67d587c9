package domain

import "time"

// RefreshTokenFamily tracks the lineage of rotated refresh tokens descending
// from a single grant. Exactly one token per family is current; presenting
// any other token from the family is treated as replay and revokes the whole
// family.
type RefreshTokenFamily struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	ClientID   string    `json:"client_id"`
	Generation int64     `json:"generation"`
	Revoked    bool      `json:"revoked"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the family's TTL has elapsed.
func (f *RefreshTokenFamily) Expired() bool {
	return time.Now().After(f.ExpiresAt)
}
