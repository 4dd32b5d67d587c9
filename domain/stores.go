package domain

import (
	"context"
	"errors"
)

// Sentinel errors shared by all storage backends. Stores translate their
// backend-specific not-found conditions into these so service code can use
// errors.Is without knowing the backend.
var (
	ErrRequestNotFound = errors.New("authorization request not found")
	ErrCodeNotFound    = errors.New("authorization code not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrFamilyNotFound  = errors.New("refresh token family not found")
	ErrTokenNotFound   = errors.New("refresh token not found")
	ErrFamilyRevoked   = errors.New("refresh token family revoked")
	ErrTokenReplayed   = errors.New("refresh token replay detected")
	ErrClientNotFound  = errors.New("client not found")
	ErrClientExists    = errors.New("client already registered")
)

// AuthorizationRequestStore persists in-flight /authorize calls keyed by
// internal state. Consume is delete-on-read so an internal state can only
// correlate one callback.
type AuthorizationRequestStore interface {
	SaveRequest(ctx context.Context, req *AuthorizationRequest) error
	ConsumeRequest(ctx context.Context, internalState string) (*AuthorizationRequest, error)
}

// AuthorizationCodeStore persists single-use authorization codes.
// ConsumeCode is an atomic get-and-delete: of N concurrent redemptions of
// the same code exactly one receives the code, the rest get ErrCodeNotFound.
type AuthorizationCodeStore interface {
	SaveCode(ctx context.Context, code *AuthorizationCode) error
	ConsumeCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// SessionStore persists sessions keyed by tsid. Entries disappear when the
// session TTL elapses.
type SessionStore interface {
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// UpdateUpstreamTokens overwrites the session's upstream token material
	// without touching subject, client or expiry.
	UpdateUpstreamTokens(ctx context.Context, id string, tokens UpstreamTokens) error
	// ClearUpstreamTokens wipes the stored upstream token material, used
	// when replay detection cascades to upstream credentials.
	ClearUpstreamTokens(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
}

// RefreshTokenStore persists refresh-token families and the mapping from
// opaque token values to their family. RotateToken is the single atomic
// transition of the family state machine:
//
//   - presented token is the family's current token: the family advances to
//     next, the generation counter increments, and the updated family is
//     returned;
//   - presented token belongs to the family but is not current (replay): the
//     family is revoked and returned together with ErrTokenReplayed so the
//     caller can cascade the revocation;
//   - family already revoked: ErrFamilyRevoked;
//   - token unknown: ErrTokenNotFound.
//
// Concurrent rotations of the same token must yield exactly one success.
type RefreshTokenStore interface {
	CreateFamily(ctx context.Context, family *RefreshTokenFamily, token string) error
	RotateToken(ctx context.Context, presented, next string) (*RefreshTokenFamily, error)
	// GetFamilyByToken resolves a token to its family without spending the
	// token. ErrTokenNotFound for unknown tokens, ErrFamilyRevoked for
	// revoked families.
	GetFamilyByToken(ctx context.Context, token string) (*RefreshTokenFamily, error)
	GetFamily(ctx context.Context, id string) (*RefreshTokenFamily, error)
	RevokeFamily(ctx context.Context, id string) error
}

// ClientStore persists registered OAuth clients.
type ClientStore interface {
	CreateClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, id string) (*Client, error)
	DeleteClient(ctx context.Context, id string) error
}
