package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/miren-dev/authbridge/internal/metrics"
	"github.com/miren-dev/authbridge/keys"
)

// AccessTokenClaims are the claims carried by issued access tokens. The tsid
// claim binds the token to the server-side session holding upstream
// credentials; resource servers never see the upstream tokens themselves.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	TokenSessionID string `json:"tsid"`
	Scope          string `json:"scope,omitempty"`
}

// TokenService issues and verifies the JWTs minted by this server. Signing
// keys come from the key manager; the signing method always follows the
// active key's algorithm.
type TokenService struct {
	issuer   string
	keys     *keys.Manager
	tokenTTL time.Duration
}

func NewTokenService(issuer string, km *keys.Manager, tokenTTL time.Duration) *TokenService {
	return &TokenService{
		issuer:   issuer,
		keys:     km,
		tokenTTL: tokenTTL,
	}
}

// TokenTTL is the lifetime applied to issued access tokens.
func (s *TokenService) TokenTTL() time.Duration {
	return s.tokenTTL
}

// IssueAccessToken mints a signed JWT bound to the given session. The subject
// and audience come from the session so a token can never reference a session
// belonging to a different principal.
func (s *TokenService) IssueAccessToken(subject, clientID, sessionID string, scope []string) (string, error) {
	now := time.Now()
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		TokenSessionID: sessionID,
		Scope:          strings.Join(scope, " "),
	}

	key := s.keys.SigningKey()
	method := jwt.GetSigningMethod(key.Algorithm)
	if method == nil {
		return "", fmt.Errorf("unknown signing method %s", key.Algorithm)
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = key.KeyID

	signed, err := token.SignedString(key.Signer)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	metrics.TokensIssued.WithLabelValues(clientID).Inc()
	log.Debug().
		Str("client_id", clientID).
		Str("tsid", sessionID).
		Str("kid", key.KeyID).
		Msg("access token issued")

	return signed, nil
}

// VerifyAccessToken parses and validates a token issued by this server. The
// key is selected by kid from the published set, so tokens signed with a
// retired key keep verifying until the key is purged.
func (s *TokenService) VerifyAccessToken(tokenString string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		for _, key := range s.keys.PublicKeys() {
			if key.KeyID == kid {
				if token.Method.Alg() != key.Algorithm {
					return nil, fmt.Errorf("unexpected signing method %s for key %s", token.Method.Alg(), kid)
				}
				return key.Signer.Public(), nil
			}
		}
		return nil, fmt.Errorf("unknown key ID %q", kid)
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	return claims, nil
}
