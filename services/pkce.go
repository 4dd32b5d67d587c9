package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// CodeChallengeMethodS256 is the only PKCE challenge method this server
// accepts (RFC 7636). The "plain" method is rejected at /authorize time.
const CodeChallengeMethodS256 = "S256"

// RFC 7636 section 4.1: code_verifier length bounds.
const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// ValidateChallenge checks the challenge/method pair presented at /authorize.
func ValidateChallenge(challenge, method string) error {
	if method != CodeChallengeMethodS256 {
		return fmt.Errorf("unsupported code_challenge_method %q, only S256 is accepted", method)
	}
	if challenge == "" {
		return fmt.Errorf("code_challenge is required")
	}
	return nil
}

// VerifierMatches reports whether base64url(SHA256(verifier)) equals the
// stored challenge. The comparison is constant time.
func VerifierMatches(challenge, verifier string) bool {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// GeneratePKCEVerifier returns a cryptographically random code_verifier
// per RFC 7636 section 4.1, used for the upstream leg of the flow.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ChallengeFromVerifier computes the S256 code_challenge for a verifier.
func ChallengeFromVerifier(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
