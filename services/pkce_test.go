package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateChallenge(t *testing.T) {
	challenge := ChallengeFromVerifier(GeneratePKCEVerifier())

	t.Run("S256 accepted", func(t *testing.T) {
		assert.NoError(t, ValidateChallenge(challenge, "S256"))
	})

	t.Run("plain rejected", func(t *testing.T) {
		assert.Error(t, ValidateChallenge(challenge, "plain"))
	})

	t.Run("empty method rejected", func(t *testing.T) {
		assert.Error(t, ValidateChallenge(challenge, ""))
	})

	t.Run("missing challenge rejected", func(t *testing.T) {
		assert.Error(t, ValidateChallenge("", "S256"))
	})
}

func TestVerifierMatches(t *testing.T) {
	verifier := GeneratePKCEVerifier()
	challenge := ChallengeFromVerifier(verifier)

	t.Run("matching verifier", func(t *testing.T) {
		assert.True(t, VerifierMatches(challenge, verifier))
	})

	t.Run("wrong verifier", func(t *testing.T) {
		other := GeneratePKCEVerifier()
		require.NotEqual(t, verifier, other)
		assert.False(t, VerifierMatches(challenge, other))
	})

	t.Run("verifier below minimum length", func(t *testing.T) {
		assert.False(t, VerifierMatches(challenge, "too-short"))
	})

	t.Run("verifier above maximum length", func(t *testing.T) {
		long := strings.Repeat("a", 129)
		assert.False(t, VerifierMatches(challenge, long))
	})
}

func TestGeneratePKCEVerifierLength(t *testing.T) {
	v := GeneratePKCEVerifier()
	assert.GreaterOrEqual(t, len(v), 43)
	assert.LessOrEqual(t, len(v), 128)
}
