package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerDerivesAlgorithm(t *testing.T) {
	t.Run("default is ES256", func(t *testing.T) {
		m, err := NewManager("")
		require.NoError(t, err)
		assert.Equal(t, AlgES256, m.SigningKey().Algorithm)
	})

	t.Run("RS256", func(t *testing.T) {
		m, err := NewManager(AlgRS256)
		require.NoError(t, err)
		assert.Equal(t, AlgRS256, m.SigningKey().Algorithm)
	})

	t.Run("unknown algorithm", func(t *testing.T) {
		_, err := NewManager("HS256")
		require.Error(t, err)
	})
}

func TestManagerFromSignerStableKeyID(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	m1, err := NewManagerFromSigner(priv)
	require.NoError(t, err)
	m2, err := NewManagerFromSigner(priv)
	require.NoError(t, err)

	// Same key material, same RFC 7638 thumbprint.
	assert.Equal(t, m1.SigningKey().KeyID, m2.SigningKey().KeyID)
}

func TestManagerRotateAndPurge(t *testing.T) {
	m, err := NewManager(AlgES256)
	require.NoError(t, err)
	original := m.SigningKey()

	next, err := m.Rotate()
	require.NoError(t, err)
	assert.NotEqual(t, original.KeyID, next.KeyID)
	assert.Equal(t, next, m.SigningKey())

	// Both keys stay published until purge.
	published := m.PublicKeys()
	require.Len(t, published, 2)
	assert.Equal(t, original.KeyID, published[0].KeyID)
	assert.Equal(t, next.KeyID, published[1].KeyID)

	assert.True(t, m.Purge(original.KeyID))
	assert.False(t, m.Purge(original.KeyID))
	assert.Len(t, m.PublicKeys(), 1)
}

func TestJWKSRendering(t *testing.T) {
	m, err := NewManager(AlgES256)
	require.NoError(t, err)
	_, err = m.Rotate()
	require.NoError(t, err)

	set, err := m.JWKS()
	require.NoError(t, err)
	require.Len(t, set.Keys, 2)

	for _, key := range set.Keys {
		assert.Equal(t, "EC", key.Kty)
		assert.Equal(t, "sig", key.Use)
		assert.Equal(t, AlgES256, key.Alg)
		assert.Equal(t, "P-256", key.Crv)
		assert.NotEmpty(t, key.Kid)
		assert.NotEmpty(t, key.X)
		assert.NotEmpty(t, key.Y)
		assert.Empty(t, key.N)
	}
}

func TestJWKSRenderingRSA(t *testing.T) {
	m, err := NewManager(AlgRS256)
	require.NoError(t, err)

	set, err := m.JWKS()
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "RSA", set.Keys[0].Kty)
	assert.NotEmpty(t, set.Keys[0].N)
	assert.NotEmpty(t, set.Keys[0].E)
	assert.Empty(t, set.Keys[0].X)
}

func TestThumbprintRejectsUnknownKeyType(t *testing.T) {
	_, err := Thumbprint("not a key")
	require.Error(t, err)
}
