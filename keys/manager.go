// Package keys manages the asymmetric keys used to sign issued JWTs.
// One key is active at any time; retired keys remain published in the JWKS
// until purged so tokens signed with them keep verifying.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Supported signing algorithms. The algorithm is always derived from the key
// type, never configured independently, so a key/algorithm mismatch cannot
// occur.
const (
	AlgES256 = "ES256"
	AlgRS256 = "RS256"
)

// DefaultAlgorithm is used when no algorithm is configured. ES256 provides
// equivalent security to RSA-3072 with smaller keys and faster operations.
const DefaultAlgorithm = AlgES256

// SigningKey is an asymmetric key with its derived metadata. KeyID is the
// RFC 7638 thumbprint of the public key, so key identity survives restarts
// when the same key material is loaded.
type SigningKey struct {
	KeyID     string
	Algorithm string
	Signer    crypto.Signer
	CreatedAt time.Time
}

// Manager holds the active signing key and any retired keys still published
// for verification. Rotation is an explicit operation; readers always see a
// consistent (active, retired) pair.
type Manager struct {
	mu      sync.RWMutex
	active  *SigningKey
	retired []*SigningKey
}

// NewManager generates a fresh key for the given algorithm and returns a
// manager with it active. An empty algorithm selects DefaultAlgorithm.
func NewManager(algorithm string) (*Manager, error) {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	key, err := generateKey(algorithm)
	if err != nil {
		return nil, err
	}
	return &Manager{active: key}, nil
}

// NewManagerFromSigner builds a manager around existing key material, e.g.
// loaded from a secret store. The algorithm is derived from the key type.
func NewManagerFromSigner(signer crypto.Signer) (*Manager, error) {
	key, err := describeKey(signer)
	if err != nil {
		return nil, err
	}
	return &Manager{active: key}, nil
}

// SigningKey returns the current active key.
func (m *Manager) SigningKey() *SigningKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// PublicKeys returns the active key plus all retired keys, in activation
// order, for JWKS publication.
func (m *Manager) PublicKeys() []*SigningKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*SigningKey, 0, len(m.retired)+1)
	out = append(out, m.retired...)
	out = append(out, m.active)
	return out
}

// Rotate generates a successor key with the same algorithm, retires the
// current active key, and returns the new active key. In-flight requests
// keep verifying against the retired key via the JWKS.
func (m *Manager) Rotate() (*SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := generateKey(m.active.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to generate successor key: %w", err)
	}

	m.retired = append(m.retired, m.active)
	m.active = next

	log.Info().
		Str("kid", next.KeyID).
		Str("alg", next.Algorithm).
		Int("retired_keys", len(m.retired)).
		Msg("signing key rotated")

	return next, nil
}

// Purge removes a retired key from JWKS publication. Called once the maximum
// token lifetime has elapsed since the key was retired. Purging the active
// key is not possible.
func (m *Manager) Purge(keyID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, key := range m.retired {
		if key.KeyID == keyID {
			m.retired = append(m.retired[:i], m.retired[i+1:]...)
			log.Info().Str("kid", keyID).Msg("retired signing key purged")
			return true
		}
	}
	return false
}

func generateKey(algorithm string) (*SigningKey, error) {
	var signer crypto.Signer
	var err error

	switch algorithm {
	case AlgES256:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case AlgRS256:
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %s", algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", algorithm, err)
	}

	return describeKey(signer)
}

// describeKey derives the algorithm and RFC 7638 key ID from key material.
func describeKey(signer crypto.Signer) (*SigningKey, error) {
	var algorithm string
	switch pub := signer.Public().(type) {
	case *ecdsa.PublicKey:
		if pub.Curve != elliptic.P256() {
			return nil, fmt.Errorf("unsupported ECDSA curve: %s", pub.Curve.Params().Name)
		}
		algorithm = AlgES256
	case *rsa.PublicKey:
		algorithm = AlgRS256
	default:
		return nil, fmt.Errorf("unsupported key type %T", pub)
	}

	kid, err := Thumbprint(signer.Public())
	if err != nil {
		return nil, fmt.Errorf("failed to derive key ID: %w", err)
	}

	return &SigningKey{
		KeyID:     kid,
		Algorithm: algorithm,
		Signer:    signer,
		CreatedAt: time.Now(),
	}, nil
}
