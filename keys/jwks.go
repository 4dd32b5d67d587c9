package keys

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
)

// JWK is a single public key in JSON Web Key format. Only the members needed
// for signature verification are published; private parameters never leave
// the manager.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`

	// EC parameters.
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`

	// RSA parameters.
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`
}

// JWKS is the document served from the jwks_uri.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS renders every published key (active and retired) as a key set.
func (m *Manager) JWKS() (*JWKS, error) {
	published := m.PublicKeys()
	set := &JWKS{Keys: make([]JWK, 0, len(published))}

	for _, key := range published {
		jwk, err := publicJWK(key)
		if err != nil {
			return nil, err
		}
		set.Keys = append(set.Keys, jwk)
	}
	return set, nil
}

func publicJWK(key *SigningKey) (JWK, error) {
	jwk := JWK{
		Kid: key.KeyID,
		Use: "sig",
		Alg: key.Algorithm,
	}

	switch pub := key.Signer.Public().(type) {
	case *ecdsa.PublicKey:
		size := (pub.Curve.Params().BitSize + 7) / 8
		jwk.Kty = "EC"
		jwk.Crv = pub.Curve.Params().Name
		jwk.X = base64.RawURLEncoding.EncodeToString(padCoordinate(pub.X, size))
		jwk.Y = base64.RawURLEncoding.EncodeToString(padCoordinate(pub.Y, size))
	case *rsa.PublicKey:
		jwk.Kty = "RSA"
		jwk.N = base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
		jwk.E = base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	default:
		return JWK{}, fmt.Errorf("unsupported public key type %T", pub)
	}

	return jwk, nil
}
