package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

// Thumbprint computes the RFC 7638 JWK thumbprint of a public key and returns
// it base64url-encoded. The thumbprint is deterministic for a given key, which
// makes it a stable key ID across restarts.
func Thumbprint(pub crypto.PublicKey) (string, error) {
	var canonical string

	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		size := (key.Curve.Params().BitSize + 7) / 8
		// Required members in lexicographic order: crv, kty, x, y.
		canonical = fmt.Sprintf(`{"crv":%q,"kty":"EC","x":%q,"y":%q}`,
			key.Curve.Params().Name,
			base64.RawURLEncoding.EncodeToString(padCoordinate(key.X, size)),
			base64.RawURLEncoding.EncodeToString(padCoordinate(key.Y, size)))
	case *rsa.PublicKey:
		// Required members in lexicographic order: e, kty, n.
		canonical = fmt.Sprintf(`{"e":%q,"kty":"RSA","n":%q}`,
			base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			base64.RawURLEncoding.EncodeToString(key.N.Bytes()))
	default:
		return "", fmt.Errorf("unsupported public key type %T", pub)
	}

	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// padCoordinate left-pads an EC coordinate to the full field width as
// required for JWK encoding.
func padCoordinate(v *big.Int, size int) []byte {
	buf := make([]byte, size)
	v.FillBytes(buf)
	return buf
}
