package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// PKCE challenge methods. Anything else is rejected outright.
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// RandomURLSafeString draws byteLength random bytes and encodes them
// base64url without padding. Used for authorization codes, refresh token
// secrets and verification tokens. RNG failure is fatal for the operation;
// it never degrades to weaker randomness.
func RandomURLSafeString(byteLength int) (string, error) {
	if byteLength <= 0 {
		byteLength = 32
	}
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: rng failure: %v", ErrInternal, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// VerifyPKCE checks a code_verifier against the stored code_challenge.
// Unknown methods fail closed.
func VerifyPKCE(verifier, challenge, method string) bool {
	switch method {
	case PKCEMethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		hashed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(hashed), []byte(challenge)) == 1
	default:
		return false
	}
}

// hashToken derives the storage form of an opaque token: hex(SHA-256).
// Stores never hold raw codes or refresh secrets.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
