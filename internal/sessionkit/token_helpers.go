package sessionkit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const opaqueTokenByteLength = 24

// NewOpaqueToken mints a cryptographically random token for refresh and xsrf
// use. Only its hash is ever stored server side.
func NewOpaqueToken() (string, error) {
	randomBytes := make([]byte, opaqueTokenByteLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("session.token.random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// HashToken returns the base64url sha256 digest of an opaque token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
