package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// DefaultTokenBytes is the entropy used for authorization codes and refresh tokens.
const DefaultTokenBytes = 32

// ErrTokenTooShort is returned when fewer than 16 random bytes are requested.
var ErrTokenTooShort = errors.New("token must carry at least 16 random bytes")

// GenerateToken returns n cryptographically random bytes encoded as
// unpadded base64url, safe to embed in query strings and form bodies.
func GenerateToken(n int) (string, error) {
	if n < 16 {
		return "", ErrTokenTooShort
	}

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
