package crypto

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// PKCE code challenge methods (RFC 7636 section 4.2)
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// s256ChallengeLength is the length of an unpadded base64url SHA-256 digest.
const s256ChallengeLength = 43

// VerifyPKCE recomputes the challenge for verifier using method and compares
// it with the stored challenge in constant time. Unknown methods never match.
func VerifyPKCE(verifier, challenge, method string) bool {
	var computed string
	switch method {
	case PKCEMethodS256:
		computed = S256Challenge(verifier)
	case PKCEMethodPlain:
		computed = verifier
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// S256Challenge returns base64url(SHA-256(verifier)) without padding
func S256Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// ValidChallengeMethod reports whether method is a supported challenge method.
func ValidChallengeMethod(method string) bool {
	return method == PKCEMethodS256 || method == PKCEMethodPlain
}

// ValidChallenge checks the shape of a code challenge at issuance time.
// An S256 challenge is always a 43 character base64url digest; a plain
// challenge only has to be non-empty.
func ValidChallenge(challenge, method string) bool {
	switch method {
	case PKCEMethodS256:
		if len(challenge) != s256ChallengeLength {
			return false
		}
		for i := 0; i < len(challenge); i++ {
			if !isBase64URL(challenge[i]) {
				return false
			}
		}
		return true
	case PKCEMethodPlain:
		return challenge != ""
	}
	return false
}

func isBase64URL(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	}
	return c == '-' || c == '_'
}
