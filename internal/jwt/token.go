package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinHMACKeyBytes is the shortest shared secret accepted for HS256 signing.
const MinHMACKeyBytes = 32

// ErrInvalidToken is returned for every access token that fails validation.
var ErrInvalidToken = errors.New("invalid access token")

// TokenManager signs and validates self-contained access tokens.
// The signing algorithm is pinned at construction; tokens carrying any other
// alg header are rejected before the key is consulted.
type TokenManager struct {
	method    gojwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	kid       string
	now       func() time.Time
}

// NewRSATokenManager creates a TokenManager signing with RS256
func NewRSATokenManager(privateKey *rsa.PrivateKey, issuer string) (*TokenManager, error) {
	if privateKey == nil {
		return nil, errors.New("private key is required")
	}
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}

	kid, err := KeyID(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}

	return &TokenManager{
		method:    gojwt.SigningMethodRS256,
		signKey:   privateKey,
		verifyKey: &privateKey.PublicKey,
		issuer:    issuer,
		kid:       kid,
		now:       time.Now,
	}, nil
}

// NewHMACTokenManager creates a TokenManager signing with HS256
func NewHMACTokenManager(secret []byte, issuer string) (*TokenManager, error) {
	if len(secret) < MinHMACKeyBytes {
		return nil, fmt.Errorf("HMAC secret must be at least %d bytes", MinHMACKeyBytes)
	}
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	return &TokenManager{
		method:    gojwt.SigningMethodHS256,
		signKey:   key,
		verifyKey: key,
		issuer:    issuer,
		now:       time.Now,
	}, nil
}

// SetKID overrides the Key ID (kid) for the token header
func (tm *TokenManager) SetKID(kid string) {
	tm.kid = kid
}

// SetClock replaces the time source used for iat/exp and validation
func (tm *TokenManager) SetClock(now func() time.Time) {
	tm.now = now
}

// Issuer returns the iss claim value this manager signs and requires
func (tm *TokenManager) Issuer() string {
	return tm.issuer
}

// Algorithm returns the pinned JWS algorithm name
func (tm *TokenManager) Algorithm() string {
	return tm.method.Alg()
}

// GenerateToken generates a signed access token with the specified claims
func (tm *TokenManager) GenerateToken(claims TokenClaims) (string, error) {
	if err := claims.Validate(); err != nil {
		return "", err
	}

	now := tm.now()
	payload := accessClaims{
		ClientID: claims.ClientID,
		Scope:    claims.Scope,
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   claims.Subject,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(claims.TTL)),
			ID:        uuid.New().String(),
		},
	}

	token := gojwt.NewWithClaims(tm.method, payload)
	if tm.kid != "" {
		token.Header["kid"] = tm.kid
	}

	tokenString, err := token.SignedString(tm.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken verifies the signature, issuer and expiry of an access token.
// It never touches storage.
func (tm *TokenManager) ValidateToken(tokenString string) (*TokenInfo, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &accessClaims{}
	token, err := gojwt.ParseWithClaims(tokenString, claims,
		func(*gojwt.Token) (any, error) { return tm.verifyKey, nil },
		gojwt.WithValidMethods([]string{tm.method.Alg()}),
		gojwt.WithIssuer(tm.issuer),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	// the library accepts exp == now; a token is only valid while exp > now
	if !claims.ExpiresAt.After(tm.now()) {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}

	info := &TokenInfo{
		Subject:   claims.Subject,
		Issuer:    claims.Issuer,
		ClientID:  claims.ClientID,
		Scope:     claims.Scope,
		ExpiresAt: claims.ExpiresAt.Time,
		JTI:       claims.ID,
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}

	return info, nil
}
