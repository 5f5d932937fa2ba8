package jwt

import (
	"errors"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// TokenClaims represents the claims used to generate an access token
type TokenClaims struct {
	Subject  string        `json:"sub"`
	ClientID string        `json:"client_id"`
	Scope    string        `json:"scope"`
	TTL      time.Duration `json:"-"`
}

// Validate validates the token claims
func (tc TokenClaims) Validate() error {
	if tc.Subject == "" {
		return errors.New("subject is required")
	}
	if tc.ClientID == "" {
		return errors.New("client_id is required")
	}
	if tc.TTL <= 0 {
		return errors.New("TTL must be positive")
	}
	return nil
}

// TokenInfo represents the parsed and validated token information
type TokenInfo struct {
	Subject   string    `json:"sub"`
	Issuer    string    `json:"iss"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"exp"`
	IssuedAt  time.Time `json:"iat"`
	JTI       string    `json:"jti"`
}

// accessClaims is the wire form of an access token payload
type accessClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	gojwt.RegisteredClaims
}
