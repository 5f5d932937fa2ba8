// Package auth extracts client credentials and bearer tokens from HTTP
// Authorization headers.
package auth

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
)

var (
	ErrEmptyHeader        = errors.New("authorization header is empty")
	ErrInvalidScheme      = errors.New("invalid authorization scheme")
	ErrInvalidBase64      = errors.New("invalid base64 encoding")
	ErrInvalidCredentials = errors.New("invalid credentials format")
	ErrEmptyClientID      = errors.New("client_id cannot be empty")
	ErrEmptyToken         = errors.New("bearer token is empty")
)

// ParseBasicAuth parses "Basic base64(client_id:client_secret)". Both halves
// are form-urlencoded before base64 per RFC 6749 section 2.3.1 and are
// decoded here.
func ParseBasicAuth(header string) (clientID, clientSecret string, err error) {
	encoded, err := credentialsFor(header, "Basic")
	if err != nil {
		return "", "", err
	}
	if encoded == "" {
		return "", "", ErrInvalidBase64
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", ErrInvalidBase64
	}

	// split on the first colon only; the secret may contain colons
	rawID, rawSecret, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", ErrInvalidCredentials
	}

	clientID, err = url.QueryUnescape(rawID)
	if err != nil {
		return "", "", ErrInvalidCredentials
	}
	clientSecret, err = url.QueryUnescape(rawSecret)
	if err != nil {
		return "", "", ErrInvalidCredentials
	}

	if clientID == "" {
		return "", "", ErrEmptyClientID
	}

	return clientID, clientSecret, nil
}

// ParseBearerToken returns the token from "Bearer <token>"
func ParseBearerToken(header string) (string, error) {
	token, err := credentialsFor(header, "Bearer")
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

// credentialsFor strips a case-insensitive auth scheme and returns the
// trimmed remainder.
func credentialsFor(header, scheme string) (string, error) {
	if header == "" {
		return "", ErrEmptyHeader
	}

	got, rest, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(got, scheme) {
		return "", ErrInvalidScheme
	}

	return strings.TrimSpace(rest), nil
}
