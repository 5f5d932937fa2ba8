package service

import (
	"context"
	"errors"
	"net/http"
)

// OAuth 2.0 error codes (RFC 6749 section 4.1.2.1 and 5.2, RFC 6750 section 3.1)
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeInvalidScope            = "invalid_scope"
	CodeAccessDenied            = "access_denied"
	CodeServerError             = "server_error"
	CodeTemporarilyUnavailable  = "temporarily_unavailable"
	CodeInvalidToken            = "invalid_token"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// ErrInvalidGrant is the only value returned for a rejected code or refresh
// token. Unknown, reused, expired, mismatched and PKCE failures are
// indistinguishable to the caller.
var ErrInvalidGrant = &OAuthError{
	Code:        CodeInvalidGrant,
	Description: "the provided authorization grant is invalid, expired, or revoked",
	Status:      http.StatusBadRequest,
}

// ErrInvalidConsent is returned for a consent decision that does not carry a
// live ticket issued to the same owner and client.
var ErrInvalidConsent = &OAuthError{
	Code:        CodeInvalidRequest,
	Description: "consent ticket is missing, expired, or already used",
	Status:      http.StatusBadRequest,
}

// ErrInvalidToken is returned for any access token that fails validation
var ErrInvalidToken = &OAuthError{
	Code:   CodeInvalidToken,
	Status: http.StatusUnauthorized,
}

func NewInvalidRequestError(description string) *OAuthError {
	return &OAuthError{Code: CodeInvalidRequest, Description: description, Status: http.StatusBadRequest}
}

func NewInvalidClientError(description string) *OAuthError {
	return &OAuthError{Code: CodeInvalidClient, Description: description, Status: http.StatusUnauthorized}
}

func NewUnauthorizedClientError(description string) *OAuthError {
	return &OAuthError{Code: CodeUnauthorizedClient, Description: description, Status: http.StatusBadRequest}
}

func NewUnsupportedGrantTypeError(description string) *OAuthError {
	return &OAuthError{Code: CodeUnsupportedGrantType, Description: description, Status: http.StatusBadRequest}
}

func NewUnsupportedResponseTypeError(description string) *OAuthError {
	return &OAuthError{Code: CodeUnsupportedResponseType, Description: description, Status: http.StatusBadRequest}
}

func NewInvalidScopeError(description string) *OAuthError {
	return &OAuthError{Code: CodeInvalidScope, Description: description, Status: http.StatusBadRequest}
}

func NewAccessDeniedError(description string) *OAuthError {
	return &OAuthError{Code: CodeAccessDenied, Description: description, Status: http.StatusForbidden}
}

func NewServerError() *OAuthError {
	return &OAuthError{Code: CodeServerError, Description: "internal server error", Status: http.StatusInternalServerError}
}

func NewTemporarilyUnavailableError() *OAuthError {
	return &OAuthError{Code: CodeTemporarilyUnavailable, Description: "storage did not respond in time", Status: http.StatusServiceUnavailable}
}

// storageError maps an infrastructure failure to the protocol error the
// client sees. Details stay in the server log.
func storageError(err error) *OAuthError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTemporarilyUnavailableError()
	}
	return NewServerError()
}

// AsOAuthError returns err as an *OAuthError, mapping anything else to server_error
func AsOAuthError(err error) *OAuthError {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}
	return storageError(err)
}
