package service

import (
	"context"
	"errors"
	"time"

	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/jwt"
)

var (
	ErrEmptyClientID     = errors.New("client_id cannot be empty")
	ErrEmptyClientName   = errors.New("client_name cannot be empty")
	ErrEmptyRedirectURIs = errors.New("redirect_uris cannot be empty")
	ErrInvalidRedirect   = errors.New("redirect_uri must be an absolute URI without fragment")
)

// Hasher defines the interface for client secret hashing operations
type Hasher interface {
	HashSecret(secret string) (string, error)
	VerifySecret(hash, secret string) error
}

// ClientRepository defines the interface for client data access
type ClientRepository interface {
	Create(ctx context.Context, client *domain.Client) error
	GetByClientID(ctx context.Context, clientID string) (*domain.Client, error)
}

// AuthorizationCodeRepository defines the interface for authorization code data access
type AuthorizationCodeRepository interface {
	Create(ctx context.Context, code *domain.AuthorizationCode) error
	GetByCodeAndClient(ctx context.Context, code, clientID string) (*domain.AuthorizationCode, error)
	MarkUsed(ctx context.Context, code string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// RefreshTokenRepository defines the interface for refresh token data access
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error
	Touch(ctx context.Context, token, clientID string, now time.Time) (*domain.RefreshToken, error)
	Revoke(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ConsentTicketRepository defines the interface for pending consent data access
type ConsentTicketRepository interface {
	Create(ctx context.Context, ticket *domain.ConsentTicket) error
	Take(ctx context.Context, ticket string) (*domain.ConsentTicket, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// UserRepository defines the interface for profile data access
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// TokenSigner signs and validates access tokens. *jwt.TokenManager implements it.
type TokenSigner interface {
	GenerateToken(claims jwt.TokenClaims) (string, error)
	ValidateToken(tokenString string) (*jwt.TokenInfo, error)
}
