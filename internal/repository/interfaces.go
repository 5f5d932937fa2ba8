package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dlddu/passport/internal/domain"
)

var (
	ErrClientNotFound       = errors.New("client not found")
	ErrCodeNotFound         = errors.New("authorization code not found")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrConsentNotFound      = errors.New("consent ticket not found")
	// ErrConflict is returned when a conditional write loses: a duplicate key
	// on create, or a code that was already marked used.
	ErrConflict = errors.New("conflicting write")
)

// ClientRepository defines the interface for client data access.
// GetByClientID only returns active clients.
type ClientRepository interface {
	Create(ctx context.Context, client *domain.Client) error
	GetByClientID(ctx context.Context, clientID string) (*domain.Client, error)
	Delete(ctx context.Context, clientID string) error
}

// AuthorizationCodeRepository defines the interface for authorization code data access
type AuthorizationCodeRepository interface {
	Create(ctx context.Context, code *domain.AuthorizationCode) error
	// GetByCodeAndClient returns the code only when it was issued to clientID.
	GetByCodeAndClient(ctx context.Context, code, clientID string) (*domain.AuthorizationCode, error)
	// MarkUsed flips used from false to true. Exactly one caller wins; every
	// other caller gets ErrConflict.
	MarkUsed(ctx context.Context, code string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// RefreshTokenRepository defines the interface for refresh token data access
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error
	// Touch stamps last_used_at = now on a token that belongs to clientID, is
	// not revoked and has expires_at > now, and returns the updated row. Any
	// other case yields ErrRefreshTokenNotFound.
	Touch(ctx context.Context, token, clientID string, now time.Time) (*domain.RefreshToken, error)
	// Revoke is idempotent and returns nil for unknown tokens.
	Revoke(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ConsentTicketRepository defines the interface for pending consent decisions
type ConsentTicketRepository interface {
	Create(ctx context.Context, ticket *domain.ConsentTicket) error
	// Take deletes the ticket and returns it. Exactly one caller gets a
	// given ticket; every other caller gets ErrConsentNotFound.
	Take(ctx context.Context, ticket string) (*domain.ConsentTicket, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// UserRepository defines the interface for profile data access
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
}
