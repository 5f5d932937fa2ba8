package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/repository"
)

type refreshTokenRepository struct {
	db DB
}

// NewRefreshTokenRepository creates a new PostgreSQL-based RefreshTokenRepository
func NewRefreshTokenRepository(db DB) repository.RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func (r *refreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	query := `
		INSERT INTO oauth_refresh_tokens (
			token, client_id, user_id, scope, expires_at, revoked, last_used_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(ctx, query,
		token.Token,
		token.ClientID,
		token.UserID,
		token.Scope,
		token.ExpiresAt,
		token.Revoked,
		token.LastUsedAt,
		token.CreatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

// Touch validates and stamps the token in a single statement so a concurrent
// revoke cannot slip between the check and the use.
func (r *refreshTokenRepository) Touch(ctx context.Context, token, clientID string, now time.Time) (*domain.RefreshToken, error) {
	query := `
		UPDATE oauth_refresh_tokens
		SET last_used_at = $3
		WHERE token = $1 AND client_id = $2 AND NOT revoked AND expires_at > $3
		RETURNING token, client_id, user_id, scope, expires_at, revoked, last_used_at, created_at
	`

	rt := &domain.RefreshToken{}
	err := r.db.QueryRow(ctx, query, token, clientID, now).Scan(
		&rt.Token,
		&rt.ClientID,
		&rt.UserID,
		&rt.Scope,
		&rt.ExpiresAt,
		&rt.Revoked,
		&rt.LastUsedAt,
		&rt.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrRefreshTokenNotFound
		}
		return nil, err
	}

	return rt, nil
}

func (r *refreshTokenRepository) Revoke(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `UPDATE oauth_refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

func (r *refreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
