package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/repository"
)

type codeRepository struct {
	db DB
}

// NewAuthorizationCodeRepository creates a new PostgreSQL-based AuthorizationCodeRepository
func NewAuthorizationCodeRepository(db DB) repository.AuthorizationCodeRepository {
	return &codeRepository{db: db}
}

func (r *codeRepository) Create(ctx context.Context, code *domain.AuthorizationCode) error {
	query := `
		INSERT INTO oauth_authorization_codes (
			code, client_id, user_id, redirect_uri, scope,
			code_challenge, code_challenge_method, expires_at, used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Exec(ctx, query,
		code.Code,
		code.ClientID,
		code.UserID,
		code.RedirectURI,
		code.Scope,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.ExpiresAt,
		code.Used,
		code.CreatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

func (r *codeRepository) GetByCodeAndClient(ctx context.Context, code, clientID string) (*domain.AuthorizationCode, error) {
	query := `
		SELECT
			code, client_id, user_id, redirect_uri, scope,
			code_challenge, code_challenge_method, expires_at, used, created_at
		FROM oauth_authorization_codes
		WHERE code = $1 AND client_id = $2
	`

	ac := &domain.AuthorizationCode{}
	err := r.db.QueryRow(ctx, query, code, clientID).Scan(
		&ac.Code,
		&ac.ClientID,
		&ac.UserID,
		&ac.RedirectURI,
		&ac.Scope,
		&ac.CodeChallenge,
		&ac.CodeChallengeMethod,
		&ac.ExpiresAt,
		&ac.Used,
		&ac.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrCodeNotFound
		}
		return nil, err
	}

	return ac, nil
}

func (r *codeRepository) MarkUsed(ctx context.Context, code string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE oauth_authorization_codes SET used = TRUE WHERE code = $1 AND used = FALSE`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	return nil
}

func (r *codeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_authorization_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
