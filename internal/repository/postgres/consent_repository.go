package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/repository"
)

type consentRepository struct {
	db DB
}

// NewConsentTicketRepository creates a new PostgreSQL-based ConsentTicketRepository
func NewConsentTicketRepository(db DB) repository.ConsentTicketRepository {
	return &consentRepository{db: db}
}

func (r *consentRepository) Create(ctx context.Context, t *domain.ConsentTicket) error {
	query := `
		INSERT INTO oauth_consent_tickets (
			ticket, client_id, user_id, redirect_uri, scope, state,
			code_challenge, code_challenge_method, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Exec(ctx, query,
		t.Ticket,
		t.ClientID,
		t.UserID,
		t.RedirectURI,
		t.Scope,
		t.State,
		t.CodeChallenge,
		t.CodeChallengeMethod,
		t.ExpiresAt,
		t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

func (r *consentRepository) Take(ctx context.Context, ticket string) (*domain.ConsentTicket, error) {
	query := `
		DELETE FROM oauth_consent_tickets
		WHERE ticket = $1
		RETURNING
			ticket, client_id, user_id, redirect_uri, scope, state,
			code_challenge, code_challenge_method, expires_at, created_at
	`

	t := &domain.ConsentTicket{}
	err := r.db.QueryRow(ctx, query, ticket).Scan(
		&t.Ticket,
		&t.ClientID,
		&t.UserID,
		&t.RedirectURI,
		&t.Scope,
		&t.State,
		&t.CodeChallenge,
		&t.CodeChallengeMethod,
		&t.ExpiresAt,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrConsentNotFound
		}
		return nil, err
	}

	return t, nil
}

func (r *consentRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_consent_tickets WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
