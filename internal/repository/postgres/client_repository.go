package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/repository"
)

type clientRepository struct {
	db DB
}

// NewClientRepository creates a new PostgreSQL-based ClientRepository
func NewClientRepository(db DB) repository.ClientRepository {
	return &clientRepository{db: db}
}

// Create creates a new client in the database
func (r *clientRepository) Create(ctx context.Context, client *domain.Client) error {
	query := `
		INSERT INTO oauth_clients (
			client_id, client_secret_hash, client_name, redirect_uris,
			scopes, trusted, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(ctx, query,
		client.ClientID,
		client.ClientSecretHash,
		client.ClientName,
		nonNil(client.RedirectURIs),
		nonNil(client.Scopes),
		client.Trusted,
		client.Active,
		client.CreatedAt,
		client.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

// GetByClientID retrieves an active client by its client_id
func (r *clientRepository) GetByClientID(ctx context.Context, clientID string) (*domain.Client, error) {
	if clientID == "" {
		return nil, repository.ErrClientNotFound
	}

	query := `
		SELECT
			client_id, client_secret_hash, client_name, redirect_uris,
			scopes, trusted, active, created_at, updated_at
		FROM oauth_clients
		WHERE client_id = $1 AND active
	`

	client := &domain.Client{}
	err := r.db.QueryRow(ctx, query, clientID).Scan(
		&client.ClientID,
		&client.ClientSecretHash,
		&client.ClientName,
		&client.RedirectURIs,
		&client.Scopes,
		&client.Trusted,
		&client.Active,
		&client.CreatedAt,
		&client.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrClientNotFound
		}
		return nil, err
	}

	return client, nil
}

// Delete removes a client from the database
func (r *clientRepository) Delete(ctx context.Context, clientID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM oauth_clients WHERE client_id = $1`, clientID)
	return err
}

// text[] columns are NOT NULL; pgx encodes a nil slice as NULL
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
