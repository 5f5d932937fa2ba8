package service

import (
	"context"
	"errors"
	"time"

	"github.com/dlddu/passport/internal/crypto"
	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/repository"
)

// DefaultRefreshTokenTTL is the lifetime of a refresh token from issuance.
const DefaultRefreshTokenTTL = 90 * 24 * time.Hour

// RefreshTokenService persists, validates and revokes refresh tokens
type RefreshTokenService struct {
	repo RefreshTokenRepository
	ttl  time.Duration
	opts options
}

// NewRefreshTokenService creates a new RefreshTokenService instance
func NewRefreshTokenService(repo RefreshTokenRepository, ttl time.Duration, opts ...Option) *RefreshTokenService {
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	return &RefreshTokenService{
		repo: repo,
		ttl:  ttl,
		opts: newOptions(opts),
	}
}

// Issue generates and persists a new refresh token
func (s *RefreshTokenService) Issue(ctx context.Context, clientID, userID, scope string) (string, error) {
	token, err := crypto.GenerateToken(crypto.DefaultTokenBytes)
	if err != nil {
		s.opts.logger.Error().Err(err).Msg("generate refresh token")
		return "", NewServerError()
	}

	now := s.opts.now()
	record := &domain.RefreshToken{
		Token:     token,
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	if err := s.repo.Create(ctx, record); err != nil {
		s.opts.logger.Error().Err(err).Str("client_id", clientID).Msg("store refresh token")
		return "", storageError(err)
	}

	return token, nil
}

// Validate returns the token record if it belongs to clientID, is not revoked
// and has not expired. The check and the last_used_at stamp are one
// conditional write.
func (s *RefreshTokenService) Validate(ctx context.Context, token, clientID string) (*domain.RefreshToken, error) {
	if token == "" {
		return nil, s.reject(token, clientID)
	}

	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	rt, err := s.repo.Touch(ctx, token, clientID, s.opts.now())
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil, s.reject(token, clientID)
		}
		s.opts.logger.Error().Err(err).Str("client_id", clientID).Msg("validate refresh token")
		return nil, storageError(err)
	}

	return rt, nil
}

// Revoke marks token revoked. Revoking an unknown or already revoked token succeeds.
func (s *RefreshTokenService) Revoke(ctx context.Context, token string) error {
	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	if err := s.repo.Revoke(ctx, token); err != nil {
		s.opts.logger.Error().Err(err).Str("token", prefix(token)).Msg("revoke refresh token")
		return storageError(err)
	}
	return nil
}

// Rotate issues a replacement for a validated token with the same client,
// user and scope, then revokes the old one. A failed issue leaves the old
// token usable.
func (s *RefreshTokenService) Rotate(ctx context.Context, current *domain.RefreshToken) (string, error) {
	next, err := s.Issue(ctx, current.ClientID, current.UserID, current.Scope)
	if err != nil {
		return "", err
	}
	if err := s.Revoke(ctx, current.Token); err != nil {
		return "", err
	}
	return next, nil
}

// PurgeExpired deletes tokens that expired before now
func (s *RefreshTokenService) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	return s.repo.DeleteExpired(ctx, s.opts.now())
}

func (s *RefreshTokenService) reject(token, clientID string) error {
	s.opts.logger.Debug().
		Str("client_id", clientID).
		Str("token", prefix(token)).
		Msg("refresh token rejected")
	return ErrInvalidGrant
}
