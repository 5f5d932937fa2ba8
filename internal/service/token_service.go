package service

import (
	"context"
	"time"

	"github.com/dlddu/passport/internal/jwt"
)

// DefaultAccessTokenTTL is the lifetime of a signed access token.
const DefaultAccessTokenTTL = time.Hour

// TokenService mints signed access tokens and delegates refresh token
// persistence to the RefreshTokenService.
type TokenService struct {
	signer  TokenSigner
	refresh *RefreshTokenService
	ttl     time.Duration
	opts    options
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signer TokenSigner, refresh *RefreshTokenService, ttl time.Duration, opts ...Option) *TokenService {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &TokenService{
		signer:  signer,
		refresh: refresh,
		ttl:     ttl,
		opts:    newOptions(opts),
	}
}

// MintAccessToken signs {sub, client_id, scope, iss, iat, exp} and returns the
// token with its lifetime in seconds.
func (s *TokenService) MintAccessToken(userID, clientID, scope string) (string, int64, error) {
	token, err := s.signer.GenerateToken(jwt.TokenClaims{
		Subject:  userID,
		ClientID: clientID,
		Scope:    scope,
		TTL:      s.ttl,
	})
	if err != nil {
		s.opts.logger.Error().Err(err).Str("client_id", clientID).Msg("sign access token")
		return "", 0, NewServerError()
	}

	return token, int64(s.ttl / time.Second), nil
}

// ValidateAccessToken verifies signature and expiry without touching storage
func (s *TokenService) ValidateAccessToken(token string) (*jwt.TokenInfo, error) {
	info, err := s.signer.ValidateToken(token)
	if err != nil {
		s.opts.logger.Debug().Err(err).Msg("access token rejected")
		return nil, ErrInvalidToken
	}
	return info, nil
}

// MintRefreshToken persists a new opaque refresh token
func (s *TokenService) MintRefreshToken(ctx context.Context, clientID, userID, scope string) (string, error) {
	return s.refresh.Issue(ctx, clientID, userID, scope)
}
