package service

import (
	"context"
	"errors"
	"time"

	"github.com/dlddu/passport/internal/crypto"
	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/repository"
)

// DefaultAuthorizationCodeTTL is how long an issued code can be exchanged.
const DefaultAuthorizationCodeTTL = 10 * time.Minute

// AuthCodeService issues authorization codes and consumes them exactly once
type AuthCodeService struct {
	repo AuthorizationCodeRepository
	ttl  time.Duration
	opts options
}

// NewAuthCodeService creates a new AuthCodeService instance
func NewAuthCodeService(repo AuthorizationCodeRepository, ttl time.Duration, opts ...Option) *AuthCodeService {
	if ttl <= 0 {
		ttl = DefaultAuthorizationCodeTTL
	}
	return &AuthCodeService{
		repo: repo,
		ttl:  ttl,
		opts: newOptions(opts),
	}
}

// IssueParams describes the authorization a code stands for
type IssueParams struct {
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Issue generates and persists a new unused code
func (s *AuthCodeService) Issue(ctx context.Context, p IssueParams) (string, error) {
	code, err := crypto.GenerateToken(crypto.DefaultTokenBytes)
	if err != nil {
		s.opts.logger.Error().Err(err).Msg("generate authorization code")
		return "", NewServerError()
	}

	now := s.opts.now()
	record := &domain.AuthorizationCode{
		Code:                code,
		ClientID:            p.ClientID,
		UserID:              p.UserID,
		RedirectURI:         p.RedirectURI,
		Scope:               p.Scope,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		ExpiresAt:           now.Add(s.ttl),
		Used:                false,
		CreatedAt:           now,
	}

	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	if err := s.repo.Create(ctx, record); err != nil {
		s.opts.logger.Error().Err(err).Str("client_id", p.ClientID).Msg("store authorization code")
		return "", storageError(err)
	}

	return code, nil
}

// Consume redeems code for clientID. Checks run in order: lookup by code and
// client, already used, expired, then the conditional mark-used, then the
// redirect URI and PKCE bindings. Marking happens before the binding checks
// so a failed attempt burns the code. Every rejection is ErrInvalidGrant.
func (s *AuthCodeService) Consume(ctx context.Context, code, clientID, redirectURI, verifier string) (*domain.AuthorizationCode, error) {
	if code == "" {
		return nil, s.reject(code, clientID, "missing code")
	}

	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	ac, err := s.repo.GetByCodeAndClient(ctx, code, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return nil, s.reject(code, clientID, "unknown code for client")
		}
		s.opts.logger.Error().Err(err).Str("client_id", clientID).Msg("load authorization code")
		return nil, storageError(err)
	}

	if ac.Used {
		return nil, s.reject(code, clientID, "code already used")
	}
	if ac.Expired(s.opts.now()) {
		return nil, s.reject(code, clientID, "code expired")
	}

	if err := s.repo.MarkUsed(ctx, code); err != nil {
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrCodeNotFound) {
			return nil, s.reject(code, clientID, "code consumed concurrently")
		}
		s.opts.logger.Error().Err(err).Str("client_id", clientID).Msg("mark authorization code used")
		return nil, storageError(err)
	}
	ac.Used = true

	if ac.RedirectURI != redirectURI {
		return nil, s.reject(code, clientID, "redirect_uri mismatch")
	}

	if ac.CodeChallenge != "" {
		if verifier == "" {
			return nil, s.reject(code, clientID, "code_verifier missing")
		}
		if !crypto.VerifyPKCE(verifier, ac.CodeChallenge, ac.CodeChallengeMethod) {
			return nil, s.reject(code, clientID, "code_verifier mismatch")
		}
	}

	return ac, nil
}

// PurgeExpired deletes codes that expired before now
func (s *AuthCodeService) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	return s.repo.DeleteExpired(ctx, s.opts.now())
}

func (s *AuthCodeService) reject(code, clientID, reason string) error {
	s.opts.logger.Debug().
		Str("client_id", clientID).
		Str("code", prefix(code)).
		Str("reason", reason).
		Msg("authorization code rejected")
	return ErrInvalidGrant
}
