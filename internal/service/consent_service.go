package service

import (
	"context"
	"errors"
	"time"

	"github.com/dlddu/passport/internal/crypto"
	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/repository"
)

// DefaultConsentTTL is how long the owner has to answer the consent UI.
const DefaultConsentTTL = 10 * time.Minute

// ConsentService binds a consent decision to the authorize request that
// asked for it. A ticket is minted when the owner is sent to the consent UI
// and taken exactly once when the decision comes back.
type ConsentService struct {
	repo ConsentTicketRepository
	ttl  time.Duration
	opts options
}

// NewConsentService creates a new ConsentService instance
func NewConsentService(repo ConsentTicketRepository, ttl time.Duration, opts ...Option) *ConsentService {
	if ttl <= 0 {
		ttl = DefaultConsentTTL
	}
	return &ConsentService{
		repo: repo,
		ttl:  ttl,
		opts: newOptions(opts),
	}
}

// Begin persists a ticket for req on behalf of userID and returns it
func (s *ConsentService) Begin(ctx context.Context, userID string, req *AuthorizeRequest) (string, error) {
	ticket, err := crypto.GenerateToken(crypto.DefaultTokenBytes)
	if err != nil {
		s.opts.logger.Error().Err(err).Msg("generate consent ticket")
		return "", NewServerError()
	}

	now := s.opts.now()
	record := &domain.ConsentTicket{
		Ticket:              ticket,
		ClientID:            req.ClientID,
		UserID:              userID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           now.Add(s.ttl),
		CreatedAt:           now,
	}

	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	if err := s.repo.Create(ctx, record); err != nil {
		s.opts.logger.Error().Err(err).Str("client_id", req.ClientID).Msg("store consent ticket")
		return "", storageError(err)
	}
	return ticket, nil
}

// Redeem takes ticket and returns the authorize request it was minted for.
// The ticket is gone after the first call whatever the outcome, so a
// mismatched client or owner burns it. Every rejection is ErrInvalidConsent.
func (s *ConsentService) Redeem(ctx context.Context, ticket, clientID, userID string) (*AuthorizeRequest, error) {
	if ticket == "" {
		return nil, s.reject(ticket, clientID, "missing consent ticket")
	}

	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	ct, err := s.repo.Take(ctx, ticket)
	if err != nil {
		if errors.Is(err, repository.ErrConsentNotFound) {
			return nil, s.reject(ticket, clientID, "unknown or used consent ticket")
		}
		s.opts.logger.Error().Err(err).Str("client_id", clientID).Msg("take consent ticket")
		return nil, storageError(err)
	}

	if ct.Expired(s.opts.now()) {
		return nil, s.reject(ticket, clientID, "consent ticket expired")
	}
	if ct.ClientID != clientID {
		return nil, s.reject(ticket, clientID, "consent ticket issued to another client")
	}
	if ct.UserID != userID {
		return nil, s.reject(ticket, clientID, "consent ticket issued to another owner")
	}

	return &AuthorizeRequest{
		ResponseType:        ResponseTypeCode,
		ClientID:            ct.ClientID,
		RedirectURI:         ct.RedirectURI,
		Scope:               ct.Scope,
		State:               ct.State,
		CodeChallenge:       ct.CodeChallenge,
		CodeChallengeMethod: ct.CodeChallengeMethod,
	}, nil
}

// PurgeExpired deletes tickets that expired before now
func (s *ConsentService) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	return s.repo.DeleteExpired(ctx, s.opts.now())
}

func (s *ConsentService) reject(ticket, clientID, reason string) error {
	s.opts.logger.Debug().
		Str("client_id", clientID).
		Str("ticket", prefix(ticket)).
		Str("reason", reason).
		Msg("consent ticket rejected")
	return ErrInvalidConsent
}
