package service

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"

	"github.com/dlddu/passport/internal/crypto"
	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/repository"
)

// ClientService is the read side of the client registry plus operator
// provisioning.
type ClientService struct {
	repo   ClientRepository
	hasher Hasher
	opts   options
}

// NewClientService creates a new ClientService instance
func NewClientService(repo ClientRepository, hasher Hasher, opts ...Option) *ClientService {
	return &ClientService{
		repo:   repo,
		hasher: hasher,
		opts:   newOptions(opts),
	}
}

// LookupClient returns the active client registered under clientID.
// Unknown and inactive clients both yield invalid_client.
func (s *ClientService) LookupClient(ctx context.Context, clientID string) (*domain.Client, error) {
	if clientID == "" {
		return nil, NewInvalidClientError("client_id is required")
	}

	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	client, err := s.repo.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return nil, NewInvalidClientError("unknown client")
		}
		s.opts.logger.Error().Err(err).Str("client_id", clientID).Msg("client lookup failed")
		return nil, storageError(err)
	}

	return client, nil
}

// IsRedirectURIAllowed reports whether uri exactly matches one of the
// client's registered redirect URIs. No prefix, case or trailing-slash
// normalization is applied.
func (s *ClientService) IsRedirectURIAllowed(client *domain.Client, uri string) bool {
	return slices.Contains(client.RedirectURIs, uri)
}

// AreScopesAllowed reports whether every space-separated token of scope is in
// the client's allowed set. An empty request is allowed only when the client
// has at least one allowed scope.
func (s *ClientService) AreScopesAllowed(client *domain.Client, scope string) bool {
	requested := strings.Fields(scope)
	if len(requested) == 0 {
		return len(client.Scopes) > 0
	}

	for _, sc := range requested {
		if !slices.Contains(client.Scopes, sc) {
			return false
		}
	}
	return true
}

// AuthenticateClient checks the credentials presented at the token endpoint.
// Confidential clients must present their secret; public clients must not
// present one.
func (s *ClientService) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	client, err := s.LookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if !client.IsConfidential() {
		if clientSecret != "" {
			return nil, NewInvalidClientError("public client must not present a secret")
		}
		return client, nil
	}

	if clientSecret == "" {
		return nil, NewInvalidClientError("client authentication required")
	}
	if err := s.hasher.VerifySecret(client.ClientSecretHash, clientSecret); err != nil {
		s.opts.logger.Debug().Str("client_id", clientID).Msg("client secret mismatch")
		return nil, NewInvalidClientError("client authentication failed")
	}

	return client, nil
}

// CreateClientParams holds the operator-supplied fields of a new client
type CreateClientParams struct {
	ClientID     string
	ClientName   string
	RedirectURIs []string
	Scopes       []string
	Confidential bool
	Trusted      bool
}

// CreateClient registers a new client. For confidential clients a random
// secret is generated and returned once in plain text; only its hash is stored.
func (s *ClientService) CreateClient(ctx context.Context, p CreateClientParams) (*domain.Client, string, error) {
	if p.ClientID == "" {
		return nil, "", ErrEmptyClientID
	}
	if p.ClientName == "" {
		return nil, "", ErrEmptyClientName
	}
	if len(p.RedirectURIs) == 0 {
		return nil, "", ErrEmptyRedirectURIs
	}
	for _, uri := range p.RedirectURIs {
		if !validRedirectURI(uri) {
			return nil, "", ErrInvalidRedirect
		}
	}

	var secret, secretHash string
	if p.Confidential {
		generated, err := crypto.GenerateToken(crypto.DefaultTokenBytes)
		if err != nil {
			return nil, "", err
		}
		hash, err := s.hasher.HashSecret(generated)
		if err != nil {
			return nil, "", err
		}
		secret, secretHash = generated, hash
	}

	now := s.opts.now()
	client := &domain.Client{
		ClientID:         p.ClientID,
		ClientSecretHash: secretHash,
		ClientName:       p.ClientName,
		RedirectURIs:     slices.Clone(p.RedirectURIs),
		Scopes:           slices.Clone(p.Scopes),
		Trusted:          p.Trusted,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	ctx, cancel := s.opts.storageCtx(ctx)
	defer cancel()

	if err := s.repo.Create(ctx, client); err != nil {
		return nil, "", err
	}

	return client, secret, nil
}

// validRedirectURI requires an absolute URI with no fragment (RFC 6749 section 3.1.2)
func validRedirectURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return u.IsAbs() && !strings.Contains(uri, "#")
}
