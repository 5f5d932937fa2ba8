package service

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/dlddu/passport/internal/crypto"
	"github.com/dlddu/passport/internal/domain"
)

// Grant types accepted at the token endpoint
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// ResponseTypeCode is the only supported authorize response_type
const ResponseTypeCode = "code"

// TokenResponse represents an OAuth 2.0 token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// AuthorizeRequest holds the parameters of an /authorize request
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenRequest holds the parameters of a /token request after client
// credentials have been extracted from the header or form.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

// Policy holds the protocol switches an operator can change
type Policy struct {
	RequirePKCEForPublicClients bool
	AllowPlainPKCE              bool
	RotateRefreshTokens         bool
}

// DefaultPolicy requires PKCE from public clients, accepts plain challenges
// and does not rotate refresh tokens.
func DefaultPolicy() Policy {
	return Policy{
		RequirePKCEForPublicClients: true,
		AllowPlainPKCE:              true,
		RotateRefreshTokens:         false,
	}
}

// OAuthService handles OAuth 2.0 business logic
type OAuthService struct {
	clients  *ClientService
	codes    *AuthCodeService
	tokens   *TokenService
	refresh  *RefreshTokenService
	profiles *ProfileService
	consents *ConsentService
	policy   Policy
	opts     options
}

// NewOAuthService creates a new OAuth service
func NewOAuthService(
	clients *ClientService,
	codes *AuthCodeService,
	tokens *TokenService,
	refresh *RefreshTokenService,
	profiles *ProfileService,
	consents *ConsentService,
	policy Policy,
	opts ...Option,
) *OAuthService {
	return &OAuthService{
		clients:  clients,
		codes:    codes,
		tokens:   tokens,
		refresh:  refresh,
		profiles: profiles,
		consents: consents,
		policy:   policy,
		opts:     newOptions(opts),
	}
}

// ResolveAuthorizeClient validates client_id and redirect_uri. Its errors
// must be shown to the user agent and never redirected, since the redirect
// target itself is untrusted.
func (s *OAuthService) ResolveAuthorizeClient(ctx context.Context, clientID, redirectURI string) (*domain.Client, error) {
	client, err := s.clients.LookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if redirectURI == "" {
		return nil, NewInvalidRequestError("redirect_uri is required")
	}
	if !s.clients.IsRedirectURIAllowed(client, redirectURI) {
		return nil, NewInvalidRequestError("redirect_uri is not registered for this client")
	}
	return client, nil
}

// ValidateAuthorizeRequest checks the redirectable parts of an authorize
// request. It normalizes an omitted challenge method to plain.
func (s *OAuthService) ValidateAuthorizeRequest(client *domain.Client, req *AuthorizeRequest) error {
	if req.ResponseType != ResponseTypeCode {
		return NewUnsupportedResponseTypeError("response_type must be code")
	}
	if !s.clients.AreScopesAllowed(client, req.Scope) {
		return NewInvalidScopeError("requested scope is not allowed for this client")
	}

	if req.CodeChallenge == "" {
		if req.CodeChallengeMethod != "" {
			return NewInvalidRequestError("code_challenge_method without code_challenge")
		}
		if !client.IsConfidential() && s.policy.RequirePKCEForPublicClients {
			return NewInvalidRequestError("code_challenge is required for public clients")
		}
		return nil
	}

	if req.CodeChallengeMethod == "" {
		req.CodeChallengeMethod = crypto.PKCEMethodPlain
	}
	if !crypto.ValidChallengeMethod(req.CodeChallengeMethod) {
		return NewInvalidRequestError("unsupported code_challenge_method")
	}
	if req.CodeChallengeMethod == crypto.PKCEMethodPlain && !s.policy.AllowPlainPKCE {
		return NewInvalidRequestError("code_challenge_method plain is not allowed")
	}
	if !crypto.ValidChallenge(req.CodeChallenge, req.CodeChallengeMethod) {
		return NewInvalidRequestError("malformed code_challenge")
	}
	return nil
}

// IssueAuthorizationCode issues a code for an authorize request the owner approved
func (s *OAuthService) IssueAuthorizationCode(ctx context.Context, client *domain.Client, req *AuthorizeRequest, userID string) (string, error) {
	return s.codes.Issue(ctx, IssueParams{
		ClientID:            client.ClientID,
		UserID:              userID,
		RedirectURI:         req.RedirectURI,
		Scope:               normalizeScope(req.Scope),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	})
}

// BeginConsent records a validated authorize request that is waiting for
// userID's decision and returns the ticket the consent UI must post back.
func (s *OAuthService) BeginConsent(ctx context.Context, req *AuthorizeRequest, userID string) (string, error) {
	return s.consents.Begin(ctx, userID, req)
}

// RedeemConsent takes a consent ticket and returns the authorize request it
// was minted for. The returned request still has to pass
// ResolveAuthorizeClient and ValidateAuthorizeRequest.
func (s *OAuthService) RedeemConsent(ctx context.Context, ticket, clientID, userID string) (*AuthorizeRequest, error) {
	return s.consents.Redeem(ctx, ticket, clientID, userID)
}

// AuthenticateClient checks client credentials presented at the token endpoint
func (s *OAuthService) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	return s.clients.AuthenticateClient(ctx, clientID, clientSecret)
}

// Token dispatches a token request by grant type
func (s *OAuthService) Token(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.ExchangeAuthorizationCode(ctx, req)
	case GrantTypeRefreshToken:
		return s.RefreshAccessToken(ctx, req)
	case "":
		return nil, NewInvalidRequestError("grant_type is required")
	default:
		return nil, NewUnsupportedGrantTypeError("grant_type " + req.GrantType + " is not supported")
	}
}

// ExchangeAuthorizationCode implements the authorization_code grant
func (s *OAuthService) ExchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, NewInvalidRequestError("code is required")
	}

	client, err := s.clients.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	ac, err := s.codes.Consume(ctx, req.Code, client.ClientID, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		return nil, err
	}

	accessToken, expiresIn, err := s.tokens.MintAccessToken(ac.UserID, client.ClientID, ac.Scope)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.tokens.MintRefreshToken(ctx, client.ClientID, ac.UserID, ac.Scope)
	if err != nil {
		return nil, err
	}

	s.opts.logger.Info().
		Str("client_id", client.ClientID).
		Str("user_id", ac.UserID).
		Str("grant_type", GrantTypeAuthorizationCode).
		Msg("tokens issued")

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refreshToken,
		Scope:        ac.Scope,
	}, nil
}

// RefreshAccessToken implements the refresh_token grant. A narrower scope may
// be requested; widening is invalid_scope. Without rotation the presented
// refresh token is returned again.
func (s *OAuthService) RefreshAccessToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, NewInvalidRequestError("refresh_token is required")
	}

	client, err := s.clients.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	rt, err := s.refresh.Validate(ctx, req.RefreshToken, client.ClientID)
	if err != nil {
		return nil, err
	}

	scope := rt.Scope
	if len(strings.Fields(req.Scope)) > 0 {
		if !scopeSubset(req.Scope, rt.Scope) {
			return nil, NewInvalidScopeError("requested scope exceeds the original grant")
		}
		scope = normalizeScope(req.Scope)
	}

	accessToken, expiresIn, err := s.tokens.MintAccessToken(rt.UserID, client.ClientID, scope)
	if err != nil {
		return nil, err
	}

	refreshToken := rt.Token
	if s.policy.RotateRefreshTokens {
		refreshToken, err = s.refresh.Rotate(ctx, rt)
		if err != nil {
			return nil, err
		}
	}

	s.opts.logger.Info().
		Str("client_id", client.ClientID).
		Str("user_id", rt.UserID).
		Str("grant_type", GrantTypeRefreshToken).
		Bool("rotated", s.policy.RotateRefreshTokens).
		Msg("tokens issued")

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

// UserInfo validates a bearer access token and returns the subject's profile.
// Every failure other than infrastructure is ErrInvalidToken.
func (s *OAuthService) UserInfo(ctx context.Context, bearer string) (*domain.Profile, error) {
	info, err := s.tokens.ValidateAccessToken(bearer)
	if err != nil {
		return nil, err
	}

	profile, err := s.profiles.Project(ctx, info.Subject)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			s.opts.logger.Debug().Str("sub", info.Subject).Msg("token subject has no active profile")
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return profile, nil
}

// RevokeToken revokes a refresh token on behalf of an authenticated client.
// Unknown tokens and tokens of other clients are ignored (RFC 7009 section 2.2).
func (s *OAuthService) RevokeToken(ctx context.Context, clientID, clientSecret, token string) error {
	client, err := s.clients.AuthenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}
	if token == "" {
		return NewInvalidRequestError("token is required")
	}

	// Touch doubles as the ownership check; an expired or foreign token is left alone
	if _, err := s.refresh.Validate(ctx, token, client.ClientID); err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			return nil
		}
		return err
	}
	return s.refresh.Revoke(ctx, token)
}

// PurgeResult counts the records one PurgeExpired pass removed
type PurgeResult struct {
	Codes          int64
	RefreshTokens  int64
	ConsentTickets int64
}

// PurgeExpired removes expired codes, refresh tokens and consent tickets
func (s *OAuthService) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	var res PurgeResult
	var err error
	if res.Codes, err = s.codes.PurgeExpired(ctx); err != nil {
		return res, err
	}
	if res.RefreshTokens, err = s.refresh.PurgeExpired(ctx); err != nil {
		return res, err
	}
	if res.ConsentTickets, err = s.consents.PurgeExpired(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func normalizeScope(scope string) string {
	return strings.Join(strings.Fields(scope), " ")
}

func scopeSubset(requested, granted string) bool {
	allowed := strings.Fields(granted)
	for _, sc := range strings.Fields(requested) {
		if !slices.Contains(allowed, sc) {
			return false
		}
	}
	return true
}
