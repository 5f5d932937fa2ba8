package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dlddu/passport/internal/crypto"
	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/jwt"
	"github.com/dlddu/passport/internal/metrics"
	"github.com/dlddu/passport/internal/repository/memory"
	"github.com/dlddu/passport/internal/service"
)

const (
	ownerHeader    = "X-Passport-User"
	acmeRedirect   = "https://acme.example/cb"
	globexRedirect = "https://globex.example/oauth/callback"
	globexSecret   = "globex-secret"
	testVerifier   = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

// testServer is a full router over in-memory storage
type testServer struct {
	*httptest.Server
	clients *memory.ClientRepository
	refresh *memory.RefreshTokenRepository
	oauth   *service.OAuthService
	tokens  *service.TokenService
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, mutate func(cfg *RouterConfig)) *testServer {
	t.Helper()

	clients := memory.NewClientRepository()
	codes := memory.NewAuthorizationCodeRepository()
	refresh := memory.NewRefreshTokenRepository()
	users := memory.NewUserRepository()

	hash, err := bcrypt.GenerateFromPassword([]byte(globexSecret), bcrypt.MinCost)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, clients.Create(ctx, &domain.Client{
		ClientID:     "acme",
		ClientName:   "Acme",
		RedirectURIs: []string{acmeRedirect},
		Scopes:       []string{"profile"},
		Trusted:      true,
		Active:       true,
	}))
	require.NoError(t, clients.Create(ctx, &domain.Client{
		ClientID:         "globex",
		ClientSecretHash: string(hash),
		ClientName:       "Globex",
		RedirectURIs:     []string{globexRedirect, "https://globex.example/cb?tenant=eu"},
		Scopes:           []string{"profile", "email"},
		Active:           true,
	}))
	require.NoError(t, users.Create(ctx, &domain.User{
		ID:           "user-1",
		Username:     "ada",
		Email:        "ada@example.com",
		PasswordHash: "$2a$10$secret-hash",
		FullName:     "Ada Lovelace",
		IsActive:     true,
	}))

	signer, err := jwt.NewHMACTokenManager([]byte("handler-test-secret-handler-test!"), "https://passport.test")
	require.NoError(t, err)

	rt := service.NewRefreshTokenService(refresh, 0)
	tokens := service.NewTokenService(signer, rt, 0)
	oauth := service.NewOAuthService(
		service.NewClientService(clients, crypto.BcryptHasher{}),
		service.NewAuthCodeService(codes, 0),
		tokens,
		rt,
		service.NewProfileService(users),
		service.NewConsentService(memory.NewConsentTicketRepository(), 0),
		service.DefaultPolicy(),
	)

	m := metrics.New()
	cfg := RouterConfig{
		OAuth:     oauth,
		Owners:    HeaderOwnerResolver{Header: ownerHeader},
		Authorize: AuthorizeConfig{Issuer: "https://passport.test"},
		Algorithm: signer.Algorithm(),
		Logger:    zerolog.Nop(),
		Metrics:   m,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv := httptest.NewServer(NewRouter(cfg))
	t.Cleanup(srv.Close)

	return &testServer{
		Server:  srv,
		clients: clients,
		refresh: refresh,
		oauth:   oauth,
		tokens:  tokens,
		metrics: m,
	}
}

// noRedirectClient returns 3xx responses instead of following them
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// authorize performs GET /authorize as owner (empty means anonymous)
func (s *testServer) authorize(t *testing.T, owner string, params url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.URL+"/authorize?"+params.Encode(), nil)
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) postForm(t *testing.T, path string, form url.Values, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, vs := range header {
		req.Header[k] = vs
	}
	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// acmeCode runs the authorize leg for acme and returns the issued code
func (s *testServer) acmeCode(t *testing.T) string {
	t.Helper()
	resp := s.authorize(t, "user-1", acmeParams())
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc := location(t, resp)
	require.NotEmpty(t, loc.Query().Get("code"))
	return loc.Query().Get("code")
}

func acmeParams() url.Values {
	return url.Values{
		"response_type":         {"code"},
		"client_id":             {"acme"},
		"redirect_uri":          {acmeRedirect},
		"scope":                 {"profile"},
		"state":                 {"xyz"},
		"code_challenge":        {crypto.S256Challenge(testVerifier)},
		"code_challenge_method": {"S256"},
	}
}

func location(t *testing.T, resp *http.Response) *url.URL {
	t.Helper()
	loc, err := resp.Location()
	require.NoError(t, err)
	return loc
}

func decodeError(t *testing.T, resp *http.Response) service.OAuthError {
	t.Helper()
	var body service.OAuthError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// stubOAuth lets a test force one OAuthService method's result
type stubOAuth struct {
	OAuthService
	tokenErr    error
	userInfoErr error
}

func (s stubOAuth) Token(context.Context, *service.TokenRequest) (*service.TokenResponse, error) {
	return nil, s.tokenErr
}

func (s stubOAuth) UserInfo(context.Context, string) (*domain.Profile, error) {
	return nil, s.userInfoErr
}
