package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dlddu/passport/internal/crypto"
	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/jwt"
	"github.com/dlddu/passport/internal/repository/memory"
)

// MockClientRepository is a function-field mock of ClientRepository
type MockClientRepository struct {
	CreateFunc        func(ctx context.Context, client *domain.Client) error
	GetByClientIDFunc func(ctx context.Context, clientID string) (*domain.Client, error)
}

func (m *MockClientRepository) Create(ctx context.Context, client *domain.Client) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, client)
	}
	return nil
}

func (m *MockClientRepository) GetByClientID(ctx context.Context, clientID string) (*domain.Client, error) {
	if m.GetByClientIDFunc != nil {
		return m.GetByClientIDFunc(ctx, clientID)
	}
	return nil, nil
}

// MockCodeRepository is a function-field mock of AuthorizationCodeRepository
type MockCodeRepository struct {
	CreateFunc             func(ctx context.Context, code *domain.AuthorizationCode) error
	GetByCodeAndClientFunc func(ctx context.Context, code, clientID string) (*domain.AuthorizationCode, error)
	MarkUsedFunc           func(ctx context.Context, code string) error
}

func (m *MockCodeRepository) Create(ctx context.Context, code *domain.AuthorizationCode) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, code)
	}
	return nil
}

func (m *MockCodeRepository) GetByCodeAndClient(ctx context.Context, code, clientID string) (*domain.AuthorizationCode, error) {
	if m.GetByCodeAndClientFunc != nil {
		return m.GetByCodeAndClientFunc(ctx, code, clientID)
	}
	return nil, nil
}

func (m *MockCodeRepository) MarkUsed(ctx context.Context, code string) error {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, code)
	}
	return nil
}

func (m *MockCodeRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// MockHasher hashes by prefixing, so tests stay fast
type MockHasher struct{}

func (MockHasher) HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", crypto.ErrEmptySecret
	}
	return "hashed:" + secret, nil
}

func (MockHasher) VerifySecret(hash, secret string) error {
	if hash != "hashed:"+secret {
		return crypto.ErrEmptyHash
	}
	return nil
}

// testClock is a settable time source shared by services and the token manager
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// blockUntilDone simulates a storage call that never answers
func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

const (
	acmeRedirect = "https://acme.example/cb"
	testVerifier = "verifier123"
)

// fixture wires every service over in-memory repositories
type fixture struct {
	clock    *testClock
	clients  *memory.ClientRepository
	codes    *memory.AuthorizationCodeRepository
	refresh  *memory.RefreshTokenRepository
	users    *memory.UserRepository
	consents *memory.ConsentTicketRepository
	signer   *jwt.TokenManager
	oauth    *OAuthService
	codeSvc  *AuthCodeService
	tokenSvc *TokenService
	rtSvc    *RefreshTokenService
	consent  *ConsentService
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()

	f := &fixture{
		clock:   newTestClock(),
		clients: memory.NewClientRepository(),
		codes:   memory.NewAuthorizationCodeRepository(),
		refresh: memory.NewRefreshTokenRepository(),
		users:    memory.NewUserRepository(),
		consents: memory.NewConsentTicketRepository(),
	}

	signer, err := jwt.NewHMACTokenManager([]byte("test-secret-test-secret-test-secret!"), "https://passport.test")
	require.NoError(t, err)
	signer.SetClock(f.clock.Now)
	f.signer = signer

	opts := []Option{WithClock(f.clock.Now)}
	clientSvc := NewClientService(f.clients, MockHasher{}, opts...)
	f.codeSvc = NewAuthCodeService(f.codes, DefaultAuthorizationCodeTTL, opts...)
	f.rtSvc = NewRefreshTokenService(f.refresh, DefaultRefreshTokenTTL, opts...)
	f.tokenSvc = NewTokenService(signer, f.rtSvc, DefaultAccessTokenTTL, opts...)
	profiles := NewProfileService(f.users, opts...)
	f.consent = NewConsentService(f.consents, DefaultConsentTTL, opts...)
	f.oauth = NewOAuthService(clientSvc, f.codeSvc, f.tokenSvc, f.rtSvc, profiles, f.consent, policy, opts...)

	ctx := context.Background()
	require.NoError(t, f.clients.Create(ctx, &domain.Client{
		ClientID:     "acme",
		ClientName:   "Acme",
		RedirectURIs: []string{acmeRedirect},
		Scopes:       []string{"profile"},
		Active:       true,
	}))
	require.NoError(t, f.clients.Create(ctx, &domain.Client{
		ClientID:         "globex",
		ClientSecretHash: "hashed:globex-secret",
		ClientName:       "Globex",
		RedirectURIs:     []string{"https://globex.example/oauth/callback"},
		Scopes:           []string{"profile", "email"},
		Active:           true,
	}))
	require.NoError(t, f.users.Create(ctx, &domain.User{
		ID:           "user-1",
		Username:     "ada",
		Email:        "ada@example.com",
		PasswordHash: "$2a$10$not-for-export",
		FullName:     "Ada Lovelace",
		AvatarURL:    "https://cdn.example/ada.png",
		Bio:          "analyst",
		SocialLinks:  map[string]string{"github": "ada"},
		IsActive:     true,
	}))

	return f
}

// issueAcmeCode issues a code for acme with an S256 challenge of testVerifier
func (f *fixture) issueAcmeCode(t *testing.T) string {
	t.Helper()
	code, err := f.codeSvc.Issue(context.Background(), IssueParams{
		ClientID:            "acme",
		UserID:              "user-1",
		RedirectURI:         acmeRedirect,
		Scope:               "profile",
		CodeChallenge:       crypto.S256Challenge(testVerifier),
		CodeChallengeMethod: crypto.PKCEMethodS256,
	})
	require.NoError(t, err)
	return code
}
