package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlddu/passport/internal/crypto"
	"github.com/dlddu/passport/internal/domain"
)

func TestOAuthService_AcmeAuthorizationCodeFlow(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	req := &AuthorizeRequest{
		ResponseType:        ResponseTypeCode,
		ClientID:            "acme",
		RedirectURI:         acmeRedirect,
		Scope:               "profile",
		State:               "xyz",
		CodeChallenge:       crypto.S256Challenge(testVerifier),
		CodeChallengeMethod: crypto.PKCEMethodS256,
	}

	client, err := f.oauth.ResolveAuthorizeClient(ctx, req.ClientID, req.RedirectURI)
	require.NoError(t, err)
	require.NoError(t, f.oauth.ValidateAuthorizeRequest(client, req))

	code, err := f.oauth.IssueAuthorizationCode(ctx, client, req, "user-1")
	require.NoError(t, err)

	tokenReq := &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "acme",
		Code:         code,
		RedirectURI:  acmeRedirect,
		CodeVerifier: testVerifier,
	}
	resp, err := f.oauth.Token(ctx, tokenReq)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "profile", resp.Scope)
	assert.NotEmpty(t, resp.RefreshToken)

	profile, err := f.oauth.UserInfo(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ada", profile.Username)

	_, err = f.oauth.Token(ctx, tokenReq)
	assert.Same(t, ErrInvalidGrant, err)
}

func TestOAuthService_ResolveAuthorizeClient(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		wantCode    string
	}{
		{name: "registered redirect", clientID: "acme", redirectURI: acmeRedirect},
		{name: "unknown client", clientID: "ghost", redirectURI: acmeRedirect, wantCode: CodeInvalidClient},
		{name: "missing redirect", clientID: "acme", wantCode: CodeInvalidRequest},
		{name: "unregistered redirect", clientID: "acme", redirectURI: "https://evil.example/cb", wantCode: CodeInvalidRequest},
		{name: "another client's redirect", clientID: "acme", redirectURI: "https://globex.example/oauth/callback", wantCode: CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.oauth.ResolveAuthorizeClient(ctx, tt.clientID, tt.redirectURI)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantCode, oauthCode(t, err))
		})
	}
}

func TestOAuthService_ValidateAuthorizeRequest(t *testing.T) {
	public := &domain.Client{ClientID: "acme", Scopes: []string{"profile"}, Active: true}
	confidential := &domain.Client{ClientID: "globex", ClientSecretHash: "h", Scopes: []string{"profile", "email"}, Active: true}
	challenge := crypto.S256Challenge(testVerifier)

	tests := []struct {
		name       string
		policy     func(p *Policy)
		client     *domain.Client
		req        AuthorizeRequest
		wantCode   string
		wantMethod string
	}{
		{
			name:       "public client with S256",
			client:     public,
			req:        AuthorizeRequest{ResponseType: "code", Scope: "profile", CodeChallenge: challenge, CodeChallengeMethod: "S256"},
			wantMethod: "S256",
		},
		{
			name:       "omitted method defaults to plain",
			client:     public,
			req:        AuthorizeRequest{ResponseType: "code", CodeChallenge: testVerifier},
			wantMethod: "plain",
		},
		{
			name:     "wrong response type",
			client:   public,
			req:      AuthorizeRequest{ResponseType: "token", CodeChallenge: challenge, CodeChallengeMethod: "S256"},
			wantCode: CodeUnsupportedResponseType,
		},
		{
			name:     "scope outside allowed set",
			client:   public,
			req:      AuthorizeRequest{ResponseType: "code", Scope: "profile email", CodeChallenge: challenge, CodeChallengeMethod: "S256"},
			wantCode: CodeInvalidScope,
		},
		{
			name:     "public client without challenge",
			client:   public,
			req:      AuthorizeRequest{ResponseType: "code", Scope: "profile"},
			wantCode: CodeInvalidRequest,
		},
		{
			name:   "public client without challenge when not required",
			policy: func(p *Policy) { p.RequirePKCEForPublicClients = false },
			client: public,
			req:    AuthorizeRequest{ResponseType: "code", Scope: "profile"},
		},
		{
			name:   "confidential client without challenge",
			client: confidential,
			req:    AuthorizeRequest{ResponseType: "code", Scope: "email"},
		},
		{
			name:     "method without challenge",
			client:   confidential,
			req:      AuthorizeRequest{ResponseType: "code", CodeChallengeMethod: "S256"},
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "unknown method",
			client:   public,
			req:      AuthorizeRequest{ResponseType: "code", CodeChallenge: challenge, CodeChallengeMethod: "S512"},
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "plain disabled",
			policy:   func(p *Policy) { p.AllowPlainPKCE = false },
			client:   public,
			req:      AuthorizeRequest{ResponseType: "code", CodeChallenge: testVerifier, CodeChallengeMethod: "plain"},
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "malformed S256 challenge",
			client:   public,
			req:      AuthorizeRequest{ResponseType: "code", CodeChallenge: "too-short", CodeChallengeMethod: "S256"},
			wantCode: CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultPolicy()
			if tt.policy != nil {
				tt.policy(&policy)
			}
			f := newFixture(t, policy)

			req := tt.req
			err := f.oauth.ValidateAuthorizeRequest(tt.client, &req)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, oauthCode(t, err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, req.CodeChallengeMethod)
		})
	}
}

func TestOAuthService_TokenDispatch(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	tests := []struct {
		name     string
		req      TokenRequest
		wantCode string
	}{
		{name: "missing grant type", req: TokenRequest{ClientID: "acme"}, wantCode: CodeInvalidRequest},
		{name: "client credentials", req: TokenRequest{GrantType: "client_credentials", ClientID: "acme"}, wantCode: CodeUnsupportedGrantType},
		{name: "password", req: TokenRequest{GrantType: "password", ClientID: "acme"}, wantCode: CodeUnsupportedGrantType},
		{name: "code grant without code", req: TokenRequest{GrantType: GrantTypeAuthorizationCode, ClientID: "acme"}, wantCode: CodeInvalidRequest},
		{name: "refresh grant without token", req: TokenRequest{GrantType: GrantTypeRefreshToken, ClientID: "acme"}, wantCode: CodeInvalidRequest},
		{name: "bad client secret", req: TokenRequest{GrantType: GrantTypeAuthorizationCode, ClientID: "globex", ClientSecret: "wrong", Code: "x"}, wantCode: CodeInvalidClient},
		{name: "unknown code", req: TokenRequest{GrantType: GrantTypeAuthorizationCode, ClientID: "acme", Code: "x", RedirectURI: acmeRedirect}, wantCode: CodeInvalidGrant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := f.oauth.Token(ctx, &req)
			assert.Equal(t, tt.wantCode, oauthCode(t, err))
		})
	}
}

func TestOAuthService_ConfidentialClientExchange(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()
	redirect := "https://globex.example/oauth/callback"

	client, err := f.oauth.ResolveAuthorizeClient(ctx, "globex", redirect)
	require.NoError(t, err)
	req := &AuthorizeRequest{ResponseType: "code", ClientID: "globex", RedirectURI: redirect, Scope: " email  profile "}
	require.NoError(t, f.oauth.ValidateAuthorizeRequest(client, req))
	code, err := f.oauth.IssueAuthorizationCode(ctx, client, req, "user-1")
	require.NoError(t, err)

	_, err = f.oauth.Token(ctx, &TokenRequest{
		GrantType: GrantTypeAuthorizationCode, ClientID: "globex", Code: code, RedirectURI: redirect,
	})
	assert.Equal(t, CodeInvalidClient, oauthCode(t, err))

	resp, err := f.oauth.Token(ctx, &TokenRequest{
		GrantType: GrantTypeAuthorizationCode, ClientID: "globex", ClientSecret: "globex-secret", Code: code, RedirectURI: redirect,
	})
	require.NoError(t, err)
	assert.Equal(t, "email profile", resp.Scope)
}

func issueGlobexRefresh(t *testing.T, f *fixture) string {
	t.Helper()
	token, err := f.rtSvc.Issue(context.Background(), "globex", "user-1", "profile email")
	require.NoError(t, err)
	return token
}

func TestOAuthService_RefreshAccessToken(t *testing.T) {
	ctx := context.Background()

	t.Run("without rotation the same token is returned", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		rt := issueGlobexRefresh(t, f)

		for i := 0; i < 2; i++ {
			resp, err := f.oauth.Token(ctx, &TokenRequest{
				GrantType: GrantTypeRefreshToken, ClientID: "globex", ClientSecret: "globex-secret", RefreshToken: rt,
			})
			require.NoError(t, err)
			assert.Equal(t, rt, resp.RefreshToken)
			assert.Equal(t, "profile email", resp.Scope)
		}
	})

	t.Run("with rotation the old token stops working", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.RotateRefreshTokens = true
		f := newFixture(t, policy)
		rt := issueGlobexRefresh(t, f)

		resp, err := f.oauth.Token(ctx, &TokenRequest{
			GrantType: GrantTypeRefreshToken, ClientID: "globex", ClientSecret: "globex-secret", RefreshToken: rt,
		})
		require.NoError(t, err)
		assert.NotEqual(t, rt, resp.RefreshToken)

		_, err = f.oauth.Token(ctx, &TokenRequest{
			GrantType: GrantTypeRefreshToken, ClientID: "globex", ClientSecret: "globex-secret", RefreshToken: rt,
		})
		assert.Same(t, ErrInvalidGrant, err)

		_, err = f.oauth.Token(ctx, &TokenRequest{
			GrantType: GrantTypeRefreshToken, ClientID: "globex", ClientSecret: "globex-secret", RefreshToken: resp.RefreshToken,
		})
		assert.NoError(t, err)
	})

	t.Run("scope may narrow but not widen", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		rt := issueGlobexRefresh(t, f)

		resp, err := f.oauth.Token(ctx, &TokenRequest{
			GrantType: GrantTypeRefreshToken, ClientID: "globex", ClientSecret: "globex-secret", RefreshToken: rt, Scope: "email",
		})
		require.NoError(t, err)
		assert.Equal(t, "email", resp.Scope)

		_, err = f.oauth.Token(ctx, &TokenRequest{
			GrantType: GrantTypeRefreshToken, ClientID: "globex", ClientSecret: "globex-secret", RefreshToken: rt, Scope: "email admin",
		})
		assert.Equal(t, CodeInvalidScope, oauthCode(t, err))
	})

	t.Run("blank scope keeps the original grant", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		rt := issueGlobexRefresh(t, f)

		resp, err := f.oauth.Token(ctx, &TokenRequest{
			GrantType: GrantTypeRefreshToken, ClientID: "globex", ClientSecret: "globex-secret", RefreshToken: rt, Scope: "   ",
		})
		require.NoError(t, err)
		assert.Equal(t, "profile email", resp.Scope)

		info, err := f.tokenSvc.ValidateAccessToken(resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "profile email", info.Scope)
	})

	t.Run("revoked token is rejected", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		rt := issueGlobexRefresh(t, f)
		require.NoError(t, f.oauth.RevokeToken(ctx, "globex", "globex-secret", rt))

		_, err := f.oauth.Token(ctx, &TokenRequest{
			GrantType: GrantTypeRefreshToken, ClientID: "globex", ClientSecret: "globex-secret", RefreshToken: rt,
		})
		assert.Same(t, ErrInvalidGrant, err)
	})
}

func TestOAuthService_RevokeToken(t *testing.T) {
	ctx := context.Background()

	t.Run("foreign token is left alone", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		rt := issueGlobexRefresh(t, f)

		require.NoError(t, f.oauth.RevokeToken(ctx, "acme", "", rt))
		stored, ok := f.refresh.Get(rt)
		require.True(t, ok)
		assert.False(t, stored.Revoked)
	})

	t.Run("unknown token succeeds", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		assert.NoError(t, f.oauth.RevokeToken(ctx, "globex", "globex-secret", "never-issued"))
	})

	t.Run("client must authenticate", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		rt := issueGlobexRefresh(t, f)

		err := f.oauth.RevokeToken(ctx, "globex", "wrong", rt)
		assert.Equal(t, CodeInvalidClient, oauthCode(t, err))
	})

	t.Run("missing token", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		err := f.oauth.RevokeToken(ctx, "globex", "globex-secret", "")
		assert.Equal(t, CodeInvalidRequest, oauthCode(t, err))
	})
}

func TestOAuthService_UserInfo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultPolicy())

	t.Run("invalid token", func(t *testing.T) {
		_, err := f.oauth.UserInfo(ctx, "garbage")
		assert.Same(t, ErrInvalidToken, err)
	})

	t.Run("expired token", func(t *testing.T) {
		token, _, err := f.tokenSvc.MintAccessToken("user-1", "acme", "profile")
		require.NoError(t, err)
		f.clock.Advance(2 * time.Hour)

		_, err = f.oauth.UserInfo(ctx, token)
		assert.Same(t, ErrInvalidToken, err)
	})

	t.Run("subject without profile", func(t *testing.T) {
		token, _, err := f.tokenSvc.MintAccessToken("user-404", "acme", "profile")
		require.NoError(t, err)

		_, err = f.oauth.UserInfo(ctx, token)
		assert.Same(t, ErrInvalidToken, err)
	})
}

func TestOAuthService_PurgeExpired(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	f.issueAcmeCode(t)
	issueGlobexRefresh(t, f)
	_, err := f.oauth.BeginConsent(ctx, &AuthorizeRequest{ClientID: "globex", RedirectURI: "https://globex.example/oauth/callback"}, "user-1")
	require.NoError(t, err)
	f.clock.Advance(DefaultRefreshTokenTTL + time.Minute)

	res, err := f.oauth.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{Codes: 1, RefreshTokens: 1, ConsentTickets: 1}, res)
}
