package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/repository"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewClient(context.Background(), Config{})
	assert.Error(t, err)
}

func TestAuthorizationCodeRepository(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()
	repo := NewAuthorizationCodeRepository(client, DefaultKeyPrefix)

	expires := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)
	code := &domain.AuthorizationCode{
		Code:                "abc",
		ClientID:            "acme",
		UserID:              "user-1",
		RedirectURI:         "https://acme.example/cb",
		Scope:               "profile",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		ExpiresAt:           expires,
		CreatedAt:           time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, repo.Create(ctx, code))
	assert.ErrorIs(t, repo.Create(ctx, code), repository.ErrConflict)
	assert.True(t, mr.Exists("passport:code:abc"))

	got, err := repo.GetByCodeAndClient(ctx, "abc", "acme")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "challenge", got.CodeChallenge)
	assert.True(t, expires.Equal(got.ExpiresAt))
	assert.False(t, got.Used)

	_, err = repo.GetByCodeAndClient(ctx, "abc", "other")
	assert.ErrorIs(t, err, repository.ErrCodeNotFound)
	_, err = repo.GetByCodeAndClient(ctx, "missing", "acme")
	assert.ErrorIs(t, err, repository.ErrCodeNotFound)

	require.NoError(t, repo.MarkUsed(ctx, "abc"))
	assert.ErrorIs(t, repo.MarkUsed(ctx, "abc"), repository.ErrConflict)
	assert.ErrorIs(t, repo.MarkUsed(ctx, "missing"), repository.ErrCodeNotFound)

	got, err = repo.GetByCodeAndClient(ctx, "abc", "acme")
	require.NoError(t, err)
	assert.True(t, got.Used)

	mr.FastForward(11*time.Minute + retention)
	_, err = repo.GetByCodeAndClient(ctx, "abc", "acme")
	assert.ErrorIs(t, err, repository.ErrCodeNotFound)
}

func TestAuthorizationCodeRepository_MarkUsedSingleWinner(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	repo := NewAuthorizationCodeRepository(client, DefaultKeyPrefix)
	require.NoError(t, repo.Create(ctx, &domain.AuthorizationCode{Code: "race", ClientID: "acme", ExpiresAt: time.Now().Add(time.Minute)}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.MarkUsed(ctx, "race") == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestRefreshTokenRepository(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	repo := NewRefreshTokenRepository(client, DefaultKeyPrefix)

	now := time.Now().Truncate(time.Millisecond)
	require.NoError(t, repo.Create(ctx, &domain.RefreshToken{
		Token:     "rt",
		ClientID:  "acme",
		UserID:    "user-1",
		Scope:     "profile email",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}))

	got, err := repo.Touch(ctx, "rt", "acme", now)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "profile email", got.Scope)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, now.Equal(*got.LastUsedAt))

	_, err = repo.Touch(ctx, "rt", "other", now)
	assert.ErrorIs(t, err, repository.ErrRefreshTokenNotFound)

	_, err = repo.Touch(ctx, "rt", "acme", now.Add(time.Hour))
	assert.ErrorIs(t, err, repository.ErrRefreshTokenNotFound)

	_, err = repo.Touch(ctx, "missing", "acme", now)
	assert.ErrorIs(t, err, repository.ErrRefreshTokenNotFound)

	require.NoError(t, repo.Revoke(ctx, "rt"))
	require.NoError(t, repo.Revoke(ctx, "rt"))
	require.NoError(t, repo.Revoke(ctx, "missing"))

	_, err = repo.Touch(ctx, "rt", "acme", now)
	assert.ErrorIs(t, err, repository.ErrRefreshTokenNotFound)
}

func TestConsentTicketRepository(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()
	repo := NewConsentTicketRepository(client, DefaultKeyPrefix)

	expires := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)
	ticket := &domain.ConsentTicket{
		Ticket:              "t1",
		ClientID:            "globex",
		UserID:              "user-1",
		RedirectURI:         "https://globex.example/cb",
		Scope:               "email",
		State:               "s1",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		ExpiresAt:           expires,
	}
	require.NoError(t, repo.Create(ctx, ticket))
	assert.ErrorIs(t, repo.Create(ctx, ticket), repository.ErrConflict)
	assert.True(t, mr.Exists("passport:consent:t1"))

	got, err := repo.Take(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.Ticket)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "s1", got.State)
	assert.Equal(t, "challenge", got.CodeChallenge)
	assert.True(t, expires.Equal(got.ExpiresAt))
	assert.False(t, mr.Exists("passport:consent:t1"))

	_, err = repo.Take(ctx, "t1")
	assert.ErrorIs(t, err, repository.ErrConsentNotFound)

	require.NoError(t, repo.Create(ctx, &domain.ConsentTicket{Ticket: "t2", ExpiresAt: time.Now().Add(time.Minute)}))
	mr.FastForward(time.Minute + retention + time.Second)
	_, err = repo.Take(ctx, "t2")
	assert.ErrorIs(t, err, repository.ErrConsentNotFound)
}
