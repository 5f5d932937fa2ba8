// Package redis stores authorization codes, refresh tokens and consent
// tickets in Redis so several server replicas can share short-lived grant
// state. Clients and user profiles stay in PostgreSQL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/repository"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// DefaultKeyPrefix namespaces every key this package writes.
const DefaultKeyPrefix = "passport:"

// retention keeps records past their logical expiry so an expired code or
// token is reported as expired rather than unknown in the debug log.
const retention = time.Minute

const (
	keyTypeCode    = "code"
	keyTypeUsed    = "code_used"
	keyTypeRefresh = "refresh"
	keyTypeConsent = "consent"
)

var (
	_ repository.AuthorizationCodeRepository = (*AuthorizationCodeRepository)(nil)
	_ repository.RefreshTokenRepository      = (*RefreshTokenRepository)(nil)
	_ repository.ConsentTicketRepository     = (*ConsentTicketRepository)(nil)
)

// Config holds Redis connection settings
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a client from cfg and verifies it with a ping
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func redisKey(prefix, keyType, id string) string {
	return prefix + keyType + ":" + id
}

// ttlUntil is the key lifetime for a record that logically expires at expiresAt
func ttlUntil(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now) + retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// AuthorizationCodeRepository keeps each code as a JSON value plus a
// separate used marker written with SETNX.
type AuthorizationCodeRepository struct {
	client    goredis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewAuthorizationCodeRepository creates a Redis-backed AuthorizationCodeRepository
func NewAuthorizationCodeRepository(client goredis.UniversalClient, keyPrefix string) *AuthorizationCodeRepository {
	return &AuthorizationCodeRepository{client: client, keyPrefix: keyPrefix, now: time.Now}
}

type storedCode struct {
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
	CreatedAt           time.Time `json:"created_at"`
}

func (r *AuthorizationCodeRepository) Create(ctx context.Context, code *domain.AuthorizationCode) error {
	data, err := json.Marshal(storedCode{
		ClientID:            code.ClientID,
		UserID:              code.UserID,
		RedirectURI:         code.RedirectURI,
		Scope:               code.Scope,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		ExpiresAt:           code.ExpiresAt,
		CreatedAt:           code.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ok, err := r.client.SetNX(ctx, redisKey(r.keyPrefix, keyTypeCode, code.Code), data, ttlUntil(code.ExpiresAt, r.now())).Result()
	if err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	if !ok {
		return repository.ErrConflict
	}
	return nil
}

func (r *AuthorizationCodeRepository) GetByCodeAndClient(ctx context.Context, code, clientID string) (*domain.AuthorizationCode, error) {
	data, err := r.client.Get(ctx, redisKey(r.keyPrefix, keyTypeCode, code)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repository.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var sc storedCode
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	if sc.ClientID != clientID {
		return nil, repository.ErrCodeNotFound
	}

	used, err := r.client.Exists(ctx, redisKey(r.keyPrefix, keyTypeUsed, code)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check used marker: %w", err)
	}

	return &domain.AuthorizationCode{
		Code:                code,
		ClientID:            sc.ClientID,
		UserID:              sc.UserID,
		RedirectURI:         sc.RedirectURI,
		Scope:               sc.Scope,
		CodeChallenge:       sc.CodeChallenge,
		CodeChallengeMethod: sc.CodeChallengeMethod,
		ExpiresAt:           sc.ExpiresAt,
		Used:                used > 0,
		CreatedAt:           sc.CreatedAt,
	}, nil
}

func (r *AuthorizationCodeRepository) MarkUsed(ctx context.Context, code string) error {
	key := redisKey(r.keyPrefix, keyTypeCode, code)
	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check authorization code: %w", err)
	}
	// PTTL is negative when the key does not exist
	if ttl <= 0 {
		return repository.ErrCodeNotFound
	}

	ok, err := r.client.SetNX(ctx, redisKey(r.keyPrefix, keyTypeUsed, code), "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to mark authorization code used: %w", err)
	}
	if !ok {
		return repository.ErrConflict
	}
	return nil
}

// DeleteExpired is a no-op; Redis evicts keys on their own TTL.
func (r *AuthorizationCodeRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// RefreshTokenRepository keeps each token as a JSON value and mutates it only
// through Lua scripts so check-and-update is atomic.
type RefreshTokenRepository struct {
	client    goredis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRefreshTokenRepository creates a Redis-backed RefreshTokenRepository
func NewRefreshTokenRepository(client goredis.UniversalClient, keyPrefix string) *RefreshTokenRepository {
	return &RefreshTokenRepository{client: client, keyPrefix: keyPrefix, now: time.Now}
}

// Times are unix milliseconds so the Lua scripts can compare them.
type storedRefreshToken struct {
	ClientID   string `json:"client_id"`
	UserID     string `json:"user_id"`
	Scope      string `json:"scope"`
	ExpiresAt  int64  `json:"expires_at"`
	Revoked    bool   `json:"revoked"`
	LastUsedAt int64  `json:"last_used_at,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

func (s storedRefreshToken) toDomain(token string) *domain.RefreshToken {
	rt := &domain.RefreshToken{
		Token:     token,
		ClientID:  s.ClientID,
		UserID:    s.UserID,
		Scope:     s.Scope,
		ExpiresAt: time.UnixMilli(s.ExpiresAt),
		Revoked:   s.Revoked,
		CreatedAt: time.UnixMilli(s.CreatedAt),
	}
	if s.LastUsedAt != 0 {
		used := time.UnixMilli(s.LastUsedAt)
		rt.LastUsedAt = &used
	}
	return rt
}

// touchScript returns the updated record, or nil when the token is unknown,
// belongs to another client, is revoked or has expired.
// KEYS[1] token key, ARGV[1] client id, ARGV[2] now in unix ms.
var touchScript = goredis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return nil
end
local rt = cjson.decode(data)
if rt.client_id ~= ARGV[1] or rt.revoked then
	return nil
end
local now = tonumber(ARGV[2])
if tonumber(rt.expires_at) <= now then
	return nil
end
rt.last_used_at = now
local encoded = cjson.encode(rt)
redis.call('SET', KEYS[1], encoded, 'KEEPTTL')
return encoded
`)

// revokeScript sets revoked on an existing token and ignores unknown ones.
var revokeScript = goredis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return 0
end
local rt = cjson.decode(data)
rt.revoked = true
redis.call('SET', KEYS[1], cjson.encode(rt), 'KEEPTTL')
return 1
`)

func (r *RefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	st := storedRefreshToken{
		ClientID:  token.ClientID,
		UserID:    token.UserID,
		Scope:     token.Scope,
		ExpiresAt: token.ExpiresAt.UnixMilli(),
		Revoked:   token.Revoked,
		CreatedAt: token.CreatedAt.UnixMilli(),
	}
	if token.LastUsedAt != nil {
		st.LastUsedAt = token.LastUsedAt.UnixMilli()
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	ok, err := r.client.SetNX(ctx, redisKey(r.keyPrefix, keyTypeRefresh, token.Token), data, ttlUntil(token.ExpiresAt, r.now())).Result()
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	if !ok {
		return repository.ErrConflict
	}
	return nil
}

func (r *RefreshTokenRepository) Touch(ctx context.Context, token, clientID string, now time.Time) (*domain.RefreshToken, error) {
	key := redisKey(r.keyPrefix, keyTypeRefresh, token)
	data, err := touchScript.Run(ctx, r.client, []string{key}, clientID, now.UnixMilli()).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repository.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to validate refresh token: %w", err)
	}

	var st storedRefreshToken
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}
	return st.toDomain(token), nil
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, token string) error {
	key := redisKey(r.keyPrefix, keyTypeRefresh, token)
	if err := revokeScript.Run(ctx, r.client, []string{key}).Err(); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op; Redis evicts keys on their own TTL.
func (r *RefreshTokenRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// ConsentTicketRepository keeps each pending consent as a JSON value.
// GETDEL hands a ticket to exactly one caller.
type ConsentTicketRepository struct {
	client    goredis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewConsentTicketRepository creates a Redis-backed ConsentTicketRepository
func NewConsentTicketRepository(client goredis.UniversalClient, keyPrefix string) *ConsentTicketRepository {
	return &ConsentTicketRepository{client: client, keyPrefix: keyPrefix, now: time.Now}
}

type storedConsent struct {
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	State               string    `json:"state,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
	CreatedAt           time.Time `json:"created_at"`
}

func (r *ConsentTicketRepository) Create(ctx context.Context, t *domain.ConsentTicket) error {
	data, err := json.Marshal(storedConsent{
		ClientID:            t.ClientID,
		UserID:              t.UserID,
		RedirectURI:         t.RedirectURI,
		Scope:               t.Scope,
		State:               t.State,
		CodeChallenge:       t.CodeChallenge,
		CodeChallengeMethod: t.CodeChallengeMethod,
		ExpiresAt:           t.ExpiresAt,
		CreatedAt:           t.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal consent ticket: %w", err)
	}

	ok, err := r.client.SetNX(ctx, redisKey(r.keyPrefix, keyTypeConsent, t.Ticket), data, ttlUntil(t.ExpiresAt, r.now())).Result()
	if err != nil {
		return fmt.Errorf("failed to store consent ticket: %w", err)
	}
	if !ok {
		return repository.ErrConflict
	}
	return nil
}

func (r *ConsentTicketRepository) Take(ctx context.Context, ticket string) (*domain.ConsentTicket, error) {
	data, err := r.client.GetDel(ctx, redisKey(r.keyPrefix, keyTypeConsent, ticket)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repository.ErrConsentNotFound
		}
		return nil, fmt.Errorf("failed to take consent ticket: %w", err)
	}

	var sc storedConsent
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal consent ticket: %w", err)
	}
	return &domain.ConsentTicket{
		Ticket:              ticket,
		ClientID:            sc.ClientID,
		UserID:              sc.UserID,
		RedirectURI:         sc.RedirectURI,
		Scope:               sc.Scope,
		State:               sc.State,
		CodeChallenge:       sc.CodeChallenge,
		CodeChallengeMethod: sc.CodeChallengeMethod,
		ExpiresAt:           sc.ExpiresAt,
		CreatedAt:           sc.CreatedAt,
	}, nil
}

// DeleteExpired is a no-op; Redis evicts keys on their own TTL.
func (r *ConsentTicketRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
