package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dlddu/passport/internal/config"
	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/handler"
	"github.com/dlddu/passport/internal/repository"
	"github.com/dlddu/passport/internal/repository/memory"
	"github.com/dlddu/passport/internal/repository/postgres"
	"github.com/dlddu/passport/internal/repository/redis"
)

// connectAttempts bounds the startup retries for each backing store
const connectAttempts = 5

// stores is the set of repositories selected by configuration
type stores struct {
	clients repository.ClientRepository
	codes   repository.AuthorizationCodeRepository
	refresh repository.RefreshTokenRepository
	users    repository.UserRepository
	consents repository.ConsentTicketRepository

	ready   []handler.ReadyFunc
	closers []func()
}

// openStores connects the configured backends. Everything lives in Postgres
// when database.url is set. Codes, refresh tokens and consent tickets move
// to Redis when redis.addr is set. Otherwise it all stays in memory.
func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	s := &stores{
		clients: memory.NewClientRepository(),
		codes:   memory.NewAuthorizationCodeRepository(),
		refresh: memory.NewRefreshTokenRepository(),
		users:    memory.NewUserRepository(),
		consents: memory.NewConsentTicketRepository(),
	}

	if cfg.UsesPostgres() {
		pool, err := withRetry(ctx, logger, "postgres", func() (*pgxpool.Pool, error) {
			return postgres.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		})
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)

		if cfg.Database.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				s.Close()
				return nil, err
			}
		}

		s.clients = postgres.NewClientRepository(pool)
		s.codes = postgres.NewAuthorizationCodeRepository(pool)
		s.refresh = postgres.NewRefreshTokenRepository(pool)
		s.users = postgres.NewUserRepository(pool)
		s.consents = postgres.NewConsentTicketRepository(pool)
		s.ready = append(s.ready, pool.Ping)
		logger.Info().Msg("using postgres store")
	}

	if cfg.UsesRedis() {
		client, err := withRetry(ctx, logger, "redis", func() (*goredis.Client, error) {
			return redis.NewClient(ctx, redis.Config{
				Addr:      cfg.Redis.Addr,
				Password:  cfg.Redis.Password,
				DB:        cfg.Redis.DB,
				KeyPrefix: cfg.Redis.KeyPrefix,
			})
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		s.closers = append(s.closers, func() { _ = client.Close() })

		s.codes = redis.NewAuthorizationCodeRepository(client, cfg.Redis.KeyPrefix)
		s.refresh = redis.NewRefreshTokenRepository(client, cfg.Redis.KeyPrefix)
		s.consents = redis.NewConsentTicketRepository(client, cfg.Redis.KeyPrefix)
		s.ready = append(s.ready, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis for codes, refresh tokens and consent tickets")
	}

	if !cfg.UsesPostgres() && !cfg.UsesRedis() {
		logger.Warn().Msg("using in-memory store; data is lost on restart")
	}

	return s, nil
}

// Close releases every backend connection in reverse order
func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// withRetry runs connect with exponential backoff until it succeeds, the
// attempts run out or ctx is done.
func withRetry[T any](ctx context.Context, logger zerolog.Logger, name string, connect func() (T, error)) (T, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, connect,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(connectAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn().Err(err).Str("store", name).Dur("retry_in", next).Msg("store unavailable")
		}),
	)
}

// seed writes the clients and users declared in the config file. Records that
// already exist are left untouched.
func seed(ctx context.Context, s *stores, cfg *config.Config, logger zerolog.Logger) error {
	now := time.Now()

	for _, sc := range cfg.Clients {
		err := s.clients.Create(ctx, &domain.Client{
			ClientID:         sc.ClientID,
			ClientSecretHash: sc.ClientSecretHash,
			ClientName:       sc.ClientName,
			RedirectURIs:     sc.RedirectURIs,
			Scopes:           sc.Scopes,
			Trusted:          sc.Trusted,
			Active:           true,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if err := ignoreConflict(err); err != nil {
			return fmt.Errorf("seed client %s: %w", sc.ClientID, err)
		}
		logger.Debug().Str("client_id", sc.ClientID).Bool("existed", err != nil).Msg("seeded client")
	}

	for _, su := range cfg.Users {
		err := s.users.Create(ctx, &domain.User{
			ID:          su.ID,
			Username:    su.Username,
			Email:       su.Email,
			FullName:    su.FullName,
			AvatarURL:   su.AvatarURL,
			Bio:         su.Bio,
			SocialLinks: su.SocialLinks,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err := ignoreConflict(err); err != nil {
			return fmt.Errorf("seed user %s: %w", su.ID, err)
		}
		logger.Debug().Str("user_id", su.ID).Bool("existed", err != nil).Msg("seeded user")
	}

	return nil
}

func ignoreConflict(err error) error {
	if errors.Is(err, repository.ErrConflict) {
		return nil
	}
	return err
}
