package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dlddu/passport/internal/config"
	"github.com/dlddu/passport/internal/crypto"
	"github.com/dlddu/passport/internal/handler"
	"github.com/dlddu/passport/internal/jwt"
	"github.com/dlddu/passport/internal/logging"
	"github.com/dlddu/passport/internal/metrics"
	"github.com/dlddu/passport/internal/ratelimit"
	"github.com/dlddu/passport/internal/service"
)

const (
	serverReadHeaderTimeout = 10 * time.Second
	serverReadTimeout       = 15 * time.Second
	serverWriteTimeout      = 15 * time.Second
	serverIdleTimeout       = 60 * time.Second
	limiterSweepInterval    = time.Minute
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		Long: `Start the authorization server.

The server exposes /authorize, /token, /revoke and /userinfo together with
the RFC 8414 metadata document, /healthz and /metrics. Expired codes and
refresh tokens are purged in the background every oauth.purge_interval.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, v)
		},
	}

	cmd.Flags().String("addr", "", "Address to listen on (server.addr)")
	cmd.Flags().String("issuer", "", "Issuer URL (server.issuer)")
	cmd.Flags().String("log-level", "", "Log level (log.level)")
	bindFlag(v, cmd, "server.addr", "addr")
	bindFlag(v, cmd, "server.issuer", "issuer")
	bindFlag(v, cmd, "log.level", "log-level")

	return cmd
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := seed(ctx, st, cfg, logger); err != nil {
		return err
	}

	signer, err := newSigner(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	oauth := newOAuthService(cfg, st, signer, logger)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}, logger)
	}

	router := handler.NewRouter(handler.RouterConfig{
		OAuth:  oauth,
		Owners: handler.HeaderOwnerResolver{Header: cfg.Server.OwnerHeader},
		Authorize: handler.AuthorizeConfig{
			Issuer:     cfg.Server.Issuer,
			LoginURL:   cfg.Server.LoginURL,
			ConsentURL: cfg.Server.ConsentURL,
		},
		Algorithm: signer.Algorithm(),
		Logger:    logger,
		Metrics:   m,
		Limiter:   limiter,
		Ready:     st.ready,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		WriteTimeout:      serverWriteTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("issuer", cfg.Server.Issuer).
			Str("alg", signer.Algorithm()).
			Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info().Msg("server shutdown complete")
		return nil
	})

	g.Go(func() error {
		return purgeLoop(gctx, oauth, m, cfg.OAuth.PurgeInterval, logger)
	})

	if limiter != nil {
		g.Go(func() error {
			return limiter.Run(gctx, limiterSweepInterval)
		})
	}

	return g.Wait()
}

// newSigner builds the access token signer for the configured algorithm
func newSigner(cfg *config.Config) (*jwt.TokenManager, error) {
	switch cfg.JWT.Algorithm {
	case config.AlgorithmHS256:
		return jwt.NewHMACTokenManager([]byte(cfg.JWT.HMACSecret), cfg.Server.Issuer)
	case config.AlgorithmRS256:
		key, err := jwt.LoadPrivateKeyFromFile(cfg.JWT.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load signing key: %w", err)
		}
		return jwt.NewRSATokenManager(key, cfg.Server.Issuer)
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.JWT.Algorithm)
	}
}

func newOAuthService(cfg *config.Config, st *stores, signer *jwt.TokenManager, logger zerolog.Logger) *service.OAuthService {
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithStorageTimeout(cfg.OAuth.StorageTimeout),
	}

	refresh := service.NewRefreshTokenService(st.refresh, cfg.OAuth.RefreshTokenTTL, opts...)
	return service.NewOAuthService(
		service.NewClientService(st.clients, crypto.BcryptHasher{}, opts...),
		service.NewAuthCodeService(st.codes, cfg.OAuth.AuthorizationCodeTTL, opts...),
		service.NewTokenService(signer, refresh, cfg.OAuth.AccessTokenTTL, opts...),
		refresh,
		service.NewProfileService(st.users, opts...),
		service.NewConsentService(st.consents, cfg.OAuth.ConsentTTL, opts...),
		service.Policy{
			RequirePKCEForPublicClients: cfg.OAuth.RequirePKCEForPublicClients,
			AllowPlainPKCE:              cfg.OAuth.AllowPlainPKCE,
			RotateRefreshTokens:         cfg.OAuth.RotateRefreshTokens,
		},
		opts...,
	)
}

// purger removes expired authorization codes, refresh tokens and consent tickets
type purger interface {
	PurgeExpired(ctx context.Context) (service.PurgeResult, error)
}

// purgeLoop runs p every interval until ctx is done. A failed sweep is
// logged and retried on the next tick.
func purgeLoop(ctx context.Context, p purger, m *metrics.Metrics, interval time.Duration, logger zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := p.PurgeExpired(ctx)
			m.PurgedRecords.WithLabelValues("authorization_code").Add(float64(res.Codes))
			m.PurgedRecords.WithLabelValues("refresh_token").Add(float64(res.RefreshTokens))
			m.PurgedRecords.WithLabelValues("consent_ticket").Add(float64(res.ConsentTickets))
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error().Err(err).Msg("purge expired records")
				continue
			}
			if res.Codes > 0 || res.RefreshTokens > 0 || res.ConsentTickets > 0 {
				logger.Debug().
					Int64("codes", res.Codes).
					Int64("refresh_tokens", res.RefreshTokens).
					Int64("consent_tickets", res.ConsentTickets).
					Msg("purged expired records")
			}
		}
	}
}
