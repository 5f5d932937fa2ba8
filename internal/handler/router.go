package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dlddu/passport/internal/metrics"
	"github.com/dlddu/passport/internal/ratelimit"
	"github.com/dlddu/passport/internal/service"
)

// discoveryMaxAge is the Cache-Control max-age of the metadata document, in seconds
const discoveryMaxAge = 3600

// ReadyFunc reports whether a backing store is reachable
type ReadyFunc func(ctx context.Context) error

// RouterConfig holds everything the router wires together
type RouterConfig struct {
	OAuth     OAuthService
	Owners    OwnerResolver
	Authorize AuthorizeConfig
	// Algorithm is the access token signing algorithm advertised in metadata
	Algorithm string
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	// Limiter throttles /token and /revoke. Nil disables rate limiting.
	Limiter *ratelimit.Limiter
	// Ready checks run by /healthz
	Ready []ReadyFunc
}

// NewRouter returns the HTTP surface of the authorization server
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	opts := []Option{WithLogger(cfg.Logger), WithMetrics(cfg.Metrics)}

	authorize := NewAuthorizeHandler(cfg.OAuth, cfg.Owners, cfg.Authorize, opts...)
	token := NewTokenHandler(cfg.OAuth, opts...)
	userinfo := NewUserInfoHandler(cfg.OAuth, opts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Logger))

	r.Get("/authorize", authorize.Authorize)
	r.Post("/authorize", authorize.Decide)

	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware(func(*http.Request) { cfg.Metrics.RateLimited.Inc() }))
		}
		r.Post("/token", token.Token)
		r.Post("/revoke", token.Revoke)
	})

	r.Get("/userinfo", userinfo.UserInfo)
	r.Post("/userinfo", userinfo.UserInfo)

	r.Get("/.well-known/oauth-authorization-server", discovery(cfg.Authorize.Issuer, cfg.Algorithm))
	r.Get("/healthz", healthz(cfg.Ready))
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	return r
}

// serverMetadata is the RFC 8414 authorization server metadata document
type serverMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	AccessTokenSigningAlgorithms      []string `json:"access_token_signing_alg_values_supported,omitempty"`
}

func discovery(issuer, algorithm string) http.HandlerFunc {
	base := strings.TrimSuffix(issuer, "/")
	doc := serverMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             base + "/authorize",
		TokenEndpoint:                     base + "/token",
		RevocationEndpoint:                base + "/revoke",
		UserInfoEndpoint:                  base + "/userinfo",
		ResponseTypesSupported:            []string{service.ResponseTypeCode},
		GrantTypesSupported:               []string{service.GrantTypeAuthorizationCode, service.GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		CodeChallengeMethodsSupported:     []string{"S256", "plain"},
	}
	if algorithm != "" {
		doc.AccessTokenSigningAlgorithms = []string{algorithm}
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", discoveryMaxAge))
		writeJSON(w, http.StatusOK, doc)
	}
}

func healthz(checks []ReadyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for _, check := range checks {
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// requestLogger logs one line per request after it completes
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
