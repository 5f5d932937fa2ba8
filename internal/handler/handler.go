package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/metrics"
	"github.com/dlddu/passport/internal/service"
)

// OAuthService is the grant logic the HTTP handlers drive. *service.OAuthService implements it.
type OAuthService interface {
	ResolveAuthorizeClient(ctx context.Context, clientID, redirectURI string) (*domain.Client, error)
	ValidateAuthorizeRequest(client *domain.Client, req *service.AuthorizeRequest) error
	IssueAuthorizationCode(ctx context.Context, client *domain.Client, req *service.AuthorizeRequest, userID string) (string, error)
	BeginConsent(ctx context.Context, req *service.AuthorizeRequest, userID string) (string, error)
	RedeemConsent(ctx context.Context, ticket, clientID, userID string) (*service.AuthorizeRequest, error)
	Token(ctx context.Context, req *service.TokenRequest) (*service.TokenResponse, error)
	UserInfo(ctx context.Context, bearer string) (*domain.Profile, error)
	RevokeToken(ctx context.Context, clientID, clientSecret, token string) error
}

var _ OAuthService = (*service.OAuthService)(nil)

// OwnerResolver returns the id of the resource owner authenticated for r.
// Authentication itself happens upstream of this server.
type OwnerResolver interface {
	ResolveOwner(r *http.Request) (userID string, ok bool)
}

// HeaderOwnerResolver reads the owner id from a header set by a trusted
// identity proxy. The proxy must strip the header from client requests.
type HeaderOwnerResolver struct {
	Header string
}

func (h HeaderOwnerResolver) ResolveOwner(r *http.Request) (string, bool) {
	id := r.Header.Get(h.Header)
	return id, id != ""
}

// Option configures the handlers
type Option func(*options)

type options struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the request logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the collectors handlers record outcomes on
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func newOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	return o
}

// setSecurityHeaders marks every OAuth response as uncacheable and unframeable
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// headers are already written; nothing useful to do with an encode error
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes an OAuth error body with its status code
func writeError(w http.ResponseWriter, oe *service.OAuthError) {
	writeJSON(w, oe.Status, oe)
}

// outcome turns a handler result into a low-cardinality metric label
func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	var oe *service.OAuthError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return service.CodeServerError
}
