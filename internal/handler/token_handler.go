package handler

import (
	"net/http"

	"github.com/dlddu/passport/internal/auth"
	"github.com/dlddu/passport/internal/service"
)

// basicChallenge is sent with 401 invalid_client when the client used HTTP Basic
const basicChallenge = `Basic realm="passport"`

// TokenHandler handles the token and revocation endpoints
type TokenHandler struct {
	oauth OAuthService
	opts  options
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(oauth OAuthService, opts ...Option) *TokenHandler {
	return &TokenHandler{
		oauth: oauth,
		opts:  newOptions(opts),
	}
}

// clientCredentials is what a client presented to authenticate itself
type clientCredentials struct {
	id     string
	secret string
	basic  bool
}

// Token handles POST /token for the authorization_code and refresh_token grants
func (h *TokenHandler) Token(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	if err := r.ParseForm(); err != nil {
		h.opts.metrics.TokenRequests.WithLabelValues(grantLabel(""), service.CodeInvalidRequest).Inc()
		writeError(w, service.NewInvalidRequestError("failed to parse form data"))
		return
	}
	grantType := r.PostForm.Get("grant_type")

	var resp *service.TokenResponse
	creds, err := extractClientCredentials(r)
	if err == nil {
		resp, err = h.oauth.Token(r.Context(), &service.TokenRequest{
			GrantType:    grantType,
			ClientID:     creds.id,
			ClientSecret: creds.secret,
			Code:         r.PostForm.Get("code"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
			RefreshToken: r.PostForm.Get("refresh_token"),
			Scope:        r.PostForm.Get("scope"),
		})
	}

	h.opts.metrics.TokenRequests.WithLabelValues(grantLabel(grantType), outcome(err)).Inc()
	if err != nil {
		h.writeError(w, r, err, creds.basic)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Revoke handles POST /revoke (RFC 7009). Unknown tokens still get 200.
func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	creds, err := h.revoke(r)
	h.opts.metrics.Revocations.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		h.writeError(w, r, err, creds.basic)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *TokenHandler) revoke(r *http.Request) (clientCredentials, error) {
	if err := r.ParseForm(); err != nil {
		return clientCredentials{}, service.NewInvalidRequestError("failed to parse form data")
	}

	creds, err := extractClientCredentials(r)
	if err != nil {
		return creds, err
	}

	// token_type_hint is optional and only refresh tokens are revocable here
	return creds, h.oauth.RevokeToken(r.Context(), creds.id, creds.secret, r.PostForm.Get("token"))
}

// extractClientCredentials reads client credentials from HTTP Basic or the
// form body. Using both methods at once is invalid_request.
func extractClientCredentials(r *http.Request) (clientCredentials, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return clientCredentials{
			id:     r.PostForm.Get("client_id"),
			secret: r.PostForm.Get("client_secret"),
		}, nil
	}

	id, secret, err := auth.ParseBasicAuth(header)
	creds := clientCredentials{id: id, secret: secret, basic: true}
	if err != nil {
		return creds, service.NewInvalidClientError("malformed Authorization header")
	}
	if r.PostForm.Get("client_secret") != "" {
		return creds, service.NewInvalidRequestError("client credentials must be sent by one method only")
	}
	if formID := r.PostForm.Get("client_id"); formID != "" && formID != id {
		return creds, service.NewInvalidRequestError("client_id does not match the Authorization header")
	}
	return creds, nil
}

func (h *TokenHandler) writeError(w http.ResponseWriter, r *http.Request, err error, basic bool) {
	oe := service.AsOAuthError(err)
	if oe.Code == service.CodeInvalidClient && basic {
		w.Header().Set("WWW-Authenticate", basicChallenge)
	}
	if oe.Status >= http.StatusInternalServerError {
		h.opts.logger.Error().Str("path", r.URL.Path).Str("error", oe.Code).Msg("token endpoint failure")
	}
	writeError(w, oe)
}

// grantLabel bounds the grant_type metric label to known values
func grantLabel(grantType string) string {
	switch grantType {
	case service.GrantTypeAuthorizationCode, service.GrantTypeRefreshToken:
		return grantType
	case "":
		return "none"
	}
	return "other"
}
