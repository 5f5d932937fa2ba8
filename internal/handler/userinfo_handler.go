package handler

import (
	"errors"
	"net/http"

	"github.com/dlddu/passport/internal/auth"
	"github.com/dlddu/passport/internal/service"
)

// UserInfoHandler serves the profile of the access token's subject
type UserInfoHandler struct {
	oauth OAuthService
	opts  options
}

// NewUserInfoHandler creates a new UserInfoHandler instance
func NewUserInfoHandler(oauth OAuthService, opts ...Option) *UserInfoHandler {
	return &UserInfoHandler{
		oauth: oauth,
		opts:  newOptions(opts),
	}
}

// UserInfo handles GET and POST /userinfo with a bearer access token.
// Token failures are 401 with an RFC 6750 challenge and no detail.
func (h *UserInfoHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	token, err := auth.ParseBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		h.observe(service.CodeInvalidToken)
		if errors.Is(err, auth.ErrEmptyHeader) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="passport"`)
		} else {
			w.Header().Set("WWW-Authenticate", `Bearer realm="passport", error="invalid_request"`)
		}
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	profile, err := h.oauth.UserInfo(r.Context(), token)
	h.observe(outcome(err))
	if err != nil {
		oe := service.AsOAuthError(err)
		if oe.Code == service.CodeInvalidToken {
			w.Header().Set("WWW-Authenticate", `Bearer realm="passport", error="invalid_token"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h.opts.logger.Error().Str("error", oe.Code).Msg("userinfo failure")
		writeError(w, oe)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (h *UserInfoHandler) observe(label string) {
	h.opts.metrics.UserInfoRequests.WithLabelValues(label).Inc()
}
