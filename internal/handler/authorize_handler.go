package handler

import (
	"net/http"
	"net/url"

	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/metrics"
	"github.com/dlddu/passport/internal/service"
)

// Consent decisions posted back to /authorize by the consent UI
const (
	ConsentApprove = "approve"
	ConsentDeny    = "deny"
)

// ConsentTicketParam carries the one-time consent ticket to the consent UI
// and back in its form post.
const ConsentTicketParam = "consent_ticket"

// boundParams are the authorize parameters a consent ticket pins. A decision
// form may repeat them but not change them.
var boundParams = []string{"response_type", "redirect_uri", "scope", "state", "code_challenge", "code_challenge_method"}

// AuthorizeConfig holds the external collaborators of the authorize endpoint
type AuthorizeConfig struct {
	// Issuer is the public base URL used to rebuild return_to links
	Issuer string
	// LoginURL receives owners without an identity. Empty means such
	// requests are answered with access_denied.
	LoginURL string
	// ConsentURL renders consent for untrusted clients. Empty means consent
	// is not collected by this server.
	ConsentURL string
}

// AuthorizeHandler handles the OAuth 2.0 authorization endpoint
type AuthorizeHandler struct {
	oauth  OAuthService
	owners OwnerResolver
	cfg    AuthorizeConfig
	opts   options
}

// NewAuthorizeHandler creates a new AuthorizeHandler instance
func NewAuthorizeHandler(oauth OAuthService, owners OwnerResolver, cfg AuthorizeConfig, opts ...Option) *AuthorizeHandler {
	return &AuthorizeHandler{
		oauth:  oauth,
		owners: owners,
		cfg:    cfg,
		opts:   newOptions(opts),
	}
}

// Authorize handles GET /authorize. Trusted clients get a code straight
// away; others are sent to the consent UI first.
func (h *AuthorizeHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	req := authorizeRequestFrom(r.URL.Query())
	client, userID, ok := h.prepare(w, r, req)
	if !ok {
		return
	}

	if !client.Trusted && h.cfg.ConsentURL != "" {
		ticket, err := h.oauth.BeginConsent(r.Context(), req, userID)
		if err != nil {
			h.fail(w, r, req, err)
			return
		}
		params := url.Values{
			"return_to":        {h.returnTo(r)},
			ConsentTicketParam: {ticket},
		}
		h.redirect(w, r, h.cfg.ConsentURL, params, r.URL.Query())
		return
	}

	h.issue(w, r, client, req, userID)
}

// Decide handles POST /authorize from the consent UI. The form carries the
// consent ticket minted by Authorize, client_id and consent=approve|deny.
// The ticket is taken before anything else, so each one yields at most one
// decision. The authorize parameters come from the ticket, not the form.
func (h *AuthorizeHandler) Decide(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	if err := r.ParseForm(); err != nil {
		writeError(w, service.NewInvalidRequestError("failed to parse form data"))
		return
	}
	form := r.PostForm
	clientID := form.Get("client_id")

	userID, ok := h.owners.ResolveOwner(r)
	if !ok {
		h.reject(w, clientID, service.NewAccessDeniedError("the resource owner is not authenticated"))
		return
	}

	req, err := h.oauth.RedeemConsent(r.Context(), form.Get(ConsentTicketParam), clientID, userID)
	if err != nil {
		h.reject(w, clientID, err)
		return
	}
	for _, k := range boundParams {
		if v := form.Get(k); v != "" && v != boundValue(req, k) {
			h.reject(w, clientID, service.NewInvalidRequestError(k+" does not match the consent request"))
			return
		}
	}

	client, ok := h.validate(w, r, req)
	if !ok {
		return
	}

	switch form.Get("consent") {
	case ConsentApprove:
		h.issue(w, r, client, req, userID)
	case ConsentDeny:
		h.observe(metrics.OutcomeDenied)
		h.redirectError(w, r, req, service.NewAccessDeniedError("the resource owner denied the request"))
	default:
		h.fail(w, r, req, service.NewInvalidRequestError("consent must be approve or deny"))
	}
}

// prepare runs the checks shared by every authorize request. It writes the
// response itself and reports false when the request cannot proceed.
func (h *AuthorizeHandler) prepare(w http.ResponseWriter, r *http.Request, req *service.AuthorizeRequest) (*domain.Client, string, bool) {
	client, ok := h.validate(w, r, req)
	if !ok {
		return nil, "", false
	}

	userID, ok := h.owners.ResolveOwner(r)
	if !ok {
		if h.cfg.LoginURL != "" {
			h.redirect(w, r, h.cfg.LoginURL, url.Values{"return_to": {h.returnTo(r)}}, nil)
			return nil, "", false
		}
		h.fail(w, r, req, service.NewAccessDeniedError("the resource owner is not authenticated"))
		return nil, "", false
	}

	return client, userID, true
}

// validate resolves the client and checks req against it
func (h *AuthorizeHandler) validate(w http.ResponseWriter, r *http.Request, req *service.AuthorizeRequest) (*domain.Client, bool) {
	client, err := h.oauth.ResolveAuthorizeClient(r.Context(), req.ClientID, req.RedirectURI)
	if err != nil {
		// the redirect target is untrusted, so the error goes to the user agent
		h.reject(w, req.ClientID, err)
		return nil, false
	}

	if err := h.oauth.ValidateAuthorizeRequest(client, req); err != nil {
		h.fail(w, r, req, err)
		return nil, false
	}
	return client, true
}

// reject answers the user agent directly without redirecting
func (h *AuthorizeHandler) reject(w http.ResponseWriter, clientID string, err error) {
	oe := service.AsOAuthError(err)
	h.observe(oe.Code)
	h.opts.logger.Debug().Str("client_id", clientID).Str("error", oe.Code).Msg("authorize request rejected")
	if oe.Code == service.CodeInvalidClient {
		oe = &service.OAuthError{Code: oe.Code, Description: oe.Description, Status: http.StatusBadRequest}
	}
	writeError(w, oe)
}

func (h *AuthorizeHandler) issue(w http.ResponseWriter, r *http.Request, client *domain.Client, req *service.AuthorizeRequest, userID string) {
	code, err := h.oauth.IssueAuthorizationCode(r.Context(), client, req, userID)
	if err != nil {
		h.fail(w, r, req, err)
		return
	}

	h.observe(metrics.OutcomeSuccess)
	h.opts.logger.Info().
		Str("client_id", client.ClientID).
		Str("user_id", userID).
		Msg("authorization code issued")

	params := url.Values{"code": {code}}
	if req.State != "" {
		params.Set("state", req.State)
	}
	h.redirect(w, r, req.RedirectURI, params, nil)
}

// fail reports a redirectable error back to the client's redirect URI
func (h *AuthorizeHandler) fail(w http.ResponseWriter, r *http.Request, req *service.AuthorizeRequest, err error) {
	oe := service.AsOAuthError(err)
	h.observe(oe.Code)
	h.redirectError(w, r, req, oe)
}

func (h *AuthorizeHandler) redirectError(w http.ResponseWriter, r *http.Request, req *service.AuthorizeRequest, oe *service.OAuthError) {
	params := url.Values{"error": {oe.Code}}
	if oe.Description != "" {
		params.Set("error_description", oe.Description)
	}
	if req.State != "" {
		params.Set("state", req.State)
	}
	h.redirect(w, r, req.RedirectURI, params, nil)
}

// redirect sends a 302 to target with params merged into its existing
// query. extra, when set, is copied in too without overriding params.
func (h *AuthorizeHandler) redirect(w http.ResponseWriter, r *http.Request, target string, params, extra url.Values) {
	u, err := url.Parse(target)
	if err != nil {
		h.opts.logger.Error().Err(err).Str("target", target).Msg("unparseable redirect target")
		writeError(w, service.NewServerError())
		return
	}

	q := u.Query()
	for k, vs := range extra {
		if _, set := params[k]; !set {
			q[k] = vs
		}
	}
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()

	http.Redirect(w, r, u.String(), http.StatusFound)
}

// returnTo rebuilds the absolute URL of the current authorize request
func (h *AuthorizeHandler) returnTo(r *http.Request) string {
	base, err := url.Parse(h.cfg.Issuer)
	if err != nil {
		return r.URL.RequestURI()
	}
	return base.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery}).String()
}

func (h *AuthorizeHandler) observe(label string) {
	h.opts.metrics.AuthorizeRequests.WithLabelValues(label).Inc()
}

func boundValue(req *service.AuthorizeRequest, param string) string {
	switch param {
	case "response_type":
		return req.ResponseType
	case "redirect_uri":
		return req.RedirectURI
	case "scope":
		return req.Scope
	case "state":
		return req.State
	case "code_challenge":
		return req.CodeChallenge
	case "code_challenge_method":
		return req.CodeChallengeMethod
	}
	return ""
}

func authorizeRequestFrom(v url.Values) *service.AuthorizeRequest {
	return &service.AuthorizeRequest{
		ResponseType:        v.Get("response_type"),
		ClientID:            v.Get("client_id"),
		RedirectURI:         v.Get("redirect_uri"),
		Scope:               v.Get("scope"),
		State:               v.Get("state"),
		CodeChallenge:       v.Get("code_challenge"),
		CodeChallengeMethod: v.Get("code_challenge_method"),
	}
}
