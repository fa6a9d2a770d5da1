package http

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"

	"github.com/wintermoot/forumoidc/internal/oidc/service"
	"github.com/wintermoot/forumoidc/pkg/httpx"
	"github.com/wintermoot/forumoidc/pkg/oidcsdk"
	"github.com/wintermoot/forumoidc/pkg/slogx"
)

// AuthorizeHandler serves GET /oauth2/authorize.
//
// The host forum fronts this endpoint: it authenticates the user, handles
// login and consent UI, and forwards the request with the user's forum ID in
// X-Forum-User. The shared gateway key proves the request actually came
// through the forum.
type AuthorizeHandler struct {
	AuthorizeService *service.AuthorizeService
	GatewaySecret    string
}

func (h *AuthorizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if !gatewayAuthorized(r, h.GatewaySecret) {
		oidcsdk.ErrAccessDenied.WithDescription("request did not come through the forum gateway").WriteError(w)
		return
	}

	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")

	// Until the client and redirect URI check out, errors must not be sent
	// to the redirect URI. Render a page instead.
	client, err := h.AuthorizeService.ValidateClient(ctx, clientID, redirectURI)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidClient):
			renderErrorPage(w, "unknown or inactive client")
		case errors.Is(err, service.ErrInvalidRedirectURI):
			renderErrorPage(w, "redirect URI is not registered for this client")
		default:
			log.Error("authorize client validation failed", "err", err)
			renderErrorPage(w, "internal error")
		}
		return
	}

	req := service.AuthorizationRequest{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		ResponseType:        q.Get("response_type"),
		Scopes:              httpx.ParseSpaceDelimitedFields(q.Get("scope")),
		State:               state,
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		UserID:              r.Header.Get("X-Forum-User"),
	}

	code, err := h.AuthorizeService.BeginAuthorization(ctx, client, req)
	if err != nil {
		// From here on the redirect URI is trusted, so errors go back to
		// the client with the state echoed.
		switch {
		case errors.Is(err, service.ErrUnsupportedResponseType):
			redirectError(w, r, redirectURI, oidcsdk.ErrorCodeUnsupportedResponseType, "", state)
		case errors.Is(err, service.ErrUnauthorizedClient):
			redirectError(w, r, redirectURI, oidcsdk.ErrorCodeUnauthorizedClient, "", state)
		case errors.Is(err, service.ErrInvalidScope):
			var scopeErr *service.InvalidScopeError
			desc := ""
			if errors.As(err, &scopeErr) {
				desc = fmt.Sprintf("scope %q cannot be granted", scopeErr.Scope)
			}
			redirectError(w, r, redirectURI, oidcsdk.ErrorCodeInvalidScope, desc, state)
		case errors.Is(err, service.ErrInvalidRequest):
			redirectError(w, r, redirectURI, oidcsdk.ErrorCodeInvalidRequest, "", state)
		case errors.Is(err, service.ErrAccessDenied):
			redirectError(w, r, redirectURI, oidcsdk.ErrorCodeAccessDenied, "", state)
		default:
			log.Error("authorization failed", "client_id", clientID, "err", err)
			redirectError(w, r, redirectURI, oidcsdk.ErrorCodeServerError, "", state)
		}
		return
	}

	location, err := buildRedirect(redirectURI, map[string]string{
		"code":  code,
		"state": state,
	})
	if err != nil {
		log.Error("failed to build redirect", "err", err)
		renderErrorPage(w, "internal error")
		return
	}

	httpx.NoCache(w)
	http.Redirect(w, r, location, http.StatusFound)
}

func gatewayAuthorized(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	got := r.Header.Get("X-Gateway-Key")
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// renderErrorPage writes a minimal 400 page for errors that must not reach
// any redirect URI.
func renderErrorPage(w http.ResponseWriter, msg string) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>Authorization Error</title></head>
<body><h1>Authorization Error</h1><p>%s</p></body></html>
`, html.EscapeString(msg))
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, code, description, state string) {
	params := map[string]string{
		"error": code,
		"state": state,
	}
	if description != "" {
		params["error_description"] = description
	}

	location, err := buildRedirect(redirectURI, params)
	if err != nil {
		renderErrorPage(w, "internal error")
		return
	}
	httpx.NoCache(w)
	http.Redirect(w, r, location, http.StatusFound)
}

// buildRedirect appends params to the redirect URI's query, keeping anything
// already present. Empty values are dropped.
func buildRedirect(redirectURI string, params map[string]string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
