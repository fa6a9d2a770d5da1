package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
	"github.com/wintermoot/forumoidc/internal/oidc/service"
	"github.com/wintermoot/forumoidc/pkg/httpx"
	"github.com/wintermoot/forumoidc/pkg/oidcsdk"
	"github.com/wintermoot/forumoidc/pkg/slogx"
)

// TokenHandler serves POST /oauth2/token. It accepts
// application/x-www-form-urlencoded per RFC 6749.
type TokenHandler struct {
	TokenService *service.TokenService
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		oidcsdk.ErrInvalidRequest.WithDescription("content-type must be application/x-www-form-urlencoded").WriteError(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		oidcsdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	switch r.Form.Get("grant_type") {
	case "authorization_code":
		h.handleAuthorizationCodeGrant(w, r, r.Form)
	case "refresh_token":
		h.handleRefreshGrant(w, r, r.Form)
	default:
		oidcsdk.ErrUnsupportedGrantType.WriteError(w)
	}
}

func (h *TokenHandler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, form url.Values) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	code := strings.TrimSpace(form.Get("code"))
	redirectURI := strings.TrimSpace(form.Get("redirect_uri"))
	clientID := strings.TrimSpace(form.Get("client_id"))
	codeVerifier := strings.TrimSpace(form.Get("code_verifier"))
	clientSecret := form.Get("client_secret")

	if code == "" || redirectURI == "" || clientID == "" {
		oidcsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.ExchangeAuthorizationCode(ctx, clientID, clientSecret, code, redirectURI, codeVerifier)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidClient):
			oidcsdk.ErrInvalidClient.WriteError(w)
		case errors.Is(err, service.ErrInvalidGrant):
			oidcsdk.ErrInvalidGrant.WriteError(w)
		case errors.Is(err, service.ErrInvalidScope):
			oidcsdk.ErrInvalidScope.WriteError(w)
		default:
			log.Error("authorization_code grant failed", "err", err)
			oidcsdk.ErrServerError.WriteError(w)
		}
		return
	}

	writeTokenResponse(w, pair)
}

func (h *TokenHandler) handleRefreshGrant(w http.ResponseWriter, r *http.Request, form url.Values) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	refresh := form.Get("refresh_token")
	clientID := strings.TrimSpace(form.Get("client_id"))
	clientSecret := form.Get("client_secret")
	requested := httpx.ParseSpaceDelimitedFields(form.Get("scope"))

	if refresh == "" || clientID == "" {
		oidcsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.ExchangeRefreshToken(ctx, clientID, clientSecret, refresh, requested)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidClient):
			oidcsdk.ErrInvalidClient.WriteError(w)
		case errors.Is(err, service.ErrUnauthorizedClient):
			oidcsdk.ErrUnauthorizedClient.WriteError(w)
		case errors.Is(err, service.ErrInvalidGrant):
			oidcsdk.ErrInvalidGrant.WriteError(w)
		case errors.Is(err, service.ErrInvalidScope):
			oidcsdk.ErrInvalidScope.WriteError(w)
		default:
			log.Error("refresh grant failed", "err", err)
			oidcsdk.ErrServerError.WriteError(w)
		}
		return
	}

	writeTokenResponse(w, pair)
}

func writeTokenResponse(w http.ResponseWriter, pair *domain.TokenPair) {
	httpx.WriteJSON(w, http.StatusOK, oidcsdk.TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
		RefreshToken: pair.RefreshToken,
		IDToken:      pair.IDToken,
		Scope:        strings.TrimSpace(pair.Scope),
	})
}
