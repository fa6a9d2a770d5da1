package http

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
	"github.com/wintermoot/forumoidc/internal/oidc/identity"
	"github.com/wintermoot/forumoidc/internal/oidc/service"
	"github.com/wintermoot/forumoidc/pkg/httpx"
	"github.com/wintermoot/forumoidc/pkg/jwtx"
	"github.com/wintermoot/forumoidc/pkg/oidcsdk"
	"github.com/wintermoot/forumoidc/pkg/slogx"
)

// UserInfoHandler serves the OIDC userinfo endpoint. Claims beyond sub are
// released only when the access token carries the scope gating them.
type UserInfoHandler struct {
	TokenService *service.TokenService
	Identity     identity.Provider
	Verifier     *jwtx.RS256Verifier
}

func (h *UserInfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	authz := r.Header.Get("Authorization")
	if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
		writeBearerError(w)
		return
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer"))

	var claims jwtx.AccessClaims
	if err := h.Verifier.Verify(raw, &claims); err != nil {
		writeBearerError(w)
		return
	}

	// The signature alone is not enough: the server-side record must still
	// be live and the user unbanned.
	at, err := h.TokenService.CheckAccessToken(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			writeBearerError(w)
			return
		}
		log.Error("access token check failed", "err", err)
		oidcsdk.ErrServerError.WriteError(w)
		return
	}

	if !slices.Contains(at.Scopes, domain.ScopeOpenID) {
		w.Header().Set("WWW-Authenticate",
			`Bearer error="insufficient_scope", scope="openid"`)
		oidcsdk.ErrInsufficientScope.WriteError(w)
		return
	}

	ident, err := h.Identity.Lookup(ctx, at.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			writeBearerError(w)
			return
		}
		log.Error("identity lookup failed", "user_id", at.UserID, "err", err)
		oidcsdk.ErrServerError.WriteError(w)
		return
	}

	info := oidcsdk.UserInfo{Sub: at.UserID}
	if slices.Contains(at.Scopes, domain.ScopeProfile) {
		info.PreferredUsername = ident.Username
		info.Profile = ident.ProfileURL
		info.Picture = ident.AvatarURL
		info.IDGroups = ident.Groups
	}
	if slices.Contains(at.Scopes, domain.ScopeEmail) {
		info.Email = ident.Email
	}

	httpx.WriteJSON(w, http.StatusOK, info)
}

// writeBearerError is the RFC 6750 response for a missing or invalid token.
func writeBearerError(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate",
		`Bearer error="invalid_token", error_description="the access token is missing, invalid, expired or revoked"`)
	oidcsdk.ErrInvalidToken.WriteError(w)
}
