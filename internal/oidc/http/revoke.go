package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/wintermoot/forumoidc/internal/oidc/service"
	"github.com/wintermoot/forumoidc/pkg/httpx"
	"github.com/wintermoot/forumoidc/pkg/oidcsdk"
	"github.com/wintermoot/forumoidc/pkg/slogx"
)

// RevokeHandler serves POST /oauth2/revoke per RFC 7009. Revoking a token
// that does not exist is a success; only client authentication failures are
// reported.
type RevokeHandler struct {
	TokenService *service.TokenService
}

func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if err := r.ParseForm(); err != nil {
		oidcsdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	token := r.Form.Get("token")
	clientID := strings.TrimSpace(r.Form.Get("client_id"))
	clientSecret := r.Form.Get("client_secret")

	if token == "" || clientID == "" {
		oidcsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.TokenService.RevokeToken(ctx, clientID, clientSecret, token); err != nil {
		if errors.Is(err, service.ErrInvalidClient) {
			oidcsdk.ErrInvalidClient.WriteError(w)
			return
		}
		log.Error("token revocation failed", "err", err)
		oidcsdk.ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusOK)
}
