package http

import (
	"net/http"
	"strings"

	"github.com/wintermoot/forumoidc/internal/oidc/service"
	"github.com/wintermoot/forumoidc/pkg/httpx"
	"github.com/wintermoot/forumoidc/pkg/oidcsdk"
	"github.com/wintermoot/forumoidc/pkg/slogx"
)

// LogoutHandler serves POST /internal/logout, the hook the forum calls when
// a member signs out or is banned. It revokes every live token the user
// holds and fans logout tokens out to the registered clients.
type LogoutHandler struct {
	RevocationService *service.RevocationService
	GatewaySecret     string
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if !gatewayAuthorized(r, h.GatewaySecret) {
		oidcsdk.ErrAccessDenied.WithDescription("request did not come through the forum gateway").WriteError(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		oidcsdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	userID := strings.TrimSpace(r.Form.Get("user_id"))
	if userID == "" {
		oidcsdk.ErrInvalidRequest.WithDescription("user_id is required").WriteError(w)
		return
	}

	if err := h.RevocationService.LogoutUser(ctx, userID); err != nil {
		log.Error("logout revocation failed", "user_id", userID, "err", err)
		oidcsdk.ErrServerError.WriteError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
