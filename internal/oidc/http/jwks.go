package http

import (
	"net/http"

	"github.com/wintermoot/forumoidc/pkg/httpx"
	"github.com/wintermoot/forumoidc/pkg/jwtx"
)

// JWKSHandler publishes the signing keys at /.well-known/jwks.json.
type JWKSHandler struct {
	Keys jwtx.KeySet
}

func (h *JWKSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, jwtx.PublicJWKS(h.Keys))
}
