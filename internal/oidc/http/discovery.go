package http

import (
	"net/http"
	"strings"

	"github.com/wintermoot/forumoidc/internal/oidc/store"
	"github.com/wintermoot/forumoidc/pkg/httpx"
	"github.com/wintermoot/forumoidc/pkg/oidcsdk"
	"github.com/wintermoot/forumoidc/pkg/slogx"
)

// DiscoveryMeta holds the optional human-facing links published in the
// provider metadata. Empty fields are omitted from the document.
type DiscoveryMeta struct {
	ServiceDocumentation string
	PolicyURI            string
	TosURI               string
}

// DiscoveryHandler serves the OpenID Provider metadata document.
type DiscoveryHandler struct {
	Issuer string
	Scopes store.ScopeRegistry
	Meta   DiscoveryMeta
}

func (h *DiscoveryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	scopes, err := h.Scopes.ListScopes(ctx)
	if err != nil {
		log.Error("listing scopes for discovery document", "err", err)
		oidcsdk.ErrServerError.WriteError(w)
		return
	}

	supported := make([]string, 0, len(scopes))
	for _, s := range scopes {
		supported = append(supported, s.ID)
	}

	base := strings.TrimRight(h.Issuer, "/")
	doc := oidcsdk.Discovery{
		Issuer:                           h.Issuer,
		AuthorizationEndpoint:            base + "/oauth2/v1/authorize",
		TokenEndpoint:                    base + "/oauth2/v1/token",
		RevocationEndpoint:               base + "/oauth2/v1/revoke",
		UserinfoEndpoint:                 base + "/oauth2/v1/userinfo",
		JWKSURI:                          base + "/.well-known/jwks.json",
		ScopesSupported:                  supported,
		ResponseTypesSupported:           []string{"code"},
		GrantTypesSupported:              []string{"authorization_code", "refresh_token"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_post", "none",
		},
		CodeChallengeMethodsSupported: []string{"S256", "plain"},
		ClaimsSupported: []string{
			"sub", "preferred_username", "profile", "picture", "email", "id_groups",
		},
		ServiceDocumentation:       h.Meta.ServiceDocumentation,
		UILocalesSupported:         []string{"en"},
		OpPolicyURI:                h.Meta.PolicyURI,
		OpTosURI:                   h.Meta.TosURI,
		BackchannelLogoutSupported: true,
	}

	httpx.WriteJSON(w, http.StatusOK, doc)
}
