// Package http wires the provider's endpoints: the OAuth2/OIDC surface the
// relying parties see plus the internal hooks the host forum calls.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/wintermoot/forumoidc/internal/oidc/service"
	"github.com/wintermoot/forumoidc/internal/oidc/store"
	"github.com/wintermoot/forumoidc/pkg/httpx"
	"github.com/wintermoot/forumoidc/pkg/jwtx"
	"github.com/wintermoot/forumoidc/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys      jwtx.KeySet
	verifier  *jwtx.RS256Verifier
	issuer    string
	startTime time.Time
	logger    *slog.Logger

	store  store.Store
	scopes store.ScopeRegistry

	// GatewaySecret authenticates the host forum on the authorize endpoint
	// and the internal logout hook.
	gatewaySecret string

	AuthorizeService  *service.AuthorizeService
	TokenService      *service.TokenService
	RevocationService *service.RevocationService

	// DiscoveryMeta carries the optional provider metadata links.
	DiscoveryMeta DiscoveryMeta
}

func NewRouter(
	keys jwtx.KeySet,
	issuer, gatewaySecret string,
	st store.Store,
	scopes store.ScopeRegistry,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:           http.NewServeMux(),
		keys:          keys,
		verifier:      jwtx.NewRS256Verifier(keys),
		issuer:        issuer,
		gatewaySecret: gatewaySecret,
		startTime:     time.Now(),
		store:         st,
		scopes:        scopes,
		logger:        logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerOAuth2()
	r.registerDiscovery()
	r.registerInternal()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerOAuth2() {
	authorizeHandler := &AuthorizeHandler{
		AuthorizeService: r.AuthorizeService,
		GatewaySecret:    r.gatewaySecret,
	}
	r.Mux.Handle("GET /oauth2/v1/authorize",
		httpx.Chain(authorizeHandler,
			httpx.RateLimitByIP(httpx.PublicLimit),
		))

	tokenHandler := &TokenHandler{TokenService: r.TokenService}
	r.Mux.Handle("POST /oauth2/v1/token",
		httpx.Chain(tokenHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		))

	revokeHandler := &RevokeHandler{TokenService: r.TokenService}
	r.Mux.Handle("POST /oauth2/v1/revoke",
		httpx.Chain(revokeHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		))

	userinfoHandler := &UserInfoHandler{
		TokenService: r.TokenService,
		Identity:     r.AuthorizeService.Identity,
		Verifier:     r.verifier,
	}
	r.Mux.Handle("GET /oauth2/v1/userinfo",
		httpx.Chain(userinfoHandler,
			httpx.RateLimitByIP(httpx.PublicLimit),
		))
	r.Mux.Handle("POST /oauth2/v1/userinfo",
		httpx.Chain(userinfoHandler,
			httpx.RateLimitByIP(httpx.PublicLimit),
		))
}

func (r *Router) registerDiscovery() {
	discovery := &DiscoveryHandler{Issuer: r.issuer, Scopes: r.scopes, Meta: r.DiscoveryMeta}
	r.Mux.Handle("GET /oauth2/v1/discovery", discovery)
	// Standard alias so off-the-shelf OIDC clients can find the document.
	r.Mux.Handle("GET /.well-known/openid-configuration", discovery)

	jwks := &JWKSHandler{Keys: r.keys}
	r.Mux.Handle("GET /.well-known/jwks.json", jwks)
}

func (r *Router) registerInternal() {
	logout := &LogoutHandler{
		RevocationService: r.RevocationService,
		GatewaySecret:     r.gatewaySecret,
	}
	r.Mux.Handle("POST /oauth2/v1/logout", logout)
}
