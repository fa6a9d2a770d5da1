package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
	"github.com/wintermoot/forumoidc/internal/oidc/identity"
	"github.com/wintermoot/forumoidc/internal/oidc/store"
	"github.com/wintermoot/forumoidc/pkg/cryptox"
	"github.com/wintermoot/forumoidc/pkg/idx"
	"github.com/wintermoot/forumoidc/pkg/slogx"
)

// AuthorizeService issues authorization codes for users the host forum has
// already authenticated.
type AuthorizeService struct {
	Clients  store.ClientRegistry
	Scopes   store.ScopeRegistry
	Store    store.Store
	Identity identity.Provider
	Codec    *cryptox.Codec
	CodeTTL  time.Duration
}

// AuthorizationRequest carries the validated-by-nobody query parameters of a
// front-channel authorization request plus the forum user making it.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scopes              []string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string

	// UserID is the forum user the host has authenticated.
	UserID string
}

// ValidateClient resolves the client and checks the redirect URI. Handlers
// call this first: until both pass, errors must NOT be redirected to the
// given URI.
func (s *AuthorizeService) ValidateClient(ctx context.Context, clientID, redirectURI string) (domain.Client, error) {
	client, err := s.Clients.GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Client{}, ErrInvalidClient
		}
		return domain.Client{}, err
	}
	if !client.Active {
		return domain.Client{}, ErrInvalidClient
	}
	if redirectURI == "" || !client.AllowsRedirectURI(redirectURI) {
		return domain.Client{}, ErrInvalidRedirectURI
	}
	return client, nil
}

// BeginAuthorization validates the request and mints a single-use code. The
// returned string is the sealed code handed back to the client via redirect.
//
// The caller must have already passed ValidateClient for this client and
// redirect URI.
func (s *AuthorizeService) BeginAuthorization(ctx context.Context, client domain.Client, req AuthorizationRequest) (string, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	if req.ResponseType != "code" {
		return "", ErrUnsupportedResponseType
	}
	if !client.AllowsGrant(domain.GrantAuthorizationCode) {
		return "", ErrUnauthorizedClient
	}

	scopes, err := s.finalizeScopes(ctx, client, req.Scopes)
	if err != nil {
		return "", err
	}

	if err := validateChallenge(client, req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return "", err
	}

	if req.UserID == "" {
		return "", ErrAccessDenied
	}
	banned, err := s.Identity.IsBanned(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return "", ErrAccessDenied
		}
		return "", err
	}
	if banned {
		l.Info("authorization refused for banned user", "user_id", req.UserID, "client_id", client.ID)
		return "", ErrAccessDenied
	}

	payload := domain.AuthorizationCodePayload{
		ID:                  idx.New().String(),
		UserID:              req.UserID,
		ClientID:            client.ID,
		RedirectURI:         req.RedirectURI,
		Scopes:              scopes,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           now.Add(s.CodeTTL).UTC(),
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal code payload: %w", err)
	}
	sealed, err := s.Codec.Seal(plaintext)
	if err != nil {
		return "", fmt.Errorf("seal code payload: %w", err)
	}

	// The row mirrors the payload's identity so the code can be revoked or
	// marked used without the sealed string.
	err = s.Store.AuthorizationCodes().CreateAuthorizationCode(ctx, domain.AuthorizationCode{
		ID:        payload.ID,
		UserID:    payload.UserID,
		ClientID:  payload.ClientID,
		Scopes:    payload.Scopes,
		ExpiresAt: payload.ExpiresAt,
	})
	if err != nil {
		return "", err
	}

	l.Info("authorization code issued",
		"client_id", client.ID,
		"user_id", req.UserID,
		"scopes", strings.Join(scopes, " "),
	)
	return sealed, nil
}

// finalizeScopes applies the grant rules:
//   - every requested scope must be registered
//   - no requested scopes: grant the client allowlist, or every registered
//     scope when the client has no allowlist
//   - requested scopes with a client allowlist: must be a subset
func (s *AuthorizeService) finalizeScopes(ctx context.Context, client domain.Client, requested []string) ([]string, error) {
	requested = dedupe(requested)

	if len(requested) == 0 {
		if len(client.Scopes) > 0 {
			return client.Scopes, nil
		}
		all, err := s.Scopes.ListScopes(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(all))
		for _, sc := range all {
			out = append(out, sc.ID)
		}
		return out, nil
	}

	for _, sc := range requested {
		if _, err := s.Scopes.GetScopeByID(ctx, sc); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &InvalidScopeError{Scope: sc}
			}
			return nil, err
		}
	}

	if len(client.Scopes) > 0 {
		allowed := make(map[string]struct{}, len(client.Scopes))
		for _, sc := range client.Scopes {
			allowed[sc] = struct{}{}
		}
		for _, sc := range requested {
			if _, ok := allowed[sc]; !ok {
				return nil, &InvalidScopeError{Scope: sc}
			}
		}
	}
	return requested, nil
}

// validateChallenge enforces the PKCE policy. Public clients must send a
// challenge; "plain" is accepted only for clients flagged for it.
func validateChallenge(client domain.Client, challenge, method string) error {
	if challenge == "" {
		if method != "" {
			return ErrInvalidRequest
		}
		if !client.Confidential() {
			return ErrInvalidRequest
		}
		return nil
	}

	switch method {
	case "", domain.ChallengeMethodS256:
		return nil
	case domain.ChallengeMethodPlain:
		if !client.AllowPlainPKCE {
			return ErrInvalidRequest
		}
		return nil
	default:
		return ErrInvalidRequest
	}
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
