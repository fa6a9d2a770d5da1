package domain

import "slices"

// Grant types and challenge methods the provider understands.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"

	ChallengeMethodS256  = "S256"
	ChallengeMethodPlain = "plain"
)

// Client is a registered OAuth2 relying party. Clients are declared in the
// static registry and loaded at startup.
type Client struct {
	ID           string
	Name         string
	SecretHash   string // argon2 encoded, empty for public clients
	RedirectURIs []string
	Scopes       []string // allowlist; empty means any registered scope
	Grants       []string

	// AllowPlainPKCE permits the "plain" code_challenge_method for legacy
	// clients that cannot compute S256.
	AllowPlainPKCE bool

	// BackchannelLogoutURI receives logout tokens when a user's forum
	// session ends. Empty disables backchannel logout for this client.
	BackchannelLogoutURI string

	Active bool
}

// Confidential reports whether the client authenticates with a secret.
func (c Client) Confidential() bool {
	return c.SecretHash != ""
}

// AllowsGrant reports whether the client may use the given grant type.
func (c Client) AllowsGrant(grant string) bool {
	return slices.Contains(c.Grants, grant)
}

// AllowsRedirectURI reports whether uri exactly matches a registered
// redirect URI. No prefix or wildcard matching.
func (c Client) AllowsRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}
