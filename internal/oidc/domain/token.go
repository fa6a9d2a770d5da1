package domain

import "time"

// TokenPair is what the token endpoint returns: a short-lived JWT access
// token, an opaque refresh token, and an ID token when the grant carries the
// openid scope.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn    time.Duration `json:"expires_in"`           // seconds until expiry
	RefreshToken string        `json:"refresh_token,omitempty"`
	IDToken      string        `json:"id_token,omitempty"`
	Scope        string        `json:"scope,omitempty"` // space-delimited
}

// AccessToken models the stored access token record. The row ID equals the
// JWT's jti claim, so a presented token maps straight to its row for
// revocation checks.
type AccessToken struct {
	ID        string
	UserID    string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// RefreshToken models the stored refresh token record. User, client and
// scope are denormalized onto the row so refresh exchanges resolve without
// touching the access-token table; AccessTokenID remains as a fallback link
// for rows written before the denormalization.
type RefreshToken struct {
	ID            string
	TokenHash     string // deterministic fingerprint (base64url SHA-256)
	AccessTokenID string
	UserID        string
	ClientID      string
	Scopes        []string
	ExpiresAt     time.Time
	Revoked       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
