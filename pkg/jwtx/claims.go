// Package jwtx signs and verifies the three JWT kinds the provider emits:
// access tokens, ID tokens, and backchannel logout tokens. Everything is
// RS256 with a single fixed key loaded at startup.
package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LogoutEventURI is the member name identifying a backchannel logout event
// in the logout token's "events" claim.
const LogoutEventURI = "http://schemas.openid.net/event/backchannel-logout"

// AccessClaims are the claims embedded in access-token JWTs. The jti claim
// doubles as the primary key of the access-token row, which is how the
// userinfo endpoint and revocation checks tie a presented JWT back to
// server-side state.
type AccessClaims struct {
	jwt.RegisteredClaims

	// Scopes granted to this token, e.g. ["openid", "email"].
	Scopes []string `json:"scopes,omitempty"`
}

// NewAccessClaims builds access-token claims. The subject may be empty for
// tokens not bound to a user.
func NewAccessClaims(
	jti, subject, issuer, clientID string,
	scopes []string,
	ttl time.Duration,
	now time.Time,
) AccessClaims {
	return AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
		Scopes: scopes,
	}
}

// IDClaims are OpenID Connect ID-token claims. Optional claims use omitempty
// so that a missing source value omits the claim entirely rather than
// emitting null or an empty value.
type IDClaims struct {
	jwt.RegisteredClaims

	Nonce    string   `json:"nonce,omitempty"`
	SID      string   `json:"sid,omitempty"`
	IDGroups []string `json:"id_groups,omitempty"`
}

// NewIDClaims builds ID-token claims for the given subject and audience.
func NewIDClaims(
	subject, issuer, clientID, nonce, sid string,
	groups []string,
	ttl time.Duration,
	now time.Time,
) IDClaims {
	return IDClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Nonce:    nonce,
		SID:      sid,
		IDGroups: groups,
	}
}

// LogoutClaims are the claims of an OIDC backchannel logout token.
type LogoutClaims struct {
	jwt.RegisteredClaims

	SID    string         `json:"sid,omitempty"`
	Events map[string]any `json:"events"`
}

// NewLogoutClaims builds logout-token claims for a user whose forum session
// has ended. Each token gets a fresh random jti.
func NewLogoutClaims(subject, issuer, clientID string, now time.Time) LogoutClaims {
	return LogoutClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  subject,
			Audience: jwt.ClaimStrings{clientID},
			IssuedAt: jwt.NewNumericDate(now),
			ID:       NewJTI(),
		},
		SID:    subject,
		Events: map[string]any{LogoutEventURI: struct{}{}},
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
