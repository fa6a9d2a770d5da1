package domain

import "time"

// AuthorizationCode is the server-side record of an issued code. The code
// string handed to the client is a sealed payload, not this row; the row
// exists so a code can be marked used or revoked independently of what the
// client holds.
type AuthorizationCode struct {
	ID        string
	UserID    string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	UsedAt    *time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Used reports whether the code has already been redeemed.
func (c AuthorizationCode) Used() bool {
	return c.UsedAt != nil
}

// AuthorizationCodePayload is the plaintext sealed into the code string
// handed to the client. Everything the token endpoint needs to validate the
// exchange travels inside the ciphertext; the row keyed by ID carries the
// revocation and single-use state.
type AuthorizationCodePayload struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"uid"`
	ClientID            string    `json:"cid"`
	RedirectURI         string    `json:"uri"`
	Scopes              []string  `json:"scp"`
	Nonce               string    `json:"nonce,omitempty"`
	CodeChallenge       string    `json:"cc,omitempty"`
	CodeChallengeMethod string    `json:"ccm,omitempty"`
	ExpiresAt           time.Time `json:"exp"`
}
