package domain

// Well-known scope identifiers. Additional scopes can be registered in the
// static registry without code changes.
const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
)

// Scope is a registered permission a client can request.
type Scope struct {
	ID          string
	Description string
}
