// Package identity resolves forum users for the provider. The provider never
// authenticates users itself; the host forum does that, and this package
// answers "who is user N" and "is user N banned" against the forum's store.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrUserNotFound indicates the user ID does not exist in the forum.
	ErrUserNotFound = errors.New("identity: user not found")
)

// Identity is the forum's view of a user, as exposed through ID tokens and
// the userinfo endpoint.
type Identity struct {
	UserID   string
	Username string
	Email    string
	// ProfileURL points at the user's forum profile page.
	ProfileURL string
	// AvatarURL points at the user's avatar image, when they have one.
	AvatarURL string
	// Groups holds the forum group names the user belongs to.
	Groups []string
}

// Provider looks up forum users.
type Provider interface {
	// Lookup returns the identity for a forum user ID.
	Lookup(ctx context.Context, userID string) (Identity, error)

	// IsBanned reports whether the user currently holds an active ban.
	IsBanned(ctx context.Context, userID string) (bool, error)
}
