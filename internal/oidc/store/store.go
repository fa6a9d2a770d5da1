package store

import (
	"context"
	"errors"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrReadOnly is returned by registries that do not support mutation,
	// such as the file-backed client and scope registries.
	ErrReadOnly = errors.New("store: read-only")
)

// Store is the root data access interface for token state. The sqlite driver
// implements it. Sub-repositories keep concerns tidy and stop transactions
// from being nested by accident.
type Store interface {
	AccessTokens() AccessTokens
	RefreshTokens() RefreshTokens
	AuthorizationCodes() AuthorizationCodes

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, committing on nil error and
	// rolling back otherwise. Prefer this over Tx for multi-step
	// operations that must be atomic, such as refresh rotation.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// ClientRegistry resolves registered relying parties. The file-backed
// implementation returns ErrReadOnly from the mutating methods.
type ClientRegistry interface {
	// GetClientByID fetches a client configuration.
	GetClientByID(ctx context.Context, id string) (domain.Client, error)

	// ListClients returns every registered client.
	ListClients(ctx context.Context) ([]domain.Client, error)

	// SaveClient persists a client definition.
	SaveClient(ctx context.Context, c domain.Client) error

	// RemoveClient deletes a client definition.
	RemoveClient(ctx context.Context, id string) error
}

// ScopeRegistry resolves registered scopes.
type ScopeRegistry interface {
	// GetScopeByID fetches a scope definition.
	GetScopeByID(ctx context.Context, id string) (domain.Scope, error)

	// ListScopes returns every registered scope.
	ListScopes(ctx context.Context) ([]domain.Scope, error)

	// SaveScope persists a scope definition.
	SaveScope(ctx context.Context, s domain.Scope) error

	// RemoveScope deletes a scope definition.
	RemoveScope(ctx context.Context, id string) error
}

type AccessTokens interface {
	// CreateAccessToken stores the record behind a freshly minted JWT. The
	// record ID equals the JWT's jti claim.
	CreateAccessToken(ctx context.Context, t domain.AccessToken) error

	// GetAccessTokenByID fetches a token record by jti.
	GetAccessTokenByID(ctx context.Context, id string) (domain.AccessToken, error)

	// RevokeAccessToken flips revoked=1.
	RevokeAccessToken(ctx context.Context, id string) error

	// RevokeAllUserAccessTokens bulk-revokes every live token for a user,
	// across all clients. Returns the distinct client IDs that held live
	// tokens so logout notifications can be fanned out.
	RevokeAllUserAccessTokens(ctx context.Context, userID string) ([]string, error)

	// DeleteExpiredAccessTokens is housekeeping.
	DeleteExpiredAccessTokens(ctx context.Context) error
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new refresh token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the token by its fingerprint.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RevokeRefreshToken flips revoked=1 by record ID, sets updated_at.
	RevokeRefreshToken(ctx context.Context, id string) error

	// RevokeAllUserRefreshTokens bulk-revokes every live refresh token for
	// a user across all clients.
	RevokeAllUserRefreshTokens(ctx context.Context, userID string) error

	// DeleteExpiredRefreshTokens is housekeeping.
	DeleteExpiredRefreshTokens(ctx context.Context) error
}

type AuthorizationCodes interface {
	// CreateAuthorizationCode stores a freshly minted code record.
	CreateAuthorizationCode(ctx context.Context, code domain.AuthorizationCode) error

	// GetAuthorizationCodeByID fetches a code record when redeeming.
	GetAuthorizationCodeByID(ctx context.Context, id string) (domain.AuthorizationCode, error)

	// MarkAuthorizationCodeUsed marks a code as consumed to prevent re-use.
	MarkAuthorizationCodeUsed(ctx context.Context, id string) error

	// RevokeAuthorizationCode flips revoked=1, e.g. on replay.
	RevokeAuthorizationCode(ctx context.Context, id string) error

	// RevokeAllUserAuthorizationCodes bulk-revokes every outstanding code
	// for a user across all clients.
	RevokeAllUserAuthorizationCodes(ctx context.Context, userID string) error

	// DeleteExpiredAuthorizationCodes removes codes that are no longer valid.
	DeleteExpiredAuthorizationCodes(ctx context.Context) error
}
