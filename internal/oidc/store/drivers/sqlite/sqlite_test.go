package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
	"github.com/wintermoot/forumoidc/internal/oidc/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAccessTokenLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	tok := domain.AccessToken{
		ID:        "at-1",
		UserID:    "42",
		ClientID:  "wiki",
		Scopes:    []string{"openid", "email"},
		ExpiresAt: time.Now().Add(10 * time.Minute).UTC(),
	}
	require.NoError(t, s.AccessTokens().CreateAccessToken(ctx, tok))

	got, err := s.AccessTokens().GetAccessTokenByID(ctx, "at-1")
	require.NoError(t, err)
	require.Equal(t, "42", got.UserID)
	require.Equal(t, []string{"openid", "email"}, got.Scopes)
	require.False(t, got.Revoked)

	// Duplicate jti must fail.
	require.ErrorIs(t, s.AccessTokens().CreateAccessToken(ctx, tok), store.ErrAlreadyExists)

	require.NoError(t, s.AccessTokens().RevokeAccessToken(ctx, "at-1"))
	got, err = s.AccessTokens().GetAccessTokenByID(ctx, "at-1")
	require.NoError(t, err)
	require.True(t, got.Revoked)

	_, err = s.AccessTokens().GetAccessTokenByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevokeAllUserAccessTokensReturnsClients(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	future := time.Now().Add(time.Hour).UTC()

	for _, tok := range []domain.AccessToken{
		{ID: "a1", UserID: "42", ClientID: "wiki", ExpiresAt: future},
		{ID: "a2", UserID: "42", ClientID: "wiki", ExpiresAt: future},
		{ID: "a3", UserID: "42", ClientID: "mobile", ExpiresAt: future},
		{ID: "a4", UserID: "7", ClientID: "wiki", ExpiresAt: future},
		{ID: "a5", UserID: "42", ClientID: "stale", ExpiresAt: time.Now().Add(-time.Hour).UTC()},
	} {
		require.NoError(t, s.AccessTokens().CreateAccessToken(ctx, tok))
	}

	clients, err := s.AccessTokens().RevokeAllUserAccessTokens(ctx, "42")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"wiki", "mobile"}, clients)

	got, err := s.AccessTokens().GetAccessTokenByID(ctx, "a1")
	require.NoError(t, err)
	require.True(t, got.Revoked)

	// Other users stay untouched.
	got, err = s.AccessTokens().GetAccessTokenByID(ctx, "a4")
	require.NoError(t, err)
	require.False(t, got.Revoked)
}

func TestRefreshTokenLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	rt := domain.RefreshToken{
		ID:            "rt-1",
		TokenHash:     "hash-1",
		AccessTokenID: "at-1",
		UserID:        "42",
		ClientID:      "wiki",
		Scopes:        []string{"openid"},
		ExpiresAt:     time.Now().Add(time.Hour).UTC(),
	}
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, rt))

	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, "rt-1", got.ID)
	require.Equal(t, "42", got.UserID)
	require.Equal(t, []string{"openid"}, got.Scopes)

	// Fingerprints are unique.
	dup := rt
	dup.ID = "rt-2"
	require.ErrorIs(t, s.RefreshTokens().CreateRefreshToken(ctx, dup), store.ErrAlreadyExists)

	require.NoError(t, s.RefreshTokens().RevokeRefreshToken(ctx, "rt-1"))
	got, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.True(t, got.Revoked)
}

func TestRevokeAllUserRefreshTokensCoversLegacyRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	future := time.Now().Add(time.Hour).UTC()

	require.NoError(t, s.AccessTokens().CreateAccessToken(ctx, domain.AccessToken{
		ID: "at-legacy", UserID: "42", ClientID: "wiki", ExpiresAt: future,
	}))

	// Legacy row: no denormalized user_id, only the access-token link.
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
		ID: "rt-legacy", TokenHash: "h-legacy", AccessTokenID: "at-legacy", ExpiresAt: future,
	}))
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
		ID: "rt-new", TokenHash: "h-new", UserID: "42", ClientID: "wiki", ExpiresAt: future,
	}))
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
		ID: "rt-other", TokenHash: "h-other", UserID: "7", ClientID: "wiki", ExpiresAt: future,
	}))

	require.NoError(t, s.RefreshTokens().RevokeAllUserRefreshTokens(ctx, "42"))

	for hash, wantRevoked := range map[string]bool{
		"h-legacy": true,
		"h-new":    true,
		"h-other":  false,
	} {
		got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
		require.NoError(t, err)
		require.Equal(t, wantRevoked, got.Revoked, "hash %s", hash)
	}
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	code := domain.AuthorizationCode{
		ID:        "ac-1",
		UserID:    "42",
		ClientID:  "wiki",
		Scopes:    []string{"openid"},
		ExpiresAt: time.Now().Add(10 * time.Minute).UTC(),
	}
	require.NoError(t, s.AuthorizationCodes().CreateAuthorizationCode(ctx, code))

	got, err := s.AuthorizationCodes().GetAuthorizationCodeByID(ctx, "ac-1")
	require.NoError(t, err)
	require.False(t, got.Used())
	require.False(t, got.Revoked)

	require.NoError(t, s.AuthorizationCodes().MarkAuthorizationCodeUsed(ctx, "ac-1"))
	got, err = s.AuthorizationCodes().GetAuthorizationCodeByID(ctx, "ac-1")
	require.NoError(t, err)
	require.True(t, got.Used())
	first := *got.UsedAt

	// Marking again keeps the original timestamp.
	require.NoError(t, s.AuthorizationCodes().MarkAuthorizationCodeUsed(ctx, "ac-1"))
	got, err = s.AuthorizationCodes().GetAuthorizationCodeByID(ctx, "ac-1")
	require.NoError(t, err)
	require.Equal(t, first, *got.UsedAt)

	require.NoError(t, s.AuthorizationCodes().RevokeAuthorizationCode(ctx, "ac-1"))
	got, err = s.AuthorizationCodes().GetAuthorizationCodeByID(ctx, "ac-1")
	require.NoError(t, err)
	require.True(t, got.Revoked)
}

func TestRevokeAllUserAuthorizationCodes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	future := time.Now().Add(10 * time.Minute).UTC()

	for _, code := range []domain.AuthorizationCode{
		{ID: "c1", UserID: "42", ClientID: "wiki", ExpiresAt: future},
		{ID: "c2", UserID: "42", ClientID: "mobile", ExpiresAt: future},
		{ID: "c3", UserID: "7", ClientID: "wiki", ExpiresAt: future},
	} {
		require.NoError(t, s.AuthorizationCodes().CreateAuthorizationCode(ctx, code))
	}

	require.NoError(t, s.AuthorizationCodes().RevokeAllUserAuthorizationCodes(ctx, "42"))

	for id, wantRevoked := range map[string]bool{
		"c1": true,
		"c2": true,
		"c3": false,
	} {
		got, err := s.AuthorizationCodes().GetAuthorizationCodeByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, wantRevoked, got.Revoked, "code %s", id)
	}
}

func TestHousekeepingDeletesExpiredRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	past := time.Now().Add(-time.Hour).UTC()
	future := time.Now().Add(time.Hour).UTC()

	require.NoError(t, s.AccessTokens().CreateAccessToken(ctx, domain.AccessToken{
		ID: "old", ClientID: "wiki", ExpiresAt: past,
	}))
	require.NoError(t, s.AccessTokens().CreateAccessToken(ctx, domain.AccessToken{
		ID: "live", ClientID: "wiki", ExpiresAt: future,
	}))
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
		ID: "rt-old", TokenHash: "h1", ExpiresAt: past,
	}))
	require.NoError(t, s.AuthorizationCodes().CreateAuthorizationCode(ctx, domain.AuthorizationCode{
		ID: "ac-old", UserID: "42", ClientID: "wiki", ExpiresAt: past,
	}))

	require.NoError(t, s.AccessTokens().DeleteExpiredAccessTokens(ctx))
	require.NoError(t, s.RefreshTokens().DeleteExpiredRefreshTokens(ctx))
	require.NoError(t, s.AuthorizationCodes().DeleteExpiredAuthorizationCodes(ctx))

	_, err := s.AccessTokens().GetAccessTokenByID(ctx, "old")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.AccessTokens().GetAccessTokenByID(ctx, "live")
	require.NoError(t, err)
	_, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, "h1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.AuthorizationCodes().GetAuthorizationCodeByID(ctx, "ac-old")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.AccessTokens().CreateAccessToken(ctx, domain.AccessToken{
			ID: "at-tx", ClientID: "wiki", ExpiresAt: time.Now().Add(time.Hour).UTC(),
		}); err != nil {
			return err
		}
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.AccessTokens().GetAccessTokenByID(ctx, "at-tx")
	require.ErrorIs(t, err, store.ErrNotFound)
}
