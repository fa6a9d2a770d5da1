package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
	"github.com/wintermoot/forumoidc/pkg/cryptox"
	"github.com/wintermoot/forumoidc/pkg/jwtx"
)

func exchange(t *testing.T, env *testEnv, code, verifier string) *domain.TokenPair {
	t.Helper()

	pair, err := env.tokens.ExchangeAuthorizationCode(context.Background(),
		"wiki", testClientSecret, code, "https://wiki.example/cb", verifier)
	require.NoError(t, err)
	return pair
}

func TestExchangeAuthorizationCode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("full flow issues all three tokens", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("verifier-one")))
		pair := exchange(t, env, code, "verifier-one")

		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)
		require.NotEmpty(t, pair.IDToken)
		require.Equal(t, "Bearer", pair.TokenType)
		require.Equal(t, "openid email", pair.Scope)

		verifier := jwtx.NewRS256Verifier(jwtx.NewKeySet(env.signer))

		var access jwtx.AccessClaims
		require.NoError(t, verifier.Verify(pair.AccessToken, &access))
		require.Equal(t, "42", access.Subject)
		require.Equal(t, "https://forum.example", access.Issuer)
		require.Equal(t, []string{"openid", "email"}, access.Scopes)

		// The jti maps to a live server-side record.
		at, err := env.tokens.CheckAccessToken(ctx, access.ID)
		require.NoError(t, err)
		require.Equal(t, "wiki", at.ClientID)

		var id jwtx.IDClaims
		require.NoError(t, verifier.Verify(pair.IDToken, &id))
		require.Equal(t, "42", id.Subject)
		require.Equal(t, "n-123", id.Nonce)
		// wiki has a backchannel logout URI, so sid is present.
		require.Equal(t, "42", id.SID)
		// id_groups follows the user's forum groups.
		require.Equal(t, []string{"Registered", "Moderators"}, id.IDGroups)
	})

	t.Run("id_groups omitted for a user with no groups", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		req := wikiRequest(s256Challenge("v"))
		req.UserID = "7"
		code := env.issueCode(t, req)
		pair := exchange(t, env, code, "v")

		var id jwtx.IDClaims
		verifier := jwtx.NewRS256Verifier(jwtx.NewKeySet(env.signer))
		require.NoError(t, verifier.Verify(pair.IDToken, &id))
		require.Equal(t, "7", id.Subject)
		require.Empty(t, id.IDGroups)
	})

	t.Run("no id token without openid scope", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		req := wikiRequest(s256Challenge("v"))
		req.Scopes = []string{"email"}
		code := env.issueCode(t, req)
		pair := exchange(t, env, code, "v")
		require.Empty(t, pair.IDToken)
	})

	t.Run("replay is refused and revokes the code", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		exchange(t, env, code, "v")

		_, err := env.tokens.ExchangeAuthorizationCode(ctx,
			"wiki", testClientSecret, code, "https://wiki.example/cb", "v")
		require.ErrorIs(t, err, ErrInvalidGrant)

		plaintext, err := env.codec.Open(code)
		require.NoError(t, err)
		var payload domain.AuthorizationCodePayload
		require.NoError(t, json.Unmarshal(plaintext, &payload))
		row, err := env.store.AuthorizationCodes().GetAuthorizationCodeByID(ctx, payload.ID)
		require.NoError(t, err)
		require.True(t, row.Revoked)
	})

	t.Run("wrong verifier", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("right")))
		_, err := env.tokens.ExchangeAuthorizationCode(ctx,
			"wiki", testClientSecret, code, "https://wiki.example/cb", "wrong")
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("wrong redirect uri", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		_, err := env.tokens.ExchangeAuthorizationCode(ctx,
			"wiki", testClientSecret, code, "https://wiki.example/other", "v")
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("wrong client or secret", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))

		_, err := env.tokens.ExchangeAuthorizationCode(ctx,
			"wiki", "bad-secret", code, "https://wiki.example/cb", "v")
		require.ErrorIs(t, err, ErrInvalidClient)

		// Another client cannot redeem wiki's code even without a secret.
		_, err = env.tokens.ExchangeAuthorizationCode(ctx,
			"mobile", "", code, "https://wiki.example/cb", "v")
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("tampered code", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		tampered := code[:len(code)-2] + "zz"
		_, err := env.tokens.ExchangeAuthorizationCode(ctx,
			"wiki", testClientSecret, tampered, "https://wiki.example/cb", "v")
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("ban between issue and exchange", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		env.users.SetBanned("42", true)

		_, err := env.tokens.ExchangeAuthorizationCode(ctx,
			"wiki", testClientSecret, code, "https://wiki.example/cb", "v")
		require.ErrorIs(t, err, ErrInvalidGrant)
	})
}

func TestExchangeRefreshToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("rotation invalidates the old token", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		pair := exchange(t, env, code, "v")

		next, err := env.tokens.ExchangeRefreshToken(ctx,
			"wiki", testClientSecret, pair.RefreshToken, nil)
		require.NoError(t, err)
		require.NotEmpty(t, next.RefreshToken)
		require.NotEqual(t, pair.RefreshToken, next.RefreshToken)
		require.Equal(t, pair.Scope, next.Scope)
		// A refreshed ID token has no nonce to echo.
		var id jwtx.IDClaims
		verifier := jwtx.NewRS256Verifier(jwtx.NewKeySet(env.signer))
		require.NoError(t, verifier.Verify(next.IDToken, &id))
		require.Empty(t, id.Nonce)

		_, err = env.tokens.ExchangeRefreshToken(ctx,
			"wiki", testClientSecret, pair.RefreshToken, nil)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("scope narrowing only", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		pair := exchange(t, env, code, "v")

		narrowed, err := env.tokens.ExchangeRefreshToken(ctx,
			"wiki", testClientSecret, pair.RefreshToken, []string{"openid"})
		require.NoError(t, err)
		require.Equal(t, "openid", narrowed.Scope)

		_, err = env.tokens.ExchangeRefreshToken(ctx,
			"wiki", testClientSecret, narrowed.RefreshToken, []string{"openid", "groups"})
		var scopeErr *InvalidScopeError
		require.ErrorAs(t, err, &scopeErr)
		require.Equal(t, "groups", scopeErr.Scope)
	})

	t.Run("other client's token is refused", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		pair := exchange(t, env, code, "v")

		_, err := env.tokens.ExchangeRefreshToken(ctx,
			"mobile", "", pair.RefreshToken, nil)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("legacy row resolves through its access token", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		now := time.Now()

		require.NoError(t, env.store.AccessTokens().CreateAccessToken(ctx, domain.AccessToken{
			ID:        "at-legacy",
			UserID:    "42",
			ClientID:  "wiki",
			Scopes:    []string{"openid", "email"},
			ExpiresAt: now.Add(time.Hour).UTC(),
		}))
		opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
		require.NoError(t, err)
		require.NoError(t, env.store.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:            "rt-legacy",
			TokenHash:     cryptox.FingerprintToken(opaque),
			AccessTokenID: "at-legacy",
			ExpiresAt:     now.Add(time.Hour).UTC(),
		}))

		pair, err := env.tokens.ExchangeRefreshToken(ctx, "wiki", testClientSecret, opaque, nil)
		require.NoError(t, err)
		require.Equal(t, "openid email", pair.Scope)
	})

	t.Run("ban sweeps every live token", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		pair := exchange(t, env, code, "v")

		verifier := jwtx.NewRS256Verifier(jwtx.NewKeySet(env.signer))
		var access jwtx.AccessClaims
		require.NoError(t, verifier.Verify(pair.AccessToken, &access))

		env.users.SetBanned("42", true)
		_, err := env.tokens.ExchangeRefreshToken(ctx,
			"wiki", testClientSecret, pair.RefreshToken, nil)
		require.ErrorIs(t, err, ErrInvalidGrant)

		// The sweep also killed the access token, so even an unban does not
		// resurrect it.
		env.users.SetBanned("42", false)
		_, err = env.tokens.CheckAccessToken(ctx, access.ID)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestCheckAccessToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("unknown or revoked jti", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		_, err := env.tokens.CheckAccessToken(ctx, "ghost")
		require.ErrorIs(t, err, ErrInvalidToken)

		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		pair := exchange(t, env, code, "v")
		verifier := jwtx.NewRS256Verifier(jwtx.NewKeySet(env.signer))
		var access jwtx.AccessClaims
		require.NoError(t, verifier.Verify(pair.AccessToken, &access))

		require.NoError(t, env.store.AccessTokens().RevokeAccessToken(ctx, access.ID))
		_, err = env.tokens.CheckAccessToken(ctx, access.ID)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("ban discovered at check revokes everything", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		pair := exchange(t, env, code, "v")
		verifier := jwtx.NewRS256Verifier(jwtx.NewKeySet(env.signer))
		var access jwtx.AccessClaims
		require.NoError(t, verifier.Verify(pair.AccessToken, &access))

		env.users.SetBanned("42", true)
		_, err := env.tokens.CheckAccessToken(ctx, access.ID)
		require.ErrorIs(t, err, ErrInvalidToken)

		// Refresh token died in the same sweep.
		env.users.SetBanned("42", false)
		_, err = env.tokens.ExchangeRefreshToken(ctx,
			"wiki", testClientSecret, pair.RefreshToken, nil)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})
}

func TestRevokeToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("refresh token revocation kills the pair", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		pair := exchange(t, env, code, "v")

		require.NoError(t, env.tokens.RevokeToken(ctx, "wiki", testClientSecret, pair.RefreshToken))

		_, err := env.tokens.ExchangeRefreshToken(ctx,
			"wiki", testClientSecret, pair.RefreshToken, nil)
		require.ErrorIs(t, err, ErrInvalidGrant)

		verifier := jwtx.NewRS256Verifier(jwtx.NewKeySet(env.signer))
		var access jwtx.AccessClaims
		require.NoError(t, verifier.Verify(pair.AccessToken, &access))
		_, err = env.tokens.CheckAccessToken(ctx, access.ID)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("access token revocation by jwt", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		pair := exchange(t, env, code, "v")

		require.NoError(t, env.tokens.RevokeToken(ctx, "wiki", testClientSecret, pair.AccessToken))

		verifier := jwtx.NewRS256Verifier(jwtx.NewKeySet(env.signer))
		var access jwtx.AccessClaims
		require.NoError(t, verifier.Verify(pair.AccessToken, &access))
		_, err := env.tokens.CheckAccessToken(ctx, access.ID)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown tokens succeed silently", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		require.NoError(t, env.tokens.RevokeToken(ctx, "wiki", testClientSecret, "never-issued"))
	})

	t.Run("another client's token stays live", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		code := env.issueCode(t, wikiRequest(s256Challenge("v")))
		pair := exchange(t, env, code, "v")

		// mobile tries to revoke wiki's refresh token: no error, no effect.
		require.NoError(t, env.tokens.RevokeToken(ctx, "mobile", "", pair.RefreshToken))
		_, err := env.tokens.ExchangeRefreshToken(ctx,
			"wiki", testClientSecret, pair.RefreshToken, nil)
		require.NoError(t, err)
	})

	t.Run("bad client credentials are rejected", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		err := env.tokens.RevokeToken(ctx, "wiki", "wrong", "whatever")
		require.ErrorIs(t, err, ErrInvalidClient)
	})
}
