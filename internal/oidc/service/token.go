package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
	"github.com/wintermoot/forumoidc/internal/oidc/identity"
	"github.com/wintermoot/forumoidc/internal/oidc/store"
	"github.com/wintermoot/forumoidc/pkg/cryptox"
	"github.com/wintermoot/forumoidc/pkg/idx"
	"github.com/wintermoot/forumoidc/pkg/jwtx"
	"github.com/wintermoot/forumoidc/pkg/slogx"
)

// TokenService implements the token endpoint grants plus the server-side
// token checks the userinfo and revocation endpoints depend on.
type TokenService struct {
	Clients  store.ClientRegistry
	Store    store.Store
	Identity identity.Provider
	Codec    *cryptox.Codec
	Signer   jwtx.Signer

	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	IDTokenTTL time.Duration
}

// ExchangeAuthorizationCode implements the authorization_code grant.
//
// The code string is opened with the server key, then cross-checked against
// its database row so revocation and single-use hold even though the client
// carries the full payload.
func (s *TokenService) ExchangeAuthorizationCode(
	ctx context.Context,
	clientID, clientSecret, code, redirectURI, codeVerifier string,
) (*domain.TokenPair, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	code = strings.TrimSpace(code)
	redirectURI = strings.TrimSpace(redirectURI)
	codeVerifier = strings.TrimSpace(codeVerifier)
	if code == "" || redirectURI == "" {
		return nil, ErrInvalidGrant
	}

	plaintext, err := s.Codec.Open(code)
	if err != nil {
		l.Info("authorization code failed to decrypt", "client_id", clientID)
		return nil, ErrInvalidGrant
	}
	var payload domain.AuthorizationCodePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, ErrInvalidGrant
	}

	if payload.ClientID != client.ID {
		return nil, ErrInvalidGrant
	}
	if payload.RedirectURI != redirectURI {
		return nil, ErrInvalidGrant
	}
	if now.After(payload.ExpiresAt) {
		return nil, ErrInvalidGrant
	}
	if !verifyCodeVerifier(payload.CodeChallenge, payload.CodeChallengeMethod, codeVerifier) {
		return nil, ErrInvalidGrant
	}

	banned, err := s.Identity.IsBanned(ctx, payload.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	if banned {
		l.Info("code exchange refused for banned user", "user_id", payload.UserID)
		return nil, ErrInvalidGrant
	}

	var result *domain.TokenPair

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		row, err := tx.AuthorizationCodes().GetAuthorizationCodeByID(ctx, payload.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidGrant
			}
			return err
		}
		if row.Revoked || now.After(row.ExpiresAt) {
			return ErrInvalidGrant
		}
		if row.Used() {
			// Replayed code. Revoke it outright so the row stands out in
			// housekeeping and audits.
			l.Warn("authorization code replay detected",
				"code_id", row.ID, "client_id", client.ID, "user_id", row.UserID)
			if err := tx.AuthorizationCodes().RevokeAuthorizationCode(ctx, row.ID); err != nil {
				return err
			}
			return ErrInvalidGrant
		}

		if err := tx.AuthorizationCodes().MarkAuthorizationCodeUsed(ctx, row.ID); err != nil {
			return err
		}

		pair, err := s.mint(ctx, tx, client, payload.UserID, payload.Scopes, payload.Nonce, now)
		if err != nil {
			return err
		}
		result = pair
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ExchangeRefreshToken implements the refresh_token grant with mandatory
// rotation: the presented token is revoked and a new one issued atomically.
// Requested scopes may only narrow what the old token held.
func (s *TokenService) ExchangeRefreshToken(
	ctx context.Context,
	clientID, clientSecret, refreshOpaque string,
	requestedScopes []string,
) (*domain.TokenPair, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(domain.GrantRefreshToken) {
		return nil, ErrUnauthorizedClient
	}

	refreshOpaque = strings.TrimSpace(refreshOpaque)
	if refreshOpaque == "" {
		return nil, ErrInvalidGrant
	}

	fp := cryptox.FingerprintToken(refreshOpaque)
	rt, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}

	if rt.Revoked || now.After(rt.ExpiresAt) {
		return nil, ErrInvalidGrant
	}

	userID, tokenClientID, scopes, err := s.resolveRefreshMetadata(ctx, rt)
	if err != nil {
		return nil, err
	}
	if tokenClientID != client.ID {
		return nil, ErrInvalidGrant
	}

	if len(requestedScopes) > 0 {
		for _, sc := range dedupe(requestedScopes) {
			if !slices.Contains(scopes, sc) {
				return nil, &InvalidScopeError{Scope: sc}
			}
		}
		scopes = dedupe(requestedScopes)
	}

	banned, err := s.Identity.IsBanned(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	if banned {
		// The ban may have landed after the token was issued. Sweep every
		// live token for the user so the next check is cheap.
		l.Info("refresh refused for banned user, revoking all tokens", "user_id", userID)
		if err := s.revokeAllForUser(ctx, userID); err != nil {
			l.Error("failed to revoke tokens for banned user", "user_id", userID, "err", err)
		}
		return nil, ErrInvalidGrant
	}

	var result *domain.TokenPair

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RevokeRefreshToken(ctx, rt.ID); err != nil {
			return err
		}
		pair, err := s.mint(ctx, tx, client, userID, scopes, "", now)
		if err != nil {
			return err
		}
		result = pair
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// resolveRefreshMetadata reads the denormalized grant metadata off the
// refresh row, falling back to the linked access token for rows written
// before the metadata columns existed.
func (s *TokenService) resolveRefreshMetadata(ctx context.Context, rt domain.RefreshToken) (userID, clientID string, scopes []string, err error) {
	if rt.UserID != "" && rt.ClientID != "" {
		return rt.UserID, rt.ClientID, rt.Scopes, nil
	}

	if rt.AccessTokenID == "" {
		return "", "", nil, ErrInvalidGrant
	}
	at, err := s.Store.AccessTokens().GetAccessTokenByID(ctx, rt.AccessTokenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", "", nil, ErrInvalidGrant
		}
		return "", "", nil, err
	}
	return at.UserID, at.ClientID, at.Scopes, nil
}

// CheckAccessToken validates the server-side state behind a verified JWT:
// the row must exist, be unexpired and unrevoked, and the user must not be
// banned. A ban discovered here revokes everything the user holds before
// reporting the token invalid.
func (s *TokenService) CheckAccessToken(ctx context.Context, jti string) (domain.AccessToken, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	at, err := s.Store.AccessTokens().GetAccessTokenByID(ctx, jti)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AccessToken{}, ErrInvalidToken
		}
		return domain.AccessToken{}, err
	}
	if at.Revoked || now.After(at.ExpiresAt) {
		return domain.AccessToken{}, ErrInvalidToken
	}

	if at.UserID != "" {
		banned, err := s.Identity.IsBanned(ctx, at.UserID)
		if err != nil && !errors.Is(err, identity.ErrUserNotFound) {
			return domain.AccessToken{}, err
		}
		if banned || errors.Is(err, identity.ErrUserNotFound) {
			l.Info("access token refused, user banned or gone", "user_id", at.UserID)
			if err := s.revokeAllForUser(ctx, at.UserID); err != nil {
				l.Error("failed to revoke tokens", "user_id", at.UserID, "err", err)
			}
			return domain.AccessToken{}, ErrInvalidToken
		}
	}

	return at, nil
}

// RevokeToken implements RFC 7009. The token may be a refresh token or an
// access-token JWT; unknown tokens succeed silently per the RFC. Revoking a
// refresh token also revokes its linked access token.
func (s *TokenService) RevokeToken(ctx context.Context, clientID, clientSecret, token string) error {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	fp := cryptox.FingerprintToken(token)
	rt, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err == nil {
		_, tokenClientID, _, merr := s.resolveRefreshMetadata(ctx, rt)
		if merr != nil || tokenClientID != client.ID {
			return nil // not this client's token, pretend it never existed
		}
		return s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.RefreshTokens().RevokeRefreshToken(ctx, rt.ID); err != nil {
				return err
			}
			if rt.AccessTokenID != "" {
				return tx.AccessTokens().RevokeAccessToken(ctx, rt.AccessTokenID)
			}
			return nil
		})
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	// Not a refresh token; try it as an access-token JWT.
	verifier := jwtx.NewRS256Verifier(jwtx.NewKeySet(s.Signer))
	var claims jwtx.AccessClaims
	if err := verifier.Verify(token, &claims); err != nil {
		return nil
	}
	at, err := s.Store.AccessTokens().GetAccessTokenByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if at.ClientID != client.ID {
		return nil
	}
	return s.Store.AccessTokens().RevokeAccessToken(ctx, at.ID)
}

// mint issues the access token row + JWT, the rotated refresh token, and an
// ID token when the grant carries the openid scope.
func (s *TokenService) mint(
	ctx context.Context,
	tx store.Tx,
	client domain.Client,
	userID string,
	scopes []string,
	nonce string,
	now time.Time,
) (*domain.TokenPair, error) {
	jti := idx.New().String()

	accessToken, err := s.Signer.Sign(jwtx.NewAccessClaims(
		jti, userID, s.Issuer, client.ID, scopes, s.AccessTTL, now))
	if err != nil {
		return nil, err
	}

	if err := tx.AccessTokens().CreateAccessToken(ctx, domain.AccessToken{
		ID:        jti,
		UserID:    userID,
		ClientID:  client.ID,
		Scopes:    scopes,
		ExpiresAt: now.Add(s.AccessTTL).UTC(),
	}); err != nil {
		return nil, err
	}

	refreshOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}
	if err := tx.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
		ID:            idx.New().String(),
		TokenHash:     cryptox.FingerprintToken(refreshOpaque),
		AccessTokenID: jti,
		UserID:        userID,
		ClientID:      client.ID,
		Scopes:        scopes,
		ExpiresAt:     now.Add(s.RefreshTTL).UTC(),
	}); err != nil {
		return nil, err
	}

	pair := &domain.TokenPair{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
		RefreshToken: refreshOpaque,
		Scope:        strings.Join(scopes, " "),
	}

	if slices.Contains(scopes, domain.ScopeOpenID) {
		idToken, err := s.signIDToken(ctx, client, userID, nonce, now)
		if err != nil {
			return nil, err
		}
		pair.IDToken = idToken
	}
	return pair, nil
}

func (s *TokenService) signIDToken(
	ctx context.Context,
	client domain.Client,
	userID string,
	nonce string,
	now time.Time,
) (string, error) {
	// sid is only meaningful to clients that receive logout tokens, where
	// it correlates the session being terminated.
	sid := ""
	if client.BackchannelLogoutURI != "" {
		sid = userID
	}

	// id_groups mirrors the user's forum groups; omitted when the user has
	// none rather than emitted empty.
	ident, err := s.Identity.Lookup(ctx, userID)
	if err != nil {
		return "", err
	}

	return s.Signer.Sign(jwtx.NewIDClaims(
		userID, s.Issuer, client.ID, nonce, sid, ident.Groups, s.IDTokenTTL, now))
}

func (s *TokenService) authenticateClient(ctx context.Context, clientID, clientSecret string) (domain.Client, error) {
	l := slogx.FromContext(ctx)

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

	// Confidential clients must authenticate.
	if client.Confidential() {
		if clientSecret == "" || cryptox.VerifySecret(clientSecret, client.SecretHash) != nil {
			l.Info("client authentication failed", "client_id", clientID)
			return domain.Client{}, ErrInvalidClient
		}
	}
	return client, nil
}

func (s *TokenService) revokeAllForUser(ctx context.Context, userID string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.AccessTokens().RevokeAllUserAccessTokens(ctx, userID); err != nil {
			return err
		}
		if err := tx.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID); err != nil {
			return err
		}
		return tx.AuthorizationCodes().RevokeAllUserAuthorizationCodes(ctx, userID)
	})
}

func verifyCodeVerifier(challenge, method, verifier string) bool {
	challenge = strings.TrimSpace(challenge)
	if challenge == "" {
		// No PKCE challenge stored; accept regardless of verifier.
		return true
	}

	verifier = strings.TrimSpace(verifier)
	if verifier == "" {
		return false
	}

	switch {
	case strings.EqualFold(method, domain.ChallengeMethodPlain):
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(verifier)) == 1
	case method == "" || strings.EqualFold(method, domain.ChallengeMethodS256):
		sum := sha256.Sum256([]byte(verifier))
		expected := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(expected)) == 1
	default:
		return false
	}
}
