package sqlite

import (
	"context"
	"time"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
)

type refreshTokensRepo struct {
	q querier
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	now := time.Now().UTC()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens
			(id, token_hash, access_token_id, user_id, client_id, scopes, expires_at, revoked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		t.ID, t.TokenHash, t.AccessTokenID, t.UserID, t.ClientID,
		joinScopes(t.Scopes), t.ExpiresAt, now, now,
	)
	return mapAlreadyExists(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, token_hash, access_token_id, user_id, client_id, scopes,
		       expires_at, revoked, created_at, updated_at
		FROM refresh_tokens WHERE token_hash = ?`, hash)

	var t domain.RefreshToken
	var scopes string
	err := row.Scan(&t.ID, &t.TokenHash, &t.AccessTokenID, &t.UserID, &t.ClientID,
		&scopes, &t.ExpiresAt, &t.Revoked, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.Scopes = splitScopes(scopes)
	return t, nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return err
}

// RevokeAllUserRefreshTokens also catches rows written before the metadata
// denormalization, which carry no user_id and are reachable only through
// their access token.
func (r *refreshTokensRepo) RevokeAllUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = 1, updated_at = ?
		WHERE revoked = 0 AND (
			user_id = ?
			OR access_token_id IN (SELECT id FROM access_tokens WHERE user_id = ?)
		)`,
		time.Now().UTC(), userID, userID)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
