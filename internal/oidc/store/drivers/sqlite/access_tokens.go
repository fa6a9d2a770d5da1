package sqlite

import (
	"context"
	"time"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
)

type accessTokensRepo struct {
	q querier
}

func (r *accessTokensRepo) CreateAccessToken(ctx context.Context, t domain.AccessToken) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO access_tokens (id, user_id, client_id, scopes, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		t.ID, t.UserID, t.ClientID, joinScopes(t.Scopes), t.ExpiresAt, time.Now().UTC(),
	)
	return mapAlreadyExists(err)
}

func (r *accessTokensRepo) GetAccessTokenByID(ctx context.Context, id string) (domain.AccessToken, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, client_id, scopes, expires_at, revoked, created_at
		FROM access_tokens WHERE id = ?`, id)

	var t domain.AccessToken
	var scopes string
	if err := row.Scan(&t.ID, &t.UserID, &t.ClientID, &scopes, &t.ExpiresAt, &t.Revoked, &t.CreatedAt); err != nil {
		return domain.AccessToken{}, mapNotFound(err)
	}
	t.Scopes = splitScopes(scopes)
	return t, nil
}

func (r *accessTokensRepo) RevokeAccessToken(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE access_tokens SET revoked = 1 WHERE id = ?`, id)
	return err
}

func (r *accessTokensRepo) RevokeAllUserAccessTokens(ctx context.Context, userID string) ([]string, error) {
	now := time.Now().UTC()

	rows, err := r.q.QueryContext(ctx, `
		SELECT DISTINCT client_id FROM access_tokens
		WHERE user_id = ? AND revoked = 0 AND expires_at > ?`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clientIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		clientIDs = append(clientIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = r.q.ExecContext(ctx,
		`UPDATE access_tokens SET revoked = 1 WHERE user_id = ? AND revoked = 0`, userID)
	if err != nil {
		return nil, err
	}
	return clientIDs, nil
}

func (r *accessTokensRepo) DeleteExpiredAccessTokens(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
