package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
)

type authorizationCodesRepo struct {
	q querier
}

func (r *authorizationCodesRepo) CreateAuthorizationCode(ctx context.Context, code domain.AuthorizationCode) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO authorization_codes (id, user_id, client_id, scopes, expires_at, used_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, 0, ?)`,
		code.ID, code.UserID, code.ClientID, joinScopes(code.Scopes),
		code.ExpiresAt, time.Now().UTC(),
	)
	return mapAlreadyExists(err)
}

func (r *authorizationCodesRepo) GetAuthorizationCodeByID(ctx context.Context, id string) (domain.AuthorizationCode, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, client_id, scopes, expires_at, used_at, revoked, created_at
		FROM authorization_codes WHERE id = ?`, id)

	var code domain.AuthorizationCode
	var scopes string
	var usedAt sql.NullTime
	err := row.Scan(&code.ID, &code.UserID, &code.ClientID, &scopes,
		&code.ExpiresAt, &usedAt, &code.Revoked, &code.CreatedAt)
	if err != nil {
		return domain.AuthorizationCode{}, mapNotFound(err)
	}
	code.Scopes = splitScopes(scopes)
	code.UsedAt = mapNullTimePtr(usedAt)
	return code, nil
}

func (r *authorizationCodesRepo) MarkAuthorizationCodeUsed(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE authorization_codes SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		time.Now().UTC(), id)
	return err
}

func (r *authorizationCodesRepo) RevokeAuthorizationCode(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE authorization_codes SET revoked = 1 WHERE id = ?`, id)
	return err
}

func (r *authorizationCodesRepo) RevokeAllUserAuthorizationCodes(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE authorization_codes SET revoked = 1 WHERE user_id = ? AND revoked = 0`, userID)
	return err
}

func (r *authorizationCodesRepo) DeleteExpiredAuthorizationCodes(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM authorization_codes WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
