package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLProvider reads identities straight from the forum's database tables.
// The table prefix matches the forum installation (e.g. "phpbb_"). BoardURL
// is the forum's public base URL, used to build profile and avatar links.
type SQLProvider struct {
	db       *sql.DB
	prefix   string
	boardURL string
}

func NewSQLProvider(db *sql.DB, tablePrefix, boardURL string) *SQLProvider {
	return &SQLProvider{
		db:       db,
		prefix:   tablePrefix,
		boardURL: strings.TrimRight(boardURL, "/"),
	}
}

func (p *SQLProvider) Lookup(ctx context.Context, userID string) (Identity, error) {
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT username, user_email, user_avatar FROM %susers WHERE user_id = ?`, p.prefix), userID)

	ident := Identity{UserID: userID}
	var avatar string
	if err := row.Scan(&ident.Username, &ident.Email, &avatar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrUserNotFound
		}
		return Identity{}, fmt.Errorf("identity: lookup user: %w", err)
	}

	if p.boardURL != "" {
		ident.ProfileURL = fmt.Sprintf("%s/memberlist.php?mode=viewprofile&u=%s", p.boardURL, userID)
		if avatar != "" {
			ident.AvatarURL = fmt.Sprintf("%s/download/file.php?avatar=%s", p.boardURL, avatar)
		}
	}

	groups, err := p.lookupGroups(ctx, userID)
	if err != nil {
		return Identity{}, err
	}
	ident.Groups = groups
	return ident, nil
}

func (p *SQLProvider) lookupGroups(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT g.group_name
		FROM %sgroups g
		JOIN %suser_group ug ON ug.group_id = g.group_id
		WHERE ug.user_id = ? AND ug.user_pending = 0
		ORDER BY g.group_name`, p.prefix, p.prefix), userID)
	if err != nil {
		return nil, fmt.Errorf("identity: lookup groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("identity: scan group: %w", err)
		}
		groups = append(groups, name)
	}
	return groups, rows.Err()
}

// IsBanned checks the forum ban list for an active, non-expired user ban.
// Ban rows with ban_end = 0 are permanent.
func (p *SQLProvider) IsBanned(ctx context.Context, userID string) (bool, error) {
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %sbanlist
		WHERE ban_userid = ? AND ban_exclude = 0
		  AND (ban_end = 0 OR ban_end > ?)`, p.prefix),
		userID, time.Now().Unix())

	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("identity: check ban: %w", err)
	}
	return n > 0, nil
}
