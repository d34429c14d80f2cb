package repo

import (
	"context"
	"database/sql"

	"complyline/internal/domain"
)

func (r Repo) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(docusign_id,email,name,access_token,refresh_token,created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(docusign_id) DO UPDATE SET email=excluded.email, name=excluded.name,
			access_token=excluded.access_token, refresh_token=excluded.refresh_token`,
		u.DocusignID, u.Email, u.Name, u.AccessToken, u.RefreshToken, u.CreatedAt)
	return err
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.DocusignID, &u.Email, &u.Name, &u.AccessToken, &u.RefreshToken, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUser(ctx context.Context, docusignID string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT docusign_id,email,name,access_token,refresh_token,created_at FROM users WHERE docusign_id=?`, docusignID))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT docusign_id,email,name,access_token,refresh_token,created_at FROM users WHERE email=?`, email))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT docusign_id,email,name,access_token,refresh_token,created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.DocusignID, &u.Email, &u.Name, &u.AccessToken, &u.RefreshToken, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) UpdateUserTokens(ctx context.Context, docusignID, accessToken, refreshToken string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET access_token=?, refresh_token=? WHERE docusign_id=?`,
		accessToken, refreshToken, docusignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertAccount(ctx context.Context, a domain.Account) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO accounts(account_id,name,base_url,donation_link,country,score,include_in_leaderboard,created_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(account_id) DO UPDATE SET name=excluded.name, base_url=excluded.base_url,
			donation_link=excluded.donation_link, country=excluded.country,
			include_in_leaderboard=excluded.include_in_leaderboard`,
		a.ID, a.Name, a.BaseURL, a.DonationLink, a.Country, a.Score, a.IncludeInLeaderboard, a.CreatedAt)
	return err
}

func (r Repo) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT account_id,name,base_url,COALESCE(donation_link,''),COALESCE(country,''),score,include_in_leaderboard,created_at FROM accounts WHERE account_id=?`, accountID)
	var a domain.Account
	err := row.Scan(&a.ID, &a.Name, &a.BaseURL, &a.DonationLink, &a.Country, &a.Score, &a.IncludeInLeaderboard, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) LinkUserAccount(ctx context.Context, userID, accountID string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO user_accounts(user_id,account_id) VALUES (?,?)
		ON CONFLICT(user_id,account_id) DO NOTHING`, userID, accountID)
	return err
}

// AccountMembers returns the users linked to an account, with their stored
// provider tokens.
func (r Repo) AccountMembers(ctx context.Context, accountID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.docusign_id,u.email,u.name,u.access_token,u.refresh_token,u.created_at
		FROM users u JOIN user_accounts ua ON ua.user_id=u.docusign_id
		WHERE ua.account_id=? ORDER BY u.created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.DocusignID, &u.Email, &u.Name, &u.AccessToken, &u.RefreshToken, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) AddAccountScore(ctx context.Context, accountID string, delta int) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE accounts SET score=score+? WHERE account_id=?`, delta, accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Leaderboard aggregates funding and completion counts per opted-in account.
func (r Repo) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT acc.account_id, acc.name, COALESCE(acc.country,''), COALESCE(acc.donation_link,''),
			COALESCE(SUM(a.funding_cents),0) AS funding_cents,
			COUNT(a.envelope_id) AS agreements,
			(SELECT COUNT(*) FROM compliance_forms f JOIN agreements ag ON ag.envelope_id=f.envelope_id
				WHERE ag.account_id=acc.account_id AND f.filled_at IS NOT NULL) AS completed_forms,
			acc.score
		FROM accounts acc
		LEFT JOIN agreements a ON a.account_id=acc.account_id
		WHERE acc.include_in_leaderboard=1
		GROUP BY acc.account_id
		ORDER BY funding_cents DESC, acc.score DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.AccountID, &e.Name, &e.Country, &e.DonationLink, &e.FundingCents, &e.Agreements, &e.CompletedForms, &e.Score); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
