package store

import (
	"database/sql"
	"time"
)

// UpsertAccount inserts or updates an account record.
func (db *DB) UpsertAccount(a *Account) error {
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO accounts (id, username, display_name, phone, bio, avatar_color,
			is_premium, is_admin, phone_privacy, last_seen_privacy, bio_privacy,
			registered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			phone = excluded.phone,
			bio = excluded.bio,
			avatar_color = excluded.avatar_color,
			is_premium = excluded.is_premium,
			is_admin = excluded.is_admin,
			phone_privacy = excluded.phone_privacy,
			last_seen_privacy = excluded.last_seen_privacy,
			bio_privacy = excluded.bio_privacy,
			registered = excluded.registered`,
		a.ID, a.Username, a.DisplayName, a.Phone, a.Bio, a.AvatarColor,
		a.IsPremium, a.IsAdmin, a.PhonePrivacy, a.LastSeenPrivacy, a.BioPrivacy,
		a.Registered, a.CreatedAt)
	return err
}

const accountColumns = `id, username, display_name, phone, bio, avatar_color,
	is_premium, is_admin, phone_privacy, last_seen_privacy, bio_privacy,
	registered, created_at`

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Username, &a.DisplayName, &a.Phone, &a.Bio,
		&a.AvatarColor, &a.IsPremium, &a.IsAdmin, &a.PhonePrivacy,
		&a.LastSeenPrivacy, &a.BioPrivacy, &a.Registered, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount returns an account by id, or nil if absent.
func (db *DB) GetAccount(id string) (*Account, error) {
	return scanAccount(db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
}

// GetAccountByUsername returns an account by username, or nil if absent.
func (db *DB) GetAccountByUsername(username string) (*Account, error) {
	return scanAccount(db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username))
}

// ListAccounts returns all locally registered accounts in creation order.
func (db *DB) ListAccounts() ([]Account, error) {
	rows, err := db.Query(`SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Username, &a.DisplayName, &a.Phone, &a.Bio,
			&a.AvatarColor, &a.IsPremium, &a.IsAdmin, &a.PhonePrivacy,
			&a.LastSeenPrivacy, &a.BioPrivacy, &a.Registered, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// MarkRegistered flags an account as past onboarding.
func (db *DB) MarkRegistered(id string) error {
	_, err := db.Exec(`UPDATE accounts SET registered = 1 WHERE id = ?`, id)
	return err
}

// SetPremium sets the premium flag on an account.
func (db *DB) SetPremium(id string, premium bool) error {
	_, err := db.Exec(`UPDATE accounts SET is_premium = ? WHERE id = ?`, premium, id)
	return err
}
