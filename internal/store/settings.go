package store

import "database/sql"

// Well-known settings keys.
const (
	SettingLanguage = "language"
	SettingTheme    = "theme"
)

// SetSetting stores a per-account settings value.
func (db *DB) SetSetting(accountID, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (account_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(account_id, key) DO UPDATE SET value = excluded.value`,
		accountID, key, value)
	return err
}

// GetSetting returns a settings value, or fallback if unset.
func (db *DB) GetSetting(accountID, key, fallback string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE account_id = ? AND key = ?`,
		accountID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetArchived adds or removes a conversation from the account's archive set.
func (db *DB) SetArchived(accountID, conversationID string, archived bool) error {
	if archived {
		_, err := db.Exec(`
			INSERT INTO archived (account_id, conversation_id) VALUES (?, ?)
			ON CONFLICT(account_id, conversation_id) DO NOTHING`,
			accountID, conversationID)
		return err
	}
	_, err := db.Exec(`DELETE FROM archived WHERE account_id = ? AND conversation_id = ?`,
		accountID, conversationID)
	return err
}

// IsArchived reports whether a conversation is archived for the account.
func (db *DB) IsArchived(accountID, conversationID string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM archived
		WHERE account_id = ? AND conversation_id = ?`,
		accountID, conversationID).Scan(&n)
	return n > 0, err
}

// ListArchived returns the account's archived conversation ids.
func (db *DB) ListArchived(accountID string) ([]string, error) {
	rows, err := db.Query(`SELECT conversation_id FROM archived WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
