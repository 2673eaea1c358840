package relay

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"courier/internal/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	username          TEXT NOT NULL UNIQUE,
	display_name      TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	bio               TEXT NOT NULL DEFAULT '',
	avatar_color      TEXT NOT NULL DEFAULT '',
	is_premium        INTEGER NOT NULL DEFAULT 0,
	is_admin          INTEGER NOT NULL DEFAULT 0,
	is_bot            INTEGER NOT NULL DEFAULT 0,
	privacy_phone     TEXT NOT NULL DEFAULT 'everybody',
	privacy_last_seen TEXT NOT NULL DEFAULT 'everybody',
	privacy_bio       TEXT NOT NULL DEFAULT 'everybody',
	created_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	sender_name     TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL,
	is_group        INTEGER NOT NULL DEFAULT 0,
	attachment_kind TEXT NOT NULL DEFAULT '',
	attachment_ref  TEXT NOT NULL DEFAULT '',
	file_name       TEXT NOT NULL DEFAULT '',
	file_size       INTEGER NOT NULL DEFAULT 0,
	duration        INTEGER NOT NULL DEFAULT 0,
	timestamp       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS promo_redemptions (
	user_id     TEXT NOT NULL,
	code        TEXT NOT NULL,
	redeemed_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, code)
);
`

// Store is the relay's persistence layer. Identities survive restarts so
// usernames stay claimed, and the full message log backs the admin export.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and initializes) the relay database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open relay db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init relay schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveUser inserts or replaces an identity.
func (s *Store) SaveUser(p wire.Profile) error {
	_, err := s.db.Exec(`
		INSERT INTO users (id, username, display_name, phone, bio, avatar_color,
			is_premium, is_admin, is_bot, privacy_phone, privacy_last_seen, privacy_bio, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			phone = excluded.phone,
			bio = excluded.bio,
			avatar_color = excluded.avatar_color,
			is_premium = excluded.is_premium,
			is_admin = excluded.is_admin,
			is_bot = excluded.is_bot,
			privacy_phone = excluded.privacy_phone,
			privacy_last_seen = excluded.privacy_last_seen,
			privacy_bio = excluded.privacy_bio`,
		p.ID, p.Username, p.DisplayName, p.Phone, p.Bio, p.AvatarColor,
		p.IsPremium, p.IsAdmin, p.IsBot,
		p.Privacy.Phone, p.Privacy.LastSeen, p.Privacy.Bio, time.Now().UnixMilli())
	return err
}

const userColumns = `id, username, display_name, phone, bio, avatar_color,
	is_premium, is_admin, is_bot, privacy_phone, privacy_last_seen, privacy_bio`

func scanUser(row *sql.Row) (*wire.Profile, error) {
	var p wire.Profile
	err := row.Scan(&p.ID, &p.Username, &p.DisplayName, &p.Phone, &p.Bio, &p.AvatarColor,
		&p.IsPremium, &p.IsAdmin, &p.IsBot,
		&p.Privacy.Phone, &p.Privacy.LastSeen, &p.Privacy.Bio)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetUser fetches an identity by id, or nil.
func (s *Store) GetUser(id string) (*wire.Profile, error) {
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByUsername fetches an identity by username, or nil.
func (s *Store) GetUserByUsername(username string) (*wire.Profile, error) {
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

// ListUsers returns every identity in registration order.
func (s *Store) ListUsers() ([]wire.Profile, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []wire.Profile
	for rows.Next() {
		var p wire.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName, &p.Phone, &p.Bio, &p.AvatarColor,
			&p.IsPremium, &p.IsAdmin, &p.IsBot,
			&p.Privacy.Phone, &p.Privacy.LastSeen, &p.Privacy.Bio); err != nil {
			return nil, err
		}
		users = append(users, p)
	}
	return users, rows.Err()
}

// SetPremium flips the premium flag on an identity.
func (s *Store) SetPremium(id string, premium bool) error {
	_, err := s.db.Exec(`UPDATE users SET is_premium = ? WHERE id = ?`, premium, id)
	return err
}

// SaveMessage appends a message to the relay log (idempotent by id).
func (s *Store) SaveMessage(m wire.Message) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO messages (id, conversation_id, sender_id, sender_name, body,
			is_group, attachment_kind, attachment_ref, file_name, file_size, duration, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.SenderName, m.Body,
		m.IsGroup, m.AttachmentKind, m.AttachmentRef, m.FileName, m.FileSize, m.Duration, m.Timestamp)
	return err
}

// AllMessages returns the full message log in chronological order.
func (s *Store) AllMessages() ([]wire.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, sender_id, sender_name, body, is_group,
			attachment_kind, attachment_ref, file_name, file_size, duration, timestamp
		FROM messages ORDER BY timestamp ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []wire.Message
	for rows.Next() {
		var m wire.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Body,
			&m.IsGroup, &m.AttachmentKind, &m.AttachmentRef, &m.FileName, &m.FileSize,
			&m.Duration, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RedeemCode records a redemption. Returns false when this user already
// used this code; each code works once per user.
func (s *Store) RedeemCode(userID, code string) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO promo_redemptions (user_id, code, redeemed_at)
		VALUES (?, ?, ?)`, userID, code, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
