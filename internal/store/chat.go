package store

import (
	"database/sql"
	"strings"
)

const chatColumns = `account_id, conversation_id, name, avatar_color, last_message,
	last_sender, last_activity, unread_count, online, is_bot, is_group, username,
	bio, member_ids, member_count, is_group_admin, muted`

// InsertChatFront inserts a chat at the top of the account's list.
// Existing chats keep their relative order. No-op if the chat exists.
func (db *DB) InsertChatFront(c *Chat) error {
	return db.insertChat(c, true)
}

// InsertChatBack appends a chat after all existing chats. No-op if the
// chat exists.
func (db *DB) InsertChatBack(c *Chat) error {
	return db.insertChat(c, false)
}

func (db *DB) insertChat(c *Chat, front bool) error {
	pos := `COALESCE((SELECT MAX(position) FROM chats WHERE account_id = ?), 0) + 1`
	if front {
		pos = `COALESCE((SELECT MIN(position) FROM chats WHERE account_id = ?), 0) - 1`
	}
	_, err := db.Exec(`
		INSERT INTO chats (`+chatColumns+`, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, (`+pos+`))
		ON CONFLICT(account_id, conversation_id) DO NOTHING`,
		c.AccountID, c.ConversationID, c.Name, c.AvatarColor, c.LastMessage,
		c.LastSender, c.LastActivity, c.UnreadCount, c.Online, c.IsBot, c.IsGroup,
		c.Username, c.Bio, joinIDs(c.MemberIDs), c.MemberCount, c.IsGroupAdmin,
		c.Muted, c.AccountID)
	return err
}

// MoveChatToFront reorders an existing chat to the top of the list.
func (db *DB) MoveChatToFront(accountID, conversationID string) error {
	_, err := db.Exec(`
		UPDATE chats
		SET position = (SELECT COALESCE(MIN(position), 0) - 1 FROM chats WHERE account_id = ?)
		WHERE account_id = ? AND conversation_id = ?`,
		accountID, accountID, conversationID)
	return err
}

// UpdateChatPreview refreshes the last-message summary of a chat.
func (db *DB) UpdateChatPreview(accountID, conversationID, lastMessage, lastSender string, lastActivity int64) error {
	_, err := db.Exec(`
		UPDATE chats SET last_message = ?, last_sender = ?, last_activity = ?
		WHERE account_id = ? AND conversation_id = ?`,
		lastMessage, lastSender, lastActivity, accountID, conversationID)
	return err
}

// UpdateChatIdentity refreshes display metadata after a profile update.
func (db *DB) UpdateChatIdentity(accountID, conversationID, name, avatarColor, bio string) error {
	_, err := db.Exec(`
		UPDATE chats SET name = ?, avatar_color = ?, bio = ?
		WHERE account_id = ? AND conversation_id = ?`,
		name, avatarColor, bio, accountID, conversationID)
	return err
}

// IncrementUnread bumps a chat's unread counter by one.
func (db *DB) IncrementUnread(accountID, conversationID string) error {
	_, err := db.Exec(`
		UPDATE chats SET unread_count = unread_count + 1
		WHERE account_id = ? AND conversation_id = ?`,
		accountID, conversationID)
	return err
}

// ResetUnread zeroes a chat's unread counter.
func (db *DB) ResetUnread(accountID, conversationID string) error {
	_, err := db.Exec(`
		UPDATE chats SET unread_count = 0
		WHERE account_id = ? AND conversation_id = ?`,
		accountID, conversationID)
	return err
}

// SetChatOnline updates the online flag of a chat.
func (db *DB) SetChatOnline(accountID, conversationID string, online bool) error {
	_, err := db.Exec(`
		UPDATE chats SET online = ?
		WHERE account_id = ? AND conversation_id = ?`,
		online, accountID, conversationID)
	return err
}

// SetChatMuted updates the mute flag of a chat.
func (db *DB) SetChatMuted(accountID, conversationID string, muted bool) error {
	_, err := db.Exec(`
		UPDATE chats SET muted = ?
		WHERE account_id = ? AND conversation_id = ?`,
		muted, accountID, conversationID)
	return err
}

// GetChat returns a single chat, or nil if absent.
func (db *DB) GetChat(accountID, conversationID string) (*Chat, error) {
	row := db.QueryRow(`
		SELECT `+chatColumns+` FROM chats
		WHERE account_id = ? AND conversation_id = ?`,
		accountID, conversationID)
	var c Chat
	var members string
	err := row.Scan(&c.AccountID, &c.ConversationID, &c.Name, &c.AvatarColor,
		&c.LastMessage, &c.LastSender, &c.LastActivity, &c.UnreadCount, &c.Online,
		&c.IsBot, &c.IsGroup, &c.Username, &c.Bio, &members, &c.MemberCount,
		&c.IsGroupAdmin, &c.Muted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.MemberIDs = splitIDs(members)
	return &c, nil
}

// ListChats returns an account's chat list in display order (front first).
func (db *DB) ListChats(accountID string) ([]Chat, error) {
	rows, err := db.Query(`
		SELECT `+chatColumns+` FROM chats
		WHERE account_id = ?
		ORDER BY position ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		var members string
		if err := rows.Scan(&c.AccountID, &c.ConversationID, &c.Name, &c.AvatarColor,
			&c.LastMessage, &c.LastSender, &c.LastActivity, &c.UnreadCount, &c.Online,
			&c.IsBot, &c.IsGroup, &c.Username, &c.Bio, &members, &c.MemberCount,
			&c.IsGroupAdmin, &c.Muted); err != nil {
			return nil, err
		}
		c.MemberIDs = splitIDs(members)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// DeleteChat removes a chat, its messages and its archive entry.
func (db *DB) DeleteChat(accountID, conversationID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM chats WHERE account_id = ? AND conversation_id = ?`,
		accountID, conversationID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM archived WHERE account_id = ? AND conversation_id = ?`,
		accountID, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
