package store

import (
	"database/sql"
	"time"
)

// AppendMessage inserts a message (idempotent on conversation + msg id).
// A re-delivered message refreshes body and sender name but never
// downgrades a 'read' status.
func (db *DB) AppendMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, sender_name, body,
			direction, status, attachment_kind, attachment_ref, file_name, file_size,
			duration, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			body = excluded.body,
			status = CASE WHEN messages.status = 'read' THEN 'read' ELSE excluded.status END`,
		m.ConversationID, m.MsgID, m.SenderID, m.SenderName, m.Body,
		m.Direction, m.Status, m.AttachmentKind, m.AttachmentRef, m.FileName,
		m.FileSize, m.Duration, m.Timestamp, now)
	return err
}

// ListMessages returns a conversation's messages in chronological order.
func (db *DB) ListMessages(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT conversation_id, msg_id, sender_id, sender_name, body, direction,
			status, attachment_kind, attachment_ref, file_name, file_size, duration, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ConversationID, &m.MsgID, &m.SenderID, &m.SenderName,
			&m.Body, &m.Direction, &m.Status, &m.AttachmentKind, &m.AttachmentRef,
			&m.FileName, &m.FileSize, &m.Duration, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage fetches one message, or nil when absent.
func (db *DB) GetMessage(conversationID, msgID string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT conversation_id, msg_id, sender_id, sender_name, body, direction,
			status, attachment_kind, attachment_ref, file_name, file_size, duration, timestamp
		FROM messages
		WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID).
		Scan(&m.ConversationID, &m.MsgID, &m.SenderID, &m.SenderName,
			&m.Body, &m.Direction, &m.Status, &m.AttachmentKind, &m.AttachmentRef,
			&m.FileName, &m.FileSize, &m.Duration, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SetMessageStatus transitions a message's delivery status. 'read' is
// terminal: a read message keeps its status regardless of the input.
func (db *DB) SetMessageStatus(conversationID, msgID, status string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND msg_id = ? AND status != 'read'`,
		status, conversationID, msgID)
	return err
}

// MarkMessagesRead marks the given message ids read in one statement.
func (db *DB) MarkMessagesRead(conversationID string, msgIDs []string) error {
	if len(msgIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(msgIDs)+1)
	args = append(args, conversationID)
	placeholders := ""
	for i, id := range msgIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}
	_, err := db.Exec(`
		UPDATE messages SET status = 'read'
		WHERE conversation_id = ? AND msg_id IN (`+placeholders+`)`, args...)
	return err
}

// UnreadPeerMessageIDs returns ids of counterpart messages not yet read,
// in chronological order.
func (db *DB) UnreadPeerMessageIDs(conversationID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT msg_id FROM messages
		WHERE conversation_id = ? AND direction = 'peer' AND status != 'read'
		ORDER BY timestamp ASC`, conversationID)
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
