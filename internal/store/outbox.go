package store

import "time"

// QueueOutbox adds an outbound message to the send outbox.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, account_id, conversation_id, recipient_id,
			body, is_group, attachment_kind, attachment_ref, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'queued', ?, ?)`,
		e.ClientMsgID, e.AccountID, e.ConversationID, e.RecipientID,
		e.Body, e.IsGroup, e.AttachmentKind, e.AttachmentRef, now, now)
	return err
}

// MarkOutboxSending moves an entry to 'sending'.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, OutboxSending, "")
}

// MarkOutboxSent moves an entry to 'sent'.
func (db *DB) MarkOutboxSent(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, OutboxSent, "")
}

// MarkOutboxFailed moves an entry to 'failed' with a diagnostic.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	return db.setOutboxStatus(clientMsgID, OutboxFailed, errMsg)
}

// DeferOutbox moves a 'sending' entry back to 'queued'. Used when the
// channel turns out to be offline mid-drain; delivery resumes on reconnect.
func (db *DB) DeferOutbox(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET status = 'queued', updated_at = ?
		WHERE client_msg_id = ? AND status = 'sending'`, now, clientMsgID)
	return err
}

// RequeueOutbox moves a failed entry back to 'queued' for an explicit retry.
func (db *DB) RequeueOutbox(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET status = 'queued', error_message = '', updated_at = ?
		WHERE client_msg_id = ? AND status = 'failed'`, now, clientMsgID)
	return err
}

func (db *DB) setOutboxStatus(clientMsgID, status, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET status = ?, error_message = ?, updated_at = ?
		WHERE client_msg_id = ?`, status, errMsg, now, clientMsgID)
	return err
}

// PendingOutbox returns queued entries for an account in FIFO order.
func (db *DB) PendingOutbox(accountID string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT client_msg_id, account_id, conversation_id, recipient_id, body,
			is_group, attachment_kind, attachment_ref, status, error_message
		FROM outbox
		WHERE account_id = ? AND status = 'queued'
		ORDER BY created_at ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ClientMsgID, &e.AccountID, &e.ConversationID,
			&e.RecipientID, &e.Body, &e.IsGroup, &e.AttachmentKind, &e.AttachmentRef,
			&e.Status, &e.ErrorMessage); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
