package store

import (
	"fmt"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id). Re-delivery of a feed event for a message that
// is already present degrades to a metadata update.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, content, attachment_type, attachment_url, attachment_name, attachment_size, is_read, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			content = excluded.content,
			is_read = excluded.is_read,
			status = excluded.status,
			timestamp = excluded.timestamp`,
		m.ConversationID, m.MsgID, m.SenderID, m.Content,
		m.AttachmentType, m.AttachmentURL, m.AttachmentName, m.AttachmentSize,
		m.IsRead, m.Status, m.Timestamp, now)
	return err
}

// HasMessage reports whether a message is already cached.
func (db *DB) HasMessage(conversationID, msgID string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(1) FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID).Scan(&n)
	return n > 0, err
}

// DeleteMessage removes a message. Used to roll back optimistic sends.
func (db *DB) DeleteMessage(conversationID, msgID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID)
	return err
}

// ReplaceMessage swaps a provisional message for its authoritative server
// record in one transaction. The provisional row is removed and the server
// row upserted; identity is the provisional id captured at queue time.
func (db *DB) ReplaceMessage(conversationID, provisionalID string, authoritative *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, provisionalID); err != nil {
		return fmt.Errorf("delete provisional: %w", err)
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, content, attachment_type, attachment_url, attachment_name, attachment_size, is_read, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			content = excluded.content,
			is_read = excluded.is_read,
			status = excluded.status,
			timestamp = excluded.timestamp`,
		authoritative.ConversationID, authoritative.MsgID, authoritative.SenderID, authoritative.Content,
		authoritative.AttachmentType, authoritative.AttachmentURL, authoritative.AttachmentName, authoritative.AttachmentSize,
		authoritative.IsRead, authoritative.Status, authoritative.Timestamp, now); err != nil {
		return fmt.Errorf("insert authoritative: %w", err)
	}

	return tx.Commit()
}

// ListMessages returns messages for a conversation using keyset pagination
// by timestamp, newest page first. Callers re-sort with the timeline engine
// for display.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, content, attachment_type, attachment_url, attachment_name, attachment_size, is_read, status, timestamp
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Content,
			&m.AttachmentType, &m.AttachmentURL, &m.AttachmentName, &m.AttachmentSize,
			&m.IsRead, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
