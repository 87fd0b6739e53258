package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, name, avatar, label, is_group, created_at, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			avatar = excluded.avatar,
			label = excluded.label,
			is_group = excluded.is_group,
			created_at = excluded.created_at,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Avatar, c.Label, c.IsGroup, c.CreatedAt, c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// TouchConversation advances the cached last-message pointer. An older
// timestamp than the current one is ignored, so out-of-order feed delivery
// cannot move a conversation backwards.
func (db *DB) TouchConversation(id string, ts int64, preview string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations SET
			last_message_at = MAX(last_message_at, ?),
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			updated_at = ?
		WHERE id = ?`,
		ts, ts, preview, now, id)
	return err
}

// SetConversationGroup updates the cached group flag. The flag is derived
// from the participant count, so it moves whenever participants do.
func (db *DB) SetConversationGroup(id string, isGroup bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET is_group = ?, updated_at = ? WHERE id = ?`, isGroup, now, id)
	return err
}

// SetConversationLabel updates the cached label.
func (db *DB) SetConversationLabel(id, lbl string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET label = ?, updated_at = ? WHERE id = ?`, lbl, now, id)
	return err
}

// ListConversations returns all cached conversations ordered by last message
// timestamp descending; conversations without messages come last, newest
// created first. This is the seed order for the ranking tracker, which owns
// display order afterwards.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT id, name, avatar, label, is_group, created_at, last_message_at, last_message_preview
		FROM conversations
		ORDER BY last_message_at DESC, created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Name, &c.Avatar, &c.Label, &c.IsGroup, &c.CreatedAt, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil if not cached.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, name, avatar, label, is_group, created_at, last_message_at, last_message_preview
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Avatar, &c.Label, &c.IsGroup, &c.CreatedAt, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
