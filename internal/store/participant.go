package store

import "fmt"

// ReplaceParticipants overwrites the cached participant set for a
// conversation in one transaction.
func (db *DB) ReplaceParticipants(conversationID string, userIDs []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM participants WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	for _, uid := range userIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO participants (conversation_id, user_id) VALUES (?, ?)`, conversationID, uid); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	return tx.Commit()
}

// AddParticipants adds users to a conversation's cached participant set.
func (db *DB) AddParticipants(conversationID string, userIDs []string) error {
	for _, uid := range userIDs {
		if _, err := db.Exec(`INSERT OR IGNORE INTO participants (conversation_id, user_id) VALUES (?, ?)`, conversationID, uid); err != nil {
			return err
		}
	}
	return nil
}

// RemoveParticipant removes one user from a conversation's cached set.
func (db *DB) RemoveParticipant(conversationID, userID string) error {
	_, err := db.Exec(`DELETE FROM participants WHERE conversation_id = ? AND user_id = ?`, conversationID, userID)
	return err
}

// ListParticipantIDs returns the user ids participating in a conversation.
func (db *DB) ListParticipantIDs(conversationID string) ([]string, error) {
	rows, err := db.Query(`SELECT user_id FROM participants WHERE conversation_id = ? ORDER BY user_id`, conversationID)
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

// ListParticipants returns the participants joined against the user
// directory; unknown users come back with only the id set.
func (db *DB) ListParticipants(conversationID string) ([]User, error) {
	rows, err := db.Query(`
		SELECT p.user_id, COALESCE(u.name, ''), COALESCE(u.avatar, ''), COALESCE(u.status, '')
		FROM participants p
		LEFT JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ?
		ORDER BY p.user_id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Avatar, &u.Status); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// IsParticipant reports whether a user belongs to a conversation.
func (db *DB) IsParticipant(conversationID, userID string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(1) FROM participants WHERE conversation_id = ? AND user_id = ?`, conversationID, userID).Scan(&n)
	return n > 0, err
}
