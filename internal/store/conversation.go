package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertConversation inserts or updates a conversation row. The last-message
// columns only move forward: an older snippet never overwrites a newer one.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, last_message_preview, last_message_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		c.ID, c.LastMessagePreview, c.LastMessageAt, now)
	return err
}

// InsertConversationWithParticipants creates a conversation together with its
// participant profiles and join rows in one transaction, so no partial state
// is ever visible.
func (db *DB) InsertConversationWithParticipants(c *Conversation, participants []Participant) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO conversations (id, last_message_preview, last_message_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		c.ID, c.LastMessagePreview, c.LastMessageAt, now); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, p := range participants {
		if _, err := tx.Exec(`
			INSERT INTO participants (user_id, display_name, avatar_url, online, last_seen_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE participants.display_name END,
				avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE participants.avatar_url END,
				updated_at = excluded.updated_at`,
			p.UserID, p.DisplayName, p.AvatarURL, p.Online, p.LastSeenAt, now); err != nil {
			return fmt.Errorf("insert participant %q: %w", p.UserID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES (?, ?)
			ON CONFLICT(conversation_id, user_id) DO NOTHING`,
			c.ID, p.UserID); err != nil {
			return fmt.Errorf("insert membership %q: %w", p.UserID, err)
		}
	}

	return tx.Commit()
}

// GetConversation returns a single conversation by id.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, last_message_preview, last_message_at, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.LastMessagePreview, &c.LastMessageAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns conversations sorted by last message timestamp descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, last_message_preview, last_message_at, updated_at
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.LastMessagePreview, &c.LastMessageAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ListMemberships returns the join rows for a conversation.
func (db *DB) ListMemberships(conversationID string) ([]Membership, error) {
	rows, err := db.Query(`
		SELECT conversation_id, user_id, unread_count, last_read_at
		FROM conversation_participants WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ConversationID, &m.UserID, &m.UnreadCount, &m.LastReadAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// IncrementUnread bumps the unread counter for one participant of a conversation.
// The join row is created if the participant was not yet a member.
func (db *DB) IncrementUnread(conversationID, userID string) error {
	_, err := db.Exec(`
		INSERT INTO conversation_participants (conversation_id, user_id, unread_count)
		VALUES (?, ?, 1)
		ON CONFLICT(conversation_id, user_id) DO UPDATE SET
			unread_count = conversation_participants.unread_count + 1`,
		conversationID, userID)
	return err
}

// ResetUnread zeroes the unread counter for one participant and records the
// read watermark.
func (db *DB) ResetUnread(conversationID, userID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversation_participants (conversation_id, user_id, unread_count, last_read_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(conversation_id, user_id) DO UPDATE SET
			unread_count = 0,
			last_read_at = excluded.last_read_at`,
		conversationID, userID, now)
	return err
}

// UnreadCount returns the unread counter for one participant of a conversation.
func (db *DB) UnreadCount(conversationID, userID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT unread_count FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?`, conversationID, userID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}
