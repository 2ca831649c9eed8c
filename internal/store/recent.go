package store

import "time"

// RebuildRecentChat recomputes the denormalized recent-chats row for the
// conversation partner of localUserID in the given conversation. The row
// duplicates the conversation snippet and the local user's unread counter so
// the conversation list renders without joining the participant graph.
func (db *DB) RebuildRecentChat(conversationID, localUserID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO recent_chats (partner_id, conversation_id, partner_name, partner_avatar_url, last_message, last_message_at, unread_count, updated_at)
		SELECT cp.user_id,
		       c.id,
		       COALESCE(p.display_name, ''),
		       COALESCE(p.avatar_url, ''),
		       c.last_message_preview,
		       c.last_message_at,
		       COALESCE((SELECT unread_count FROM conversation_participants
		                 WHERE conversation_id = c.id AND user_id = ?), 0),
		       ?
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id AND cp.user_id != ?
		LEFT JOIN participants p ON p.user_id = cp.user_id
		WHERE c.id = ?
		ON CONFLICT(partner_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			partner_name = excluded.partner_name,
			partner_avatar_url = excluded.partner_avatar_url,
			last_message = excluded.last_message,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		localUserID, now, localUserID, conversationID)
	return err
}

// ListRecentChats returns the recent-chat projection ordered by last message
// timestamp descending.
func (db *DB) ListRecentChats(limit int) ([]RecentChat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT partner_id, conversation_id, partner_name, partner_avatar_url, last_message, last_message_at, unread_count
		FROM recent_chats
		ORDER BY last_message_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recents []RecentChat
	for rows.Next() {
		var r RecentChat
		if err := rows.Scan(&r.PartnerID, &r.ConversationID, &r.PartnerName, &r.PartnerAvatarURL,
			&r.LastMessage, &r.LastMessageAt, &r.UnreadCount); err != nil {
			return nil, err
		}
		recents = append(recents, r)
	}
	return recents, rows.Err()
}
