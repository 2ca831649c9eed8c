package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on conversation_id + msg_id).
// The caller decides the status it writes; see MergeStatus for precedence.
func (db *DB) UpsertMessage(m *Message) error {
	meta, err := marshalMetadata(m.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, content, message_type, status, timestamp, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			content = excluded.content,
			message_type = excluded.message_type,
			status = excluded.status,
			metadata = excluded.metadata`,
		m.ConversationID, m.MsgID, m.SenderID, m.Content, m.MessageType, m.Status, m.Timestamp, meta, now)
	return err
}

// GetMessage returns a message by conversation and message id.
func (db *DB) GetMessage(conversationID, msgID string) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, conversation_id, msg_id, sender_id, content, message_type, status, timestamp, metadata
		FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID)
	return scanMessage(row)
}

// FindMessageByID returns a message by message id alone, for status updates
// that do not carry the conversation id.
func (db *DB) FindMessageByID(msgID string) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, conversation_id, msg_id, sender_id, content, message_type, status, timestamp, metadata
		FROM messages WHERE msg_id = ? LIMIT 1`, msgID)
	return scanMessage(row)
}

// ListMessages returns all messages of a conversation ordered by timestamp
// ascending, regardless of insertion order.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, content, message_type, status, timestamp, metadata
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// SetMessageStatus overwrites the status of a message row.
func (db *DB) SetMessageStatus(conversationID, msgID, status string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ? WHERE conversation_id = ? AND msg_id = ?`,
		status, conversationID, msgID)
	return err
}

// FindOutstandingLocal looks for an optimistic locally-written row (temp id,
// not yet confirmed) matching an inbound echo of our own message: same
// conversation, same sender, same content, timestamp within the given window.
func (db *DB) FindOutstandingLocal(conversationID, senderID, content string, fromTs, toTs int64) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, conversation_id, msg_id, sender_id, content, message_type, status, timestamp, metadata
		FROM messages
		WHERE conversation_id = ? AND sender_id = ? AND content = ?
		  AND status IN (?, ?)
		  AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC
		LIMIT 1`,
		conversationID, senderID, content, StatusPending, StatusSent, fromTs, toTs)
	return scanMessage(row)
}

// ReplaceMessageID supersedes a temp-id row with the server-issued id. The
// caller must ensure no row with the new id already exists in the conversation.
func (db *DB) ReplaceMessageID(conversationID, oldMsgID, newMsgID, status string, timestamp int64) error {
	_, err := db.Exec(`
		UPDATE messages SET msg_id = ?, status = ?, timestamp = ?
		WHERE conversation_id = ? AND msg_id = ?`,
		newMsgID, status, timestamp, conversationID, oldMsgID)
	return err
}

// LatestMessageTimestamp returns the most recent known message timestamp, or
// zero when the store is empty. Used as the catch-up sync checkpoint.
func (db *DB) LatestMessageTimestamp() (int64, error) {
	var ts sql.NullInt64
	err := db.QueryRow(`SELECT MAX(timestamp) FROM messages`).Scan(&ts)
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row *sql.Row) (*Message, error) {
	m, err := scanMessageRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func scanMessageRow(row rowScanner) (*Message, error) {
	var m Message
	var meta string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Content,
		&m.MessageType, &m.Status, &m.Timestamp, &meta); err != nil {
		return nil, err
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func marshalMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
