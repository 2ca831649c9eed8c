package store

import (
	"database/sql"
	"time"
)

// UpsertParticipant inserts or updates a participant profile. Empty incoming
// fields never blank out a previously cached value.
func (db *DB) UpsertParticipant(p *Participant) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO participants (user_id, display_name, avatar_url, online, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE participants.display_name END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE participants.avatar_url END,
			online = excluded.online,
			last_seen_at = MAX(participants.last_seen_at, excluded.last_seen_at),
			updated_at = excluded.updated_at`,
		p.UserID, p.DisplayName, p.AvatarURL, p.Online, p.LastSeenAt, now)
	return err
}

// SetPresence applies a last-writer-wins presence update for a user.
func (db *DB) SetPresence(userID string, online bool, lastSeenAt int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO participants (user_id, online, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			online = excluded.online,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at`,
		userID, online, lastSeenAt, now)
	return err
}

// GetParticipant returns a participant by user id.
func (db *DB) GetParticipant(userID string) (*Participant, error) {
	var p Participant
	err := db.QueryRow(`
		SELECT user_id, display_name, avatar_url, online, last_seen_at
		FROM participants WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.DisplayName, &p.AvatarURL, &p.Online, &p.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
