package repo

import (
	"database/sql"
	"time"
)

// UpdateCheckpoint updates a sync checkpoint value. Checkpoints are opaque
// watermark strings keyed by name.
func (e *Engine) UpdateCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := e.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value, empty if never set.
func (e *Engine) GetCheckpoint(key string) (string, error) {
	var value string
	err := e.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
