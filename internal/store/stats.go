package store

import "database/sql"

// Stats returns row counts of the cache.
func (db *DB) Stats() (Stats, error) {
	var s Stats
	err := db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM outbox WHERE status IN (?, ?))`,
		OutboxQueued, OutboxSending).
		Scan(&s.Conversations, &s.Messages, &s.PendingSends)
	return s, err
}

// SetSyncState stores a sync checkpoint.
func (db *DB) SetSyncState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, strftime('%s','now') * 1000)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	return err
}

// SyncState reads a sync checkpoint. A missing key yields "" and no error.
func (db *DB) SyncState(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
