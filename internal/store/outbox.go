package store

import (
	"database/sql"
	"time"
)

// QueueOutbox journals a new send attempt as queued.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (temp_id, conversation_id, body, media_count, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.TempID, e.ConversationID, e.Body, e.MediaCount, OutboxQueued, now, now)
	return err
}

// MarkOutboxSending records that the backend call has been issued.
func (db *DB) MarkOutboxSending(tempID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE temp_id = ?`, OutboxSending, now, tempID)
	return err
}

// MarkOutboxSent records the server id that replaced tempID.
func (db *DB) MarkOutboxSent(tempID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = ?, server_msg_id = ?, updated_at = ? WHERE temp_id = ?`,
		OutboxSent, serverMsgID, now, tempID)
	return err
}

// MarkOutboxFailed records a failed send with its classification.
func (db *DB) MarkOutboxFailed(tempID, failure, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = ?, failure = ?, error_message = ?, updated_at = ? WHERE temp_id = ?`,
		OutboxFailed, failure, errMsg, now, tempID)
	return err
}

// PendingOutbox returns entries that never reached a final status.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT temp_id, conversation_id, body, media_count, status, failure, error_message, server_msg_id, created_at, updated_at
		FROM outbox WHERE status IN (?, ?) ORDER BY created_at ASC`, OutboxQueued, OutboxSending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.TempID, &e.ConversationID, &e.Body, &e.MediaCount, &e.Status,
			&e.Failure, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetOutbox returns one entry, or nil when tempID is unknown.
func (db *DB) GetOutbox(tempID string) (*OutboxEntry, error) {
	var e OutboxEntry
	err := db.QueryRow(`
		SELECT temp_id, conversation_id, body, media_count, status, failure, error_message, server_msg_id, created_at, updated_at
		FROM outbox WHERE temp_id = ?`, tempID).
		Scan(&e.TempID, &e.ConversationID, &e.Body, &e.MediaCount, &e.Status,
			&e.Failure, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FailInterrupted marks every unfinished entry as failed with failure and
// returns the affected temp ids. Run once at startup: a send that was in
// flight when the previous process died has an unknown outcome.
func (db *DB) FailInterrupted(failure, errMsg string) ([]OutboxEntry, error) {
	pending, err := db.PendingOutbox()
	if err != nil {
		return nil, err
	}
	for i := range pending {
		if err := db.MarkOutboxFailed(pending[i].TempID, failure, errMsg); err != nil {
			return nil, err
		}
		pending[i].Status = OutboxFailed
		pending[i].Failure = failure
		pending[i].ErrorMessage = errMsg
	}
	return pending, nil
}
