package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/parley/internal/chat"
)

// replaceMessages rewrites the message list of c, keeping list order in seq.
func replaceMessages(tx *sql.Tx, c chat.Conversation) error {
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, string(c.ID)); err != nil {
		return fmt.Errorf("clear messages of %q: %w", c.ID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (conversation_id, msg_id, seq, sender_id, body, medias, sent_at, delivered_to, seen_by, sent, error, failure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			seq = excluded.seq,
			body = excluded.body,
			sent = excluded.sent,
			error = excluded.error,
			failure = excluded.failure`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, m := range c.Messages {
		medias, err := json.Marshal(nonNil(m.Medias))
		if err != nil {
			return fmt.Errorf("encode medias: %w", err)
		}
		delivered, err := json.Marshal(nonNil(m.DeliveredTo))
		if err != nil {
			return fmt.Errorf("encode receipts: %w", err)
		}
		seen, err := json.Marshal(nonNil(m.SeenBy))
		if err != nil {
			return fmt.Errorf("encode receipts: %w", err)
		}
		if _, err := stmt.Exec(
			string(c.ID), string(m.ID), i, string(m.SenderID), m.Text,
			string(medias), m.SentAt.UnixMilli(), string(delivered), string(seen),
			m.Sent, m.Error, m.Failure,
		); err != nil {
			return fmt.Errorf("insert message %q: %w", m.ID, err)
		}
	}
	return nil
}

func (db *DB) loadMessages() ([]chat.Message, error) {
	rows, err := db.Query(`
		SELECT conversation_id, msg_id, sender_id, body, medias, sent_at, delivered_to, seen_by, sent, error, failure
		FROM messages
		ORDER BY conversation_id, seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m                       chat.Message
			convID, id, sender      string
			medias, delivered, seen string
			sentAt                  int64
		)
		if err := rows.Scan(&convID, &id, &sender, &m.Text, &medias, &sentAt, &delivered, &seen, &m.Sent, &m.Error, &m.Failure); err != nil {
			return nil, err
		}
		m.ConversationID = chat.ID(convID)
		m.ID = chat.ID(id)
		m.SenderID = chat.ID(sender)
		m.SentAt = time.UnixMilli(sentAt)
		if err := decodeJSON(medias, &m.Medias); err != nil {
			return nil, fmt.Errorf("decode medias of %q: %w", id, err)
		}
		if err := decodeJSON(delivered, &m.DeliveredTo); err != nil {
			return nil, fmt.Errorf("decode receipts of %q: %w", id, err)
		}
		if err := decodeJSON(seen, &m.SeenBy); err != nil {
			return nil, fmt.Errorf("decode receipts of %q: %w", id, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// decodeJSON yields nil for an empty array so loaded messages compare
// equal to ones that never had attachments or receipts.
func decodeJSON[T any](raw string, out *[]T) error {
	if raw == "" || raw == "[]" {
		*out = nil
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
