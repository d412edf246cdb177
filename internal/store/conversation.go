package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/parley/internal/chat"
)

// SaveConversation writes a snapshot of c and its messages. With front set,
// c becomes first in list order; otherwise a new conversation is appended and
// a known one keeps its position.
func (db *DB) SaveConversation(c chat.Conversation, front bool) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rank int64
	err = tx.QueryRow(`SELECT rank FROM conversations WHERE id = ?`, string(c.ID)).Scan(&rank)
	switch {
	case front:
		if err := tx.QueryRow(`SELECT COALESCE(MIN(rank), 0) - 1 FROM conversations`).Scan(&rank); err != nil {
			return fmt.Errorf("front rank: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		if err := tx.QueryRow(`SELECT COALESCE(MAX(rank), -1) + 1 FROM conversations`).Scan(&rank); err != nil {
			return fmt.Errorf("append rank: %w", err)
		}
	case err != nil:
		return fmt.Errorf("lookup conversation %q: %w", c.ID, err)
	}

	if err := upsertConversation(tx, c, rank); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation %q: %w", c.ID, err)
	}
	return nil
}

// ReplaceConversations replaces the whole cache with list, in list order.
func (db *DB) ReplaceConversations(list []chat.Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	for i, c := range list {
		if err := upsertConversation(tx, c, int64(i)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertConversation(tx *sql.Tx, c chat.Conversation, rank int64) error {
	participants, err := json.Marshal(nonNil(c.Participants))
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO conversations (id, rank, participants, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rank = excluded.rank,
			participants = excluded.participants,
			updated_at = excluded.updated_at`,
		string(c.ID), rank, string(participants), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert conversation %q: %w", c.ID, err)
	}
	return replaceMessages(tx, c)
}

// LoadConversations returns every cached conversation in list order with its
// messages oldest first.
func (db *DB) LoadConversations() ([]chat.Conversation, error) {
	rows, err := db.Query(`SELECT id, participants FROM conversations ORDER BY rank ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var list []chat.Conversation
	index := make(map[chat.ID]int)
	for rows.Next() {
		var (
			id           string
			participants string
		)
		if err := rows.Scan(&id, &participants); err != nil {
			return nil, err
		}
		c := chat.Conversation{ID: chat.ID(id)}
		if err := decodeJSON(participants, &c.Participants); err != nil {
			return nil, fmt.Errorf("decode participants of %q: %w", id, err)
		}
		index[c.ID] = len(list)
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgs, err := db.loadMessages()
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if i, ok := index[m.ConversationID]; ok {
			list[i].Messages = append(list[i].Messages, m)
		}
	}
	return list, nil
}

// Wipe drops all cached user data. Used on sign-out.
func (db *DB) Wipe() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"messages", "conversations", "outbox", "sync_state"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
