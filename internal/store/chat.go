package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/courier/internal/model"
)

const chatColumns = `id, type, name, participants, admin_ids, has_last_message,
	last_sender_id, last_sender_name, last_timestamp, last_type, last_text, muted, updated_at`

func scanChat(r rowScanner) (model.Chat, error) {
	var (
		c                    model.Chat
		chatType             string
		participants, admins string
		hasLast              bool
		last                 model.LastMessage
		lastType             string
	)
	err := r.Scan(&c.ID, &chatType, &c.Name, &participants, &admins, &hasLast,
		&last.SenderID, &last.SenderName, &last.Timestamp, &lastType, &last.Text, &c.Muted, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.Type = model.ChatType(chatType)
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		return c, fmt.Errorf("decode participants of %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(admins), &c.AdminIDs); err != nil {
		return c, fmt.Errorf("decode admins of %s: %w", c.ID, err)
	}
	if hasLast {
		last.Type = model.ContentType(lastType)
		c.LastMessage = &last
	}
	return c, nil
}

func encodeIDs(ids []string) string {
	if ids == nil {
		ids = []string{}
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

// SaveChat inserts or replaces a chat record.
func (db *DB) SaveChat(ctx context.Context, c *model.Chat) error {
	return saveChat(ctx, db.DB, c)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveChat(ctx context.Context, e execer, c *model.Chat) error {
	var last model.LastMessage
	if c.LastMessage != nil {
		last = *c.LastMessage
	}
	updatedAt := c.UpdatedAt
	if updatedAt == 0 {
		updatedAt = time.Now().UnixMilli()
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO chats (`+chatColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			participants = excluded.participants,
			admin_ids = excluded.admin_ids,
			has_last_message = excluded.has_last_message,
			last_sender_id = excluded.last_sender_id,
			last_sender_name = excluded.last_sender_name,
			last_timestamp = excluded.last_timestamp,
			last_type = excluded.last_type,
			last_text = excluded.last_text,
			muted = excluded.muted,
			updated_at = excluded.updated_at`,
		c.ID, string(c.Type), c.Name, encodeIDs(c.Participants), encodeIDs(c.AdminIDs), c.LastMessage != nil,
		last.SenderID, last.SenderName, last.Timestamp, string(last.Type), last.Text, c.Muted, updatedAt)
	if err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

// GetChat returns a single chat by id.
func (db *DB) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	c, err := scanChat(db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChats returns all cached chats, most recently active first.
func (db *DB) GetChats(ctx context.Context) ([]model.Chat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+chatColumns+` FROM chats
		ORDER BY MAX(last_timestamp, updated_at) DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []model.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// DeleteChatFromCache removes a chat and its messages.
func (db *DB) DeleteChatFromCache(ctx context.Context, chatID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
			return fmt.Errorf("delete chat messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_reactions WHERE chat_id = ?`, chatID); err != nil {
			return fmt.Errorf("delete chat reactions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		return nil
	})
}

// RemoveUserFromChat drops userID from a cached chat's participants and admins.
// Missing chats are ignored.
func (db *DB) RemoveUserFromChat(ctx context.Context, chatID, userID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		c, err := scanChat(tx.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, chatID))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		c.Participants = slices.DeleteFunc(c.Participants, func(id string) bool { return id == userID })
		c.AdminIDs = slices.DeleteFunc(c.AdminIDs, func(id string) bool { return id == userID })
		c.UpdatedAt = time.Now().UnixMilli()
		return saveChat(ctx, tx, &c)
	})
}
