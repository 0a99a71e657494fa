package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/courier/internal/model"
)

const messageColumns = `id, chat_id, sender_id, sender_name, text, image_url, audio_url,
	audio_duration, audio_size, timestamp, status, is_optimistic, optimistic_id, retry_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (model.Message, error) {
	var m model.Message
	var status string
	err := r.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.SenderName,
		&m.Content.Text, &m.Content.ImageURL, &m.Content.AudioURL,
		&m.Content.AudioDuration, &m.Content.AudioSize,
		&m.Timestamp, &status, &m.IsOptimistic, &m.OptimisticID, &m.RetryCount)
	m.Status = model.MessageStatus(status)
	return m, err
}

func collectMessages(rows *sql.Rows) ([]model.Message, error) {
	defer func() { _ = rows.Close() }()
	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SaveMessage upserts a message by id, dropping any placeholder that shares
// its optimistic id. Saving a placeholder whose delivered record already
// exists is a no-op.
func (db *DB) SaveMessage(ctx context.Context, m *model.Message) error {
	if m.ID == "" {
		return errors.New("save message: empty id")
	}
	now := time.Now().UnixMilli()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if m.IsOptimistic && m.OptimisticID != "" {
			var delivered int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM messages WHERE optimistic_id = ? AND is_optimistic = 0`, m.OptimisticID).Scan(&delivered); err != nil {
				return fmt.Errorf("save message: %w", err)
			}
			// A placeholder never overwrites its delivered replacement.
			if delivered > 0 {
				return nil
			}
		}
		if m.OptimisticID != "" {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM messages WHERE optimistic_id = ? AND id != ?`, m.OptimisticID, m.ID); err != nil {
				return fmt.Errorf("save message: drop placeholder: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (`+messageColumns+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				chat_id = excluded.chat_id,
				sender_id = excluded.sender_id,
				sender_name = excluded.sender_name,
				text = excluded.text,
				image_url = excluded.image_url,
				audio_url = excluded.audio_url,
				audio_duration = excluded.audio_duration,
				audio_size = excluded.audio_size,
				timestamp = excluded.timestamp,
				status = excluded.status,
				is_optimistic = excluded.is_optimistic,
				optimistic_id = excluded.optimistic_id,
				retry_count = excluded.retry_count,
				updated_at = excluded.updated_at`,
			m.ID, m.ChatID, m.SenderID, m.SenderName,
			m.Content.Text, m.Content.ImageURL, m.Content.AudioURL,
			m.Content.AudioDuration, m.Content.AudioSize,
			m.Timestamp, string(m.Status), m.IsOptimistic, m.OptimisticID, m.RetryCount, now)
		if err != nil {
			return fmt.Errorf("save message: %w", err)
		}
		return nil
	})
}

// GetMessage returns a message by id or optimistic id.
func (db *DB) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE id = ? OR optimistic_id = ?
		ORDER BY is_optimistic ASC
		LIMIT 1`, id, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessages returns a chat's messages newest first.
func (db *DB) GetMessages(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// GetQueuedMessages returns undelivered messages oldest first.
func (db *DB) GetQueuedMessages(ctx context.Context) ([]model.Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE status IN ('sending', 'failed')
		ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// UpdateMessageStatus sets the status of a message addressed by id or
// optimistic id.
func (db *DB) UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) error {
	_, err := db.ExecContext(ctx,
		`UPDATE messages SET status = ?, updated_at = ? WHERE id = ? OR optimistic_id = ?`,
		string(status), time.Now().UnixMilli(), id, id)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}

// SearchMessages does a case-insensitive substring match on message text,
// newest first. An empty chatID searches every chat.
func (db *DB) SearchMessages(ctx context.Context, query, chatID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE text LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if chatID != "" {
		q += " AND chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
