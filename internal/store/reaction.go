package store

import (
	"context"
	"fmt"

	"github.com/matheus3301/courier/internal/model"
)

// QueueReaction records a reaction mutation for the sync engine. Queuing the
// same id twice keeps the latest mutation.
func (db *DB) QueueReaction(ctx context.Context, r *model.Reaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO pending_reactions (id, chat_id, message_id, user_id, emoji, remove, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			emoji = excluded.emoji,
			remove = excluded.remove,
			created_at = excluded.created_at`,
		r.ID, r.ChatID, r.MessageID, r.UserID, r.Emoji, r.Remove, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("queue reaction: %w", err)
	}
	return nil
}

// PendingReactions returns queued reaction mutations oldest first.
func (db *DB) PendingReactions(ctx context.Context) ([]model.Reaction, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, chat_id, message_id, user_id, emoji, remove, created_at
		FROM pending_reactions ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Reaction
	for rows.Next() {
		var r model.Reaction
		if err := rows.Scan(&r.ID, &r.ChatID, &r.MessageID, &r.UserID, &r.Emoji, &r.Remove, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteReaction removes a flushed reaction mutation.
func (db *DB) DeleteReaction(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM pending_reactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete reaction: %w", err)
	}
	return nil
}
