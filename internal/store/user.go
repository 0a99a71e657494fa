package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/courier/internal/model"
)

// SaveUser inserts or updates a cached user profile.
func (db *DB) SaveUser(ctx context.Context, u *model.User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, avatar_url, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at`,
		u.ID, u.Name, u.AvatarURL, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// GetUser returns a cached user profile by id.
func (db *DB) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := db.QueryRowContext(ctx, `SELECT id, name, avatar_url FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
