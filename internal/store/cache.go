// Package store holds the local durable cache: the on-device record of
// messages, chats, users and queued reactions that survives restarts.
package store

import (
	"context"

	"github.com/matheus3301/courier/internal/model"
)

// Cache is the local durable cache. Getters return nil, nil when the record
// does not exist.
type Cache interface {
	// SaveMessage upserts m by ID. Any other record carrying the same
	// OptimisticID is removed in the same write, so a delivered message
	// replaces its placeholder. A placeholder never replaces a delivered
	// record.
	SaveMessage(ctx context.Context, m *model.Message) error
	// GetMessage looks a message up by ID or OptimisticID.
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// GetMessages returns a page of a chat's messages, newest first.
	GetMessages(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error)
	// GetQueuedMessages returns every message in sending or failed state,
	// oldest first.
	GetQueuedMessages(ctx context.Context) ([]model.Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) error
	SearchMessages(ctx context.Context, query, chatID string, limit int) ([]model.Message, error)

	SaveChat(ctx context.Context, c *model.Chat) error
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	GetChats(ctx context.Context) ([]model.Chat, error)
	// DeleteChatFromCache removes a chat and all of its messages.
	DeleteChatFromCache(ctx context.Context, chatID string) error
	RemoveUserFromChat(ctx context.Context, chatID, userID string) error

	SaveUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)

	QueueReaction(ctx context.Context, r *model.Reaction) error
	PendingReactions(ctx context.Context) ([]model.Reaction, error)
	DeleteReaction(ctx context.Context, id string) error
}

const defaultPageSize = 50
