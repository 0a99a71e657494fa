// Package remote is the authoritative durable store that messages and chats
// are delivered to. Timestamps are assigned by the server.
package remote

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/matheus3301/courier/internal/model"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrUnavailable means the store could not be reached or timed out.
	ErrUnavailable = errors.New("remote store unavailable")
	// ErrOffline means the write was not attempted because the device is offline.
	ErrOffline = errors.New("device offline")
	// ErrNotFound is returned for missing chats and messages.
	ErrNotFound = errors.New("not found")
)

// Receipt is what the store assigned to a written message.
type Receipt struct {
	ID        string
	Timestamp int64 // server epoch millis
}

// Store is the remote durable store.
type Store interface {
	// WriteMessage stores m and returns its store id and server timestamp.
	// Writes are idempotent on m.OptimisticID: rewriting returns the
	// original receipt.
	WriteMessage(ctx context.Context, m *model.Message) (Receipt, error)
	UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) error
	// UpdateChatSummary overwrites the chat's lastMessage with the server
	// time as its timestamp. The latest write wins. Missing chats are left
	// untouched.
	UpdateChatSummary(ctx context.Context, chatID string, last model.LastMessage) error
	// CreateChat stores c unless a chat with the same id exists, and returns
	// the stored chat either way.
	CreateChat(ctx context.Context, c *model.Chat) (*model.Chat, error)
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	// DeleteChat removes a chat and its messages.
	DeleteChat(ctx context.Context, id string) error
	RemoveParticipant(ctx context.Context, chatID, userID string) error
	SetReaction(ctx context.Context, r *model.Reaction) error
}

// IsTransient reports whether err is a network-class failure worth retrying:
// unreachable store, offline device, timeouts and an open circuit.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrOffline),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return true
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Millis converts a server timestamp sentinel value to epoch millis. Missing
// or unrecognized values fall back to the local clock.
func Millis(v any) int64 {
	switch t := v.(type) {
	case time.Time:
		if !t.IsZero() {
			return t.UnixMilli()
		}
	case primitive.DateTime:
		return int64(t)
	case primitive.Timestamp:
		return int64(t.T) * 1000
	case int64:
		return t
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	}
	return time.Now().UnixMilli()
}
