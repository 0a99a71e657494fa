// Package conversation implements the structural chat operations. Unlike
// messages these are never queued: they fail fast without connectivity.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/model"
	"github.com/matheus3301/courier/internal/remote"
	"github.com/matheus3301/courier/internal/store"
	"go.uber.org/zap"
)

var (
	ErrRequiresConnectivity = errors.New("operation requires connectivity")
	ErrNotParticipant       = errors.New("not a participant of the chat")
	ErrNotAdmin             = errors.New("not an admin of the chat")
	ErrInvalidChat          = errors.New("invalid chat")
)

// Connectivity reports whether the device can reach the remote store.
type Connectivity interface {
	IsOnline() bool
}

// Service creates and tears down chats remotely and mirrors the result in
// the local cache.
type Service struct {
	cache  store.Cache
	remote remote.Store
	net    Connectivity
	bus    *bus.Bus
	logger *zap.Logger
}

func New(cache store.Cache, rs remote.Store, net Connectivity, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cache: cache, remote: rs, net: net, bus: b, logger: logger}
}

// ChatEvent is the bus payload for chat.deleted and chat.left.
type ChatEvent struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

// DirectChatID is the stable id of the one-to-one chat between two users.
func DirectChatID(a, b string) string {
	ids := []string{a, b}
	slices.Sort(ids)
	return strings.Join(ids, "_")
}

// EnsureDirect returns the direct chat between selfID and peerID, creating
// it remotely when it is not cached yet.
func (s *Service) EnsureDirect(ctx context.Context, selfID, peerID string) (*model.Chat, error) {
	if selfID == "" || peerID == "" || selfID == peerID {
		return nil, fmt.Errorf("direct chat %q/%q: %w", selfID, peerID, ErrInvalidChat)
	}
	id := DirectChatID(selfID, peerID)
	cached, err := s.cache.GetChat(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ensure direct chat: %w", err)
	}
	if cached != nil {
		return cached, nil
	}
	if !s.net.IsOnline() {
		return nil, fmt.Errorf("ensure direct chat: %w", ErrRequiresConnectivity)
	}

	chat, err := s.remote.CreateChat(ctx, &model.Chat{
		ID:           id,
		Type:         model.ChatDirect,
		Participants: []string{selfID, peerID},
	})
	if err != nil {
		return nil, fmt.Errorf("ensure direct chat: %w", err)
	}
	if err := s.cache.SaveChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("cache chat: %w", err)
	}
	s.logger.Info("direct chat ready", zap.String("chat_id", id))
	return chat, nil
}

// CreateGroup creates a group administered by creatorID.
func (s *Service) CreateGroup(ctx context.Context, creatorID, name string, members []string) (*model.Chat, error) {
	if creatorID == "" || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("create group: %w", ErrInvalidChat)
	}
	if !s.net.IsOnline() {
		return nil, fmt.Errorf("create group: %w", ErrRequiresConnectivity)
	}

	participants := []string{creatorID}
	for _, m := range members {
		if m != "" && !slices.Contains(participants, m) {
			participants = append(participants, m)
		}
	}
	chat, err := s.remote.CreateChat(ctx, &model.Chat{
		ID:           uuid.NewString(),
		Type:         model.ChatGroup,
		Name:         strings.TrimSpace(name),
		Participants: participants,
		AdminIDs:     []string{creatorID},
	})
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	if err := s.cache.SaveChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("cache chat: %w", err)
	}
	s.logger.Info("group created", zap.String("chat_id", chat.ID), zap.Int("participants", len(participants)))
	return chat, nil
}

// load fetches the authoritative chat and checks userID belongs to it.
func (s *Service) load(ctx context.Context, op, chatID, userID string) (*model.Chat, error) {
	if !s.net.IsOnline() {
		return nil, fmt.Errorf("%s %s: %w", op, chatID, ErrRequiresConnectivity)
	}
	chat, err := s.remote.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, chatID, err)
	}
	if !chat.HasParticipant(userID) {
		return nil, fmt.Errorf("%s %s: %w", op, chatID, ErrNotParticipant)
	}
	return chat, nil
}

// DeleteChat deletes a chat and its messages everywhere. Groups can only be
// deleted by an admin. A chat that no longer exists remotely is still evicted
// from the cache.
func (s *Service) DeleteChat(ctx context.Context, chatID, userID string) error {
	chat, err := s.load(ctx, "delete chat", chatID, userID)
	if errors.Is(err, remote.ErrNotFound) {
		s.logger.Info("chat already gone remotely", zap.String("chat_id", chatID))
		return s.evictDeleted(ctx, chatID, userID)
	}
	if err != nil {
		return err
	}
	if chat.Type == model.ChatGroup && !chat.IsAdmin(userID) {
		return fmt.Errorf("delete chat %s: %w", chatID, ErrNotAdmin)
	}
	if err := s.remote.DeleteChat(ctx, chatID); err != nil && !errors.Is(err, remote.ErrNotFound) {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	return s.evictDeleted(ctx, chatID, userID)
}

func (s *Service) evictDeleted(ctx context.Context, chatID, userID string) error {
	if err := s.cache.DeleteChatFromCache(ctx, chatID); err != nil {
		return fmt.Errorf("evict chat %s: %w", chatID, err)
	}
	s.logger.Info("chat deleted", zap.String("chat_id", chatID))
	s.bus.Emit(bus.ChatDeleted, ChatEvent{ChatID: chatID, UserID: userID})
	return nil
}

// LeaveChat removes userID from a group and drops the chat from the local
// cache.
func (s *Service) LeaveChat(ctx context.Context, chatID, userID string) error {
	chat, err := s.load(ctx, "leave chat", chatID, userID)
	if err != nil {
		return err
	}
	if chat.Type != model.ChatGroup {
		return fmt.Errorf("leave chat %s: direct chats can only be deleted: %w", chatID, ErrInvalidChat)
	}
	if err := s.remote.RemoveParticipant(ctx, chatID, userID); err != nil {
		return fmt.Errorf("leave chat %s: %w", chatID, err)
	}
	if err := s.cache.DeleteChatFromCache(ctx, chatID); err != nil {
		return fmt.Errorf("evict chat %s: %w", chatID, err)
	}
	s.logger.Info("left chat", zap.String("chat_id", chatID))
	s.bus.Emit(bus.ChatLeft, ChatEvent{ChatID: chatID, UserID: userID})
	return nil
}

// RemoveMember removes memberID from a group on behalf of adminID.
func (s *Service) RemoveMember(ctx context.Context, chatID, adminID, memberID string) error {
	chat, err := s.load(ctx, "remove member", chatID, adminID)
	if err != nil {
		return err
	}
	if !chat.IsAdmin(adminID) {
		return fmt.Errorf("remove member from %s: %w", chatID, ErrNotAdmin)
	}
	if !chat.HasParticipant(memberID) {
		return fmt.Errorf("remove %s from %s: %w", memberID, chatID, ErrNotParticipant)
	}
	if err := s.remote.RemoveParticipant(ctx, chatID, memberID); err != nil {
		return fmt.Errorf("remove member from %s: %w", chatID, err)
	}
	if err := s.cache.RemoveUserFromChat(ctx, chatID, memberID); err != nil {
		return fmt.Errorf("update cached chat %s: %w", chatID, err)
	}
	return nil
}
