package store

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/courier/internal/model"
)

// Memory is a goroutine-safe in-memory Cache. It follows the same replace
// rules as DB and is used by tests and throwaway profiles.
type Memory struct {
	mu        sync.RWMutex
	messages  map[string]model.Message
	chats     map[string]model.Chat
	users     map[string]model.User
	reactions map[string]model.Reaction
}

var _ Cache = (*Memory)(nil)

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		messages:  make(map[string]model.Message),
		chats:     make(map[string]model.Chat),
		users:     make(map[string]model.User),
		reactions: make(map[string]model.Reaction),
	}
}

func (s *Memory) SaveMessage(_ context.Context, m *model.Message) error {
	if m.ID == "" {
		return errors.New("save message: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.OptimisticID != "" {
		for id, existing := range s.messages {
			if existing.OptimisticID != m.OptimisticID || id == m.ID {
				continue
			}
			if m.IsOptimistic && !existing.IsOptimistic {
				return nil
			}
		}
		for id, existing := range s.messages {
			if existing.OptimisticID == m.OptimisticID && id != m.ID {
				delete(s.messages, id)
			}
		}
	}
	s.messages[m.ID] = *m
	return nil
}

func (s *Memory) GetMessage(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.messages[id]; ok {
		return &m, nil
	}
	var found *model.Message
	for _, m := range s.messages {
		if m.OptimisticID != id {
			continue
		}
		if found == nil || !m.IsOptimistic {
			found = &m
		}
	}
	return found, nil
}

func newestFirst(a, b model.Message) int {
	if c := cmp.Compare(b.Timestamp, a.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func (s *Memory) GetMessages(_ context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	s.mu.RLock()
	var msgs []model.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			msgs = append(msgs, m)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(msgs, newestFirst)
	if offset >= len(msgs) {
		return nil, nil
	}
	msgs = msgs[offset:]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *Memory) GetQueuedMessages(_ context.Context) ([]model.Message, error) {
	s.mu.RLock()
	var msgs []model.Message
	for _, m := range s.messages {
		if m.Status.Queued() {
			msgs = append(msgs, m)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(msgs, func(a, b model.Message) int { return newestFirst(b, a) })
	return msgs, nil
}

func (s *Memory) UpdateMessageStatus(_ context.Context, id string, status model.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, m := range s.messages {
		if m.ID == id || m.OptimisticID == id {
			m.Status = status
			s.messages[key] = m
		}
	}
	return nil
}

func (s *Memory) SearchMessages(_ context.Context, query, chatID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	q := strings.ToLower(query)
	s.mu.RLock()
	var msgs []model.Message
	for _, m := range s.messages {
		if chatID != "" && m.ChatID != chatID {
			continue
		}
		if strings.Contains(strings.ToLower(m.Content.Text), q) {
			msgs = append(msgs, m)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(msgs, newestFirst)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func cloneChat(c model.Chat) model.Chat {
	c.Participants = slices.Clone(c.Participants)
	c.AdminIDs = slices.Clone(c.AdminIDs)
	if c.LastMessage != nil {
		last := *c.LastMessage
		c.LastMessage = &last
	}
	return c
}

func (s *Memory) SaveChat(_ context.Context, c *model.Chat) error {
	cp := cloneChat(*c)
	if cp.UpdatedAt == 0 {
		cp.UpdatedAt = time.Now().UnixMilli()
	}
	s.mu.Lock()
	s.chats[c.ID] = cp
	s.mu.Unlock()
	return nil
}

func (s *Memory) GetChat(_ context.Context, id string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, nil
	}
	cp := cloneChat(c)
	return &cp, nil
}

func chatActivity(c model.Chat) int64 {
	if c.LastMessage != nil && c.LastMessage.Timestamp > c.UpdatedAt {
		return c.LastMessage.Timestamp
	}
	return c.UpdatedAt
}

func (s *Memory) GetChats(_ context.Context) ([]model.Chat, error) {
	s.mu.RLock()
	chats := make([]model.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		chats = append(chats, cloneChat(c))
	}
	s.mu.RUnlock()

	slices.SortFunc(chats, func(a, b model.Chat) int {
		if c := cmp.Compare(chatActivity(b), chatActivity(a)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return chats, nil
}

func (s *Memory) DeleteChatFromCache(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	for id, m := range s.messages {
		if m.ChatID == chatID {
			delete(s.messages, id)
		}
	}
	for id, r := range s.reactions {
		if r.ChatID == chatID {
			delete(s.reactions, id)
		}
	}
	return nil
}

func (s *Memory) RemoveUserFromChat(_ context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	c = cloneChat(c)
	c.Participants = slices.DeleteFunc(c.Participants, func(id string) bool { return id == userID })
	c.AdminIDs = slices.DeleteFunc(c.AdminIDs, func(id string) bool { return id == userID })
	c.UpdatedAt = time.Now().UnixMilli()
	s.chats[chatID] = c
	return nil
}

func (s *Memory) SaveUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	s.users[u.ID] = *u
	s.mu.Unlock()
	return nil
}

func (s *Memory) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Memory) QueueReaction(_ context.Context, r *model.Reaction) error {
	s.mu.Lock()
	s.reactions[r.ID] = *r
	s.mu.Unlock()
	return nil
}

func (s *Memory) PendingReactions(_ context.Context) ([]model.Reaction, error) {
	s.mu.RLock()
	out := make([]model.Reaction, 0, len(s.reactions))
	for _, r := range s.reactions {
		out = append(out, r)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Reaction) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Memory) DeleteReaction(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.reactions, id)
	s.mu.Unlock()
	return nil
}
