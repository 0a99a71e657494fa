package remote

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/courier/internal/model"
)

// Operation names passed to a Memory fault hook.
const (
	OpWriteMessage        = "WriteMessage"
	OpUpdateMessageStatus = "UpdateMessageStatus"
	OpUpdateChatSummary   = "UpdateChatSummary"
	OpCreateChat          = "CreateChat"
	OpGetChat             = "GetChat"
	OpDeleteChat          = "DeleteChat"
	OpRemoveParticipant   = "RemoveParticipant"
	OpSetReaction         = "SetReaction"
)

// Memory is an in-process Store with its own server clock. A fault hook lets
// tests fail chosen operations.
type Memory struct {
	mu           sync.Mutex
	now          func() time.Time
	lastTS       int64
	fault        func(op string) error
	messages     map[string]*model.Message
	byOptimistic map[string]string
	writes       map[string]int
	chats        map[string]*model.Chat
	reactions    map[string]map[string][]string // message id -> emoji -> users
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store using the wall clock.
func NewMemory() *Memory {
	return &Memory{
		now:          time.Now,
		messages:     make(map[string]*model.Message),
		byOptimistic: make(map[string]string),
		writes:       make(map[string]int),
		chats:        make(map[string]*model.Chat),
		reactions:    make(map[string]map[string][]string),
	}
}

// SetClock replaces the server clock.
func (s *Memory) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetFault installs a hook consulted before every operation. A non-nil
// return fails the operation with that error. Pass nil to clear.
func (s *Memory) SetFault(fn func(op string) error) {
	s.mu.Lock()
	s.fault = fn
	s.mu.Unlock()
}

// serverNow returns strictly increasing server millis. Caller holds mu.
func (s *Memory) serverNow() int64 {
	ts := s.now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

func (s *Memory) check(op string) error {
	if s.fault == nil {
		return nil
	}
	if err := s.fault(op); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Memory) WriteMessage(_ context.Context, m *model.Message) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpWriteMessage); err != nil {
		return Receipt{}, err
	}
	s.writes[m.OptimisticID]++
	if id, ok := s.byOptimistic[m.OptimisticID]; ok {
		existing := s.messages[id]
		existing.Content = m.Content
		return Receipt{ID: id, Timestamp: existing.Timestamp}, nil
	}

	stored := m.Clone()
	stored.ID = uuid.NewString()
	stored.Timestamp = s.serverNow()
	stored.Status = model.StatusSent
	stored.IsOptimistic = false
	stored.RetryCount = 0
	s.messages[stored.ID] = stored
	s.byOptimistic[m.OptimisticID] = stored.ID
	return Receipt{ID: stored.ID, Timestamp: stored.Timestamp}, nil
}

func (s *Memory) UpdateMessageStatus(_ context.Context, id string, status model.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpUpdateMessageStatus); err != nil {
		return err
	}
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("update message status %s: %w", id, ErrNotFound)
	}
	m.Status = status
	return nil
}

func (s *Memory) UpdateChatSummary(_ context.Context, chatID string, last model.LastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpUpdateChatSummary); err != nil {
		return err
	}
	c, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	now := s.serverNow()
	last.Timestamp = now
	c.LastMessage = &last
	c.UpdatedAt = now
	return nil
}

func (s *Memory) CreateChat(_ context.Context, c *model.Chat) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpCreateChat); err != nil {
		return nil, err
	}
	if existing, ok := s.chats[c.ID]; ok {
		return copyChat(existing), nil
	}
	stored := copyChat(c)
	stored.UpdatedAt = s.serverNow()
	stored.LastMessage = nil
	s.chats[c.ID] = stored
	return copyChat(stored), nil
}

func (s *Memory) GetChat(_ context.Context, id string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpGetChat); err != nil {
		return nil, err
	}
	c, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	return copyChat(c), nil
}

func (s *Memory) DeleteChat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpDeleteChat); err != nil {
		return err
	}
	if _, ok := s.chats[id]; !ok {
		return fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	delete(s.chats, id)
	for mid, m := range s.messages {
		if m.ChatID == id {
			delete(s.messages, mid)
			delete(s.byOptimistic, m.OptimisticID)
			delete(s.reactions, mid)
		}
	}
	return nil
}

func (s *Memory) RemoveParticipant(_ context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpRemoveParticipant); err != nil {
		return err
	}
	c, ok := s.chats[chatID]
	if !ok {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	c.Participants = slices.DeleteFunc(c.Participants, func(id string) bool { return id == userID })
	c.AdminIDs = slices.DeleteFunc(c.AdminIDs, func(id string) bool { return id == userID })
	c.UpdatedAt = s.serverNow()
	return nil
}

func (s *Memory) SetReaction(_ context.Context, r *model.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpSetReaction); err != nil {
		return err
	}
	if _, ok := s.messages[r.MessageID]; !ok {
		return fmt.Errorf("message %s: %w", r.MessageID, ErrNotFound)
	}
	byEmoji := s.reactions[r.MessageID]
	if byEmoji == nil {
		byEmoji = make(map[string][]string)
		s.reactions[r.MessageID] = byEmoji
	}
	users := slices.DeleteFunc(byEmoji[r.Emoji], func(id string) bool { return id == r.UserID })
	if !r.Remove {
		users = append(users, r.UserID)
	}
	byEmoji[r.Emoji] = users
	return nil
}

// Messages returns the stored messages of a chat, oldest first.
func (s *Memory) Messages(chatID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b model.Message) int { return cmp.Compare(a.Timestamp, b.Timestamp) })
	return out
}

// Message returns the stored message written under optimisticID.
func (s *Memory) Message(optimisticID string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byOptimistic[optimisticID]
	if !ok {
		return model.Message{}, false
	}
	return *s.messages[id], true
}

// WriteCount reports how many WriteMessage calls reached the store for
// optimisticID, including rewrites.
func (s *Memory) WriteCount(optimisticID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[optimisticID]
}

// Reactions returns the users that reacted to a message with emoji.
func (s *Memory) Reactions(messageID, emoji string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.reactions[messageID][emoji])
}

func copyChat(c *model.Chat) *model.Chat {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	cp.AdminIDs = slices.Clone(c.AdminIDs)
	if c.LastMessage != nil {
		last := *c.LastMessage
		cp.LastMessage = &last
	}
	return &cp
}
