package model

import "slices"

// ChatType distinguishes one-to-one chats from groups.
type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

// LastMessage is the denormalized summary shown in chat lists.
type LastMessage struct {
	SenderID   string
	SenderName string
	Timestamp  int64
	Type       ContentType
	Text       string
}

// Chat is a conversation between participants.
type Chat struct {
	ID           string
	Type         ChatType
	Name         string
	Participants []string
	AdminIDs     []string
	LastMessage  *LastMessage
	UpdatedAt    int64
	Muted        bool
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// IsAdmin reports whether userID administers the chat.
func (c *Chat) IsAdmin(userID string) bool {
	return slices.Contains(c.AdminIDs, userID)
}

// SummaryFor builds the chat list summary for a delivered message.
func SummaryFor(m *Message) LastMessage {
	return LastMessage{
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Timestamp:  m.Timestamp,
		Type:       m.Content.Type(),
		Text:       m.Content.Summary(),
	}
}

// User is a cached user profile.
type User struct {
	ID        string
	Name      string
	AvatarURL string
}

// Reaction is a queued emoji reaction mutation on a message.
type Reaction struct {
	ID        string
	ChatID    string
	MessageID string
	UserID    string
	Emoji     string
	Remove    bool
	CreatedAt int64
}
