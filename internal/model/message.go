package model

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusTransitions is the delivery state machine. A message that was written
// remotely but whose local bookkeeping failed can go straight from failed to sent.
var statusTransitions = map[MessageStatus][]MessageStatus{
	StatusSending:   {StatusSent, StatusFailed},
	StatusSent:      {StatusDelivered, StatusRead},
	StatusDelivered: {StatusRead},
	StatusRead:      {},
	StatusFailed:    {StatusSending, StatusSent},
}

// CanTransition reports whether a message may move from one status to another.
// Rewriting the same status is always allowed.
func (s MessageStatus) CanTransition(to MessageStatus) bool {
	if s == to {
		return true
	}
	return slices.Contains(statusTransitions[s], to)
}

// Queued reports whether the status marks a message still pending delivery.
func (s MessageStatus) Queued() bool {
	return s == StatusSending || s == StatusFailed
}

// ContentType identifies the message content variant.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVoice ContentType = "voice"
)

// Content is the payload of a message. Exactly one variant is populated:
// text only, an image URL with optional caption in Text, or an audio URL with
// duration and size.
type Content struct {
	Text          string
	ImageURL      string
	AudioURL      string
	AudioDuration int   // seconds
	AudioSize     int64 // bytes
}

// Type returns the content variant.
func (c Content) Type() ContentType {
	switch {
	case c.AudioURL != "":
		return ContentVoice
	case c.ImageURL != "":
		return ContentImage
	default:
		return ContentText
	}
}

// MediaURL returns the image or audio URL, or "" for text content.
func (c Content) MediaURL() string {
	switch c.Type() {
	case ContentVoice:
		return c.AudioURL
	case ContentImage:
		return c.ImageURL
	}
	return ""
}

// WithMediaURL returns a copy of c pointing at u instead of its current media.
func (c Content) WithMediaURL(u string) Content {
	switch c.Type() {
	case ContentVoice:
		c.AudioURL = u
	case ContentImage:
		c.ImageURL = u
	}
	return c
}

// HasLocalMedia reports whether the content still references a device-local file.
func (c Content) HasLocalMedia() bool {
	u := c.MediaURL()
	return u != "" && IsLocalURI(u)
}

// Summary renders the chat list preview for the content.
func (c Content) Summary() string {
	switch c.Type() {
	case ContentVoice:
		return fmt.Sprintf("🎤 Voice message (%ds)", c.AudioDuration)
	case ContentImage:
		if c.Text != "" {
			return "📷 " + c.Text
		}
		return "📷 Image"
	default:
		return c.Text
	}
}

// IsLocalURI reports whether u points at device storage rather than a remote
// object. Plain paths and file/content schemes are local.
func IsLocalURI(u string) bool {
	if strings.HasPrefix(u, "/") {
		return true
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" {
		return true
	}
	switch strings.ToLower(parsed.Scheme) {
	case "file", "content", "ph", "assets-library":
		return true
	}
	return false
}

// Message is a chat message as held by the local cache.
type Message struct {
	ID           string
	ChatID       string
	SenderID     string
	SenderName   string
	Content      Content
	Timestamp    int64 // epoch millis
	Status       MessageStatus
	IsOptimistic bool
	OptimisticID string
	RetryCount   int
}

// SenderMeta carries display data about the sender used for chat summaries.
type SenderMeta struct {
	Name      string
	AvatarURL string
}

// NewOptimisticID returns a client-generated correlation id made of the
// current time and a random suffix.
func NewOptimisticID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("temp_%d_%s", now.UnixMilli(), suffix)
}

// Clone returns a copy of m.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}
