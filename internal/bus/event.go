package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by prefix, e.g. "message." or "sync.".
const (
	MessageQueued    = "message.queued"
	MessageSent      = "message.sent"
	MessageConfirmed = "message.confirmed"
	MessageFailed    = "message.failed"
	MessageRetried   = "message.retried"

	SyncFlushCompleted = "sync.flush_completed"
	SyncStateChanged   = "sync.state_changed"

	PresenceStateChanged = "presence.state_changed"
	PresencePeerChanged  = "presence.peer_changed"

	NetworkChanged = "network.changed"

	ChatDeleted = "chat.deleted"
	ChatLeft    = "chat.left"
)

// MessageRef identifies a message in event payloads.
type MessageRef struct {
	ChatID       string `json:"chat_id"`
	MessageID    string `json:"message_id"`
	OptimisticID string `json:"optimistic_id"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}
