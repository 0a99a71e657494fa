package model

import "time"

// PresenceState is the liveness of a user as written to the presence channel.
type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// PresenceRecord is the last written liveness record of a user.
// LastSeen is assigned by the server.
type PresenceRecord struct {
	UserID   string        `json:"-"`
	State    PresenceState `json:"state"`
	LastSeen int64         `json:"lastSeen"`
}

// FreshAt derives the effective state at now: online only while the record
// claims online and its last heartbeat is within grace.
func (r PresenceRecord) FreshAt(now time.Time, grace time.Duration) PresenceState {
	if r.State != PresenceOnline || r.LastSeen == 0 {
		return PresenceOffline
	}
	if now.UnixMilli()-r.LastSeen <= grace.Milliseconds() {
		return PresenceOnline
	}
	return PresenceOffline
}

// TypingRecord is an ephemeral typing indicator.
type TypingRecord struct {
	ChatID    string `json:"-"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	IsTyping  bool   `json:"isTyping"`
	Timestamp int64  `json:"timestamp"`
}

// NetworkState is a snapshot of device connectivity. A nil
// IsInternetReachable means the platform has not determined reachability.
type NetworkState struct {
	IsConnected         bool   `json:"isConnected"`
	IsInternetReachable *bool  `json:"isInternetReachable"`
	Type                string `json:"type"`
}

// Online treats unknown reachability as usable.
func (s NetworkState) Online() bool {
	return s.IsConnected && (s.IsInternetReachable == nil || *s.IsInternetReachable)
}

// Reachable is a helper for building NetworkState literals.
func Reachable(v bool) *bool {
	return &v
}
