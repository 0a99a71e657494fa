// Package realtime is the low-latency channel used for presence and typing
// indicators. Records are last-write-wins and timestamped by the server.
package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/matheus3301/courier/internal/model"
)

// ErrDisconnected is returned by writes on a connection that is down.
var ErrDisconnected = errors.New("realtime channel disconnected")

// Channel is one client connection to the presence channel.
type Channel interface {
	// WriteStatus stores {state, lastSeen} for uid. lastSeen is the server's
	// clock at write time.
	WriteStatus(ctx context.Context, uid string, state model.PresenceState) error
	// OnDisconnect arms a server-side hook that writes {offline, serverNow}
	// for uid if this connection drops without cancelling it. Arming twice
	// is a no-op.
	OnDisconnect(ctx context.Context, uid string) error
	CancelOnDisconnect(ctx context.Context, uid string) error
	// WatchStatus calls fn with the current record of uid, if any, and with
	// every later write. Calls for one watch are serialized.
	WatchStatus(uid string, fn func(model.PresenceRecord)) (cancel func())
	// WriteTyping stores a typing record for its chat. Records with
	// IsTyping false are removed.
	WriteTyping(ctx context.Context, rec model.TypingRecord) error
	// WatchTyping calls fn with every typing record of chatID after each
	// change, starting with the current set.
	WatchTyping(chatID string, fn func([]model.TypingRecord)) (cancel func())
	// WatchConnected reports this connection's link state on every change,
	// starting with the current one.
	WatchConnected(fn func(bool)) (cancel func())
	Close() error
}

func statusKey(uid string) string    { return "status:" + uid }
func leaseKey(uid string) string     { return "presence:lease:" + uid }
func hookKey(uid string) string      { return "presence:hook:" + uid }
func typingKey(chatID string) string { return "typing:" + chatID }

const leasePrefix = "presence:lease:"

// mailbox delivers values to fn one at a time on its own goroutine, in push
// order, so callbacks never run under the pusher's locks.
type mailbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newMailbox[T any](fn func(T)) *mailbox[T] {
	mb := &mailbox[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go mb.run(fn)
	return mb
}

func (mb *mailbox[T]) push(v T) {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return
	}
	mb.queue = append(mb.queue, v)
	mb.mu.Unlock()
	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

func (mb *mailbox[T]) close() {
	mb.mu.Lock()
	if !mb.closed {
		mb.closed = true
		close(mb.done)
	}
	mb.mu.Unlock()
}

func (mb *mailbox[T]) run(fn func(T)) {
	for {
		select {
		case <-mb.done:
			return
		case <-mb.wake:
		}
		for {
			mb.mu.Lock()
			if mb.closed || len(mb.queue) == 0 {
				mb.mu.Unlock()
				break
			}
			v := mb.queue[0]
			mb.queue = mb.queue[1:]
			mb.mu.Unlock()
			fn(v)
		}
	}
}
