package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/model"
	"go.uber.org/zap"
)

// PeerChange is the bus payload for presence.peer_changed.
type PeerChange struct {
	UserID   string              `json:"user_id"`
	State    model.PresenceState `json:"state"`
	LastSeen int64               `json:"last_seen"`
}

type peerWatch struct {
	uid      string
	fn       func(PeerChange)
	disposed atomic.Bool

	mu      sync.Mutex
	last    model.PresenceRecord
	emitted model.PresenceState
}

// SubscribePeer reports uid's derived liveness to fn, once per transition.
// A peer counts as online only while its record says online and its last
// heartbeat is within the grace window; a local ticker re-checks that
// without waiting for new writes.
func (t *Tracker) SubscribePeer(uid string, fn func(PeerChange)) func() {
	w := &peerWatch{uid: uid, fn: fn}
	ctx, cancel := context.WithCancel(context.Background())

	unwatch := t.ch.WatchStatus(uid, func(rec model.PresenceRecord) {
		w.mu.Lock()
		if rec.LastSeen >= w.last.LastSeen {
			w.last = rec
		}
		w.mu.Unlock()
		t.evaluatePeer(w)
	})

	go func() {
		ticker := time.NewTicker(t.opts.FreshnessTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.evaluatePeer(w)
			}
		}
	}()

	t.logger.Debug("peer subscribed", zap.String("peer", uid))
	return t.register(func() {
		w.disposed.Store(true)
		unwatch()
		cancel()
		t.logger.Debug("peer unsubscribed", zap.String("peer", uid))
	})
}

// evaluatePeer emits the derived state when it differs from the last one.
// Emission happens under the watch lock so callbacks stay ordered.
func (t *Tracker) evaluatePeer(w *peerWatch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed.Load() {
		return
	}
	derived := w.last.FreshAt(t.opts.Now(), t.opts.GraceWindow)
	if derived == w.emitted {
		return
	}
	w.emitted = derived
	change := PeerChange{UserID: w.uid, State: derived, LastSeen: w.last.LastSeen}
	t.bus.Emit(bus.PresencePeerChanged, change)
	w.fn(change)
}
