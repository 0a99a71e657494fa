// Package presence publishes this client's liveness on the realtime channel
// and derives peers' liveness from the freshness of their heartbeats.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/model"
	"github.com/matheus3301/courier/internal/netmon"
	"github.com/matheus3301/courier/internal/realtime"
	"github.com/matheus3301/courier/internal/status"
	"go.uber.org/zap"
)

var (
	ErrNotInitialized     = errors.New("presence tracker not initialized")
	ErrAlreadyInitialized = errors.New("presence tracker already initialized")
)

// AppState is the foreground state of the client application.
type AppState string

const (
	AppActive     AppState = "active"
	AppBackground AppState = "background"
	AppInactive   AppState = "inactive"
)

// Network is the view of the network monitor the tracker needs.
type Network interface {
	IsOnline() bool
	Subscribe(fn netmon.Listener) func()
}

// Options holds the tracker timings. Zero values take the defaults.
type Options struct {
	HeartbeatInterval time.Duration
	GraceWindow       time.Duration
	FreshnessTick     time.Duration
	TypingTimeout     time.Duration
	// Now is the local clock used for freshness checks.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 3 * time.Second
	}
	if o.GraceWindow <= 0 {
		o.GraceWindow = 3 * o.HeartbeatInterval
	}
	if o.FreshnessTick <= 0 {
		o.FreshnessTick = time.Second
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = 3 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Snapshot is the tracker's view of the local client.
type Snapshot struct {
	UserID    string       `json:"user_id"`
	State     status.State `json:"state"`
	AppState  AppState     `json:"app_state"`
	NetOnline bool         `json:"net_online"`
	Linked    bool         `json:"linked"`
}

// Tracker owns the local presence state machine, the heartbeat and every
// subscription it hands out.
type Tracker struct {
	ch     realtime.Channel
	net    Network
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options
	state  *status.Machine

	// mu serializes state evaluation and the writes it triggers.
	mu       sync.Mutex
	uid      string
	app      AppState
	linked   bool
	ctx      context.Context
	cancel   context.CancelFunc
	hbCancel context.CancelFunc
	hbDone   chan struct{}

	typingMu  sync.Mutex
	typing    map[typingKey]*typingTimer
	typingGen uint64 // never reused, so a stale timer cannot match a rearmed one

	regMu     sync.Mutex
	disposers map[int]func()
	nextID    int
}

// NewTracker creates a tracker in the Unknown state.
func NewTracker(ch realtime.Channel, net Network, b *bus.Bus, logger *zap.Logger, opts Options) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()
	return &Tracker{
		ch:        ch,
		net:       net,
		bus:       b,
		logger:    logger,
		opts:      opts,
		state:     status.NewMachine(status.Unknown, status.PresenceTable, bus.PresenceStateChanged, b),
		app:       AppActive,
		typing:    make(map[typingKey]*typingTimer),
		disposers: make(map[int]func()),
	}
}

// State returns the local presence state.
func (t *Tracker) State() status.State {
	return t.state.Current()
}

// Snapshot returns the local client view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		UserID:    t.uid,
		State:     t.state.Current(),
		AppState:  t.app,
		NetOnline: t.net.IsOnline(),
		Linked:    t.linked,
	}
}

// Initialize starts publishing presence for uid. The tracker follows the
// app state, the network monitor and the channel link until Cleanup.
func (t *Tracker) Initialize(ctx context.Context, uid string) error {
	if uid == "" {
		return errors.New("presence: empty user id")
	}
	t.mu.Lock()
	if t.uid != "" {
		t.mu.Unlock()
		return ErrAlreadyInitialized
	}
	t.uid = uid
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	t.mu.Unlock()

	t.logger.Info("presence initialized", zap.String("uid", uid))
	t.register(t.net.Subscribe(func(model.NetworkState) { t.evaluate() }))
	t.register(t.ch.WatchConnected(t.onLink))
	t.evaluate()
	return nil
}

// SetAppState records a foreground/background change.
func (t *Tracker) SetAppState(s AppState) {
	t.mu.Lock()
	t.app = s
	t.mu.Unlock()
	t.evaluate()
}

// Cleanup announces offline, removes the disconnect hook, disposes every
// subscription and returns the tracker to Unknown. It is safe to call when
// not initialized.
func (t *Tracker) Cleanup(ctx context.Context) {
	t.drain()
	t.clearTyping(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.uid == "" {
		return
	}
	t.stopHeartbeat()
	if t.linked {
		t.write(ctx, model.PresenceOffline)
		if err := t.ch.CancelOnDisconnect(ctx, t.uid); err != nil {
			t.logger.Warn("cancel disconnect hook", zap.String("uid", t.uid), zap.Error(err))
		}
	}
	if cur := t.state.Current(); cur != status.Unknown {
		if err := t.state.Transition(status.Unknown); err != nil {
			t.logger.Error("reset presence state", zap.Error(err))
		}
	}
	t.cancel()
	t.logger.Info("presence cleaned up", zap.String("uid", t.uid))
	t.uid = ""
	t.linked = false
	t.app = AppActive
}

func (t *Tracker) onLink(up bool) {
	t.mu.Lock()
	changed := t.linked != up
	t.linked = up
	t.mu.Unlock()
	if changed {
		t.logger.Info("presence link changed", zap.Bool("connected", up))
	}
	t.evaluate()
}

// evaluate moves the state machine to match the current inputs.
func (t *Tracker) evaluate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.uid == "" {
		return
	}
	want := status.Offline
	if t.app == AppActive && t.linked && t.net.IsOnline() {
		want = status.Online
	}
	if t.state.Current() == want {
		return
	}
	if want == status.Online {
		t.goOnline()
	} else {
		t.goOffline()
	}
}

// goOnline arms the disconnect hook before the first online write so a
// crash in between still resolves to offline. Caller holds mu.
func (t *Tracker) goOnline() {
	ctx, cancel := context.WithTimeout(t.ctx, t.opts.HeartbeatInterval)
	defer cancel()
	if err := t.ch.OnDisconnect(ctx, t.uid); err != nil {
		t.logger.Warn("register disconnect hook", zap.String("uid", t.uid), zap.Error(err))
	}
	if err := t.state.Transition(status.Online); err != nil {
		t.logger.Error("enter online state", zap.Error(err))
		return
	}
	t.write(ctx, model.PresenceOnline)
	t.startHeartbeat()
}

// goOffline stops the heartbeat and announces offline. Caller holds mu.
func (t *Tracker) goOffline() {
	was := t.state.Current()
	t.stopHeartbeat()
	if err := t.state.Transition(status.Offline); err != nil {
		t.logger.Error("enter offline state", zap.Error(err))
		return
	}
	if !t.linked {
		return
	}
	ctx, cancel := context.WithTimeout(t.ctx, t.opts.HeartbeatInterval)
	defer cancel()
	t.write(ctx, model.PresenceOffline)
	if was == status.Online {
		if err := t.ch.CancelOnDisconnect(ctx, t.uid); err != nil {
			t.logger.Warn("cancel disconnect hook", zap.String("uid", t.uid), zap.Error(err))
		}
	}
}

// write is best-effort: failures are logged only.
func (t *Tracker) write(ctx context.Context, state model.PresenceState) {
	if err := t.ch.WriteStatus(ctx, t.uid, state); err != nil {
		t.logger.Warn("presence write failed",
			zap.String("uid", t.uid), zap.String("state", string(state)), zap.Error(err))
	}
}

// startHeartbeat runs the online write loop. Caller holds mu.
func (t *Tracker) startHeartbeat() {
	ctx, cancel := context.WithCancel(t.ctx)
	done := make(chan struct{})
	t.hbCancel, t.hbDone = cancel, done
	uid, interval := t.uid, t.opts.HeartbeatInterval

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			wctx, wcancel := context.WithTimeout(ctx, interval)
			err := t.ch.WriteStatus(wctx, uid, model.PresenceOnline)
			wcancel()
			if err != nil && ctx.Err() == nil {
				t.logger.Warn("heartbeat failed", zap.String("uid", uid), zap.Error(err))
			}
		}
	}()
}

// stopHeartbeat cancels the loop and waits for it. Caller holds mu.
func (t *Tracker) stopHeartbeat() {
	if t.hbCancel == nil {
		return
	}
	t.hbCancel()
	<-t.hbDone
	t.hbCancel, t.hbDone = nil, nil
}

// register keeps a disposer until Cleanup and returns one that also
// unregisters it.
func (t *Tracker) register(dispose func()) func() {
	t.regMu.Lock()
	id := t.nextID
	t.nextID++
	t.disposers[id] = dispose
	t.regMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.regMu.Lock()
			delete(t.disposers, id)
			t.regMu.Unlock()
			dispose()
		})
	}
}

func (t *Tracker) drain() {
	t.regMu.Lock()
	all := t.disposers
	t.disposers = make(map[int]func())
	t.regMu.Unlock()
	for _, dispose := range all {
		dispose()
	}
}
