package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/model"
	"github.com/matheus3301/courier/internal/netmon"
	"github.com/matheus3301/courier/internal/realtime"
	"github.com/matheus3301/courier/internal/status"
	"go.uber.org/zap"
)

var (
	netDown = model.NetworkState{IsConnected: false, Type: "none"}
	netUp   = model.NetworkState{IsConnected: true, IsInternetReachable: model.Reachable(true), Type: "wifi"}
)

// clock is a settable time source shared by the server and the tracker.
type clock struct{ ms atomic.Int64 }

func newClock(ms int64) *clock {
	c := &clock{}
	c.ms.Store(ms)
	return c
}

func (c *clock) Now() time.Time          { return time.UnixMilli(c.ms.Load()) }
func (c *clock) Advance(d time.Duration) { c.ms.Add(d.Milliseconds()) }

type recorder[T any] struct {
	mu   sync.Mutex
	vals []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.vals = append(r.vals, v)
	r.mu.Unlock()
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.vals...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

type fixture struct {
	srv     *realtime.MemoryServer
	conn    *realtime.MemoryConn
	net     *netmon.Monitor
	bus     *bus.Bus
	tracker *Tracker
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{srv: realtime.NewMemoryServer(), bus: bus.New()}
	f.conn = f.srv.Connect()
	f.net = netmon.New(nil, f.bus, nil)
	logger, _ := zap.NewDevelopment()
	f.tracker = NewTracker(f.conn, f.net, f.bus, logger, opts)
	t.Cleanup(func() {
		f.tracker.Cleanup(context.Background())
		_ = f.conn.Close()
	})
	return f
}

func (f *fixture) status(uid string) model.PresenceRecord {
	rec, _ := f.srv.Status(uid)
	return rec
}

func TestInitializeArmsHookAndGoesOnline(t *testing.T) {
	f := newFixture(t, Options{HeartbeatInterval: time.Hour})
	if err := f.tracker.Initialize(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "online", func() bool { return f.tracker.State() == status.Online })

	if !f.conn.Hooked("alice") {
		t.Error("disconnect hook not armed")
	}
	if rec := f.status("alice"); rec.State != model.PresenceOnline || rec.LastSeen == 0 {
		t.Errorf("record = %+v, want online with server time", rec)
	}
	if err := f.tracker.Initialize(context.Background(), "alice"); err != ErrAlreadyInitialized {
		t.Errorf("second Initialize = %v, want ErrAlreadyInitialized", err)
	}
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	f := newFixture(t, Options{HeartbeatInterval: 20 * time.Millisecond})
	if err := f.tracker.Initialize(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "online", func() bool { return f.tracker.State() == status.Online })
	first := f.status("alice").LastSeen
	waitFor(t, "heartbeat", func() bool { return f.status("alice").LastSeen > first })
}

func TestBackgroundWritesOfflineAndStopsHeartbeat(t *testing.T) {
	f := newFixture(t, Options{HeartbeatInterval: 20 * time.Millisecond})
	if err := f.tracker.Initialize(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "online", func() bool { return f.tracker.State() == status.Online })

	f.tracker.SetAppState(AppBackground)
	if got := f.tracker.State(); got != status.Offline {
		t.Fatalf("state = %s, want OFFLINE", got)
	}
	rec := f.status("alice")
	if rec.State != model.PresenceOffline {
		t.Fatalf("record = %+v, want offline", rec)
	}
	if f.conn.Hooked("alice") {
		t.Error("hook still armed after graceful background")
	}
	time.Sleep(80 * time.Millisecond)
	if after := f.status("alice"); after != rec {
		t.Errorf("record changed while backgrounded: %+v -> %+v", rec, after)
	}

	f.tracker.SetAppState(AppActive)
	if got := f.tracker.State(); got != status.Online {
		t.Fatalf("state = %s, want ONLINE", got)
	}
	if !f.conn.Hooked("alice") {
		t.Error("hook not re-armed on return to foreground")
	}
	if rec := f.status("alice"); rec.State != model.PresenceOnline {
		t.Errorf("record = %+v, want online", rec)
	}
}

func TestNetworkLossGoesOffline(t *testing.T) {
	f := newFixture(t, Options{HeartbeatInterval: time.Hour})
	if err := f.tracker.Initialize(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "online", func() bool { return f.tracker.State() == status.Online })
	changes, unsub := f.bus.Subscribe("presence.", 8)
	defer unsub()

	f.net.Report(netDown)
	if got := f.tracker.State(); got != status.Offline {
		t.Errorf("state = %s, want OFFLINE", got)
	}
	if rec := f.status("alice"); rec.State != model.PresenceOffline {
		t.Errorf("record = %+v, want offline", rec)
	}
	f.net.Report(netUp)
	if got := f.tracker.State(); got != status.Online {
		t.Errorf("state = %s, want ONLINE", got)
	}

	want := []status.State{status.Offline, status.Online}
	for _, w := range want {
		select {
		case evt := <-changes:
			if c := evt.Payload.(status.StatusChange); c.To != w {
				t.Errorf("state event to %s, want %s", c.To, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing state event to %s", w)
		}
	}
}

func TestAbnormalDropFiresHookAndReconnectRearms(t *testing.T) {
	f := newFixture(t, Options{HeartbeatInterval: time.Hour})
	observer := f.srv.Connect()
	defer observer.Close()

	if err := f.tracker.Initialize(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "online", func() bool { return f.tracker.State() == status.Online })

	f.srv.Kill(f.conn)
	if rec := f.status("alice"); rec.State != model.PresenceOffline {
		t.Errorf("record after drop = %+v, want offline from hook", rec)
	}
	waitFor(t, "offline after link loss", func() bool { return f.tracker.State() == status.Offline })

	f.srv.Reconnect(f.conn)
	waitFor(t, "online after reconnect", func() bool { return f.tracker.State() == status.Online })
	if !f.conn.Hooked("alice") {
		t.Error("hook not re-armed after reconnect")
	}
	if rec := f.status("alice"); rec.State != model.PresenceOnline {
		t.Errorf("record = %+v, want online", rec)
	}
}

func TestPeerGoesOfflineWhenHeartbeatsStop(t *testing.T) {
	clk := newClock(1_000_000)
	f := newFixture(t, Options{
		HeartbeatInterval: time.Hour,
		GraceWindow:       9 * time.Second,
		FreshnessTick:     10 * time.Millisecond,
		Now:               clk.Now,
	})
	f.srv.SetClock(clk.Now)

	peer := f.srv.Connect()
	defer peer.Close()
	if err := peer.WriteStatus(context.Background(), "bob", model.PresenceOnline); err != nil {
		t.Fatal(err)
	}

	var got recorder[PeerChange]
	dispose := f.tracker.SubscribePeer("bob", got.add)
	defer dispose()
	waitFor(t, "bob online", func() bool {
		all := got.all()
		return len(all) == 1 && all[0].State == model.PresenceOnline
	})

	clk.Advance(9 * time.Second)
	time.Sleep(50 * time.Millisecond)
	if n := len(got.all()); n != 1 {
		t.Fatalf("emitted %d changes at the grace edge, want 1", n)
	}

	clk.Advance(time.Millisecond)
	waitFor(t, "bob offline", func() bool {
		all := got.all()
		return len(all) == 2 && all[1].State == model.PresenceOffline
	})
	if all := got.all(); all[1].LastSeen != 1_000_000 {
		t.Errorf("last seen = %d, want 1000000", all[1].LastSeen)
	}

	if err := peer.WriteStatus(context.Background(), "bob", model.PresenceOnline); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob back online", func() bool {
		all := got.all()
		return len(all) == 3 && all[2].State == model.PresenceOnline
	})
}

func TestPeerDisposeStopsEmissions(t *testing.T) {
	clk := newClock(1_000_000)
	f := newFixture(t, Options{GraceWindow: time.Second, FreshnessTick: 5 * time.Millisecond, Now: clk.Now})
	f.srv.SetClock(clk.Now)
	peer := f.srv.Connect()
	defer peer.Close()
	if err := peer.WriteStatus(context.Background(), "bob", model.PresenceOnline); err != nil {
		t.Fatal(err)
	}

	var got recorder[PeerChange]
	dispose := f.tracker.SubscribePeer("bob", got.add)
	waitFor(t, "first emission", func() bool { return len(got.all()) == 1 })
	dispose()

	clk.Advance(time.Minute)
	if err := peer.WriteStatus(context.Background(), "bob", model.PresenceOffline); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(got.all()); n != 1 {
		t.Errorf("emissions after dispose: %v", got.all())
	}
}

func TestTypingAutoExpires(t *testing.T) {
	f := newFixture(t, Options{TypingTimeout: 60 * time.Millisecond})
	ctx := context.Background()

	var seen recorder[[]model.TypingRecord]
	dispose := f.tracker.SubscribeTyping("chat1", "bob", seen.add)
	defer dispose()

	f.tracker.SetTypingStatus(ctx, "chat1", "alice", "Alice", true)
	f.tracker.SetTypingStatus(ctx, "chat1", "bob", "Bob", true)
	waitFor(t, "alice typing", func() bool {
		all := seen.all()
		if len(all) == 0 {
			return false
		}
		last := all[len(all)-1]
		return len(last) == 1 && last[0].UserID == "alice" && last[0].UserName == "Alice"
	})

	start := time.Now()
	waitFor(t, "typing expired", func() bool {
		all := seen.all()
		return len(all[len(all)-1]) == 0
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expiry took %s", elapsed)
	}
}

func TestTypingRefreshAndExplicitOff(t *testing.T) {
	f := newFixture(t, Options{TypingTimeout: 200 * time.Millisecond})
	ctx := context.Background()

	var seen recorder[[]model.TypingRecord]
	dispose := f.tracker.SubscribeTyping("chat1", "bob", seen.add)
	defer dispose()
	typing := func() bool {
		all := seen.all()
		return len(all) > 0 && len(all[len(all)-1]) == 1
	}

	f.tracker.SetTypingStatus(ctx, "chat1", "alice", "Alice", true)
	waitFor(t, "typing on", typing)
	time.Sleep(120 * time.Millisecond)
	f.tracker.SetTypingStatus(ctx, "chat1", "alice", "Alice", true)
	time.Sleep(120 * time.Millisecond)
	if !typing() {
		t.Fatal("refreshed indicator expired early")
	}

	f.tracker.SetTypingStatus(ctx, "chat1", "alice", "Alice", false)
	waitFor(t, "typing off", func() bool { return !typing() })
}

func TestStaleTypingTimerIgnoredAfterRearm(t *testing.T) {
	f := newFixture(t, Options{TypingTimeout: time.Hour})
	ctx := context.Background()
	key := typingKey{"chat1", "alice"}
	armed := func() (uint64, bool) {
		f.tracker.typingMu.Lock()
		defer f.tracker.typingMu.Unlock()
		tt := f.tracker.typing[key]
		if tt == nil {
			return 0, false
		}
		return tt.gen, true
	}

	f.tracker.SetTypingStatus(ctx, "chat1", "alice", "Alice", true)
	first, _ := armed()
	f.tracker.SetTypingStatus(ctx, "chat1", "alice", "Alice", false)
	f.tracker.SetTypingStatus(ctx, "chat1", "alice", "Alice", true)

	// The first timer firing late must not turn the new indicator off.
	f.tracker.expireTyping(key, first)
	second, ok := armed()
	if !ok {
		t.Fatal("rearmed indicator expired by the previous timer")
	}
	if second == first {
		t.Errorf("generation reused: %d", second)
	}
}

func TestCleanupDrainsSubscriptions(t *testing.T) {
	clk := newClock(1_000_000)
	f := newFixture(t, Options{HeartbeatInterval: time.Hour, FreshnessTick: 5 * time.Millisecond, Now: clk.Now})
	f.srv.SetClock(clk.Now)
	ctx := context.Background()
	if err := f.tracker.Initialize(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "online", func() bool { return f.tracker.State() == status.Online })

	var got recorder[PeerChange]
	f.tracker.SubscribePeer("bob", got.add)
	waitFor(t, "initial peer state", func() bool { return len(got.all()) == 1 })
	f.tracker.SetTypingStatus(ctx, "chat1", "alice", "Alice", true)

	f.tracker.Cleanup(ctx)
	if got := f.tracker.State(); got != status.Unknown {
		t.Errorf("state = %s, want UNKNOWN", got)
	}
	if rec := f.status("alice"); rec.State != model.PresenceOffline {
		t.Errorf("record = %+v, want offline", rec)
	}
	if f.conn.Hooked("alice") {
		t.Error("hook left armed after cleanup")
	}

	peer := f.srv.Connect()
	defer peer.Close()
	if err := peer.WriteStatus(ctx, "bob", model.PresenceOnline); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if n := len(got.all()); n != 1 {
		t.Errorf("peer callback ran after cleanup: %v", got.all())
	}

	if err := f.tracker.Initialize(ctx, "alice"); err != nil {
		t.Fatalf("re-initialize after cleanup: %v", err)
	}
	waitFor(t, "online again", func() bool { return f.tracker.State() == status.Online })
}
