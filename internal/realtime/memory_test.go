package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/courier/internal/model"
)

// recorder collects callback values for assertions from the test goroutine.
type recorder[T any] struct {
	mu   sync.Mutex
	vals []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.vals = append(r.vals, v)
	r.mu.Unlock()
}

func (r *recorder[T]) last() (T, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if len(r.vals) == 0 {
		return zero, 0
	}
	return r.vals[len(r.vals)-1], len(r.vals)
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

func TestMemoryStatusUsesServerClock(t *testing.T) {
	srv := NewMemoryServer()
	srv.SetClock(func() time.Time { return time.UnixMilli(42_000) })
	a := srv.Connect()
	defer a.Close()

	if err := a.WriteStatus(context.Background(), "userA", model.PresenceOnline); err != nil {
		t.Fatal(err)
	}
	rec, ok := srv.Status("userA")
	if !ok || rec.State != model.PresenceOnline || rec.LastSeen != 42_000 {
		t.Errorf("record = %+v, want online at server time 42000", rec)
	}
}

func TestMemoryWatchStatusDeliversCurrentThenUpdates(t *testing.T) {
	srv := NewMemoryServer()
	a, b := srv.Connect(), srv.Connect()
	defer a.Close()
	defer b.Close()
	ctx := context.Background()

	if err := a.WriteStatus(ctx, "userA", model.PresenceOnline); err != nil {
		t.Fatal(err)
	}
	var got recorder[model.PresenceRecord]
	cancel := b.WatchStatus("userA", got.add)
	defer cancel()

	waitFor(t, "current record", func() bool {
		rec, n := got.last()
		return n == 1 && rec.State == model.PresenceOnline && rec.UserID == "userA"
	})

	if err := a.WriteStatus(ctx, "userA", model.PresenceOffline); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "offline update", func() bool {
		rec, n := got.last()
		return n == 2 && rec.State == model.PresenceOffline
	})

	cancel()
	_ = a.WriteStatus(ctx, "userA", model.PresenceOnline)
	time.Sleep(20 * time.Millisecond)
	if _, n := got.last(); n != 2 {
		t.Errorf("got %d deliveries after cancel, want 2", n)
	}
}

func TestMemoryKillFiresHooks(t *testing.T) {
	srv := NewMemoryServer()
	a, b := srv.Connect(), srv.Connect()
	defer b.Close()
	ctx := context.Background()

	if err := a.OnDisconnect(ctx, "userA"); err != nil {
		t.Fatal(err)
	}
	if err := a.OnDisconnect(ctx, "userA"); err != nil {
		t.Fatal(err)
	}
	if err := a.WriteStatus(ctx, "userA", model.PresenceOnline); err != nil {
		t.Fatal(err)
	}

	var peer recorder[model.PresenceRecord]
	defer b.WatchStatus("userA", peer.add)()
	var link recorder[bool]
	defer a.WatchConnected(link.add)()
	waitFor(t, "initial link state", func() bool { up, n := link.last(); return n == 1 && up })

	srv.Kill(a)

	waitFor(t, "offline from hook", func() bool {
		rec, _ := peer.last()
		return rec.State == model.PresenceOffline
	})
	waitFor(t, "link down", func() bool { up, n := link.last(); return n == 2 && !up })
	if a.Hooked("userA") {
		t.Error("hook still armed after firing")
	}
	if err := a.WriteStatus(ctx, "userA", model.PresenceOnline); err != ErrDisconnected {
		t.Errorf("write on killed conn = %v, want ErrDisconnected", err)
	}

	srv.Reconnect(a)
	waitFor(t, "link up", func() bool { up, n := link.last(); return n == 3 && up })
	if err := a.WriteStatus(ctx, "userA", model.PresenceOnline); err != nil {
		t.Errorf("write after reconnect: %v", err)
	}
}

func TestMemoryCancelledHookDoesNotFire(t *testing.T) {
	srv := NewMemoryServer()
	a := srv.Connect()
	ctx := context.Background()

	_ = a.OnDisconnect(ctx, "userA")
	_ = a.WriteStatus(ctx, "userA", model.PresenceOnline)
	if err := a.CancelOnDisconnect(ctx, "userA"); err != nil {
		t.Fatal(err)
	}
	srv.Kill(a)

	rec, _ := srv.Status("userA")
	if rec.State != model.PresenceOnline {
		t.Errorf("state = %s, want online (hook was cancelled)", rec.State)
	}
}

func TestMemoryTyping(t *testing.T) {
	srv := NewMemoryServer()
	a, b := srv.Connect(), srv.Connect()
	defer a.Close()
	defer b.Close()
	ctx := context.Background()

	var got recorder[[]model.TypingRecord]
	defer b.WatchTyping("chat1", got.add)()
	waitFor(t, "initial empty list", func() bool { recs, n := got.last(); return n == 1 && len(recs) == 0 })

	rec := model.TypingRecord{ChatID: "chat1", UserID: "userA", UserName: "Alice", IsTyping: true}
	if err := a.WriteTyping(ctx, rec); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "typing record", func() bool {
		recs, _ := got.last()
		return len(recs) == 1 && recs[0].UserName == "Alice" && recs[0].Timestamp > 0
	})

	rec.IsTyping = false
	if err := a.WriteTyping(ctx, rec); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "typing cleared", func() bool { recs, n := got.last(); return n == 3 && len(recs) == 0 })
}

func TestMailboxPreservesOrder(t *testing.T) {
	var got recorder[int]
	mb := newMailbox(got.add)
	for i := 0; i < 100; i++ {
		mb.push(i)
	}
	waitFor(t, "all values", func() bool { _, n := got.last(); return n == 100 })
	mb.close()

	got.mu.Lock()
	defer got.mu.Unlock()
	for i, v := range got.vals {
		if v != i {
			t.Fatalf("vals[%d] = %d, want %d", i, v, i)
		}
	}
}
