package outbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/courier/internal/blob"
	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/model"
	"github.com/matheus3301/courier/internal/remote"
	"github.com/matheus3301/courier/internal/store"
	"go.uber.org/zap"
)

type fakeNet struct{ online atomic.Bool }

func (n *fakeNet) IsOnline() bool { return n.online.Load() }

func newNet(online bool) *fakeNet {
	n := &fakeNet{}
	n.online.Store(online)
	return n
}

// gatedStore blocks WriteMessage until release is closed.
type gatedStore struct {
	remote.Store
	release chan struct{}
}

func (g *gatedStore) WriteMessage(ctx context.Context, m *model.Message) (remote.Receipt, error) {
	<-g.release
	return g.Store.WriteMessage(ctx, m)
}

type fixture struct {
	cache  *store.Memory
	remote *remote.Memory
	net    *fakeNet
	bus    *bus.Bus
	p      *Pipeline
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	f := &fixture{
		cache:  store.NewMemory(),
		remote: remote.NewMemory(),
		net:    newNet(online),
		bus:    bus.New(),
	}
	ctx := context.Background()
	chat := &model.Chat{ID: "chat1", Type: model.ChatDirect, Participants: []string{"userA", "userB"}}
	if _, err := f.remote.CreateChat(ctx, chat); err != nil {
		t.Fatal(err)
	}
	if err := f.cache.SaveChat(ctx, chat); err != nil {
		t.Fatal(err)
	}
	logger, _ := zap.NewDevelopment()
	blobs := blob.NewDir(t.TempDir(), "https://cdn.example.com")
	f.p = New(f.cache, f.remote, blobs, f.net, f.bus, logger, Options{ConfirmDelay: 10 * time.Millisecond})
	t.Cleanup(f.p.Close)
	return f
}

func expectEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func TestSendOfflineQueuesLocally(t *testing.T) {
	f := newFixture(t, false)

	msg := f.p.Send("chat1", "userA", model.Content{Text: "Hello"}, model.SenderMeta{Name: "Alice"})
	if msg.Status != model.StatusSending || !msg.IsOptimistic {
		t.Errorf("returned %+v, want optimistic sending", msg)
	}
	if !strings.HasPrefix(msg.OptimisticID, "temp_") || msg.ID != msg.OptimisticID {
		t.Errorf("optimistic id = %q / id = %q", msg.OptimisticID, msg.ID)
	}
	f.p.Wait()

	queued, err := f.cache.GetQueuedMessages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 || queued[0].OptimisticID != msg.OptimisticID || queued[0].Status != model.StatusSending {
		t.Fatalf("queued = %+v, want the placeholder", queued)
	}
	if f.remote.WriteCount(msg.OptimisticID) != 0 {
		t.Error("offline send reached the remote store")
	}
}

func TestSendReturnsBeforeRemoteWrite(t *testing.T) {
	f := newFixture(t, true)
	gate := &gatedStore{Store: f.remote, release: make(chan struct{})}
	f.p = New(f.cache, gate, nil, f.net, f.bus, nil, Options{ConfirmDelay: time.Millisecond})
	defer f.p.Close()

	msg := f.p.Send("chat1", "userA", model.Content{Text: "Hello"}, model.SenderMeta{Name: "Alice"})
	if msg.Status != model.StatusSending {
		t.Fatalf("status = %s, want sending", msg.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		m, _ := f.cache.GetMessage(context.Background(), msg.OptimisticID)
		if m != nil && m.Status == model.StatusSending {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("placeholder never persisted while remote write was pending")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(gate.release)
	f.p.Wait()
	m, _ := f.cache.GetMessage(context.Background(), msg.OptimisticID)
	if m == nil || m.Status != model.StatusSent {
		t.Errorf("after release got %+v, want sent", m)
	}
}

func TestSendOnlineReplacesPlaceholder(t *testing.T) {
	f := newFixture(t, true)
	events, unsub := f.bus.Subscribe("message.", 16)
	defer unsub()
	ctx := context.Background()

	msg := f.p.Send("chat1", "userA", model.Content{Text: "Hello"}, model.SenderMeta{Name: "Alice"})
	expectEvent(t, events, bus.MessageQueued)
	sent := expectEvent(t, events, bus.MessageSent)
	expectEvent(t, events, bus.MessageConfirmed)
	f.p.Wait()

	msgs, err := f.cache.GetMessages(ctx, "chat1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("cache holds %d records, want exactly 1", len(msgs))
	}
	got := msgs[0]
	stored, ok := f.remote.Message(msg.OptimisticID)
	if !ok {
		t.Fatal("remote store has no record")
	}
	if got.ID != stored.ID || got.IsOptimistic || got.Status != model.StatusSent {
		t.Errorf("local = %+v, want store id %s sent", got, stored.ID)
	}
	if got.Timestamp != stored.Timestamp {
		t.Errorf("local timestamp %d, want server timestamp %d", got.Timestamp, stored.Timestamp)
	}
	if ref := sent.Payload.(bus.MessageRef); ref.MessageID != stored.ID {
		t.Errorf("sent event id = %s, want %s", ref.MessageID, stored.ID)
	}

	remoteChat, _ := f.remote.GetChat(ctx, "chat1")
	if remoteChat.LastMessage == nil || remoteChat.LastMessage.Text != "Hello" {
		t.Errorf("remote summary = %+v, want Hello", remoteChat.LastMessage)
	}
	localChat, _ := f.cache.GetChat(ctx, "chat1")
	if localChat.LastMessage == nil || localChat.LastMessage.Text != "Hello" || localChat.LastMessage.SenderName != "Alice" {
		t.Errorf("local summary = %+v, want Hello from Alice", localChat.LastMessage)
	}
}

func TestSendFailureMarksFailed(t *testing.T) {
	f := newFixture(t, true)
	f.remote.SetFault(func(op string) error {
		if op == remote.OpWriteMessage {
			return errors.New("permission denied")
		}
		return nil
	})
	events, unsub := f.bus.Subscribe("message.failed", 4)
	defer unsub()

	msg := f.p.Send("chat1", "userA", model.Content{Text: "Hello"}, model.SenderMeta{})
	evt := expectEvent(t, events, bus.MessageFailed)
	f.p.Wait()

	if ref := evt.Payload.(bus.MessageRef); !strings.Contains(ref.Error, "permission denied") {
		t.Errorf("event error = %q", ref.Error)
	}
	m, _ := f.cache.GetMessage(context.Background(), msg.OptimisticID)
	if m == nil || m.Status != model.StatusFailed || !m.IsOptimistic {
		t.Fatalf("got %+v, want failed placeholder", m)
	}
	if m.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0 (only sync attempts count)", m.RetryCount)
	}
}

func TestSummaryFailureThenRetry(t *testing.T) {
	f := newFixture(t, true)
	f.remote.SetFault(func(op string) error {
		if op == remote.OpUpdateChatSummary {
			return remote.ErrUnavailable
		}
		return nil
	})
	ctx := context.Background()

	msg := f.p.Send("chat1", "userA", model.Content{Text: "Hello"}, model.SenderMeta{})
	f.p.Wait()

	m, _ := f.cache.GetMessage(ctx, msg.OptimisticID)
	if m == nil || m.Status != model.StatusFailed || m.IsOptimistic {
		t.Fatalf("got %+v, want delivered record marked failed", m)
	}

	f.remote.SetFault(nil)
	if _, err := f.p.Retry(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	f.p.Wait()

	msgs, _ := f.cache.GetMessages(ctx, "chat1", 10, 0)
	if len(msgs) != 1 || msgs[0].Status != model.StatusSent {
		t.Fatalf("after retry got %+v, want one sent record", msgs)
	}
	if n := len(f.remote.Messages("chat1")); n != 1 {
		t.Errorf("remote has %d records, want 1", n)
	}
}

func TestRetryRejectsNonFailed(t *testing.T) {
	f := newFixture(t, false)
	msg := f.p.Send("chat1", "userA", model.Content{Text: "Hello"}, model.SenderMeta{})
	f.p.Wait()

	_, err := f.p.Retry(context.Background(), msg.ID)
	if !errors.Is(err, ErrNotRetryable) {
		t.Errorf("err = %v, want ErrNotRetryable", err)
	}
	_, err = f.p.Retry(context.Background(), "missing")
	if !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestSendImageUploadsLocalMedia(t *testing.T) {
	f := newFixture(t, true)
	src := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(src, []byte("img"), 0600); err != nil {
		t.Fatal(err)
	}

	msg := f.p.Send("chat1", "userA", model.Content{ImageURL: src, Text: "look"}, model.SenderMeta{})
	f.p.Wait()

	stored, ok := f.remote.Message(msg.OptimisticID)
	if !ok {
		t.Fatal("message not written")
	}
	if model.IsLocalURI(stored.Content.ImageURL) {
		t.Errorf("remote image url %q is still local", stored.Content.ImageURL)
	}
	chat, _ := f.remote.GetChat(context.Background(), "chat1")
	if chat.LastMessage.Text != "📷 look" || chat.LastMessage.Type != model.ContentImage {
		t.Errorf("summary = %+v, want image caption", chat.LastMessage)
	}
}

func TestReact(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	msg := f.p.Send("chat1", "userA", model.Content{Text: "Hello"}, model.SenderMeta{})
	f.p.Wait()
	stored, _ := f.remote.Message(msg.OptimisticID)

	// Addressed by optimistic id, applied to the store id.
	if _, err := f.p.React(ctx, "chat1", msg.OptimisticID, "userB", "👍", false); err != nil {
		t.Fatal(err)
	}
	if got := f.remote.Reactions(stored.ID, "👍"); len(got) != 1 {
		t.Errorf("remote reactions = %v, want userB", got)
	}

	f.net.online.Store(false)
	if _, err := f.p.React(ctx, "chat1", stored.ID, "userB", "👍", true); err != nil {
		t.Fatal(err)
	}
	pending, _ := f.cache.PendingReactions(ctx)
	if len(pending) != 1 || !pending[0].Remove {
		t.Errorf("pending = %+v, want queued removal", pending)
	}
}
