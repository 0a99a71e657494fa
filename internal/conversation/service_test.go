package conversation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/model"
	"github.com/matheus3301/courier/internal/remote"
	"github.com/matheus3301/courier/internal/store"
)

type fakeNet struct{ online atomic.Bool }

func (n *fakeNet) IsOnline() bool { return n.online.Load() }

func newService(t *testing.T) (*Service, *store.Memory, *remote.Memory, *fakeNet) {
	t.Helper()
	cache := store.NewMemory()
	rs := remote.NewMemory()
	net := &fakeNet{}
	net.online.Store(true)
	return New(cache, rs, net, bus.New(), nil), cache, rs, net
}

func TestEnsureDirectIsStable(t *testing.T) {
	svc, cache, _, net := newService(t)
	ctx := context.Background()

	a, err := svc.EnsureDirect(ctx, "userB", "userA")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != "userA_userB" || a.Type != model.ChatDirect {
		t.Errorf("chat = %+v", a)
	}

	net.online.Store(false)
	b, err := svc.EnsureDirect(ctx, "userA", "userB")
	if err != nil {
		t.Fatalf("cached direct chat offline: %v", err)
	}
	if b.ID != a.ID {
		t.Errorf("ids differ: %s vs %s", a.ID, b.ID)
	}
	if c, _ := cache.GetChat(ctx, a.ID); c == nil {
		t.Error("direct chat not cached")
	}

	if _, err := svc.EnsureDirect(ctx, "userA", "userC"); !errors.Is(err, ErrRequiresConnectivity) {
		t.Errorf("offline create = %v, want ErrRequiresConnectivity", err)
	}
	if _, err := svc.EnsureDirect(ctx, "userA", "userA"); !errors.Is(err, ErrInvalidChat) {
		t.Errorf("self chat = %v, want ErrInvalidChat", err)
	}
}

func TestCreateGroupRequiresConnectivity(t *testing.T) {
	svc, _, rs, net := newService(t)
	ctx := context.Background()

	net.online.Store(false)
	if _, err := svc.CreateGroup(ctx, "userA", "Team", []string{"userB"}); !errors.Is(err, ErrRequiresConnectivity) {
		t.Fatalf("offline CreateGroup = %v", err)
	}

	net.online.Store(true)
	chat, err := svc.CreateGroup(ctx, "userA", " Team ", []string{"userB", "userA", "userC", "userB"})
	if err != nil {
		t.Fatal(err)
	}
	if chat.Name != "Team" || len(chat.Participants) != 3 || !chat.IsAdmin("userA") {
		t.Errorf("group = %+v", chat)
	}
	if _, err := rs.GetChat(ctx, chat.ID); err != nil {
		t.Errorf("group missing remotely: %v", err)
	}
}

func TestDeleteChat(t *testing.T) {
	svc, cache, rs, net := newService(t)
	ctx := context.Background()
	group, err := svc.CreateGroup(ctx, "userA", "Team", []string{"userB"})
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.SaveMessage(ctx, &model.Message{ID: "m1", ChatID: group.ID, Content: model.Content{Text: "hi"}, Status: model.StatusSent}); err != nil {
		t.Fatal(err)
	}

	net.online.Store(false)
	if err := svc.DeleteChat(ctx, group.ID, "userA"); !errors.Is(err, ErrRequiresConnectivity) {
		t.Errorf("offline delete = %v, want ErrRequiresConnectivity", err)
	}
	net.online.Store(true)

	if err := svc.DeleteChat(ctx, group.ID, "userB"); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("member delete = %v, want ErrNotAdmin", err)
	}
	if err := svc.DeleteChat(ctx, group.ID, "userZ"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("outsider delete = %v, want ErrNotParticipant", err)
	}
	if err := svc.DeleteChat(ctx, group.ID, "userA"); err != nil {
		t.Fatal(err)
	}
	if _, err := rs.GetChat(ctx, group.ID); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("remote chat after delete: %v", err)
	}
	if c, _ := cache.GetChat(ctx, group.ID); c != nil {
		t.Error("chat still cached")
	}
	if m, _ := cache.GetMessage(ctx, "m1"); m != nil {
		t.Error("message still cached")
	}
}

func TestDeleteChatEvictsWhenGoneRemotely(t *testing.T) {
	cache := store.NewMemory()
	net := &fakeNet{}
	net.online.Store(true)
	b := bus.New()
	events, unsub := b.Subscribe("chat.", 4)
	defer unsub()
	svc := New(cache, remote.NewMemory(), net, b, nil)
	ctx := context.Background()

	stale := &model.Chat{ID: "gone", Type: model.ChatDirect, Participants: []string{"userA", "userB"}}
	if err := cache.SaveChat(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteChat(ctx, "gone", "userA"); err != nil {
		t.Fatalf("delete of remotely missing chat = %v", err)
	}
	if c, _ := cache.GetChat(ctx, "gone"); c != nil {
		t.Error("chat still cached")
	}
	select {
	case evt := <-events:
		if evt.Kind != bus.ChatDeleted {
			t.Errorf("event kind = %s", evt.Kind)
		}
		if ce, ok := evt.Payload.(ChatEvent); !ok || ce.ChatID != "gone" || ce.UserID != "userA" {
			t.Errorf("payload = %+v", evt.Payload)
		}
	default:
		t.Error("no chat.deleted event")
	}
}

func TestLeaveChat(t *testing.T) {
	svc, cache, rs, _ := newService(t)
	ctx := context.Background()
	group, err := svc.CreateGroup(ctx, "userA", "Team", []string{"userB"})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.LeaveChat(ctx, group.ID, "userZ"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("outsider leave = %v, want ErrNotParticipant", err)
	}
	if err := svc.LeaveChat(ctx, group.ID, "userB"); err != nil {
		t.Fatal(err)
	}
	remoteChat, err := rs.GetChat(ctx, group.ID)
	if err != nil {
		t.Fatal(err)
	}
	if remoteChat.HasParticipant("userB") {
		t.Error("userB still a participant remotely")
	}
	if c, _ := cache.GetChat(ctx, group.ID); c != nil {
		t.Error("left chat still cached")
	}

	direct, err := svc.EnsureDirect(ctx, "userA", "userB")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.LeaveChat(ctx, direct.ID, "userA"); !errors.Is(err, ErrInvalidChat) {
		t.Errorf("leave direct = %v, want ErrInvalidChat", err)
	}
}

func TestRemoveMember(t *testing.T) {
	svc, cache, _, _ := newService(t)
	ctx := context.Background()
	group, err := svc.CreateGroup(ctx, "userA", "Team", []string{"userB", "userC"})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.RemoveMember(ctx, group.ID, "userB", "userC"); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("non-admin remove = %v, want ErrNotAdmin", err)
	}
	if err := svc.RemoveMember(ctx, group.ID, "userA", "userZ"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("remove outsider = %v, want ErrNotParticipant", err)
	}
	if err := svc.RemoveMember(ctx, group.ID, "userA", "userC"); err != nil {
		t.Fatal(err)
	}
	cached, _ := cache.GetChat(ctx, group.ID)
	if cached == nil || cached.HasParticipant("userC") || !cached.HasParticipant("userB") {
		t.Errorf("cached chat = %+v", cached)
	}
}
