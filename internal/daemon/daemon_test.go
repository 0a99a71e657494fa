package daemon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/matheus3301/courier/internal/api"
	"github.com/matheus3301/courier/internal/config"
	"github.com/matheus3301/courier/internal/lock"
	"github.com/matheus3301/courier/internal/profile"
	"github.com/matheus3301/courier/internal/status"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func testParams(t *testing.T) Params {
	t.Helper()
	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	home, err := os.MkdirTemp("/tmp", "courier-d-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(home) })
	t.Setenv(profile.HomeEnv, home)

	cfg := config.Default()
	cfg.User = config.UserConfig{ID: "alice", Name: "Alice"}
	cfg.Network.ProbeAddr = ""
	cfg.Remote.Driver = "memory"
	cfg.Realtime.Driver = "memory"
	cfg.Blob.Driver = "dir"
	cfg.Kafka.Brokers = nil
	cfg.Log.Quiet = true
	cfg.Sync.ConfirmDelay = config.D(time.Millisecond)
	return Params{Profile: "t", Config: cfg}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestDaemonLifecycle(t *testing.T) {
	p := testParams(t)
	app := fxtest.New(t, Module(p), fx.NopLogger)
	app.RequireStart()

	client, err := api.Dial(profile.SocketPath(p.Profile))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()
	ctx := context.Background()

	st, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if st.Profile != "t" || st.UserID != "alice" {
		t.Errorf("status = %+v, want profile t user alice", st)
	}
	if !st.Online {
		t.Error("expected online without a prober")
	}
	waitFor(t, "presence online", func() bool {
		st, err := client.Status(ctx)
		return err == nil && st.Presence.State == status.Online
	})

	chat, err := client.OpenChat(ctx, "bob")
	if err != nil {
		t.Fatalf("OpenChat error = %v", err)
	}
	if chat.ID != "alice_bob" {
		t.Errorf("chat id = %q, want alice_bob", chat.ID)
	}

	sent, err := client.SendText(ctx, chat.ID, "hello")
	if err != nil {
		t.Fatalf("SendText error = %v", err)
	}
	if !sent.IsOptimistic || sent.Status != "sending" {
		t.Errorf("send = %+v, want optimistic sending", sent)
	}
	waitFor(t, "delivered message", func() bool {
		msgs, err := client.ListMessages(ctx, chat.ID, 10, 0)
		return err == nil && len(msgs) == 1 && msgs[0].Status == "sent" && !msgs[0].IsOptimistic
	})

	info, err := lock.Inspect(profile.Dir(p.Profile))
	if err != nil {
		t.Fatal(err)
	}
	if info == nil || info.PID != os.Getpid() {
		t.Errorf("lock info = %+v, want held by this process", info)
	}

	app.RequireStop()

	if _, err := os.Stat(profile.SocketPath(p.Profile)); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	info, err = lock.Inspect(profile.Dir(p.Profile))
	if err != nil {
		t.Fatal(err)
	}
	if info != nil {
		t.Errorf("lock still held after stop: %+v", info)
	}
}

func TestDaemonRefusesSecondInstance(t *testing.T) {
	p := testParams(t)
	first := fxtest.New(t, Module(p), fx.NopLogger)
	first.RequireStart()
	defer first.RequireStop()

	second := fx.New(Module(p), fx.NopLogger)
	if second.Err() == nil {
		t.Fatal("second daemon on the same profile started")
	}

	client, err := api.Dial(profile.SocketPath(p.Profile))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()
	if _, err := client.Status(context.Background()); err != nil {
		t.Errorf("first daemon unreachable after refused start: %v", err)
	}
}

func TestDaemonKeepsCacheAcrossRestarts(t *testing.T) {
	p := testParams(t)
	ctx := context.Background()

	app := fxtest.New(t, Module(p), fx.NopLogger)
	app.RequireStart()
	client, err := api.Dial(profile.SocketPath(p.Profile))
	if err != nil {
		t.Fatal(err)
	}
	chat, err := client.OpenChat(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.SendText(ctx, chat.ID, "persisted"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "delivered message", func() bool {
		msgs, err := client.ListMessages(ctx, chat.ID, 10, 0)
		return err == nil && len(msgs) == 1 && msgs[0].Status == "sent"
	})
	_ = client.Close()
	app.RequireStop()

	app = fxtest.New(t, Module(p), fx.NopLogger)
	app.RequireStart()
	defer app.RequireStop()
	client, err = api.Dial(profile.SocketPath(p.Profile))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	msgs, err := client.ListMessages(ctx, chat.ID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Text != "persisted" {
		t.Errorf("messages after restart = %+v, want the persisted one", msgs)
	}
}

func TestRecoverUnaryReportsInternal(t *testing.T) {
	intercept := recoverUnary(zap.NewNop())
	info := &grpc.UnaryServerInfo{FullMethod: "/courier.v1.Control/GetStatus"}
	_, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	if grpcstatus.Code(err) != codes.Internal {
		t.Errorf("code = %v, want Internal", grpcstatus.Code(err))
	}
}
