package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/courier/internal/bus"
	"github.com/segmentio/kafka-go"
)

type memWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *memWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestExporterForwardsMessageEvents(t *testing.T) {
	b := bus.New()
	w := &memWriter{}
	e := NewExporter(b, w, nil)
	e.Start(context.Background())

	b.Emit(bus.MessageSent, bus.MessageRef{ChatID: "chat1", MessageID: "m1", OptimisticID: "temp_1_a", Status: "sent"})
	b.Emit(bus.PresencePeerChanged, "ignored")

	deadline := time.Now().Add(2 * time.Second)
	for len(w.written()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}

	msgs := w.written()
	if len(msgs) != 1 {
		t.Fatalf("wrote %d records, want 1", len(msgs))
	}
	if string(msgs[0].Key) != "chat1" {
		t.Errorf("key = %q, want chat1", msgs[0].Key)
	}
	var env struct {
		Kind    string         `json:"kind"`
		Payload bus.MessageRef `json:"payload"`
	}
	if err := json.Unmarshal(msgs[0].Value, &env); err != nil {
		t.Fatal(err)
	}
	if env.Kind != bus.MessageSent || env.Payload.MessageID != "m1" {
		t.Errorf("envelope = %+v", env)
	}
	if !w.closed {
		t.Error("writer not closed on Stop")
	}
}

func TestDisabledExporter(t *testing.T) {
	e := NewExporter(bus.New(), nil, nil)
	if e.Enabled() {
		t.Fatal("exporter without writer reports enabled")
	}
	e.Start(context.Background())
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestKeyFallsBackToKind(t *testing.T) {
	if got := Key(bus.Event{Kind: bus.SyncFlushCompleted, Payload: 3}); got != bus.SyncFlushCompleted {
		t.Errorf("Key = %q", got)
	}
}
