package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Emit(MessageSent, MessageRef{ChatID: "chat1", MessageID: "m1"})

	select {
	case evt := <-ch:
		if evt.Kind != MessageSent {
			t.Errorf("got kind %q, want %s", evt.Kind, MessageSent)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Emit did not stamp the event")
		}
		ref, ok := evt.Payload.(MessageRef)
		if !ok || ref.MessageID != "m1" {
			t.Errorf("payload = %#v, want MessageRef m1", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Emit(NetworkChanged, nil)
	b.Emit(SyncFlushCompleted, nil)

	select {
	case evt := <-ch:
		if evt.Kind != SyncFlushCompleted {
			t.Errorf("got kind %q, want %s", evt.Kind, SyncFlushCompleted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	unsub()
	unsub() // idempotent

	b.Emit(MessageQueued, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestNilBusIsSafe(t *testing.T) {
	var b *Bus
	b.Emit(MessageSent, nil)
	_, unsub := b.Subscribe("message.", 1)
	unsub()
}
