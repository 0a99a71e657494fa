package status

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/matheus3301/courier/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(Idle, SyncTable, "", nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		table Table
		from  State
		to    State
	}{
		{SyncTable, Idle, Flushing},
		{SyncTable, Flushing, Idle},
		{PresenceTable, Unknown, Online},
		{PresenceTable, Unknown, Offline},
		{PresenceTable, Online, Offline},
		{PresenceTable, Offline, Online},
		{PresenceTable, Online, Unknown},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(tt.from, tt.table, "", nil)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(Idle, SyncTable, "", nil)
	if err := m.Transition(Idle); err == nil {
		t.Error("Transition(IDLE -> IDLE) should fail")
	}
	p := NewMachine(Online, PresenceTable, "", nil)
	if err := p.Transition(Online); err == nil {
		t.Error("Transition(ONLINE -> ONLINE) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	m := NewMachine(Idle, SyncTable, bus.SyncStateChanged, b)
	if err := m.Transition(Flushing); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.SyncStateChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.SyncStateChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Flushing {
		t.Errorf("change = %v -> %v, want IDLE -> FLUSHING", change.From, change.To)
	}
}

// TestCompareAndTransitionSingleWinner verifies that many goroutines racing to
// start a flush produce exactly one winner.
func TestCompareAndTransitionSingleWinner(t *testing.T) {
	m := NewMachine(Idle, SyncTable, "", nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.CompareAndTransition(Idle, Flushing) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("got %d winners, want 1", wins.Load())
	}
	if m.Current() != Flushing {
		t.Errorf("state = %s, want FLUSHING", m.Current())
	}
	if !m.CompareAndTransition(Flushing, Idle) {
		t.Error("FLUSHING -> IDLE should succeed")
	}
}
