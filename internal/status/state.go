package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/courier/internal/bus"
)

// State is a named state of a Machine.
type State string

// Sync engine states.
const (
	Idle     State = "IDLE"
	Flushing State = "FLUSHING"
)

// Local presence states.
const (
	Unknown State = "UNKNOWN"
	Online  State = "ONLINE"
	Offline State = "OFFLINE"
)

// Table lists, for each state, the states it may move to.
type Table map[State][]State

// SyncTable has a single legal guard: only an idle engine may start flushing.
var SyncTable = Table{
	Idle:     {Flushing},
	Flushing: {Idle},
}

// PresenceTable drives the local client's liveness. Cleanup returns to Unknown.
var PresenceTable = Table{
	Unknown: {Online, Offline},
	Online:  {Offline, Unknown},
	Offline: {Online, Unknown},
}

// Machine tracks and enforces state transitions, publishing each change on
// the bus under the configured event kind.
type Machine struct {
	mu      sync.RWMutex
	current State
	table   Table
	kind    string
	bus     *bus.Bus
}

// NewMachine creates a machine in the initial state. kind is the bus event
// kind used for change notifications; b may be nil.
func NewMachine(initial State, table Table, kind string, b *bus.Bus) *Machine {
	return &Machine{
		current: initial,
		table:   table,
		kind:    kind,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if !slices.Contains(m.table[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	m.mu.Unlock()

	m.publish(from, to)
	return nil
}

// CompareAndTransition moves from -> to only if the machine is currently in
// from. It reports whether the transition happened; concurrent callers racing
// for the same transition see exactly one success.
func (m *Machine) CompareAndTransition(from, to State) bool {
	m.mu.Lock()
	if m.current != from || !slices.Contains(m.table[from], to) {
		m.mu.Unlock()
		return false
	}
	m.current = to
	m.mu.Unlock()

	m.publish(from, to)
	return true
}

func (m *Machine) publish(from, to State) {
	if m.bus == nil || m.kind == "" {
		return
	}
	m.bus.Emit(m.kind, StatusChange{From: from, To: to})
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
