// Package netmon tracks device connectivity and notifies listeners when it
// changes.
package netmon

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/model"
	"go.uber.org/zap"
)

// Prober reports the current connectivity of the device.
type Prober interface {
	Probe(ctx context.Context) model.NetworkState
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) model.NetworkState

func (f ProberFunc) Probe(ctx context.Context) model.NetworkState { return f(ctx) }

// Listener receives the new state after every change.
type Listener func(model.NetworkState)

// Monitor holds the last known network state. Every signal is compared with
// the previous one in serialized form and listeners hear only real changes.
type Monitor struct {
	prober Prober
	bus    *bus.Bus
	logger *zap.Logger

	mu        sync.Mutex
	state     model.NetworkState
	encoded   []byte
	listeners map[int]Listener
	nextID    int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor. Until the first signal arrives the device is assumed
// connected with unknown reachability, which counts as online.
func New(prober Prober, b *bus.Bus, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	initial := model.NetworkState{IsConnected: true, Type: "unknown"}
	encoded, _ := json.Marshal(initial)
	return &Monitor{
		prober:    prober,
		bus:       b,
		logger:    logger,
		state:     initial,
		encoded:   encoded,
		listeners: make(map[int]Listener),
	}
}

// CurrentState returns the last known network state.
func (m *Monitor) CurrentState() model.NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOnline reports whether the device is connected and the internet is
// reachable or not yet known to be unreachable.
func (m *Monitor) IsOnline() bool {
	return m.CurrentState().Online()
}

// Subscribe registers fn for change notifications and returns its disposer.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Refresh probes the platform once and applies the result.
func (m *Monitor) Refresh(ctx context.Context) model.NetworkState {
	if m.prober == nil {
		return m.CurrentState()
	}
	state := m.prober.Probe(ctx)
	m.Report(state)
	return state
}

// Report applies a platform connectivity signal. It returns true when the
// signal changed the state.
func (m *Monitor) Report(state model.NetworkState) bool {
	encoded, err := json.Marshal(state)
	if err != nil {
		m.logger.Error("encode network state", zap.Error(err))
		return false
	}

	m.mu.Lock()
	if bytes.Equal(encoded, m.encoded) {
		m.mu.Unlock()
		return false
	}
	prev := m.state
	m.state = state
	m.encoded = encoded
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	m.logger.Info("network changed",
		zap.Bool("connected", state.IsConnected),
		zap.Bool("online", state.Online()),
		zap.String("type", state.Type))
	m.bus.Emit(bus.NetworkChanged, Change{Previous: prev, Current: state})

	for _, fn := range listeners {
		fn(state)
	}
	return true
}

// Change is the bus payload for network.changed.
type Change struct {
	Previous model.NetworkState `json:"previous"`
	Current  model.NetworkState `json:"current"`
}

// Regained reports whether the change brought the device back online.
func (c Change) Regained() bool {
	return !c.Previous.Online() && c.Current.Online()
}

// Start probes once and then on every interval until Stop.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.Refresh(ctx)

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}
