// Package sync drains the local queue of undelivered messages and reaction
// mutations into the remote store.
package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/model"
	"github.com/matheus3301/courier/internal/netmon"
	"github.com/matheus3301/courier/internal/outbox"
	"github.com/matheus3301/courier/internal/remote"
	"github.com/matheus3301/courier/internal/status"
	"github.com/matheus3301/courier/internal/store"
	"go.uber.org/zap"
)

// Network is the view of the network monitor the engine needs.
type Network interface {
	IsOnline() bool
	Subscribe(fn netmon.Listener) func()
}

// Options tunes the engine.
type Options struct {
	Interval   time.Duration
	MaxRetries int
}

// FlushResult summarizes one flush.
type FlushResult struct {
	Ran       bool `json:"ran"`
	Delivered int  `json:"delivered"`
	Retried   int  `json:"retried"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Reactions int  `json:"reactions"`
}

// Engine flushes the queue on a timer and whenever connectivity returns.
// At most one flush runs at a time; overlapping requests return at once.
type Engine struct {
	cache     store.Cache
	remote    remote.Store
	deliverer *outbox.Deliverer
	net       Network
	bus       *bus.Bus
	logger    *zap.Logger
	opts      Options
	state     *status.Machine

	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewEngine creates a sync engine.
func NewEngine(cache store.Cache, rs remote.Store, d *outbox.Deliverer, net Network, b *bus.Bus, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Engine{
		cache:     cache,
		remote:    rs,
		deliverer: d,
		net:       net,
		bus:       b,
		logger:    logger,
		opts:      opts,
		state:     status.NewMachine(status.Idle, status.SyncTable, bus.SyncStateChanged, b),
	}
}

// State returns the engine state, Idle or Flushing.
func (e *Engine) State() status.State {
	return e.state.Current()
}

// Start drains whatever is already queued, then runs the periodic timer and
// the reconnect trigger until Stop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	kick := make(chan struct{}, 1)

	var mu gosync.Mutex
	last := model.NetworkState{IsConnected: e.net.IsOnline()}
	unsub := e.net.Subscribe(func(s model.NetworkState) {
		mu.Lock()
		change := netmon.Change{Previous: last, Current: s}
		last = s
		mu.Unlock()
		if change.Regained() {
			select {
			case kick <- struct{}{}:
			default:
			}
		}
	})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer unsub()
		e.Flush(ctx)
		ticker := time.NewTicker(e.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Flush(ctx)
			case <-kick:
				e.logger.Info("connectivity regained, flushing queue")
				e.Flush(ctx)
			}
		}
	}()
}

// Stop stops the triggers and waits for a running flush to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Flush delivers every queued message and reaction it can. It returns with
// Ran false when a flush is already running or the device is offline.
func (e *Engine) Flush(ctx context.Context) FlushResult {
	var res FlushResult
	if e.state.Current() == status.Flushing || !e.net.IsOnline() {
		return res
	}
	if !e.state.CompareAndTransition(status.Idle, status.Flushing) {
		return res
	}
	defer func() {
		if err := e.state.Transition(status.Idle); err != nil {
			e.logger.Error("leave flushing state", zap.Error(err))
		}
	}()
	res.Ran = true

	queued, err := e.cache.GetQueuedMessages(ctx)
	if err != nil {
		e.logger.Error("read queued messages", zap.Error(err))
		return res
	}
	for i := range queued {
		if ctx.Err() != nil {
			break
		}
		e.flushMessage(ctx, &queued[i], &res)
	}
	res.Reactions = e.flushReactions(ctx)

	if res.Delivered+res.Retried+res.Failed+res.Reactions > 0 {
		e.logger.Info("flush completed",
			zap.Int("delivered", res.Delivered),
			zap.Int("retried", res.Retried),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
			zap.Int("reactions", res.Reactions))
	}
	e.bus.Emit(bus.SyncFlushCompleted, res)
	return res
}

func (e *Engine) flushMessage(ctx context.Context, m *model.Message, res *FlushResult) {
	if m.RetryCount >= e.opts.MaxRetries {
		res.Skipped++
		return
	}
	log := e.logger.With(zap.String("chat_id", m.ChatID), zap.String("optimistic_id", m.OptimisticID))

	attempt, err := e.deliverer.Deliver(ctx, m)
	if err == nil {
		res.Delivered++
		e.bus.Emit(bus.MessageSent, bus.MessageRef{
			ChatID:       attempt.Delivered.ChatID,
			MessageID:    attempt.Delivered.ID,
			OptimisticID: attempt.Delivered.OptimisticID,
			Status:       string(attempt.Delivered.Status),
		})
		return
	}

	retries := m.RetryCount + 1
	fields := []zap.Field{zap.Int("retry_count", retries), zap.Error(err)}
	if remote.IsTransient(err) {
		log.Warn("delivery attempt failed", fields...)
	} else {
		log.Error("delivery attempt failed", fields...)
	}

	if retries < e.opts.MaxRetries {
		if _, err := e.deliverer.Requeue(ctx, attempt, retries); err != nil {
			log.Error("persist retry count", zap.Error(err))
		}
		res.Retried++
		return
	}

	failed, markErr := e.deliverer.MarkFailed(ctx, attempt, retries)
	if markErr != nil {
		log.Error("persist failed status", zap.Error(markErr))
	}
	res.Failed++
	log.Error("delivery abandoned after max retries", zap.Int("max_retries", e.opts.MaxRetries))
	e.bus.Emit(bus.MessageFailed, bus.MessageRef{
		ChatID:       failed.ChatID,
		MessageID:    failed.ID,
		OptimisticID: failed.OptimisticID,
		Status:       string(failed.Status),
		Error:        err.Error(),
	})
}

// flushReactions applies queued reactions best-effort and returns how many
// were applied. Reactions on messages still awaiting delivery stay queued.
func (e *Engine) flushReactions(ctx context.Context) int {
	pending, err := e.cache.PendingReactions(ctx)
	if err != nil {
		e.logger.Error("read pending reactions", zap.Error(err))
		return 0
	}
	applied := 0
	for i := range pending {
		r := &pending[i]
		msg, err := e.cache.GetMessage(ctx, r.MessageID)
		if err != nil {
			e.logger.Warn("resolve reaction target", zap.String("reaction_id", r.ID), zap.Error(err))
			continue
		}
		if msg != nil {
			if msg.IsOptimistic {
				continue
			}
			r.MessageID = msg.ID
		}

		err = e.remote.SetReaction(ctx, r)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, remote.ErrNotFound):
			e.logger.Warn("dropping reaction on missing message", zap.String("message_id", r.MessageID))
		default:
			e.logger.Warn("reaction flush failed", zap.String("reaction_id", r.ID), zap.Error(err))
			continue
		}
		if err := e.cache.DeleteReaction(ctx, r.ID); err != nil {
			e.logger.Warn("dequeue reaction", zap.String("reaction_id", r.ID), zap.Error(err))
		}
	}
	return applied
}
