// Package outbox turns user sends into optimistic local messages and
// reconciles them with the remote store in the background.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/courier/internal/blob"
	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/model"
	"github.com/matheus3301/courier/internal/remote"
	"github.com/matheus3301/courier/internal/store"
	"go.uber.org/zap"
)

// ErrNotRetryable is returned by Retry for messages that are not failed.
var ErrNotRetryable = errors.New("message is not in failed state")

// ErrMessageNotFound is returned by Retry for unknown ids.
var ErrMessageNotFound = errors.New("message not found")

// Connectivity reports whether the device can reach the network.
type Connectivity interface {
	IsOnline() bool
}

// Options tunes a Pipeline.
type Options struct {
	// ConfirmDelay is the pause before the second status write after a
	// successful send.
	ConfirmDelay time.Duration
}

// Pipeline accepts sends, returns the optimistic message at once and
// reconciles it in the background. Background work is tracked and drained
// by Close.
type Pipeline struct {
	cache     store.Cache
	remote    remote.Store
	net       Connectivity
	bus       *bus.Bus
	logger    *zap.Logger
	deliverer *Deliverer
	opts      Options
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline.
func New(cache store.Cache, rs remote.Store, blobs blob.Store, net Connectivity, b *bus.Bus, logger *zap.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConfirmDelay <= 0 {
		opts.ConfirmDelay = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cache:     cache,
		remote:    rs,
		net:       net,
		bus:       b,
		logger:    logger,
		deliverer: NewDeliverer(cache, rs, blobs, logger),
		opts:      opts,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Deliverer returns the deliverer used by the pipeline.
func (p *Pipeline) Deliverer() *Deliverer {
	return p.deliverer
}

// Send builds the optimistic message and returns it before any I/O happens.
func (p *Pipeline) Send(chatID, senderID string, content model.Content, meta model.SenderMeta) *model.Message {
	now := p.now()
	id := model.NewOptimisticID(now)
	msg := &model.Message{
		ID:           id,
		ChatID:       chatID,
		SenderID:     senderID,
		SenderName:   meta.Name,
		Content:      content,
		Timestamp:    now.UnixMilli(),
		Status:       model.StatusSending,
		IsOptimistic: true,
		OptimisticID: id,
	}
	p.spawn(msg.Clone(), true)
	return msg
}

// Retry moves a failed message back to sending with a fresh retry budget
// and reconciles it again.
func (p *Pipeline) Retry(ctx context.Context, id string) (*model.Message, error) {
	msg, err := p.cache.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retry %s: %w", id, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("retry %s: %w", id, ErrMessageNotFound)
	}
	if msg.Status != model.StatusFailed {
		return nil, fmt.Errorf("retry %s (%s): %w", id, msg.Status, ErrNotRetryable)
	}
	msg.Status = model.StatusSending
	msg.RetryCount = 0
	if err := p.cache.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("retry %s: %w", id, err)
	}
	p.bus.Emit(bus.MessageRetried, ref(msg, ""))
	p.spawn(msg.Clone(), false)
	return msg, nil
}

// React applies a reaction mutation. Offline or on a transient failure it is
// queued for the sync engine.
func (p *Pipeline) React(ctx context.Context, chatID, messageID, userID, emoji string, remove bool) (*model.Reaction, error) {
	r := &model.Reaction{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		Remove:    remove,
		CreatedAt: p.now().UnixMilli(),
	}
	msg, err := p.cache.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("react: %w", err)
	}
	pending := msg != nil && msg.IsOptimistic
	if msg != nil && !msg.IsOptimistic {
		r.MessageID = msg.ID
	}

	if !pending && p.net.IsOnline() {
		err := p.remote.SetReaction(ctx, r)
		if err == nil {
			return r, nil
		}
		if !remote.IsTransient(err) {
			return nil, fmt.Errorf("react: %w", err)
		}
		p.logger.Warn("reaction deferred", zap.String("message_id", r.MessageID), zap.Error(err))
	}
	if err := p.cache.QueueReaction(ctx, r); err != nil {
		return nil, fmt.Errorf("react: %w", err)
	}
	return r, nil
}

// Wait blocks until all background reconciliations have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close cancels pending confirmation writes and waits for background work.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) spawn(msg *model.Message, persist bool) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reconcile(msg, persist)
	}()
}

func (p *Pipeline) reconcile(msg *model.Message, persist bool) {
	ctx := p.ctx
	log := p.logger.With(zap.String("chat_id", msg.ChatID), zap.String("optimistic_id", msg.OptimisticID))

	if persist {
		if err := p.cache.SaveMessage(ctx, msg); err != nil {
			log.Error("persist placeholder", zap.Error(err))
		}
		p.bus.Emit(bus.MessageQueued, ref(msg, ""))
	}

	if !p.net.IsOnline() {
		log.Info("offline, message left for sync")
		return
	}

	attempt, err := p.deliverer.Deliver(ctx, msg)
	if err != nil {
		if remote.IsTransient(err) {
			log.Warn("send failed", zap.Error(err))
		} else {
			log.Error("send failed", zap.Error(err))
		}
		failed, markErr := p.deliverer.MarkFailed(ctx, attempt, msg.RetryCount)
		if markErr != nil {
			log.Error("persist failed status", zap.Error(markErr))
		}
		p.bus.Emit(bus.MessageFailed, ref(failed, err.Error()))
		return
	}

	delivered := attempt.Delivered
	log.Info("message sent", zap.String("message_id", delivered.ID))
	p.bus.Emit(bus.MessageSent, ref(delivered, ""))
	p.confirm(ctx, delivered, log)
}

// confirm repeats the sent status write after ConfirmDelay.
func (p *Pipeline) confirm(ctx context.Context, m *model.Message, log *zap.Logger) {
	t := time.NewTimer(p.opts.ConfirmDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	if err := p.remote.UpdateMessageStatus(ctx, m.ID, model.StatusSent); err != nil {
		log.Warn("confirm status", zap.String("message_id", m.ID), zap.Error(err))
		return
	}
	p.bus.Emit(bus.MessageConfirmed, ref(m, ""))
}

func ref(m *model.Message, errText string) bus.MessageRef {
	return bus.MessageRef{
		ChatID:       m.ChatID,
		MessageID:    m.ID,
		OptimisticID: m.OptimisticID,
		Status:       string(m.Status),
		Error:        errText,
	}
}
