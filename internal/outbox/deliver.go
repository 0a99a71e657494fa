package outbox

import (
	"context"
	"fmt"

	"github.com/matheus3301/courier/internal/blob"
	"github.com/matheus3301/courier/internal/model"
	"github.com/matheus3301/courier/internal/remote"
	"github.com/matheus3301/courier/internal/store"
	"go.uber.org/zap"
)

// Deliverer performs one delivery attempt of a queued message. It is shared
// by the send pipeline and the sync engine.
type Deliverer struct {
	cache  store.Cache
	remote remote.Store
	blobs  blob.Store
	logger *zap.Logger
}

// NewDeliverer creates a deliverer. blobs may be nil when no media is sent.
func NewDeliverer(cache store.Cache, rs remote.Store, blobs blob.Store, logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{cache: cache, remote: rs, blobs: blobs, logger: logger}
}

// Attempt is the outcome of Deliver.
type Attempt struct {
	// Message is m with any uploaded media URL substituted. Callers persist
	// it on failure so a retry does not upload again.
	Message *model.Message
	// Delivered is the replacement record once the remote write succeeded,
	// even if later bookkeeping failed.
	Delivered *model.Message
}

// Deliver uploads local media, writes m remotely, replaces the local record
// and updates the chat summary remotely and locally.
func (d *Deliverer) Deliver(ctx context.Context, m *model.Message) (Attempt, error) {
	a := Attempt{Message: m.Clone()}

	content, err := blob.UploadContent(ctx, d.blobs, m.ChatID, m.OptimisticID, m.Content)
	if err != nil {
		return a, err
	}
	a.Message.Content = content

	receipt, err := d.remote.WriteMessage(ctx, a.Message)
	if err != nil {
		return a, fmt.Errorf("write message: %w", err)
	}

	delivered := a.Message.Clone()
	delivered.ID = receipt.ID
	delivered.Timestamp = receipt.Timestamp
	delivered.Status = model.StatusSent
	delivered.IsOptimistic = false
	delivered.RetryCount = 0
	a.Delivered = delivered

	if err := d.cache.SaveMessage(ctx, delivered); err != nil {
		return a, fmt.Errorf("replace local message: %w", err)
	}

	summary := model.SummaryFor(delivered)
	if err := d.remote.UpdateChatSummary(ctx, m.ChatID, summary); err != nil {
		return a, fmt.Errorf("update chat summary: %w", err)
	}
	d.updateLocalSummary(ctx, m.ChatID, summary)
	return a, nil
}

func (d *Deliverer) updateLocalSummary(ctx context.Context, chatID string, summary model.LastMessage) {
	chat, err := d.cache.GetChat(ctx, chatID)
	if err != nil {
		d.logger.Warn("read cached chat", zap.String("chat_id", chatID), zap.Error(err))
		return
	}
	if chat == nil {
		return
	}
	if chat.LastMessage != nil && chat.LastMessage.Timestamp > summary.Timestamp {
		return
	}
	chat.LastMessage = &summary
	chat.UpdatedAt = max(chat.UpdatedAt, summary.Timestamp)
	if err := d.cache.SaveChat(ctx, chat); err != nil {
		d.logger.Warn("save cached chat summary", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// MarkFailed persists the terminal outcome of an attempt. A message whose
// remote write went through is marked on its delivered record, otherwise the
// placeholder is saved with status failed.
func (d *Deliverer) MarkFailed(ctx context.Context, a Attempt, retryCount int) (*model.Message, error) {
	return d.mark(ctx, a, model.StatusFailed, retryCount)
}

// Requeue records a failed attempt that will be retried. The message keeps
// the status it was queued with and only its retry count moves.
func (d *Deliverer) Requeue(ctx context.Context, a Attempt, retryCount int) (*model.Message, error) {
	return d.mark(ctx, a, a.Message.Status, retryCount)
}

func (d *Deliverer) mark(ctx context.Context, a Attempt, status model.MessageStatus, retryCount int) (*model.Message, error) {
	rec := a.Message
	if a.Delivered != nil {
		rec = a.Delivered
	}
	rec = rec.Clone()
	rec.Status = status
	rec.RetryCount = retryCount
	if err := d.cache.SaveMessage(ctx, rec); err != nil {
		return rec, fmt.Errorf("mark %s: %w", status, err)
	}
	return rec, nil
}
