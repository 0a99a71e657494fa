package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/courier/internal/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings configures WithBreaker.
type BreakerSettings struct {
	MaxFailures int
	Interval    time.Duration
	Timeout     time.Duration
}

// Breaker wraps a Store in a circuit breaker. Only transient failures count
// towards tripping it, and an open circuit is reported as ErrUnavailable.
type Breaker struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

var _ Store = (*Breaker)(nil)

// WithBreaker decorates next with a circuit breaker.
func WithBreaker(next Store, s BreakerSettings, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxFailures := uint32(max(s.MaxFailures, 1))
	st := gobreaker.Settings{
		Name:        "remote",
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

// State returns the breaker state name: closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return zero, err
	}
	return v.(T), nil
}

func executeErr(b *Breaker, fn func() error) error {
	_, err := execute(b, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (b *Breaker) WriteMessage(ctx context.Context, m *model.Message) (Receipt, error) {
	return execute(b, func() (Receipt, error) { return b.next.WriteMessage(ctx, m) })
}

func (b *Breaker) UpdateMessageStatus(ctx context.Context, id string, status model.MessageStatus) error {
	return executeErr(b, func() error { return b.next.UpdateMessageStatus(ctx, id, status) })
}

func (b *Breaker) UpdateChatSummary(ctx context.Context, chatID string, last model.LastMessage) error {
	return executeErr(b, func() error { return b.next.UpdateChatSummary(ctx, chatID, last) })
}

func (b *Breaker) CreateChat(ctx context.Context, c *model.Chat) (*model.Chat, error) {
	return execute(b, func() (*model.Chat, error) { return b.next.CreateChat(ctx, c) })
}

func (b *Breaker) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	return execute(b, func() (*model.Chat, error) { return b.next.GetChat(ctx, id) })
}

func (b *Breaker) DeleteChat(ctx context.Context, id string) error {
	return executeErr(b, func() error { return b.next.DeleteChat(ctx, id) })
}

func (b *Breaker) RemoveParticipant(ctx context.Context, chatID, userID string) error {
	return executeErr(b, func() error { return b.next.RemoveParticipant(ctx, chatID, userID) })
}

func (b *Breaker) SetReaction(ctx context.Context, r *model.Reaction) error {
	return executeErr(b, func() error { return b.next.SetReaction(ctx, r) })
}
