package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/matheus3301/courier/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Reaper writes the offline record on behalf of clients that vanished with a
// disconnect hook armed. It listens for expired-key events, so the server
// must have keyspace notifications for expirations enabled; Start tries to
// turn them on.
type Reaper struct {
	rdb    *redis.Client
	logger *zap.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper returns a reaper over rdb. The caller owns rdb.
func NewReaper(rdb *redis.Client, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{rdb: rdb, logger: logger}
}

// Start subscribes to expiry events until Stop.
func (p *Reaper) Start(ctx context.Context) error {
	if err := p.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		p.logger.Warn("enable keyspace notifications", zap.Error(err))
	}
	ctx, p.cancel = context.WithCancel(ctx)
	sub := p.rdb.PSubscribe(ctx, "__keyevent@*__:expired")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		p.cancel()
		return fmt.Errorf("subscribe expiry events: %w", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				uid, ok := strings.CutPrefix(msg.Payload, leasePrefix)
				if !ok {
					continue
				}
				if _, err := p.Reap(ctx, uid); err != nil {
					p.logger.Warn("reap presence", zap.String("uid", uid), zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Reap fires the disconnect hook of uid if it is still armed and its lease
// is gone. It reports whether an offline record was written.
func (p *Reaper) Reap(ctx context.Context, uid string) (bool, error) {
	alive, err := p.rdb.Exists(ctx, leaseKey(uid)).Result()
	if err != nil {
		return false, err
	}
	if alive > 0 {
		return false, nil
	}
	err = p.rdb.GetDel(ctx, hookKey(uid)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	t, err := p.rdb.Time(ctx).Result()
	if err != nil {
		return false, fmt.Errorf("server time: %w", err)
	}
	pipe := p.rdb.TxPipeline()
	rec := model.PresenceRecord{UserID: uid, State: model.PresenceOffline, LastSeen: t.UnixMilli()}
	if err := writeStatus(ctx, pipe, uid, rec); err != nil {
		return false, err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("write offline: %w", err)
	}
	p.logger.Info("presence reaped", zap.String("uid", uid))
	return true, nil
}

// Stop ends the subscription and waits for the loop to exit.
func (p *Reaper) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
