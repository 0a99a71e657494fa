package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/courier/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions tunes a Redis channel.
type RedisOptions struct {
	// LeaseTTL bounds how long an armed hook outlives the last online write.
	LeaseTTL time.Duration
	// PingInterval paces the connection sentinel.
	PingInterval time.Duration
}

// Redis is a Channel over Redis. Status records live in status:{uid} and are
// also published on that channel. Typing records live in the hash
// typing:{chatId}. A disconnect hook is a lease key refreshed by online
// writes plus a hook marker; the Reaper writes the offline record when the
// lease expires with the marker still present.
type Redis struct {
	rdb    *redis.Client
	opts   RedisOptions
	logger *zap.Logger
	connID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	hooks     map[string]bool
	connected *bool
	connW     map[int]*mailbox[bool]
	nextWatch int
}

var _ Channel = (*Redis)(nil)

// NewRedis starts a channel on rdb. The caller owns rdb.
func NewRedis(rdb *redis.Client, opts RedisOptions, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Redis{
		rdb:    rdb,
		opts:   opts,
		logger: logger,
		connID: uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		hooks:  make(map[string]bool),
		connW:  make(map[int]*mailbox[bool]),
	}
	r.wg.Add(1)
	go r.pingLoop()
	return r
}

// serverNow reads the Redis server clock.
func (r *Redis) serverNow(ctx context.Context) (int64, error) {
	t, err := r.rdb.Time(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("server time: %w", err)
	}
	return t.UnixMilli(), nil
}

func writeStatus(ctx context.Context, pipe redis.Pipeliner, uid string, rec model.PresenceRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe.Set(ctx, statusKey(uid), payload, 0)
	pipe.Publish(ctx, statusKey(uid), payload)
	return nil
}

func (r *Redis) WriteStatus(ctx context.Context, uid string, state model.PresenceState) error {
	now, err := r.serverNow(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	armed := r.hooks[uid]
	r.mu.Unlock()

	pipe := r.rdb.TxPipeline()
	if err := writeStatus(ctx, pipe, uid, model.PresenceRecord{UserID: uid, State: state, LastSeen: now}); err != nil {
		return err
	}
	if armed && state == model.PresenceOnline {
		pipe.Set(ctx, leaseKey(uid), r.connID, r.opts.LeaseTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

func (r *Redis) OnDisconnect(ctx context.Context, uid string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, hookKey(uid), r.connID, 0)
	pipe.Set(ctx, leaseKey(uid), r.connID, r.opts.LeaseTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("arm disconnect hook: %w", err)
	}
	r.mu.Lock()
	r.hooks[uid] = true
	r.mu.Unlock()
	return nil
}

func (r *Redis) CancelOnDisconnect(ctx context.Context, uid string) error {
	if err := r.rdb.Del(ctx, hookKey(uid), leaseKey(uid)).Err(); err != nil {
		return fmt.Errorf("cancel disconnect hook: %w", err)
	}
	r.mu.Lock()
	delete(r.hooks, uid)
	r.mu.Unlock()
	return nil
}

// subscribe runs onMessage for every message on channel until cancel. ready
// runs once the subscription is confirmed, so no publish is missed between
// reading current state and listening.
func (r *Redis) subscribe(channel string, ready func(ctx context.Context), onMessage func(ctx context.Context, payload string)) func() {
	ctx, cancel := context.WithCancel(r.ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		sub := r.rdb.Subscribe(ctx, channel)
		defer func() { _ = sub.Close() }()
		if _, err := sub.Receive(ctx); err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("subscribe failed", zap.String("channel", channel), zap.Error(err))
			}
			return
		}
		ready(ctx)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				onMessage(ctx, msg.Payload)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(cancel) }
}

func (r *Redis) WatchStatus(uid string, fn func(model.PresenceRecord)) func() {
	deliver := func(payload string) {
		var rec model.PresenceRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			r.logger.Warn("bad status record", zap.String("uid", uid), zap.Error(err))
			return
		}
		rec.UserID = uid
		fn(rec)
	}
	return r.subscribe(statusKey(uid),
		func(ctx context.Context) {
			payload, err := r.rdb.Get(ctx, statusKey(uid)).Result()
			if errors.Is(err, redis.Nil) {
				return
			}
			if err != nil {
				r.logger.Warn("read status", zap.String("uid", uid), zap.Error(err))
				return
			}
			deliver(payload)
		},
		func(_ context.Context, payload string) { deliver(payload) },
	)
}

func (r *Redis) WriteTyping(ctx context.Context, rec model.TypingRecord) error {
	key := typingKey(rec.ChatID)
	pipe := r.rdb.TxPipeline()
	if rec.IsTyping {
		now, err := r.serverNow(ctx)
		if err != nil {
			return err
		}
		rec.Timestamp = now
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, key, rec.UserID, payload)
	} else {
		pipe.HDel(ctx, key, rec.UserID)
	}
	pipe.Publish(ctx, key, rec.UserID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write typing: %w", err)
	}
	return nil
}

func (r *Redis) typingList(ctx context.Context, chatID string) ([]model.TypingRecord, error) {
	all, err := r.rdb.HGetAll(ctx, typingKey(chatID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.TypingRecord, 0, len(all))
	for _, payload := range all {
		var rec model.TypingRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			continue
		}
		rec.ChatID = chatID
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b model.TypingRecord) int { return strings.Compare(a.UserID, b.UserID) })
	return out, nil
}

func (r *Redis) WatchTyping(chatID string, fn func([]model.TypingRecord)) func() {
	refresh := func(ctx context.Context) {
		list, err := r.typingList(ctx, chatID)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("read typing", zap.String("chat_id", chatID), zap.Error(err))
			}
			return
		}
		fn(list)
	}
	return r.subscribe(typingKey(chatID), refresh, func(ctx context.Context, _ string) { refresh(ctx) })
}

func (r *Redis) WatchConnected(fn func(bool)) func() {
	mb := newMailbox(fn)
	r.mu.Lock()
	id := r.nextWatch
	r.nextWatch++
	r.connW[id] = mb
	if r.connected != nil {
		mb.push(*r.connected)
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.connW, id)
			r.mu.Unlock()
			mb.close()
		})
	}
}

func (r *Redis) pingLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.PingInterval)
	defer ticker.Stop()
	for {
		ctx, cancel := context.WithTimeout(r.ctx, r.opts.PingInterval)
		err := r.rdb.Ping(ctx).Err()
		cancel()
		if r.ctx.Err() != nil {
			return
		}
		r.setConnected(err == nil)

		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Redis) setConnected(up bool) {
	r.mu.Lock()
	if r.connected != nil && *r.connected == up {
		r.mu.Unlock()
		return
	}
	r.connected = &up
	boxes := make([]*mailbox[bool], 0, len(r.connW))
	for _, mb := range r.connW {
		boxes = append(boxes, mb)
	}
	r.mu.Unlock()

	r.logger.Info("realtime link changed", zap.Bool("connected", up))
	for _, mb := range boxes {
		mb.push(up)
	}
}

// Close stops every watch and the ping loop. Armed hooks are left for the
// Reaper to fire once their leases run out.
func (r *Redis) Close() error {
	r.cancel()
	r.wg.Wait()
	r.mu.Lock()
	for id, mb := range r.connW {
		mb.close()
		delete(r.connW, id)
	}
	r.mu.Unlock()
	return nil
}
