package presence

import (
	"context"
	"slices"
	"time"

	"github.com/matheus3301/courier/internal/model"
	"go.uber.org/zap"
)

type typingKey struct{ chatID, userID string }

type typingTimer struct {
	timer    *time.Timer
	userName string
	gen      uint64
}

// SetTypingStatus writes a typing indicator. Turning it on arms an auto-off
// timer that every repeat call pushes back; turning it off writes at once.
func (t *Tracker) SetTypingStatus(ctx context.Context, chatID, userID, userName string, isTyping bool) {
	key := typingKey{chatID, userID}

	t.typingMu.Lock()
	cur := t.typing[key]
	if cur != nil {
		cur.timer.Stop()
		delete(t.typing, key)
	}
	if isTyping {
		t.typingGen++
		gen := t.typingGen
		tt := &typingTimer{userName: userName, gen: gen}
		tt.timer = time.AfterFunc(t.opts.TypingTimeout, func() { t.expireTyping(key, gen) })
		t.typing[key] = tt
	}
	t.typingMu.Unlock()

	t.writeTyping(ctx, model.TypingRecord{ChatID: chatID, UserID: userID, UserName: userName, IsTyping: isTyping})
}

func (t *Tracker) expireTyping(key typingKey, gen uint64) {
	t.typingMu.Lock()
	cur := t.typing[key]
	if cur == nil || cur.gen != gen {
		t.typingMu.Unlock()
		return
	}
	delete(t.typing, key)
	t.typingMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.TypingTimeout)
	defer cancel()
	t.writeTyping(ctx, model.TypingRecord{ChatID: key.chatID, UserID: key.userID, UserName: cur.userName})
}

// clearTyping stops every armed timer and turns its indicator off.
func (t *Tracker) clearTyping(ctx context.Context) {
	t.typingMu.Lock()
	pending := t.typing
	t.typing = make(map[typingKey]*typingTimer)
	t.typingMu.Unlock()

	for key, tt := range pending {
		tt.timer.Stop()
		t.writeTyping(ctx, model.TypingRecord{ChatID: key.chatID, UserID: key.userID, UserName: tt.userName})
	}
}

func (t *Tracker) writeTyping(ctx context.Context, rec model.TypingRecord) {
	if err := t.ch.WriteTyping(ctx, rec); err != nil {
		t.logger.Warn("typing write failed",
			zap.String("chat_id", rec.ChatID), zap.Bool("typing", rec.IsTyping), zap.Error(err))
	}
}

// SubscribeTyping delivers the users currently typing in chatID, excluding
// selfID, after every change.
func (t *Tracker) SubscribeTyping(chatID, selfID string, fn func([]model.TypingRecord)) func() {
	return t.register(t.ch.WatchTyping(chatID, func(all []model.TypingRecord) {
		fn(slices.DeleteFunc(slices.Clone(all), func(r model.TypingRecord) bool {
			return r.UserID == selfID || !r.IsTyping
		}))
	}))
}
