package realtime

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/courier/internal/model"
)

// MemoryServer is an in-process presence server. Each MemoryConn is a client
// connection whose disconnect hooks fire when it is killed or closed.
type MemoryServer struct {
	mu     sync.Mutex
	now    func() time.Time
	status map[string]model.PresenceRecord
	typing map[string]map[string]model.TypingRecord
	conns  map[string]*MemoryConn
}

// NewMemoryServer returns an empty server on the wall clock.
func NewMemoryServer() *MemoryServer {
	return &MemoryServer{
		now:    time.Now,
		status: make(map[string]model.PresenceRecord),
		typing: make(map[string]map[string]model.TypingRecord),
		conns:  make(map[string]*MemoryConn),
	}
}

// SetClock replaces the server clock.
func (s *MemoryServer) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Status returns the stored record of uid.
func (s *MemoryServer) Status(uid string) (model.PresenceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.status[uid]
	return rec, ok
}

// Connect opens a new client connection.
func (s *MemoryServer) Connect() *MemoryConn {
	c := &MemoryConn{
		id:        uuid.NewString(),
		server:    s,
		connected: true,
		hooks:     make(map[string]bool),
		statusW:   make(map[int]*statusWatch),
		typingW:   make(map[int]*typingWatch),
		connW:     make(map[int]*mailbox[bool]),
	}
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	return c
}

// Kill drops c abnormally: its hooks fire and its writes fail until Reconnect.
func (s *MemoryServer) Kill(c *MemoryConn) {
	s.mu.Lock()
	if !c.connected {
		s.mu.Unlock()
		return
	}
	c.connected = false
	notify := s.fireHooksLocked(c)
	conn := slices.Collect(maps.Values(c.connW))
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	for _, mb := range conn {
		mb.push(false)
	}
}

// Reconnect restores c. Hooks stay disarmed until the client arms them again.
func (s *MemoryServer) Reconnect(c *MemoryConn) {
	s.mu.Lock()
	if c.connected || c.closed {
		s.mu.Unlock()
		return
	}
	c.connected = true
	var notify []func()
	for _, w := range c.statusW {
		if rec, ok := s.status[w.uid]; ok {
			notify = append(notify, w.deliver(rec))
		}
	}
	for _, w := range c.typingW {
		notify = append(notify, w.deliver(s.typingListLocked(w.chatID)))
	}
	conn := slices.Collect(maps.Values(c.connW))
	s.mu.Unlock()

	for _, mb := range conn {
		mb.push(true)
	}
	for _, fn := range notify {
		fn()
	}
}

// fireHooksLocked writes offline records for every hook armed on c and
// returns the watcher notifications to run after unlocking.
func (s *MemoryServer) fireHooksLocked(c *MemoryConn) []func() {
	var notify []func()
	for uid := range c.hooks {
		rec := model.PresenceRecord{UserID: uid, State: model.PresenceOffline, LastSeen: s.now().UnixMilli()}
		s.status[uid] = rec
		notify = append(notify, s.statusWatchersLocked(rec)...)
	}
	clear(c.hooks)
	return notify
}

func (s *MemoryServer) statusWatchersLocked(rec model.PresenceRecord) []func() {
	var notify []func()
	for _, c := range s.conns {
		if !c.connected {
			continue
		}
		for _, w := range c.statusW {
			if w.uid == rec.UserID {
				notify = append(notify, w.deliver(rec))
			}
		}
	}
	return notify
}

func (s *MemoryServer) typingListLocked(chatID string) []model.TypingRecord {
	recs := slices.Collect(maps.Values(s.typing[chatID]))
	slices.SortFunc(recs, func(a, b model.TypingRecord) int { return strings.Compare(a.UserID, b.UserID) })
	return recs
}

type statusWatch struct {
	uid string
	mb  *mailbox[model.PresenceRecord]
}

func (w *statusWatch) deliver(rec model.PresenceRecord) func() {
	return func() { w.mb.push(rec) }
}

type typingWatch struct {
	chatID string
	mb     *mailbox[[]model.TypingRecord]
}

func (w *typingWatch) deliver(recs []model.TypingRecord) func() {
	return func() { w.mb.push(recs) }
}

// MemoryConn is a connection to a MemoryServer.
type MemoryConn struct {
	id     string
	server *MemoryServer

	// guarded by server.mu
	connected bool
	closed    bool
	hooks     map[string]bool
	nextWatch int
	statusW   map[int]*statusWatch
	typingW   map[int]*typingWatch
	connW     map[int]*mailbox[bool]
}

var _ Channel = (*MemoryConn)(nil)

// Hooked reports whether a disconnect hook for uid is armed on c.
func (c *MemoryConn) Hooked(uid string) bool {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	return c.hooks[uid]
}

func (c *MemoryConn) WriteStatus(ctx context.Context, uid string, state model.PresenceState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := c.server
	s.mu.Lock()
	if !c.connected {
		s.mu.Unlock()
		return ErrDisconnected
	}
	rec := model.PresenceRecord{UserID: uid, State: state, LastSeen: s.now().UnixMilli()}
	s.status[uid] = rec
	notify := s.statusWatchersLocked(rec)
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

func (c *MemoryConn) OnDisconnect(ctx context.Context, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if !c.connected {
		return ErrDisconnected
	}
	c.hooks[uid] = true
	return nil
}

func (c *MemoryConn) CancelOnDisconnect(ctx context.Context, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if !c.connected {
		return ErrDisconnected
	}
	delete(c.hooks, uid)
	return nil
}

func (c *MemoryConn) WatchStatus(uid string, fn func(model.PresenceRecord)) func() {
	s := c.server
	w := &statusWatch{uid: uid, mb: newMailbox(fn)}
	s.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.statusW[id] = w
	if rec, ok := s.status[uid]; ok && c.connected {
		w.mb.push(rec)
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(c.statusW, id)
			s.mu.Unlock()
			w.mb.close()
		})
	}
}

func (c *MemoryConn) WriteTyping(ctx context.Context, rec model.TypingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := c.server
	s.mu.Lock()
	if !c.connected {
		s.mu.Unlock()
		return ErrDisconnected
	}
	rec.Timestamp = s.now().UnixMilli()
	chat := s.typing[rec.ChatID]
	if rec.IsTyping {
		if chat == nil {
			chat = make(map[string]model.TypingRecord)
			s.typing[rec.ChatID] = chat
		}
		chat[rec.UserID] = rec
	} else {
		delete(chat, rec.UserID)
	}
	list := s.typingListLocked(rec.ChatID)
	var notify []func()
	for _, other := range s.conns {
		if !other.connected {
			continue
		}
		for _, w := range other.typingW {
			if w.chatID == rec.ChatID {
				notify = append(notify, w.deliver(list))
			}
		}
	}
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

func (c *MemoryConn) WatchTyping(chatID string, fn func([]model.TypingRecord)) func() {
	s := c.server
	w := &typingWatch{chatID: chatID, mb: newMailbox(fn)}
	s.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.typingW[id] = w
	if c.connected {
		w.mb.push(s.typingListLocked(chatID))
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(c.typingW, id)
			s.mu.Unlock()
			w.mb.close()
		})
	}
}

func (c *MemoryConn) WatchConnected(fn func(bool)) func() {
	s := c.server
	mb := newMailbox(fn)
	s.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.connW[id] = mb
	mb.push(c.connected)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(c.connW, id)
			s.mu.Unlock()
			mb.close()
		})
	}
}

// Close ends the connection. Armed hooks fire as they would on a drop.
func (c *MemoryConn) Close() error {
	s := c.server
	s.mu.Lock()
	if c.closed {
		s.mu.Unlock()
		return nil
	}
	c.closed = true
	var notify []func()
	if c.connected {
		notify = s.fireHooksLocked(c)
	}
	c.connected = false
	delete(s.conns, c.id)
	var boxes []interface{ close() }
	for _, w := range c.statusW {
		boxes = append(boxes, w.mb)
	}
	for _, w := range c.typingW {
		boxes = append(boxes, w.mb)
	}
	for _, mb := range c.connW {
		boxes = append(boxes, mb)
	}
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	for _, b := range boxes {
		b.close()
	}
	return nil
}
